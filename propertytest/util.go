// Package propertytest runs random tool call sequences against the MCP server
// backed by a fake AnkiConnect, checking the results against a model.
package propertytest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/danieldreier/anki-mcp/internal/anki"
	"github.com/danieldreier/anki-mcp/internal/ankitest"
	"github.com/danieldreier/anki-mcp/internal/tools"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// DeckPool is the set of deck names commands pick from. The names differ
// in more than case and have no "::" so the model can stay flat.
var DeckPool = []string{"Spanish", "French", "German", "Math", "History"}

// AnkiSUT is one server under test: an in-process MCP client talking to
// the tool server, which talks to a fake AnkiConnect over HTTP.
type AnkiSUT struct {
	Client *client.Client
	Fake   *ankitest.Server
	Ctx    context.Context
	Cancel context.CancelFunc
	T      *testing.T
}

// NewAnkiSUT starts a fake collection and an initialized client.
func NewAnkiSUT(t *testing.T, opts ...tools.ServiceOption) (*AnkiSUT, error) {
	t.Helper()

	fake := ankitest.NewUnstarted()
	fake.Server = httptest.NewServer(fake.Handler())

	svc := tools.NewService(anki.NewClient(fake.URL), opts...)
	mcpClient, err := client.NewInProcessClient(tools.NewServer(svc, "property-test"))
	if err != nil {
		fake.Close()
		return nil, fmt.Errorf("create in-process client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mcpClient.Start(ctx); err != nil {
		cancel()
		fake.Close()
		return nil, fmt.Errorf("start client: %w", err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "anki-property-test-client",
		Version: "0.1.0",
	}
	if _, err := mcpClient.Initialize(ctx, initRequest); err != nil {
		mcpClient.Close()
		cancel()
		fake.Close()
		return nil, fmt.Errorf("initialize client: %w", err)
	}

	return &AnkiSUT{Client: mcpClient, Fake: fake, Ctx: ctx, Cancel: cancel, T: t}, nil
}

// Close releases the client and the fake.
func (s *AnkiSUT) Close() {
	s.Cancel()
	s.Client.Close()
	s.Fake.Close()
}

// ToolOutcome is what a tool call produced: the first text content, any
// further text content, and whether it was flagged as an error result.
type ToolOutcome struct {
	Text    string
	Details []string
	IsError bool
}

// Decode unmarshals the text content into v.
func (o ToolOutcome) Decode(v interface{}) error {
	if o.IsError {
		return fmt.Errorf("tool error: %s", o.Text)
	}
	return json.Unmarshal([]byte(o.Text), v)
}

// CallTool invokes a tool and returns its text content. Protocol
// failures come back as errors.
func (s *AnkiSUT) CallTool(name string, args map[string]interface{}) (ToolOutcome, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := s.Client.CallTool(s.Ctx, request)
	if err != nil {
		return ToolOutcome{}, fmt.Errorf("%s failed: %w", name, err)
	}
	if len(result.Content) == 0 {
		return ToolOutcome{}, fmt.Errorf("%s: no content returned", name)
	}
	outcome := ToolOutcome{IsError: result.IsError}
	for i, content := range result.Content {
		text, ok := content.(mcp.TextContent)
		if !ok {
			return ToolOutcome{}, fmt.Errorf("%s: expected TextContent, got %T", name, content)
		}
		if i == 0 {
			outcome.Text = text.Text
		} else {
			outcome.Details = append(outcome.Details, text.Text)
		}
	}
	return outcome, nil
}

// --- Generators ---

// GenDeckName picks a name from DeckPool.
func GenDeckName() gopter.Gen {
	values := make([]interface{}, len(DeckPool))
	for i, name := range DeckPool {
		values[i] = name
	}
	return gen.OneConstOf(values...).WithLabel("DeckName")
}

// GenFront generates non-empty note fronts.
func GenFront(maxLength int) gopter.Gen {
	return gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= maxLength
	}).WithLabel("Front")
}

// --- Helper functions ---

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
