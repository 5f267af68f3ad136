package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool names.
const (
	ToolListDecks       = "list_decks"
	ToolAddNote         = "add_note"
	ToolSearchCards     = "search_cards"
	ToolGetCardInfo     = "get_card_info"
	ToolCreateDeck      = "create_deck"
	ToolDeleteDeck      = "delete_deck"
	ToolRenameDeck      = "rename_deck"
	ToolMoveCardsToDeck = "move_cards_to_deck"
	ToolUpdateNote      = "update_note"
	ToolDeleteNotes     = "delete_notes"
	ToolGetNoteInfo     = "get_note_info"
)

const serverInstructions = `
This server manages a local Anki collection through AnkiConnect.
Anki must be running with the AnkiConnect add-on installed.

- Decks are addressed by name. Nested decks use "::" (e.g. "Languages::Spanish").
- search_cards takes Anki search syntax, e.g. "deck:Spanish", "tag:verbs", "is:due".
- add_note always creates a "Basic" note (Front/Back) and refuses duplicates.
- Card ids come from search_cards; note ids from add_note or get_card_info.
- delete_deck removes the deck's cards too unless cards_too is false.
`

// Tools returns the tool definitions paired with their handlers.
func Tools() []server.ServerTool {
	idList := mcp.Items(map[string]interface{}{"type": "integer"})

	return []server.ServerTool{
		{
			Tool: mcp.NewTool(ToolListDecks,
				mcp.WithDescription("List all Anki decks."),
				mcp.WithString("pattern",
					mcp.Description(`Optional glob to filter deck names. "::" separates levels: "Lang::*" matches direct subdecks, "Lang::**" all of them.`),
				),
			),
			Handler: handleListDecks,
		},
		{
			Tool: mcp.NewTool(ToolAddNote,
				mcp.WithDescription("Add a basic card to a deck. Returns note ID."),
				mcp.WithString("deck", mcp.Required(), mcp.Description("Name of the deck to add the note to")),
				mcp.WithString("front", mcp.Required(), mcp.Description("Front (question) side")),
				mcp.WithString("back", mcp.Required(), mcp.Description("Back (answer) side")),
			),
			Handler: handleAddNote,
		},
		{
			Tool: mcp.NewTool(ToolSearchCards,
				mcp.WithDescription("Search cards using Anki's search syntax. Returns card IDs."),
				mcp.WithString("query", mcp.Required(), mcp.Description("Anki search query")),
			),
			Handler: handleSearchCards,
		},
		{
			Tool: mcp.NewTool(ToolGetCardInfo,
				mcp.WithDescription("Get detailed info for cards by ID."),
				mcp.WithArray("card_ids", mcp.Required(), idList, mcp.Description("Card IDs")),
			),
			Handler: handleGetCardInfo,
		},
		{
			Tool: mcp.NewTool(ToolCreateDeck,
				mcp.WithDescription("Create a new deck. Returns deck ID."),
				mcp.WithString("deck_name", mcp.Required(), mcp.Description("Name of the deck to create")),
			),
			Handler: handleCreateDeck,
		},
		{
			Tool: mcp.NewTool(ToolDeleteDeck,
				mcp.WithDescription("Delete a deck. If cards_too is true, also deletes cards in the deck."),
				mcp.WithString("deck_name", mcp.Required(), mcp.Description("Name of the deck to delete")),
				mcp.WithBoolean("cards_too",
					mcp.DefaultBool(true),
					mcp.Description("Delete the deck's cards as well (default true). When false they move to the Default deck."),
				),
			),
			Handler: handleDeleteDeck,
		},
		{
			Tool: mcp.NewTool(ToolRenameDeck,
				mcp.WithDescription("Rename an existing deck by creating new deck, moving cards, and deleting old deck. Returns the new deck ID."),
				mcp.WithString("old_name", mcp.Required(), mcp.Description("Current deck name")),
				mcp.WithString("new_name", mcp.Required(), mcp.Description("New deck name")),
			),
			Handler: handleRenameDeck,
		},
		{
			Tool: mcp.NewTool(ToolMoveCardsToDeck,
				mcp.WithDescription("Move cards to a different deck."),
				mcp.WithArray("card_ids", mcp.Required(), idList, mcp.Description("Card IDs to move")),
				mcp.WithString("deck_name", mcp.Required(), mcp.Description("Destination deck")),
			),
			Handler: handleMoveCardsToDeck,
		},
		{
			Tool: mcp.NewTool(ToolUpdateNote,
				mcp.WithDescription("Update the fields of an existing note (Basic card type). At least one of front or back is required."),
				mcp.WithNumber("note_id", mcp.Required(), mcp.Description("ID of the note to update")),
				mcp.WithString("front", mcp.Description("New front text")),
				mcp.WithString("back", mcp.Description("New back text")),
			),
			Handler: handleUpdateNote,
		},
		{
			Tool: mcp.NewTool(ToolDeleteNotes,
				mcp.WithDescription("Delete notes by their IDs. This also deletes all cards associated with the notes."),
				mcp.WithArray("note_ids", mcp.Required(), idList, mcp.Description("Note IDs to delete")),
			),
			Handler: handleDeleteNotes,
		},
		{
			Tool: mcp.NewTool(ToolGetNoteInfo,
				mcp.WithDescription("Get detailed info for notes by ID."),
				mcp.WithArray("note_ids", mcp.Required(), idList, mcp.Description("Note IDs")),
			),
			Handler: handleGetNoteInfo,
		},
	}
}

// NewServer builds the MCP server with every tool bound to svc.
func NewServer(svc *Service, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"Anki MCP",
		version,
		server.WithInstructions(serverInstructions),
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	for _, t := range Tools() {
		handler := t.Handler
		s.AddTool(t.Tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handler(WithService(ctx, svc), request)
		})
	}
	return s
}
