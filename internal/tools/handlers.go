package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danieldreier/anki-mcp/internal/anki"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

type serviceKey struct{}

// WithService returns a context carrying svc for the tool handlers.
func WithService(ctx context.Context, svc *Service) context.Context {
	return context.WithValue(ctx, serviceKey{}, svc)
}

func serviceFrom(ctx context.Context) (*Service, error) {
	s, ok := ctx.Value(serviceKey{}).(*Service)
	if !ok || s == nil {
		return nil, errors.New("service not available")
	}
	return s, nil
}

// jsonResult renders v as the tool's text content.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func statusResult(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return jsonResult(StatusResponse{Success: true, Message: fmt.Sprintf(format, args...)})
}

// failure turns a service error into the handler's return values. Problems
// the caller can act on (bad input, errors AnkiConnect reported) become tool
// error results; transport failures are returned as-is.
//
// An AnkiConnect error is reported with its own text. For a failed rename the
// step and the rollback outcome follow as a second content item.
func failure(s *Service, tool string, err error) (*mcp.CallToolResult, error) {
	if errors.Is(err, ErrInvalidArgument) {
		s.Logger.Debug("Tool call rejected", zap.String("tool", tool), zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}
	// A rename is classified by the step that failed, not by its rollback.
	cause := err
	var rerr *RenameError
	if errors.As(err, &rerr) {
		cause = rerr.Err
	}
	var remote *anki.RemoteError
	if errors.As(cause, &remote) {
		s.Logger.Debug("AnkiConnect refused tool call", zap.String("tool", tool), zap.Error(err))
		result := mcp.NewToolResultError(remote.Error())
		if rerr != nil {
			result.Content = append(result.Content, mcp.NewTextContent(rerr.Error()))
		}
		return result, nil
	}
	s.Logger.Error("Tool call failed talking to AnkiConnect", zap.String("tool", tool), zap.Error(err))
	return nil, fmt.Errorf("%s: %w", tool, err)
}

func argError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

// handleListDecks handles list_decks, optionally filtering by a glob pattern.
func handleListDecks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pattern, err := optionalString(request.Params.Arguments, "pattern")
	if err != nil {
		return argError(err)
	}
	var p string
	if pattern != nil {
		p = *pattern
	}

	names, err := s.ListDecks(ctx, p)
	if err != nil {
		return failure(s, ToolListDecks, err)
	}
	if names == nil {
		names = []string{}
	}
	return jsonResult(names)
}

// handleAddNote handles add_note. The note is always a Basic note.
func handleAddNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.Params.Arguments
	deck, err := requiredString(args, "deck")
	if err != nil {
		return argError(err)
	}
	front, err := requiredString(args, "front")
	if err != nil {
		return argError(err)
	}
	back, err := requiredString(args, "back")
	if err != nil {
		return argError(err)
	}

	noteID, err := s.AddNote(ctx, deck, front, back)
	if err != nil {
		return failure(s, ToolAddNote, err)
	}
	return jsonResult(noteID)
}

// handleSearchCards handles search_cards.
func handleSearchCards(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := requiredString(request.Params.Arguments, "query")
	if err != nil {
		return argError(err)
	}

	ids, err := s.SearchCards(ctx, query)
	if err != nil {
		return failure(s, ToolSearchCards, err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return jsonResult(ids)
}

// handleGetCardInfo handles get_card_info.
func handleGetCardInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids, err := requiredIDs(request.Params.Arguments, "card_ids")
	if err != nil {
		return argError(err)
	}

	info, err := s.CardInfo(ctx, ids)
	if err != nil {
		return failure(s, ToolGetCardInfo, err)
	}
	if info == nil {
		info = []map[string]interface{}{}
	}
	return jsonResult(info)
}

// handleCreateDeck handles create_deck.
func handleCreateDeck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := requiredString(request.Params.Arguments, "deck_name")
	if err != nil {
		return argError(err)
	}

	deckID, err := s.CreateDeck(ctx, name)
	if err != nil {
		return failure(s, ToolCreateDeck, err)
	}
	return jsonResult(deckID)
}

// handleDeleteDeck handles delete_deck. cards_too defaults to true.
func handleDeleteDeck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.Params.Arguments
	name, err := requiredString(args, "deck_name")
	if err != nil {
		return argError(err)
	}
	cardsToo, err := optionalBool(args, "cards_too", true)
	if err != nil {
		return argError(err)
	}

	if err := s.DeleteDeck(ctx, name, cardsToo); err != nil {
		return failure(s, ToolDeleteDeck, err)
	}
	if cardsToo {
		return statusResult("Deck %q and its cards were deleted", name)
	}
	return statusResult("Deck %q was deleted; its cards were kept", name)
}

// handleRenameDeck handles rename_deck and returns the new deck's id.
func handleRenameDeck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.Params.Arguments
	oldName, err := requiredString(args, "old_name")
	if err != nil {
		return argError(err)
	}
	newName, err := requiredString(args, "new_name")
	if err != nil {
		return argError(err)
	}

	deckID, err := s.RenameDeck(ctx, oldName, newName)
	if err != nil {
		return failure(s, ToolRenameDeck, err)
	}
	return jsonResult(deckID)
}

// handleMoveCardsToDeck handles move_cards_to_deck.
func handleMoveCardsToDeck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.Params.Arguments
	ids, err := requiredIDs(args, "card_ids")
	if err != nil {
		return argError(err)
	}
	deck, err := requiredString(args, "deck_name")
	if err != nil {
		return argError(err)
	}

	if err := s.MoveCards(ctx, ids, deck); err != nil {
		return failure(s, ToolMoveCardsToDeck, err)
	}
	return statusResult("Moved %d card(s) to %q", len(ids), deck)
}

// handleUpdateNote handles update_note. Only the fields given are changed.
func handleUpdateNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.Params.Arguments
	noteID, err := requiredID(args, "note_id")
	if err != nil {
		return argError(err)
	}
	front, err := optionalString(args, "front")
	if err != nil {
		return argError(err)
	}
	back, err := optionalString(args, "back")
	if err != nil {
		return argError(err)
	}

	if err := s.UpdateNote(ctx, noteID, front, back); err != nil {
		return failure(s, ToolUpdateNote, err)
	}
	return statusResult("Note %d updated", noteID)
}

// handleDeleteNotes handles delete_notes. Cards of the notes go with them.
func handleDeleteNotes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids, err := requiredIDs(request.Params.Arguments, "note_ids")
	if err != nil {
		return argError(err)
	}

	if err := s.DeleteNotes(ctx, ids); err != nil {
		return failure(s, ToolDeleteNotes, err)
	}
	return statusResult("Deleted %d note(s)", len(ids))
}

// handleGetNoteInfo handles get_note_info.
func handleGetNoteInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := serviceFrom(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids, err := requiredIDs(request.Params.Arguments, "note_ids")
	if err != nil {
		return argError(err)
	}

	info, err := s.NoteInfo(ctx, ids)
	if err != nil {
		return failure(s, ToolGetNoteInfo, err)
	}
	if info == nil {
		info = []map[string]interface{}{}
	}
	return jsonResult(info)
}
