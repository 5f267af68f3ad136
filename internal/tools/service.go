// Package tools implements the Anki MCP tools on top of AnkiConnect.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/danieldreier/anki-mcp/internal/anki"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Service maps tool operations onto AnkiConnect actions. It holds no state of
// its own; every method is one or more remote calls.
type Service struct {
	API      *anki.API
	Logger   *zap.Logger
	Rollback bool // undo partial renames
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.Logger = l
		}
	}
}

// WithRollback toggles compensation of partially applied renames.
func WithRollback(enabled bool) ServiceOption {
	return func(s *Service) { s.Rollback = enabled }
}

// NewService creates a Service that talks through inv.
func NewService(inv anki.Invoker, opts ...ServiceOption) *Service {
	s := &Service{
		API:      anki.NewAPI(inv),
		Logger:   zap.NewNop(),
		Rollback: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListDecks returns all deck names, optionally filtered by a glob pattern in
// which "::" separates deck levels.
func (s *Service) ListDecks(ctx context.Context, pattern string) ([]string, error) {
	s.Logger.Debug("Service ListDecks called", zap.String("pattern", pattern))
	var globPattern string
	if pattern != "" {
		globPattern = deckPath(pattern)
		if !doublestar.ValidatePattern(globPattern) {
			return nil, invalidArgument("pattern %q is not a valid glob", pattern)
		}
	}

	names, err := s.API.DeckNames(ctx)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return names, nil
	}

	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if ok, _ := doublestar.Match(globPattern, deckPath(name)); ok {
			filtered = append(filtered, name)
		}
	}
	return filtered, nil
}

// slashStandIn replaces a literal "/" in deck names and patterns, so that only
// "::" separates path segments for the matcher. It is a private-use rune.
const slashStandIn = "\uE000"

func deckPath(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "/", slashStandIn), "::", "/")
}

// AddNote creates a Basic note. Duplicates are always rejected.
func (s *Service) AddNote(ctx context.Context, deck, front, back string) (int64, error) {
	s.Logger.Debug("Service AddNote called", zap.String("deck", deck))
	return s.API.AddNote(ctx, anki.Note{
		DeckName:  deck,
		ModelName: anki.BasicModel,
		Fields:    map[string]string{"Front": front, "Back": back},
		Options:   &anki.NoteOptions{AllowDuplicate: false},
	})
}

// SearchCards runs an Anki search query.
func (s *Service) SearchCards(ctx context.Context, query string) ([]int64, error) {
	s.Logger.Debug("Service SearchCards called", zap.String("query", query))
	return s.API.FindCards(ctx, query)
}

// CardInfo returns card details.
func (s *Service) CardInfo(ctx context.Context, cardIDs []int64) ([]map[string]interface{}, error) {
	return s.API.CardsInfo(ctx, cardIDs)
}

// CreateDeck creates a deck and returns its id.
func (s *Service) CreateDeck(ctx context.Context, name string) (int64, error) {
	s.Logger.Debug("Service CreateDeck called", zap.String("deck", name))
	return s.API.CreateDeck(ctx, name)
}

// DeleteDeck deletes a deck, and its cards when cardsToo is set.
func (s *Service) DeleteDeck(ctx context.Context, name string, cardsToo bool) error {
	s.Logger.Debug("Service DeleteDeck called", zap.String("deck", name), zap.Bool("cardsToo", cardsToo))
	return s.API.DeleteDecks(ctx, []string{name}, cardsToo)
}

// MoveCards files cards under another deck.
func (s *Service) MoveCards(ctx context.Context, cardIDs []int64, deck string) error {
	s.Logger.Debug("Service MoveCards called", zap.Int("count", len(cardIDs)), zap.String("deck", deck))
	return s.API.ChangeDeck(ctx, cardIDs, deck)
}

// UpdateNote changes the Front and/or Back of a Basic note. At least one must
// be given; only the given ones are sent.
func (s *Service) UpdateNote(ctx context.Context, noteID int64, front, back *string) error {
	fields := make(map[string]string, 2)
	if front != nil {
		fields["Front"] = *front
	}
	if back != nil {
		fields["Back"] = *back
	}
	if len(fields) == 0 {
		return invalidArgument("at least one of 'front' or 'back' must be provided")
	}
	s.Logger.Debug("Service UpdateNote called", zap.Int64("note_id", noteID), zap.Int("fields", len(fields)))
	return s.API.UpdateNoteFields(ctx, anki.NoteUpdate{ID: noteID, Fields: fields})
}

// DeleteNotes deletes notes and all their cards.
func (s *Service) DeleteNotes(ctx context.Context, noteIDs []int64) error {
	s.Logger.Debug("Service DeleteNotes called", zap.Int("count", len(noteIDs)))
	return s.API.DeleteNotes(ctx, noteIDs)
}

// NoteInfo returns note details.
func (s *Service) NoteInfo(ctx context.Context, noteIDs []int64) ([]map[string]interface{}, error) {
	return s.API.NotesInfo(ctx, noteIDs)
}

// RenameDeck moves everything from oldName into newName and removes oldName,
// returning the id of newName. AnkiConnect has no rename action, so this is
// findCards, createDeck, changeDeck (skipped when the deck is empty) and
// deleteDecks in that order. With Rollback set, a failure after the new deck
// exists is compensated; see RenameError.
func (s *Service) RenameDeck(ctx context.Context, oldName, newName string) (int64, error) {
	if strings.TrimSpace(oldName) == "" || strings.TrimSpace(newName) == "" {
		return 0, invalidArgument("old_name and new_name must not be empty")
	}
	// Anki compares deck names case-insensitively, so "Spanish" -> "spanish"
	// would create, then delete, the same deck.
	fold := cases.Fold()
	if fold.String(oldName) == fold.String(newName) {
		return 0, invalidArgument("%q and %q name the same deck", oldName, newName)
	}

	log := s.Logger.With(zap.String("old", oldName), zap.String("new", newName))
	log.Debug("Service RenameDeck called")

	cardIDs, err := s.API.FindCards(ctx, anki.DeckQuery(oldName))
	if err != nil {
		return 0, &RenameError{Step: StepFindCards, Err: err}
	}

	newID, err := s.API.CreateDeck(ctx, newName)
	if err != nil {
		return 0, &RenameError{Step: StepCreateDeck, Err: err}
	}
	undo := renameLog{newDeck: newName}

	if len(cardIDs) > 0 {
		if err := s.API.ChangeDeck(ctx, cardIDs, newName); err != nil {
			return 0, s.abortRename(ctx, log, &RenameError{Step: StepMoveCards, Err: err}, undo)
		}
		undo.moved, undo.movedFrom = cardIDs, oldName
	}

	if err := s.API.DeleteDecks(ctx, []string{oldName}, false); err != nil {
		return 0, s.abortRename(ctx, log, &RenameError{Step: StepDeleteOld, Err: err}, undo)
	}

	log.Debug("Deck renamed", zap.Int64("deck_id", newID), zap.Int("cards", len(cardIDs)))
	return newID, nil
}

// renameLog records what a rename has changed so far.
type renameLog struct {
	newDeck   string
	movedFrom string
	moved     []int64
}

func (s *Service) abortRename(ctx context.Context, log *zap.Logger, rerr *RenameError, undo renameLog) error {
	if !s.Rollback {
		log.Warn("Rename failed, rollback disabled", zap.String("step", rerr.Step), zap.Error(rerr.Err))
		return rerr
	}
	// Compensate even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	rerr.RolledBack = true
	if err := s.compensate(ctx, undo); err != nil {
		rerr.RolledBack = false
		rerr.RollbackErr = err
		log.Error("Rename rollback failed", zap.String("step", rerr.Step), zap.Error(rerr.Err), zap.NamedError("rollback_error", err))
		return rerr
	}
	log.Warn("Rename failed and was rolled back", zap.String("step", rerr.Step), zap.Error(rerr.Err))
	return rerr
}

func (s *Service) compensate(ctx context.Context, undo renameLog) error {
	if len(undo.moved) > 0 {
		if err := s.API.ChangeDeck(ctx, undo.moved, undo.movedFrom); err != nil {
			return fmt.Errorf("move cards back to %q: %w", undo.movedFrom, err)
		}
	}
	// Only drop the target if nothing lives in it; it may have existed
	// before the rename started.
	remaining, err := s.API.FindCards(ctx, anki.DeckQuery(undo.newDeck))
	if err != nil {
		return fmt.Errorf("inspect %q: %w", undo.newDeck, err)
	}
	if len(remaining) > 0 {
		return nil
	}
	if err := s.API.DeleteDecks(ctx, []string{undo.newDeck}, false); err != nil {
		return fmt.Errorf("delete %q: %w", undo.newDeck, err)
	}
	return nil
}
