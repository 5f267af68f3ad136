package anki

import (
	"context"
	"encoding/json"
	"fmt"
)

// Action names understood by AnkiConnect.
const (
	ActionDeckNames        = "deckNames"
	ActionCreateDeck       = "createDeck"
	ActionDeleteDecks      = "deleteDecks"
	ActionFindCards        = "findCards"
	ActionCardsInfo        = "cardsInfo"
	ActionChangeDeck       = "changeDeck"
	ActionAddNote          = "addNote"
	ActionUpdateNoteFields = "updateNoteFields"
	ActionDeleteNotes      = "deleteNotes"
	ActionNotesInfo        = "notesInfo"
)

// BasicModel is the stock two-field note type.
const BasicModel = "Basic"

// Note is the addNote payload.
type Note struct {
	DeckName  string            `json:"deckName"`
	ModelName string            `json:"modelName"`
	Fields    map[string]string `json:"fields"`
	Options   *NoteOptions      `json:"options,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
}

// NoteOptions controls duplicate handling on addNote.
type NoteOptions struct {
	AllowDuplicate bool `json:"allowDuplicate"`
}

// NoteUpdate is the updateNoteFields payload. Only the fields present are
// changed.
type NoteUpdate struct {
	ID     int64             `json:"id"`
	Fields map[string]string `json:"fields"`
}

// API exposes typed wrappers around the actions this server uses. Each
// method is exactly one Invoke.
type API struct {
	inv Invoker
}

// NewAPI wraps an Invoker.
func NewAPI(inv Invoker) *API {
	return &API{inv: inv}
}

// DeckNames lists every deck name.
func (a *API) DeckNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := a.call(ctx, ActionDeckNames, nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// CreateDeck creates a deck (or finds an existing one) and returns its id.
func (a *API) CreateDeck(ctx context.Context, deck string) (int64, error) {
	var id int64
	err := a.call(ctx, ActionCreateDeck, map[string]any{"deck": deck}, &id)
	return id, err
}

// DeleteDecks deletes decks. With cardsToo false their cards move to the
// default deck.
func (a *API) DeleteDecks(ctx context.Context, decks []string, cardsToo bool) error {
	return a.call(ctx, ActionDeleteDecks, map[string]any{"decks": decks, "cardsToo": cardsToo}, nil)
}

// FindCards runs an Anki search and returns matching card ids.
func (a *API) FindCards(ctx context.Context, query string) ([]int64, error) {
	var ids []int64
	if err := a.call(ctx, ActionFindCards, map[string]any{"query": query}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// CardsInfo returns the detail objects for cards.
func (a *API) CardsInfo(ctx context.Context, cards []int64) ([]map[string]any, error) {
	var info []map[string]any
	if err := a.call(ctx, ActionCardsInfo, map[string]any{"cards": cards}, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// ChangeDeck moves cards into deck, creating it if needed.
func (a *API) ChangeDeck(ctx context.Context, cards []int64, deck string) error {
	return a.call(ctx, ActionChangeDeck, map[string]any{"cards": cards, "deck": deck}, nil)
}

// AddNote creates a note and returns its id.
func (a *API) AddNote(ctx context.Context, note Note) (int64, error) {
	var id int64
	err := a.call(ctx, ActionAddNote, map[string]any{"note": note}, &id)
	return id, err
}

// UpdateNoteFields rewrites the given fields of an existing note.
func (a *API) UpdateNoteFields(ctx context.Context, update NoteUpdate) error {
	return a.call(ctx, ActionUpdateNoteFields, map[string]any{"note": update}, nil)
}

// DeleteNotes deletes notes and all of their cards.
func (a *API) DeleteNotes(ctx context.Context, notes []int64) error {
	return a.call(ctx, ActionDeleteNotes, map[string]any{"notes": notes}, nil)
}

// NotesInfo returns the detail objects for notes.
func (a *API) NotesInfo(ctx context.Context, notes []int64) ([]map[string]any, error) {
	var info []map[string]any
	if err := a.call(ctx, ActionNotesInfo, map[string]any{"notes": notes}, &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (a *API) call(ctx context.Context, action string, params any, out any) error {
	raw, err := a.inv.Invoke(ctx, action, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", action, err)
	}
	return nil
}
