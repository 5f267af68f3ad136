package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/danieldreier/anki-mcp/internal/anki"
	"github.com/danieldreier/anki-mcp/internal/ankitest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestService returns a service wired to a fresh fake AnkiConnect.
func setupTestService(t *testing.T, opts ...ServiceOption) (*Service, *ankitest.Server) {
	t.Helper()
	fake := ankitest.New(t)
	return NewService(anki.NewClient(fake.URL), opts...), fake
}

func strPtr(s string) *string { return &s }

func TestAddNote_AlwaysBasicWithoutDuplicates(t *testing.T) {
	service, fake := setupTestService(t)
	fake.AddDeck("Spanish")

	id, err := service.AddNote(context.Background(), "Spanish", "hola", "hello")
	require.NoError(t, err)
	assert.NotZero(t, id)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "addNote", reqs[0].Action)
	assert.Equal(t, 6, reqs[0].Version)
	want := map[string]interface{}{"note": map[string]interface{}{
		"deckName":  "Spanish",
		"modelName": "Basic",
		"fields":    map[string]interface{}{"Front": "hola", "Back": "hello"},
		"options":   map[string]interface{}{"allowDuplicate": false},
	}}
	if diff := cmp.Diff(want, reqs[0].Params); diff != "" {
		t.Errorf("addNote params mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateNote_RequiresAField(t *testing.T) {
	service, fake := setupTestService(t)

	err := service.UpdateNote(context.Background(), 5, nil, nil)

	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, fake.Requests(), "nothing should reach AnkiConnect")
}

func TestUpdateNote_SendsOnlyGivenFields(t *testing.T) {
	service, fake := setupTestService(t)
	fake.Respond("updateNoteFields", 200, `{"result": null, "error": null}`)

	require.NoError(t, service.UpdateNote(context.Background(), 5, strPtr("Q"), nil))

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "updateNoteFields", reqs[0].Action)
	want := map[string]interface{}{"note": map[string]interface{}{"id": float64(5), "fields": map[string]interface{}{"Front": "Q"}}}
	if diff := cmp.Diff(want, reqs[0].Params); diff != "" {
		t.Errorf("updateNoteFields params mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateNote_EmptyStringIsAValue(t *testing.T) {
	service, fake := setupTestService(t)
	noteID, _ := fake.AddBasicNote("Default", "q", "a")

	require.NoError(t, service.UpdateNote(context.Background(), noteID, nil, strPtr("")))
	assert.Equal(t, map[string]string{"Front": "q", "Back": ""}, fake.NoteFields(noteID))
}

func TestDeleteDeck_PassesCardsTooThrough(t *testing.T) {
	for _, cardsToo := range []bool{true, false} {
		service, fake := setupTestService(t)
		require.NoError(t, service.DeleteDeck(context.Background(), "X", cardsToo))

		want := map[string]interface{}{"decks": []interface{}{"X"}, "cardsToo": cardsToo}
		assert.Equal(t, want, fake.Requests()[0].Params)
	}
}

func TestRenameDeck_MovesCardsInOrder(t *testing.T) {
	service, fake := setupTestService(t)
	var cards []interface{}
	for _, front := range []string{"a", "b", "c"} {
		_, id := fake.AddBasicNote("Old", front, "x")
		cards = append(cards, float64(id))
	}

	newID, err := service.RenameDeck(context.Background(), "Old", "New")
	require.NoError(t, err)

	want := []ankitest.Request{
		{Action: "findCards", Version: 6, Params: map[string]interface{}{"query": `"deck:Old"`}},
		{Action: "createDeck", Version: 6, Params: map[string]interface{}{"deck": "New"}},
		{Action: "changeDeck", Version: 6, Params: map[string]interface{}{"cards": cards, "deck": "New"}},
		{Action: "deleteDecks", Version: 6, Params: map[string]interface{}{"decks": []interface{}{"Old"}, "cardsToo": false}},
	}
	if diff := cmp.Diff(want, fake.Requests()); diff != "" {
		t.Errorf("rename call sequence mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"Default", "New"}, fake.Decks())
	assert.Len(t, fake.CardsIn("New"), 3)

	createdID, err := service.CreateDeck(context.Background(), "New")
	require.NoError(t, err)
	assert.Equal(t, createdID, newID, "rename returns the id createDeck produced")
}

func TestRenameDeck_ReturnsCreateDeckResult(t *testing.T) {
	service, fake := setupTestService(t)
	fake.Respond("findCards", 200, `{"result": [1, 2, 3], "error": null}`)
	fake.Respond("createDeck", 200, `{"result": 1651445861967, "error": null}`)
	fake.Respond("changeDeck", 200, `{"result": null, "error": null}`)
	fake.Respond("deleteDecks", 200, `{"result": null, "error": null}`)

	id, err := service.RenameDeck(context.Background(), "Old", "New")
	require.NoError(t, err)
	assert.Equal(t, int64(1651445861967), id)

	reqs := fake.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, map[string]interface{}{"cards": []interface{}{1.0, 2.0, 3.0}, "deck": "New"}, reqs[2].Params)
}

func TestRenameDeck_EmptyDeckSkipsChangeDeck(t *testing.T) {
	service, fake := setupTestService(t)
	fake.AddDeck("Old")

	_, err := service.RenameDeck(context.Background(), "Old", "New")
	require.NoError(t, err)

	assert.Equal(t, []string{"findCards", "createDeck", "deleteDecks"}, fake.Actions())
	assert.Equal(t, []string{"Default", "New"}, fake.Decks())
}

func TestRenameDeck_RejectsSameDeck(t *testing.T) {
	service, fake := setupTestService(t)

	for _, names := range [][2]string{{"Spanish", "spanish"}, {"ÉCOLE", "école"}, {"", "New"}, {"Old", " "}} {
		_, err := service.RenameDeck(context.Background(), names[0], names[1])
		assert.ErrorIs(t, err, ErrInvalidArgument, "%q -> %q", names[0], names[1])
	}
	assert.Empty(t, fake.Requests())
}

func TestRenameDeck_MoveFailureRemovesNewDeck(t *testing.T) {
	service, fake := setupTestService(t)
	_, cardID := fake.AddBasicNote("Old", "a", "b")
	fake.FailOn("changeDeck", "collection is busy")

	_, err := service.RenameDeck(context.Background(), "Old", "New")
	require.Error(t, err)

	var rerr *RenameError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, StepMoveCards, rerr.Step)
	assert.True(t, rerr.RolledBack)
	assert.NoError(t, rerr.RollbackErr)

	var remote *anki.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "collection is busy", remote.Error())
	assert.Contains(t, err.Error(), "collection is busy")

	assert.Equal(t, []string{"findCards", "createDeck", "changeDeck", "findCards", "deleteDecks"}, fake.Actions())
	assert.Equal(t, []string{"Default", "Old"}, fake.Decks())
	assert.Equal(t, []int64{cardID}, fake.CardsIn("Old"))
}

func TestRenameDeck_DeleteFailureMovesCardsBack(t *testing.T) {
	service, fake := setupTestService(t)
	_, cardID := fake.AddBasicNote("Old", "a", "b")
	fake.FailOn("deleteDecks", "deck is locked")

	_, err := service.RenameDeck(context.Background(), "Old", "New")
	require.Error(t, err)

	var rerr *RenameError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, StepDeleteOld, rerr.Step)
	// The cleanup deleteDecks fails too, so the new (now empty) deck survives.
	assert.Error(t, rerr.RollbackErr)
	assert.Equal(t, []int64{cardID}, fake.CardsIn("Old"), "cards are moved back")
	assert.Empty(t, fake.CardsIn("New"))
}

func TestRenameDeck_DeleteFailureRollbackCompletes(t *testing.T) {
	service, fake := setupTestService(t)
	_, cardID := fake.AddBasicNote("Old", "a", "b")
	// Let the compensation's deleteDecks through by clearing the failure as
	// soon as the first deleteDecks has been rejected.
	fake.FailOn("deleteDecks", "deck is locked")
	service.API = anki.NewAPI(&clearAfterFirstFailure{inv: anki.NewClient(fake.URL), fake: fake, action: "deleteDecks"})

	_, err := service.RenameDeck(context.Background(), "Old", "New")

	var rerr *RenameError
	require.True(t, errors.As(err, &rerr))
	assert.True(t, rerr.RolledBack)
	assert.NoError(t, rerr.RollbackErr)
	assert.Equal(t, []string{"Default", "Old"}, fake.Decks())
	assert.Equal(t, []int64{cardID}, fake.CardsIn("Old"))
}

func TestRenameDeck_RollbackKeepsPopulatedTarget(t *testing.T) {
	service, fake := setupTestService(t)
	fake.AddBasicNote("Old", "a", "b")
	_, existing := fake.AddBasicNote("New", "c", "d")
	fake.FailOn("changeDeck", "collection is busy")

	_, err := service.RenameDeck(context.Background(), "Old", "New")
	require.Error(t, err)

	assert.Equal(t, []string{"Default", "New", "Old"}, fake.Decks(), "pre-existing target is left alone")
	assert.Equal(t, []int64{existing}, fake.CardsIn("New"))
}

func TestRenameDeck_NoRollbackLeavesBothDecks(t *testing.T) {
	service, fake := setupTestService(t, WithRollback(false))
	fake.AddBasicNote("Old", "a", "b")
	fake.FailOn("deleteDecks", "deck is locked")

	_, err := service.RenameDeck(context.Background(), "Old", "New")

	var rerr *RenameError
	require.True(t, errors.As(err, &rerr))
	assert.False(t, rerr.RolledBack)
	assert.Equal(t, []string{"findCards", "createDeck", "changeDeck", "deleteDecks"}, fake.Actions())
	assert.Equal(t, []string{"Default", "New", "Old"}, fake.Decks())
	assert.Len(t, fake.CardsIn("New"), 1)
}

func TestRenameDeck_EarlyFailuresNeedNoRollback(t *testing.T) {
	for _, action := range []string{"findCards", "createDeck"} {
		t.Run(action, func(t *testing.T) {
			service, fake := setupTestService(t)
			fake.AddDeck("Old")
			fake.FailOn(action, "deck already exists")

			_, err := service.RenameDeck(context.Background(), "Old", "New")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "deck already exists")

			actions := fake.Actions()
			assert.Equal(t, action, actions[len(actions)-1], "nothing runs after the failing step")
		})
	}
}

func TestListDecks_Pattern(t *testing.T) {
	service, fake := setupTestService(t)
	for _, d := range []string{"Lang", "Lang::Spanish", "Lang::Spanish::Verbs", "Lang::French", "Math"} {
		fake.AddDeck(d)
	}
	ctx := context.Background()

	all, err := service.ListDecks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 6)

	children, err := service.ListDecks(ctx, "Lang::*")
	require.NoError(t, err)
	assert.Equal(t, []string{"Lang::French", "Lang::Spanish"}, children)

	descendants, err := service.ListDecks(ctx, "Lang::**")
	require.NoError(t, err)
	assert.Subset(t, descendants, []string{"Lang::French", "Lang::Spanish", "Lang::Spanish::Verbs"})
	assert.NotContains(t, descendants, "Math")

	_, err = service.ListDecks(ctx, "Lang::[")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestListDecks_SlashIsPartOfTheName(t *testing.T) {
	service, fake := setupTestService(t)
	for _, d := range []string{"AB", "A/B", "A::C"} {
		fake.AddDeck(d)
	}
	ctx := context.Background()

	got, err := service.ListDecks(ctx, "A*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "A/B", "AB"}, got)

	got, err = service.ListDecks(ctx, "A/B")
	require.NoError(t, err)
	assert.Equal(t, []string{"A/B"}, got)

	got, err = service.ListDecks(ctx, "A/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"A/B"}, got)
}

func TestEveryOperationSurfacesRemoteErrors(t *testing.T) {
	ctx := context.Background()
	ops := map[string]func(*Service) error{
		"list_decks": func(s *Service) error { _, err := s.ListDecks(ctx, ""); return err },
		"add_note":   func(s *Service) error { _, err := s.AddNote(ctx, "D", "f", "b"); return err },
		"search":     func(s *Service) error { _, err := s.SearchCards(ctx, "x"); return err },
		"card_info":  func(s *Service) error { _, err := s.CardInfo(ctx, []int64{1}); return err },
		"create":     func(s *Service) error { _, err := s.CreateDeck(ctx, "D"); return err },
		"delete":     func(s *Service) error { return s.DeleteDeck(ctx, "D", true) },
		"rename":     func(s *Service) error { _, err := s.RenameDeck(ctx, "A", "B"); return err },
		"move":       func(s *Service) error { return s.MoveCards(ctx, []int64{1}, "D") },
		"update":     func(s *Service) error { return s.UpdateNote(ctx, 1, strPtr("f"), nil) },
		"delete_all": func(s *Service) error { return s.DeleteNotes(ctx, []int64{1}) },
		"note_info":  func(s *Service) error { _, err := s.NoteInfo(ctx, []int64{1}); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			service, fake := setupTestService(t)
			for _, action := range []string{"deckNames", "addNote", "findCards", "cardsInfo", "createDeck",
				"deleteDecks", "changeDeck", "updateNoteFields", "deleteNotes", "notesInfo"} {
				fake.Respond(action, 200, `{"error": "deck already exists", "result": null}`)
			}

			err := op(service)
			var remote *anki.RemoteError
			require.True(t, errors.As(err, &remote), "got %v", err)
			assert.Equal(t, "deck already exists", remote.Error())
		})
	}
}

// clearAfterFirstFailure drops the fake's injected failure for action once it
// has been hit, so later calls succeed.
type clearAfterFirstFailure struct {
	inv    anki.Invoker
	fake   *ankitest.Server
	action string
	done   bool
}

func (c *clearAfterFirstFailure) Invoke(ctx context.Context, action string, params interface{}) (json.RawMessage, error) {
	raw, err := c.inv.Invoke(ctx, action, params)
	if action == c.action && err != nil && !c.done {
		c.done = true
		c.fake.ClearFailures()
	}
	return raw, err
}
