package propertytest

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/danieldreier/anki-mcp/internal/anki"
	"github.com/danieldreier/anki-mcp/internal/ankitest"
	"github.com/danieldreier/anki-mcp/internal/tools"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
)

// --- State Definition ---

// DeckState is the model: every deck the collection should hold, with the
// fronts of the notes in it.
type DeckState struct {
	Decks map[string][]string
	T     *testing.T
}

// NewDeckState returns the model of a fresh collection.
func NewDeckState(t *testing.T) *DeckState {
	return &DeckState{Decks: map[string][]string{ankitest.DefaultDeck: nil}, T: t}
}

// deepCopy is used by every NextState; the initial state is shared between
// runs so it must never be mutated.
func (s *DeckState) deepCopy() *DeckState {
	next := &DeckState{Decks: make(map[string][]string, len(s.Decks)), T: s.T}
	for deck, fronts := range s.Decks {
		next.Decks[deck] = append([]string(nil), fronts...)
	}
	return next
}

func (s *DeckState) hasDeck(name string) bool {
	_, ok := s.Decks[name]
	return ok
}

func (s *DeckState) hasFront(front string) bool {
	for _, fronts := range s.Decks {
		for _, f := range fronts {
			if f == front {
				return true
			}
		}
	}
	return false
}

// Fronts lists every front in the model.
func (s *DeckState) Fronts() []string {
	var all []string
	for _, deck := range sortedKeys(s.Decks) {
		all = append(all, s.Decks[deck]...)
	}
	return all
}

func fail(state commands.State, label, format string, args ...interface{}) *gopter.PropResult {
	state.(*DeckState).T.Logf("%s: "+format, append([]interface{}{label}, args...)...)
	return gopter.NewPropResult(false, label)
}

// expectID checks that result is a successful tool result holding an id.
func expectID(state commands.State, label string, result commands.Result) *gopter.PropResult {
	outcome, ok := result.(ToolOutcome)
	if !ok {
		return fail(state, label, "Run error: %v", result)
	}
	var id int64
	if err := outcome.Decode(&id); err != nil {
		return fail(state, label, "%v", err)
	}
	if id <= 0 {
		return fail(state, label, "expected a positive id, got %d", id)
	}
	return gopter.NewPropResult(true, label)
}

func asResult(outcome ToolOutcome, err error) commands.Result {
	if err != nil {
		return err
	}
	return outcome
}

// --- CreateDeckCmd ---
type CreateDeckCmd struct {
	Name string
}

func (c *CreateDeckCmd) Run(sut commands.SystemUnderTest) commands.Result {
	return asResult(sut.(*AnkiSUT).CallTool(tools.ToolCreateDeck, map[string]interface{}{"deck_name": c.Name}))
}

func (c *CreateDeckCmd) NextState(state commands.State) commands.State {
	next := state.(*DeckState).deepCopy()
	if !next.hasDeck(c.Name) {
		next.Decks[c.Name] = nil
	}
	return next
}

func (c *CreateDeckCmd) PreCondition(commands.State) bool { return true }

func (c *CreateDeckCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return expectID(state, c.String(), result)
}

func (c *CreateDeckCmd) String() string { return fmt.Sprintf("CreateDeck(%q)", c.Name) }

// --- AddNoteCmd ---
type AddNoteCmd struct {
	Deck  string
	Front string
}

func (c *AddNoteCmd) Run(sut commands.SystemUnderTest) commands.Result {
	return asResult(sut.(*AnkiSUT).CallTool(tools.ToolAddNote, map[string]interface{}{
		"deck": c.Deck, "front": c.Front, "back": "back of " + c.Front,
	}))
}

func (c *AddNoteCmd) NextState(state commands.State) commands.State {
	next := state.(*DeckState).deepCopy()
	next.Decks[c.Deck] = append(next.Decks[c.Deck], c.Front)
	return next
}

func (c *AddNoteCmd) PreCondition(state commands.State) bool {
	s := state.(*DeckState)
	return s.hasDeck(c.Deck) && !s.hasFront(c.Front)
}

func (c *AddNoteCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return expectID(state, c.String(), result)
}

func (c *AddNoteCmd) String() string { return fmt.Sprintf("AddNote(%q, %q)", c.Deck, c.Front) }

// --- AddDuplicateCmd ---

// AddDuplicateCmd re-adds an existing front, which must be refused.
type AddDuplicateCmd struct {
	Deck  string
	Front string
}

func (c *AddDuplicateCmd) Run(sut commands.SystemUnderTest) commands.Result {
	return asResult(sut.(*AnkiSUT).CallTool(tools.ToolAddNote, map[string]interface{}{
		"deck": c.Deck, "front": c.Front, "back": "another back",
	}))
}

func (c *AddDuplicateCmd) NextState(state commands.State) commands.State { return state }

func (c *AddDuplicateCmd) PreCondition(state commands.State) bool {
	s := state.(*DeckState)
	return s.hasDeck(c.Deck) && s.hasFront(c.Front)
}

func (c *AddDuplicateCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	label := c.String()
	outcome, ok := result.(ToolOutcome)
	if !ok {
		return fail(state, label, "Run error: %v", result)
	}
	if !outcome.IsError || !strings.Contains(outcome.Text, "duplicate") {
		return fail(state, label, "expected a duplicate error, got %+v", outcome)
	}
	return gopter.NewPropResult(true, label)
}

func (c *AddDuplicateCmd) String() string { return fmt.Sprintf("AddDuplicate(%q, %q)", c.Deck, c.Front) }

// --- RenameDeckCmd ---
type RenameDeckCmd struct {
	Old string
	New string
}

func (c *RenameDeckCmd) Run(sut commands.SystemUnderTest) commands.Result {
	return asResult(sut.(*AnkiSUT).CallTool(tools.ToolRenameDeck, map[string]interface{}{
		"old_name": c.Old, "new_name": c.New,
	}))
}

// NextState merges into the target when it already exists, which is what
// moving the cards and deleting the source amounts to.
func (c *RenameDeckCmd) NextState(state commands.State) commands.State {
	next := state.(*DeckState).deepCopy()
	next.Decks[c.New] = append(next.Decks[c.New], next.Decks[c.Old]...)
	delete(next.Decks, c.Old)
	return next
}

func (c *RenameDeckCmd) PreCondition(state commands.State) bool {
	s := state.(*DeckState)
	return s.hasDeck(c.Old) && c.Old != ankitest.DefaultDeck && c.Old != c.New
}

func (c *RenameDeckCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return expectID(state, c.String(), result)
}

func (c *RenameDeckCmd) String() string { return fmt.Sprintf("RenameDeck(%q -> %q)", c.Old, c.New) }

// --- DeleteDeckCmd ---
type DeleteDeckCmd struct {
	Name     string
	CardsToo bool
}

func (c *DeleteDeckCmd) Run(sut commands.SystemUnderTest) commands.Result {
	return asResult(sut.(*AnkiSUT).CallTool(tools.ToolDeleteDeck, map[string]interface{}{
		"deck_name": c.Name, "cards_too": c.CardsToo,
	}))
}

func (c *DeleteDeckCmd) NextState(state commands.State) commands.State {
	next := state.(*DeckState).deepCopy()
	if !c.CardsToo {
		next.Decks[ankitest.DefaultDeck] = append(next.Decks[ankitest.DefaultDeck], next.Decks[c.Name]...)
	}
	delete(next.Decks, c.Name)
	return next
}

func (c *DeleteDeckCmd) PreCondition(state commands.State) bool {
	return state.(*DeckState).hasDeck(c.Name) && c.Name != ankitest.DefaultDeck
}

func (c *DeleteDeckCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	label := c.String()
	outcome, ok := result.(ToolOutcome)
	if !ok {
		return fail(state, label, "Run error: %v", result)
	}
	var status tools.StatusResponse
	if err := outcome.Decode(&status); err != nil || !status.Success {
		return fail(state, label, "unexpected result %+v (%v)", outcome, err)
	}
	return gopter.NewPropResult(true, label)
}

func (c *DeleteDeckCmd) String() string {
	return fmt.Sprintf("DeleteDeck(%q, cardsToo=%t)", c.Name, c.CardsToo)
}

// --- ListDecksCmd ---
type ListDecksCmd struct{}

func (c *ListDecksCmd) Run(sut commands.SystemUnderTest) commands.Result {
	return asResult(sut.(*AnkiSUT).CallTool(tools.ToolListDecks, nil))
}

func (c *ListDecksCmd) NextState(state commands.State) commands.State { return state }

func (c *ListDecksCmd) PreCondition(commands.State) bool { return true }

func (c *ListDecksCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	label := c.String()
	outcome, ok := result.(ToolOutcome)
	if !ok {
		return fail(state, label, "Run error: %v", result)
	}
	var names []string
	if err := outcome.Decode(&names); err != nil {
		return fail(state, label, "%v", err)
	}
	expected := sortedKeys(state.(*DeckState).Decks)
	if !reflect.DeepEqual(expected, names) {
		return fail(state, label, "expected decks %v, got %v", expected, names)
	}
	return gopter.NewPropResult(true, label)
}

func (c *ListDecksCmd) String() string { return "ListDecks()" }

// --- CountCardsCmd ---

// CountCardsCmd searches a deck and compares the hit count with the model.
type CountCardsCmd struct {
	Deck string
}

func (c *CountCardsCmd) Run(sut commands.SystemUnderTest) commands.Result {
	return asResult(sut.(*AnkiSUT).CallTool(tools.ToolSearchCards, map[string]interface{}{
		"query": anki.DeckQuery(c.Deck),
	}))
}

func (c *CountCardsCmd) NextState(state commands.State) commands.State { return state }

func (c *CountCardsCmd) PreCondition(state commands.State) bool {
	return state.(*DeckState).hasDeck(c.Deck)
}

func (c *CountCardsCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	label := c.String()
	outcome, ok := result.(ToolOutcome)
	if !ok {
		return fail(state, label, "Run error: %v", result)
	}
	var ids []int64
	if err := outcome.Decode(&ids); err != nil {
		return fail(state, label, "%v", err)
	}
	if want := len(state.(*DeckState).Decks[c.Deck]); len(ids) != want {
		return fail(state, label, "expected %d cards, found %d", want, len(ids))
	}
	return gopter.NewPropResult(true, label)
}

func (c *CountCardsCmd) String() string { return fmt.Sprintf("CountCards(%q)", c.Deck) }
