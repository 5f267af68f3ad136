// Package ankitest provides an in-memory AnkiConnect for tests.
//
// The fake keeps a tiny collection of decks, notes and cards, serves the
// subset of actions this module uses, and records every request it receives
// so tests can assert on the exact payloads that were sent.
package ankitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// DefaultDeck is the deck orphaned cards fall back to.
const DefaultDeck = "Default"

// Request is one recorded call.
type Request struct {
	Action  string
	Version int
	Key     string
	Params  map[string]any
}

type note struct {
	id     int64
	model  string
	fields map[string]string
	tags   []string
	cards  []int64
}

type card struct {
	id   int64
	note int64
	deck string
}

type failure struct {
	after   int
	seen    int
	payload any
}

type override struct {
	status int
	body   string
}

type handlerFunc func(params map[string]any) (any, any)

// Server is a fake AnkiConnect endpoint.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	requests  []Request
	decks     map[string]int64
	notes     map[int64]*note
	cards     map[int64]*card
	failures  map[string]*failure
	overrides map[string]override
	nextID    int64
	handlers  map[string]handlerFunc
}

// New starts a fake and closes it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := NewUnstarted()
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

// NewUnstarted returns a fake with an empty collection and no listener.
// Handler can be mounted anywhere.
func NewUnstarted() *Server {
	s := &Server{
		decks:     map[string]int64{DefaultDeck: 1},
		notes:     make(map[int64]*note),
		cards:     make(map[int64]*card),
		failures:  make(map[string]*failure),
		overrides: make(map[string]override),
		nextID:    1000,
	}
	s.handlers = map[string]handlerFunc{
		"deckNames":        s.deckNames,
		"createDeck":       s.createDeck,
		"deleteDecks":      s.deleteDecks,
		"findCards":        s.findCards,
		"cardsInfo":        s.cardsInfo,
		"changeDeck":       s.changeDeck,
		"addNote":          s.addNote,
		"updateNoteFields": s.updateNoteFields,
		"deleteNotes":      s.deleteNotes,
		"notesInfo":        s.notesInfo,
	}
	return s
}

// Handler returns the fake's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router() }

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.serve)
	return r
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action  string          `json:"action"`
		Version int             `json:"version"`
		Key     string          `json:"key"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	params := map[string]any{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeEnvelope(w, nil, "params must be an object")
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{
		Action:  req.Action,
		Version: req.Version,
		Key:     req.Key,
		Params:  params,
	})

	if o, ok := s.overrides[req.Action]; ok {
		w.WriteHeader(o.status)
		_, _ = w.Write([]byte(o.body))
		return
	}
	if f, ok := s.failures[req.Action]; ok {
		f.seen++
		if f.seen > f.after {
			writeEnvelope(w, nil, f.payload)
			return
		}
	}
	h, ok := s.handlers[req.Action]
	if !ok {
		writeEnvelope(w, nil, "unsupported action")
		return
	}
	result, errPayload := h(params)
	writeEnvelope(w, result, errPayload)
}

func writeEnvelope(w http.ResponseWriter, result, errPayload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "error": errPayload})
}

// FailOn makes every later call to action fail with payload.
func (s *Server) FailOn(action string, payload any) {
	s.FailAfter(action, 0, payload)
}

// FailAfter lets n calls to action succeed, then fails the rest with payload.
func (s *Server) FailAfter(action string, n int, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[action] = &failure{after: n, payload: payload}
}

// Respond answers action with a fixed status and raw body.
func (s *Server) Respond(action string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[action] = override{status: status, body: body}
}

// ClearFailures removes injected failures and overrides.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]*failure)
	s.overrides = make(map[string]override)
}

// Requests returns a copy of everything received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Actions returns the recorded action names in order.
func (s *Server) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r.Action)
	}
	return out
}

// ResetRequests forgets recorded requests but keeps the collection.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// AddDeck creates a deck directly and returns its id.
func (s *Server) AddDeck(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureDeck(name)
}

// AddBasicNote seeds a Basic note with one card and returns their ids.
func (s *Server) AddBasicNote(deck, front, back string) (noteID, cardID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDeck(deck)
	return s.insertNote(deck, "Basic", map[string]string{"Front": front, "Back": back}, nil)
}

// Decks returns deck names, sorted.
func (s *Server) Decks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedDecks()
}

// CardsIn returns the ids of cards filed directly under deck.
func (s *Server) CardsIn(deck string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, c := range s.cards {
		if strings.EqualFold(c.deck, deck) {
			ids = append(ids, c.id)
		}
	}
	sortIDs(ids)
	return ids
}

// NoteFields returns a copy of a note's fields, or nil if it does not exist.
func (s *Server) NoteFields(id int64) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(n.fields))
	for k, v := range n.fields {
		out[k] = v
	}
	return out
}

// --- collection helpers, callers hold s.mu ---

func (s *Server) newID() int64 {
	s.nextID++
	return s.nextID
}

func (s *Server) lookupDeck(name string) (string, bool) {
	for existing := range s.decks {
		if strings.EqualFold(existing, name) {
			return existing, true
		}
	}
	return "", false
}

func (s *Server) ensureDeck(name string) int64 {
	parts := strings.Split(name, "::")
	var id int64
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "::")
		if existing, ok := s.lookupDeck(prefix); ok {
			id = s.decks[existing]
			continue
		}
		id = s.newID()
		s.decks[prefix] = id
	}
	return id
}

func (s *Server) sortedDecks() []string {
	names := make([]string, 0, len(s.decks))
	for name := range s.decks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) insertNote(deck, model string, fields map[string]string, tags []string) (int64, int64) {
	n := &note{id: s.newID(), model: model, fields: fields, tags: tags}
	c := &card{id: s.newID(), note: n.id, deck: deck}
	n.cards = []int64{c.id}
	s.notes[n.id] = n
	s.cards[c.id] = c
	return n.id, c.id
}

func (s *Server) removeNote(id int64) {
	n, ok := s.notes[id]
	if !ok {
		return
	}
	for _, cid := range n.cards {
		delete(s.cards, cid)
	}
	delete(s.notes, id)
}

func inDeckTree(deck, root string) bool {
	return strings.EqualFold(deck, root) ||
		(len(deck) > len(root)+2 && strings.EqualFold(deck[:len(root)+2], root+"::"))
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func toIDs(v any) ([]int64, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	ids := make([]int64, 0, len(raw))
	for _, item := range raw {
		f, ok := item.(float64)
		if !ok {
			return nil, false
		}
		ids = append(ids, int64(f))
	}
	return ids, true
}

func toStrings(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		str, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, str)
	}
	return out, true
}

func toFields(v any) (map[string]string, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(raw))
	for k, item := range raw {
		str, ok := item.(string)
		if !ok {
			return nil, false
		}
		out[k] = str
	}
	return out, true
}

func paramError(name string) string {
	return fmt.Sprintf("missing or invalid parameter: %s", name)
}
