package ankitest

import (
	"fmt"
	"strings"
)

func (s *Server) deckNames(map[string]any) (any, any) {
	return s.sortedDecks(), nil
}

func (s *Server) createDeck(params map[string]any) (any, any) {
	name, ok := params["deck"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, paramError("deck")
	}
	return s.ensureDeck(name), nil
}

func (s *Server) deleteDecks(params map[string]any) (any, any) {
	names, ok := toStrings(params["decks"])
	if !ok {
		return nil, paramError("decks")
	}
	cardsToo, ok := params["cardsToo"].(bool)
	if !ok {
		return nil, paramError("cardsToo")
	}
	for _, root := range names {
		for deck := range s.decks {
			if !inDeckTree(deck, root) || deck == DefaultDeck {
				continue
			}
			delete(s.decks, deck)
		}
		for _, c := range s.cards {
			if !inDeckTree(c.deck, root) || c.deck == DefaultDeck {
				continue
			}
			if cardsToo {
				s.removeNote(c.note)
			} else {
				c.deck = DefaultDeck
			}
		}
	}
	return nil, nil
}

func (s *Server) findCards(params map[string]any) (any, any) {
	query, ok := params["query"].(string)
	if !ok {
		return nil, paramError("query")
	}
	match, errPayload := compileQuery(query)
	if errPayload != nil {
		return nil, errPayload
	}
	ids := []int64{}
	for _, c := range s.cards {
		if match(c, s.notes[c.note]) {
			ids = append(ids, c.id)
		}
	}
	sortIDs(ids)
	return ids, nil
}

// compileQuery understands the small part of Anki search syntax tests need:
// an optionally quoted deck:NAME term with backslash escapes, "*" for
// everything, or a plain substring matched against note fields.
func compileQuery(query string) (func(*card, *note) bool, any) {
	q := strings.TrimSpace(query)
	if len(q) >= 2 && strings.HasPrefix(q, `"`) && strings.HasSuffix(q, `"`) {
		q = q[1 : len(q)-1]
	}
	if q == "" || q == "*" || q == "deck:*" {
		return func(*card, *note) bool { return true }, nil
	}
	if strings.HasPrefix(q, "deck:") {
		deck, err := unescapeSearch(strings.TrimPrefix(q, "deck:"))
		if err != nil {
			return nil, err.Error()
		}
		return func(c *card, _ *note) bool { return inDeckTree(c.deck, deck) }, nil
	}
	needle := strings.ToLower(q)
	return func(_ *card, n *note) bool {
		for _, v := range n.fields {
			if strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
		return false
	}, nil
}

func unescapeSearch(s string) (string, error) {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			return "", fmt.Errorf("unbalanced quote in search")
		default:
			b.WriteRune(r)
		}
	}
	if escaped {
		return "", fmt.Errorf("dangling escape in search")
	}
	return b.String(), nil
}

func (s *Server) cardsInfo(params map[string]any) (any, any) {
	ids, ok := toIDs(params["cards"])
	if !ok {
		return nil, paramError("cards")
	}
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		c, ok := s.cards[id]
		if !ok {
			out = append(out, map[string]any{})
			continue
		}
		n := s.notes[c.note]
		out = append(out, map[string]any{
			"cardId":    c.id,
			"note":      n.id,
			"deckName":  c.deck,
			"modelName": n.model,
			"fields":    fieldInfo(n.fields),
		})
	}
	return out, nil
}

func (s *Server) changeDeck(params map[string]any) (any, any) {
	ids, ok := toIDs(params["cards"])
	if !ok {
		return nil, paramError("cards")
	}
	deck, ok := params["deck"].(string)
	if !ok || deck == "" {
		return nil, paramError("deck")
	}
	s.ensureDeck(deck)
	name, _ := s.lookupDeck(deck)
	for _, id := range ids {
		if c, ok := s.cards[id]; ok {
			c.deck = name
		}
	}
	return nil, nil
}

func (s *Server) addNote(params map[string]any) (any, any) {
	raw, ok := params["note"].(map[string]any)
	if !ok {
		return nil, paramError("note")
	}
	deck, _ := raw["deckName"].(string)
	name, exists := s.lookupDeck(deck)
	if !exists {
		return nil, fmt.Sprintf("deck was not found: %s", deck)
	}
	model, _ := raw["modelName"].(string)
	if model != "Basic" {
		return nil, fmt.Sprintf("model was not found: %s", model)
	}
	fields, ok := toFields(raw["fields"])
	if !ok {
		return nil, paramError("fields")
	}
	if strings.TrimSpace(fields["Front"]) == "" {
		return nil, "cannot create note because it is empty"
	}
	allowDuplicate := false
	if opts, ok := raw["options"].(map[string]any); ok {
		allowDuplicate, _ = opts["allowDuplicate"].(bool)
	}
	if !allowDuplicate {
		for _, n := range s.notes {
			if n.model == model && n.fields["Front"] == fields["Front"] {
				return nil, "cannot create note because it is a duplicate"
			}
		}
	}
	tags, _ := toStrings(raw["tags"])
	noteID, _ := s.insertNote(name, model, fields, tags)
	return noteID, nil
}

func (s *Server) updateNoteFields(params map[string]any) (any, any) {
	raw, ok := params["note"].(map[string]any)
	if !ok {
		return nil, paramError("note")
	}
	idf, ok := raw["id"].(float64)
	if !ok {
		return nil, paramError("id")
	}
	n, ok := s.notes[int64(idf)]
	if !ok {
		return nil, fmt.Sprintf("Note was not found: %d", int64(idf))
	}
	fields, ok := toFields(raw["fields"])
	if !ok {
		return nil, paramError("fields")
	}
	for k, v := range fields {
		n.fields[k] = v
	}
	return nil, nil
}

func (s *Server) deleteNotes(params map[string]any) (any, any) {
	ids, ok := toIDs(params["notes"])
	if !ok {
		return nil, paramError("notes")
	}
	for _, id := range ids {
		s.removeNote(id)
	}
	return nil, nil
}

func (s *Server) notesInfo(params map[string]any) (any, any) {
	ids, ok := toIDs(params["notes"])
	if !ok {
		return nil, paramError("notes")
	}
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		n, ok := s.notes[id]
		if !ok {
			out = append(out, map[string]any{})
			continue
		}
		tags := n.tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, map[string]any{
			"noteId":    n.id,
			"modelName": n.model,
			"tags":      tags,
			"fields":    fieldInfo(n.fields),
			"cards":     n.cards,
		})
	}
	return out, nil
}

func fieldInfo(fields map[string]string) map[string]any {
	order := map[string]int{"Front": 0, "Back": 1}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = map[string]any{"value": v, "order": order[k]}
	}
	return out
}
