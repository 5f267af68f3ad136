package anki

import "strings"

var searchEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`*`, `\*`,
	`_`, `\_`,
)

// DeckQuery returns the search that selects every card in deck (and its
// subdecks, as Anki's deck: filter does). The term is quoted so names with
// spaces work.
func DeckQuery(deck string) string {
	return `"deck:` + searchEscaper.Replace(deck) + `"`
}
