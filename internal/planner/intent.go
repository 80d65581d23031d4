package planner

import (
	"strings"
	"unicode"

	"github.com/haasonsaas/conduit/pkg/models"
)

// intentClasses are checked in order; the first class containing any query
// keyword wins.
var intentClasses = []struct {
	intent models.IntentType
	words  map[string]bool
}{
	{models.IntentSearch, map[string]bool{"search": true, "find": true, "lookup": true}},
	{models.IntentCalculation, map[string]bool{"calculate": true, "compute": true, "math": true}},
	{models.IntentCode, map[string]bool{"code": true, "program": true, "script": true}},
	{models.IntentAPI, map[string]bool{"api": true, "request": true, "call": true}},
}

// AnalyzeIntent classifies a query: whitespace tokens longer than two
// characters become lowercase keywords, tokens with an uppercase initial
// are entities, and complexity grows with the keyword count.
func AnalyzeIntent(query string) models.Intent {
	intent := models.Intent{Type: models.IntentGeneral}

	for _, token := range strings.Fields(query) {
		if r := []rune(token); len(r) > 0 && unicode.IsUpper(r[0]) {
			intent.Entities = append(intent.Entities, token)
		}
		word := strings.ToLower(strings.Trim(token, ".,!?;:'\""))
		if len(word) <= 2 {
			continue
		}
		intent.Keywords = append(intent.Keywords, word)
	}

classify:
	for _, class := range intentClasses {
		for _, kw := range intent.Keywords {
			if class.words[kw] {
				intent.Type = class.intent
				break classify
			}
		}
	}

	intent.Complexity = float64(len(intent.Keywords)) / 5
	if intent.Complexity > 1 {
		intent.Complexity = 1
	}
	return intent
}
