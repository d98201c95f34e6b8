package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func runHeuristics(text string) *accumulator {
	acc := &accumulator{}
	sig := signal{text: text, lower: strings.ToLower(text)}
	for _, h := range heuristics {
		h.apply(sig, acc)
	}
	return acc
}

func TestHeuristics(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		real   float64
		fake   float64
		marker string
	}{
		{"excessive punctuation", "Really?!? No way!!", 0, 4, "excessive_punctuation(2)"},
		{"single exclamation", "Well done!", 0, 0, ""},
		{"clickbait numbers", "Top 10 reasons why number 5 matters", 0, 6, "clickbait_numbers(2)"},
		{"hashtag number", "the #1 reason", 0, 3, "clickbait_numbers(1)"},
		{"miracle cure english", "a miracle cure for cancer", 0, 5, "miracle_cure_claim"},
		{"miracle cure polish", "cudowny lek na raka", 0, 5, "miracle_cure_claim"},
		{"miracle cure without disease", "a miracle cure, they say", 0, 0, ""},
		{"benign miracle method", "Local bakery shares miracle method for fluffier bread", 0, 0, ""},
		{"doctors hate", "doctors hate this", 0, 5, "conspiracy_doctors_hate"},
		{"doctors hate polish", "lekarze ukrywają prawdę", 0, 5, "conspiracy_doctors_hate"},
		{"oversimplified solution", "this one trick works", 0, 3.5, "oversimplified_solution"},
		{"proper attribution", "according to the report, the minister said", 2, 0, "proper_attribution"},
		{"sourced reporting", "sources reported a delay", 1.5, 0, "sourced_reporting"},
		{"acronyms", "NATO and WHO met", 2, 0, "institutions(2)"},
		{"short caps ignored", "EU and UN met", 0, 0, ""},
		{"polish acronym", "ŁÓDŹ i GUS", 2, 0, "institutions(2)"},
		{"allowance boundary", "ONE TWO THREE FOUR FIVE", 5, 0, "institutions(5)"},
		{"shouting", "ONE TWO THREE FOUR FIVE SIX SEVEN", 0, 2, "excessive_caps(7)"},
		{"nothing", "plain text", 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := runHeuristics(tt.text)

			assert.InDelta(t, tt.real, acc.real, 1e-9)
			assert.InDelta(t, tt.fake, acc.fake, 1e-9)
			if tt.marker != "" {
				markers := append(append([]string{}, acc.matchedReal...), acc.matchedFake...)
				assert.Contains(t, markers, tt.marker)
			}
		})
	}
}

func TestCountCapsWords(t *testing.T) {
	assert.Equal(t, 0, countCapsWords(""))
	assert.Equal(t, 1, countCapsWords("SHOCKING news"))
	assert.Equal(t, 2, countCapsWords("BREAKING: FBI raids office"))
	assert.Equal(t, 0, countCapsWords("Mixed CaSe Words"))
	assert.Equal(t, 1, countCapsWords("ZAŻÓŁĆ gęślą"))
}
