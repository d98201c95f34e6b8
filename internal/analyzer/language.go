package analyzer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Supported language tags
const (
	LanguageEnglish = "en"
	LanguagePolish  = "pl"
)

// SupportedLanguages lists every language with a knowledge base profile
var SupportedLanguages = []string{LanguageEnglish, LanguagePolish}

const (
	polishDiacritics = "ąćęłńóśźżĄĆĘŁŃÓŚŹŻ"

	// polishWordRatio is the share of Polish function words above which
	// a text without diacritics is still treated as Polish
	polishWordRatio = 0.2
)

var polishFunctionWords = map[string]bool{
	"jest": true, "się": true, "nie": true, "że": true, "jak": true, "ale": true,
	"dla": true, "lub": true, "być": true, "może": true, "kiedy": true, "gdy": true,
	"oraz": true, "czy": true, "przez": true, "bardzo": true, "tylko": true, "jego": true,
}

// DetectLanguage classifies text as Polish or English.
// Text carrying any Polish diacritic is Polish; otherwise it is Polish when more
// than 20% of its whitespace-delimited tokens are Polish function words.
func DetectLanguage(text string) string {
	text = norm.NFC.String(text)
	if strings.ContainsAny(text, polishDiacritics) {
		return LanguagePolish
	}

	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return LanguageEnglish
	}

	polish := 0
	for _, tok := range tokens {
		if polishFunctionWords[strings.TrimFunc(tok, isNotWordRune)] {
			polish++
		}
	}

	if float64(polish)/float64(len(tokens)) > polishWordRatio {
		return LanguagePolish
	}
	return LanguageEnglish
}

func isNotWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
