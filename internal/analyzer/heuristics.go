package analyzer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Heuristic weights and thresholds
const (
	punctuationWeight = 2.0
	capsWeight        = 1.0
	acronymAllowance  = 5 // up to this many all-caps words read as institutions
	minCapsWordLength = 3
	clickbaitWeight   = 3.0
	miracleCureWeight = 5.0
	doctorsHateWeight = 5.0
	simpleFixWeight   = 3.5
	attributionWeight = 2.0
	sourcedWeight     = 1.5
)

var (
	excessivePunctuation = regexp.MustCompile(`[!?]{2,}`)
	clickbaitNumbers     = regexp.MustCompile(`number \d+|top \d+|#\d+`)

	miracleCure = regexp.MustCompile(`(?i)(cudowny|cudowna|miracle|magical).*(sposób|lek|cure|treatment|method).*(raka|choroby|cancer|disease)`)
	doctorsHate = regexp.MustCompile(`(?i)(lekarze|eksperci|doctors|experts).*(nienawidzą|ukrywają|hate|hiding|don't want|don’t want)`)
	simpleFix   = regexp.MustCompile(`(?i)(jeden|one|single|this one).*(owoc|sposób|trick|food|fruit|method)`)
)

// signal is the text handed to every heuristic, in original and lower case
type signal struct {
	text  string
	lower string
}

type heuristic struct {
	name  string
	apply func(s signal, acc *accumulator)
}

// heuristics run in order; each one is independent and cumulative
var heuristics = []heuristic{
	{"excessive_punctuation", checkPunctuation},
	{"capitalization", checkCapitalization},
	{"clickbait_numbers", checkClickbaitNumbers},
	{"miracle_cure_claim", checkMiracleCure},
	{"conspiracy_doctors_hate", checkDoctorsHate},
	{"oversimplified_solution", checkSimpleFix},
	{"proper_attribution", checkAttribution},
	{"sourced_reporting", checkSourcedReporting},
}

func checkPunctuation(s signal, acc *accumulator) {
	if n := len(excessivePunctuation.FindAllStringIndex(s.text, -1)); n > 0 {
		acc.addFake(punctuationWeight*float64(n), fmt.Sprintf("excessive_punctuation(%d)", n))
	}
}

// checkCapitalization treats a few all-caps words as institutional acronyms
// (WHO, NATO, GUS, NBP) and anything beyond the allowance as shouting
func checkCapitalization(s signal, acc *accumulator) {
	n := countCapsWords(s.text)
	switch {
	case n == 0:
	case n <= acronymAllowance:
		acc.addReal(capsWeight*float64(n), fmt.Sprintf("institutions(%d)", n))
	default:
		acc.addFake(capsWeight*float64(n-acronymAllowance), fmt.Sprintf("excessive_caps(%d)", n))
	}
}

func checkClickbaitNumbers(s signal, acc *accumulator) {
	if n := len(clickbaitNumbers.FindAllStringIndex(s.lower, -1)); n > 0 {
		acc.addFake(clickbaitWeight*float64(n), fmt.Sprintf("clickbait_numbers(%d)", n))
	}
}

func checkMiracleCure(s signal, acc *accumulator) {
	if miracleCure.MatchString(s.text) {
		acc.addFake(miracleCureWeight, "miracle_cure_claim")
	}
}

func checkDoctorsHate(s signal, acc *accumulator) {
	if doctorsHate.MatchString(s.text) {
		acc.addFake(doctorsHateWeight, "conspiracy_doctors_hate")
	}
}

func checkSimpleFix(s signal, acc *accumulator) {
	if simpleFix.MatchString(s.text) {
		acc.addFake(simpleFixWeight, "oversimplified_solution")
	}
}

func checkAttribution(s signal, acc *accumulator) {
	if strings.Contains(s.lower, "according to") &&
		(strings.Contains(s.lower, "said") || strings.Contains(s.lower, "stated")) {
		acc.addReal(attributionWeight, "proper_attribution")
	}
}

func checkSourcedReporting(s signal, acc *accumulator) {
	if (strings.Contains(s.lower, "reported") || strings.Contains(s.lower, "announced")) &&
		strings.Contains(s.lower, "sources") {
		acc.addReal(sourcedWeight, "sourced_reporting")
	}
}

// countCapsWords counts whole words of three or more letters, all upper case
func countCapsWords(text string) int {
	count := 0
	for _, word := range strings.FieldsFunc(text, isNotWordRune) {
		if utf8.RuneCountInString(word) < minCapsWordLength {
			continue
		}
		allUpper := true
		for _, r := range word {
			if !unicode.IsUpper(r) {
				allUpper = false
				break
			}
		}
		if allUpper {
			count++
		}
	}
	return count
}
