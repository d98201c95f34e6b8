// Package verification grades a text for internal contradictions, impossible
// claims, wrong historical dates and manipulative style. Its report is
// advisory and never feeds the classification verdict.
package verification

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/zombar/veracity/internal/models"
)

// Verdicts of a verification report
const (
	VerdictReal      = "REAL"
	VerdictFake      = "FAKE"
	VerdictUncertain = "UNCERTAIN"
)

const (
	fakeThreshold = 0.55
	realThreshold = 0.45

	// Text-only reports with no findings lean REAL with low confidence
	cleanFakeProbability = 0.35
	cleanConfidence      = 0.30
)

var (
	futureYearRe     = regexp.MustCompile(`\b(20\d{2})\b`)
	mentionedYearRe  = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	punctuationRunRe = regexp.MustCompile(`[!?]{3,}`)
	emojiRe          = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}]`)
)

// DemoTexts are sample inputs covering a fabricated claim, a neutral
// announcement, a wrong historical date and a neutral Polish sentence
var DemoTexts = []string{
	"Scientists reveal 200% effective miracle cure that doctors hate!",
	"Government announces new environmental protection research program.",
	"COVID-19 started in 2015 according to mainstream media.",
	"Naukowcy z uniwersytetu ujawniają badania dotyczące ochrony środowiska.",
}

// Verifier runs the compiled rule set. It is immutable and safe for
// concurrent use.
type Verifier struct {
	contradictions    []contradictionSet
	numeric           []compiledRule
	statistical       []compiledRule
	relative          []*regexp.Regexp
	relativeWeight    float64
	futureYearWeight  float64
	claims            []claim
	claimSet          phraseSet
	history           []historyCheck
	consistencyLevels []Level
	factLevels        []Level
	emotional         phraseSet
	fear              phraseSet

	now    func() time.Time
	tracer trace.Tracer
}

var defaultVerifier = sync.OnceValues(func() (*Verifier, error) {
	rules, err := ParseRules(embeddedRules)
	if err != nil {
		return nil, err
	}
	return New(rules)
})

// Default returns a Verifier over the rules embedded in the binary
func Default() (*Verifier, error) {
	return defaultVerifier()
}

// New compiles rules into a Verifier
func New(rules *Rules) (*Verifier, error) {
	v := &Verifier{
		relativeWeight:   rules.Temporal.RelativeWeight,
		futureYearWeight: rules.Temporal.FutureYearWeight,
		now:              time.Now,
		tracer:           otel.Tracer("veracity/verification"),
	}

	for i, c := range rules.Contradictions {
		pos, err := newPhraseSet(c.Positive)
		if err != nil {
			return nil, fmt.Errorf("contradiction %d: %w", i, err)
		}
		neg, err := newPhraseSet(c.Negative)
		if err != nil {
			return nil, fmt.Errorf("contradiction %d: %w", i, err)
		}
		if pos.matcher == nil || neg.matcher == nil {
			return nil, fmt.Errorf("contradiction %d needs words on both sides", i)
		}
		v.contradictions = append(v.contradictions, contradictionSet{
			positive: pos.matcher,
			negative: neg.matcher,
			label:    pos.phrases[0] + " vs " + neg.phrases[0],
			weight:   c.Weight,
		})
	}

	var err error
	if v.numeric, err = compileRegexRules(rules.Numeric); err != nil {
		return nil, fmt.Errorf("numeric: %w", err)
	}
	if v.statistical, err = compileRegexRules(rules.Statistical); err != nil {
		return nil, fmt.Errorf("statistical: %w", err)
	}
	for _, pattern := range rules.Temporal.Relative {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("temporal: %w", err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("temporal pattern %q has no year group", pattern)
		}
		v.relative = append(v.relative, re)
	}

	var phrases []string
	for _, g := range rules.Claims {
		if g.Label == "" {
			return nil, fmt.Errorf("claim group has no label")
		}
		for _, p := range g.Phrases {
			v.claims = append(v.claims, claim{label: g.Label, phrase: fold(p), weight: g.Weight})
			phrases = append(phrases, p)
		}
	}
	if v.claimSet, err = newPhraseSet(phrases); err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}

	for _, f := range rules.History {
		if f.EndYear < f.StartYear {
			return nil, fmt.Errorf("history %s: end year before start year", f.Event)
		}
		re, err := wordPattern(f.Keywords)
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", f.Event, err)
		}
		v.history = append(v.history, historyCheck{fact: f, re: re})
	}

	if err := validateLevels(rules.ConsistencyLevels); err != nil {
		return nil, fmt.Errorf("consistency levels: %w", err)
	}
	if err := validateLevels(rules.FactLevels); err != nil {
		return nil, fmt.Errorf("fact levels: %w", err)
	}
	v.consistencyLevels = rules.ConsistencyLevels
	v.factLevels = rules.FactLevels

	if v.emotional, err = newPhraseSet(rules.EmotionalWords); err != nil {
		return nil, fmt.Errorf("emotional words: %w", err)
	}
	if v.fear, err = newPhraseSet(rules.FearWords); err != nil {
		return nil, fmt.Errorf("fear words: %w", err)
	}
	return v, nil
}

// WithClock returns a copy of v that reads the current year from now
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	c := *v
	c.now = now
	return &c
}

// Verify grades text. modelFake is the model's fake probability when one
// is available; without it the report relies on the rules alone.
func (v *Verifier) Verify(ctx context.Context, text string, modelFake *float64) models.VerificationReport {
	_, span := v.tracer.Start(ctx, "verification.verify")
	defer span.End()

	text = norm.NFC.String(text)
	lower := fold(text)

	consistency := v.consistency(text, lower)
	facts := v.factCheck(text, lower)
	emotional := v.emotionalLanguage(lower)
	style := styleMarkers(text)

	score := consistency.TotalScore + facts.TotalScore + emotional.Score + style.Score
	impact := consistency.ConfidenceImpact * facts.ConfidenceImpact

	issues := make([]string, 0, len(consistency.Issues)+len(facts.Issues)+len(emotional.Issues)+len(style.Issues))
	issues = append(issues, consistency.Issues...)
	issues = append(issues, facts.Issues...)
	issues = append(issues, emotional.Issues...)
	issues = append(issues, style.Issues...)

	fake, confidence := adjust(score, impact, len(issues), modelFake)

	verdict := VerdictUncertain
	switch {
	case fake > fakeThreshold:
		verdict = VerdictFake
	case fake < realThreshold:
		verdict = VerdictReal
	}

	span.SetAttributes(
		attribute.String("verification.verdict", verdict),
		attribute.Float64("verification.score", score),
		attribute.Int("verification.issues", len(issues)),
		attribute.Bool("verification.with_model", modelFake != nil),
	)

	return models.VerificationReport{
		Verdict:          verdict,
		FakeProbability:  round(fake, 4),
		Confidence:       round(confidence, 4),
		Score:            round(score, 2),
		ConfidenceImpact: round(impact, 4),
		Consistency:      consistency,
		FactCheck:        facts,
		Emotional:        emotional,
		Style:            style,
		Issues:           issues,
	}
}

// adjust turns the verification score into a fake probability, scaling
// the model's estimate when there is one
func adjust(score, impact float64, issues int, modelFake *float64) (fake, confidence float64) {
	if modelFake != nil {
		fake = clamp(*modelFake) * impact
		switch {
		case score < -5:
			fake = math.Min(1, fake+math.Abs(score)*0.08)
		case score < -3:
			fake = math.Min(1, fake+math.Abs(score)*0.06)
		case score > 2:
			fake = math.Max(0, fake-math.Abs(score)*0.05)
		}
		return fake, math.Abs(fake-0.5) * 2
	}

	if score >= 0 && issues == 0 {
		return cleanFakeProbability, cleanConfidence
	}
	fake = clamp(0.5 - score*0.08)
	return fake, math.Abs(fake-0.5) * 2
}

func (v *Verifier) consistency(text, lower string) models.ConsistencyReport {
	issues := []string{}

	var contradiction float64
	for _, c := range v.contradictions {
		if len(c.positive.MatchThreadSafe([]byte(lower))) > 0 && len(c.negative.MatchThreadSafe([]byte(lower))) > 0 {
			contradiction += c.weight
			issues = append(issues, "Contradiction detected: "+c.label)
		}
	}

	var numerical float64
	for _, r := range v.numeric {
		for _, m := range r.re.FindAllString(text, -1) {
			numerical += r.weight
			issues = append(issues, r.name+": "+m)
		}
	}
	for _, r := range v.statistical {
		if r.re.MatchString(text) {
			numerical += r.weight
			issues = append(issues, "Statistical red flag: "+r.name)
		}
	}

	var temporal float64
	year := v.now().Year()
	for _, re := range v.relative {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		referenced, err := strconv.Atoi(m[len(m)-1])
		if err != nil {
			continue
		}
		if abs(referenced-year) > 1 {
			temporal += v.relativeWeight
			issues = append(issues, "Temporal inconsistency: "+m[0])
		}
	}
	for _, m := range futureYearRe.FindAllString(text, -1) {
		if y, _ := strconv.Atoi(m); y > year+1 {
			temporal += v.futureYearWeight
			issues = append(issues, "Suspicious future date: "+m)
		}
	}

	total := round(contradiction+numerical+temporal, 2)
	level := grade(v.consistencyLevels, total)
	return models.ConsistencyReport{
		TotalScore:       total,
		Level:            level.Level,
		ConfidenceImpact: level.Impact,
		Issues:           issues,
		Breakdown: models.ConsistencyBreakdown{
			Contradiction: round(contradiction, 2),
			Numerical:     round(numerical, 2),
			Temporal:      round(temporal, 2),
		},
	}
}

func (v *Verifier) factCheck(text, lower string) models.FactCheckReport {
	issues := []string{}

	var claims float64
	hits := v.claimSet.hits(lower)
	slices.Sort(hits)
	for _, i := range hits {
		c := v.claims[i]
		claims += c.weight
		issues = append(issues, c.label+": "+c.phrase)
	}

	var years []int
	for _, m := range mentionedYearRe.FindAllString(text, -1) {
		y, _ := strconv.Atoi(m)
		years = append(years, y)
	}

	var historical float64
	for _, h := range v.history {
		if !h.re.MatchString(lower) {
			continue
		}
		inRange := slices.ContainsFunc(years, func(y int) bool {
			return y >= h.fact.StartYear && y <= h.fact.EndYear
		})
		switch {
		case inRange:
			historical += 2
		case len(years) > 0:
			historical -= 4
			what := "date range"
			if h.fact.StartYear == h.fact.EndYear {
				what = "year"
			}
			issues = append(issues, fmt.Sprintf("Historical inaccuracy: wrong %s for %s", what, h.fact.Event))
		}
	}

	total := round(claims+historical, 2)
	level := grade(v.factLevels, total)
	return models.FactCheckReport{
		TotalScore:       total,
		Level:            level.Level,
		ConfidenceImpact: level.Impact,
		Issues:           issues,
		Breakdown: models.FactCheckBreakdown{
			ImpossibleClaims:   round(claims, 2),
			HistoricalAccuracy: round(historical, 2),
		},
	}
}

func (v *Verifier) emotionalLanguage(lower string) models.VerificationSection {
	s := models.VerificationSection{Issues: []string{}}

	switch n := len(v.emotional.hits(lower)); {
	case n >= 3:
		s.Score -= 2
		s.Issues = append(s.Issues, fmt.Sprintf("High emotional language (%d emotional words)", n))
	case n >= 2:
		s.Score -= 1
		s.Issues = append(s.Issues, fmt.Sprintf("Moderate emotional language (%d emotional words)", n))
	}

	if n := len(v.fear.hits(lower)); n >= 2 {
		s.Score -= 1.5
		s.Issues = append(s.Issues, fmt.Sprintf("Fear-mongering language (%d fear words)", n))
	}
	return s
}

func styleMarkers(text string) models.VerificationSection {
	s := models.VerificationSection{Issues: []string{}}

	caps := 0
	for _, w := range strings.Fields(text) {
		if utf8.RuneCountInString(w) > 2 && isUpperWord(w) {
			caps++
		}
	}
	switch {
	case caps >= 3:
		s.Score -= 2
		s.Issues = append(s.Issues, fmt.Sprintf("Excessive ALL CAPS usage (%d words)", caps))
	case caps >= 2:
		s.Score -= 1
		s.Issues = append(s.Issues, fmt.Sprintf("Multiple ALL CAPS words (%d words)", caps))
	}

	switch n := strings.Count(text, "!"); {
	case n >= 5:
		s.Score -= 2
		s.Issues = append(s.Issues, fmt.Sprintf("Excessive exclamation marks (%d)", n))
	case n >= 3:
		s.Score -= 1
		s.Issues = append(s.Issues, fmt.Sprintf("Multiple exclamation marks (%d)", n))
	}

	if punctuationRunRe.MatchString(text) {
		s.Score -= 1.5
		s.Issues = append(s.Issues, "Multiple punctuation marks in sequence (!!!, ???)")
	}

	if n := len(emojiRe.FindAllStringIndex(text, -1)); n >= 5 {
		s.Score -= 1
		s.Issues = append(s.Issues, fmt.Sprintf("Excessive emoji usage (%d emojis)", n))
	}
	return s
}

// isUpperWord reports whether w has a cased letter and no lower-case one
func isUpperWord(w string) bool {
	cased := false
	for _, r := range w {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

func clamp(p float64) float64 {
	if math.IsNaN(p) {
		return 0.5
	}
	return math.Max(0, math.Min(1, p))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
