package verification

import (
	_ "embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// Contradiction fires when a word from each side occurs in the text
type Contradiction struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
	Weight   float64  `yaml:"weight"`
}

// RegexRule is a named, case-insensitive pattern with a score weight
type RegexRule struct {
	Name    string  `yaml:"name"`
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

// TemporalRules check relative dates against the current year
type TemporalRules struct {
	Relative         []string `yaml:"relative"`
	RelativeWeight   float64  `yaml:"relative_weight"`
	FutureYearWeight float64  `yaml:"future_year_weight"`
}

// ClaimGroup is a list of known false or manipulative phrases
type ClaimGroup struct {
	Label   string   `yaml:"label"`
	Weight  float64  `yaml:"weight"`
	Phrases []string `yaml:"phrases"`
}

// HistoricalFact dates an event mentioned by any of its keywords
type HistoricalFact struct {
	Event     string   `yaml:"event"`
	StartYear int      `yaml:"start_year"`
	EndYear   int      `yaml:"end_year"`
	Keywords  []string `yaml:"keywords"`
}

// Level maps scores at or above MinScore to a grade. A nil MinScore
// catches everything below the previous band.
type Level struct {
	Level    string   `yaml:"level"`
	MinScore *float64 `yaml:"min_score"`
	Impact   float64  `yaml:"impact"`
}

// Rules is the data behind every verification check
type Rules struct {
	Contradictions    []Contradiction  `yaml:"contradictions"`
	Numeric           []RegexRule      `yaml:"numeric"`
	Statistical       []RegexRule      `yaml:"statistical"`
	Temporal          TemporalRules    `yaml:"temporal"`
	Claims            []ClaimGroup     `yaml:"claims"`
	ConsistencyLevels []Level          `yaml:"consistency_levels"`
	FactLevels        []Level          `yaml:"fact_levels"`
	History           []HistoricalFact `yaml:"history"`
	EmotionalWords    []string         `yaml:"emotional_words"`
	FearWords         []string         `yaml:"fear_words"`
}

// ParseRules decodes a rules document
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse verification rules: %w", err)
	}
	return &r, nil
}

// LoadRules reads and decodes the named rules file from fsys
func LoadRules(fsys fs.FS, name string) (*Rules, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read verification rules: %w", err)
	}
	return ParseRules(data)
}

type compiledRule struct {
	name   string
	re     *regexp.Regexp
	weight float64
}

type contradictionSet struct {
	positive, negative *ahocorasick.Matcher
	label              string
	weight             float64
}

type claim struct {
	label  string
	phrase string
	weight float64
}

type historyCheck struct {
	fact HistoricalFact
	re   *regexp.Regexp
}

// phraseSet is an automaton over folded phrases; hits are table indices
type phraseSet struct {
	phrases []string
	matcher *ahocorasick.Matcher
}

func newPhraseSet(phrases []string) (phraseSet, error) {
	folded := make([]string, 0, len(phrases))
	seen := make(map[string]bool, len(phrases))
	for _, p := range phrases {
		p = fold(p)
		if p == "" {
			return phraseSet{}, fmt.Errorf("empty phrase")
		}
		if seen[p] {
			return phraseSet{}, fmt.Errorf("phrase %q is duplicated", p)
		}
		seen[p] = true
		folded = append(folded, p)
	}
	if len(folded) == 0 {
		return phraseSet{}, nil
	}
	return phraseSet{phrases: folded, matcher: ahocorasick.NewStringMatcher(folded)}, nil
}

// hits returns the distinct phrase indices found in lower, unordered
func (s phraseSet) hits(lower string) []int {
	if s.matcher == nil {
		return nil
	}
	return s.matcher.MatchThreadSafe([]byte(lower))
}

func fold(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

func compileRegexRules(rules []RegexRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %q has no name", r.Pattern)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		out = append(out, compiledRule{name: r.Name, re: re, weight: r.Weight})
	}
	return out, nil
}

func validateLevels(levels []Level) error {
	if len(levels) == 0 {
		return fmt.Errorf("no levels defined")
	}
	for i, l := range levels {
		last := i == len(levels)-1
		switch {
		case l.Level == "":
			return fmt.Errorf("level %d has no name", i)
		case last && l.MinScore != nil:
			return fmt.Errorf("last level %s must not have a min_score", l.Level)
		case !last && l.MinScore == nil:
			return fmt.Errorf("level %s needs a min_score", l.Level)
		case i > 0 && !last && *l.MinScore >= *levels[i-1].MinScore:
			return fmt.Errorf("level %s is out of order", l.Level)
		}
	}
	return nil
}

// grade returns the first band whose floor score reaches
func grade(levels []Level, score float64) Level {
	for _, l := range levels {
		if l.MinScore == nil || score >= *l.MinScore {
			return l
		}
	}
	return levels[len(levels)-1]
}

// wordPattern matches any keyword as a whole word, case-insensitively
func wordPattern(keywords []string) (*regexp.Regexp, error) {
	if len(keywords) == 0 {
		return nil, fmt.Errorf("no keywords")
	}
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(fold(kw))
	}
	return regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}
