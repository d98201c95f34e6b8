package analyzer

import (
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"

	"github.com/cloudflare/ahocorasick"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/zombar/veracity/internal/models"
)

//go:embed kb/*.yaml
var embeddedKB embed.FS

const fallbackFile = "fallback.yaml"

// Pattern is a weighted, case-insensitive substring trigger
type Pattern struct {
	Text   string  `yaml:"text"`
	Weight float64 `yaml:"weight"`
}

// Profile holds the real and fake pattern tables of one language
type Profile struct {
	Language string           `yaml:"language"`
	Info     models.ModelInfo `yaml:"info"`
	Real     []Pattern        `yaml:"real"`
	Fake     []Pattern        `yaml:"fake"`

	realMatcher *ahocorasick.Matcher
	fakeMatcher *ahocorasick.Matcher
}

// KnowledgeBase is the immutable set of language profiles plus the
// conspiracy keyword list consulted by the zero-score fallback
type KnowledgeBase struct {
	profiles          map[string]*Profile
	conspiracy        []string
	conspiracyMatcher *ahocorasick.Matcher
}

type fallbackTable struct {
	ConspiracyKeywords []string `yaml:"conspiracy_keywords"`
}

var defaultKB = sync.OnceValues(func() (*KnowledgeBase, error) {
	sub, err := fs.Sub(embeddedKB, "kb")
	if err != nil {
		return nil, err
	}
	return LoadKnowledgeBase(sub)
})

// DefaultKnowledgeBase returns the knowledge base embedded in the binary
func DefaultKnowledgeBase() (*KnowledgeBase, error) {
	return defaultKB()
}

// LoadKnowledgeBase reads one <lang>.yaml per supported language and
// fallback.yaml from fsys
func LoadKnowledgeBase(fsys fs.FS) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{profiles: make(map[string]*Profile, len(SupportedLanguages))}

	for _, lang := range SupportedLanguages {
		data, err := fs.ReadFile(fsys, lang+".yaml")
		if err != nil {
			return nil, fmt.Errorf("failed to read %s profile: %w", lang, err)
		}

		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse %s profile: %w", lang, err)
		}
		if p.Language != lang {
			return nil, fmt.Errorf("profile %s.yaml declares language %q", lang, p.Language)
		}
		if p.Real, err = normalizePatterns(p.Real); err != nil {
			return nil, fmt.Errorf("invalid real patterns for %s: %w", lang, err)
		}
		if p.Fake, err = normalizePatterns(p.Fake); err != nil {
			return nil, fmt.Errorf("invalid fake patterns for %s: %w", lang, err)
		}
		p.realMatcher = newMatcher(p.Real)
		p.fakeMatcher = newMatcher(p.Fake)
		p.Info.Patterns = fmt.Sprintf("%d total (%d real + %d fake)", len(p.Real)+len(p.Fake), len(p.Real), len(p.Fake))

		kb.profiles[lang] = &p
	}

	data, err := fs.ReadFile(fsys, fallbackFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback keywords: %w", err)
	}
	var fb fallbackTable
	if err := yaml.Unmarshal(data, &fb); err != nil {
		return nil, fmt.Errorf("failed to parse fallback keywords: %w", err)
	}
	for _, kw := range fb.ConspiracyKeywords {
		if kw = normalizeForMatch(kw); kw != "" {
			kb.conspiracy = append(kb.conspiracy, kw)
		}
	}
	if len(kb.conspiracy) > 0 {
		kb.conspiracyMatcher = ahocorasick.NewStringMatcher(kb.conspiracy)
	}

	return kb, nil
}

// normalizePatterns folds every pattern and rejects empty, duplicate and
// non-positive entries. Duplicates would share one matcher index.
func normalizePatterns(patterns []Pattern) ([]Pattern, error) {
	out := make([]Pattern, 0, len(patterns))
	seen := make(map[string]bool, len(patterns))
	for i, p := range patterns {
		text := normalizeForMatch(p.Text)
		if text == "" {
			return nil, fmt.Errorf("pattern %d is empty", i)
		}
		if seen[text] {
			return nil, fmt.Errorf("pattern %q is duplicated", text)
		}
		seen[text] = true
		if p.Weight <= 0 {
			return nil, fmt.Errorf("pattern %q has non-positive weight %v", text, p.Weight)
		}
		out = append(out, Pattern{Text: text, Weight: p.Weight})
	}
	return out, nil
}

// normalizeForMatch folds text into the form every lookup runs against
func normalizeForMatch(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

// Profile returns the profile for lang, falling back to English
func (kb *KnowledgeBase) Profile(lang string) *Profile {
	if p, ok := kb.profiles[lang]; ok {
		return p
	}
	return kb.profiles[LanguageEnglish]
}

// Languages returns the languages with a loaded profile, sorted
func (kb *KnowledgeBase) Languages() []string {
	langs := make([]string, 0, len(kb.profiles))
	for lang := range kb.profiles {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}

// ConspiracyKeywords returns a copy of the zero-score fallback keyword list
func (kb *KnowledgeBase) ConspiracyKeywords() []string {
	return slices.Clone(kb.conspiracy)
}

// newMatcher builds one automaton over the pattern texts; hit indices are
// positions in patterns. Empty tables get no matcher.
func newMatcher(patterns []Pattern) *ahocorasick.Matcher {
	if len(patterns) == 0 {
		return nil
	}
	dict := make([]string, len(patterns))
	for i, p := range patterns {
		dict[i] = p.Text
	}
	return ahocorasick.NewStringMatcher(dict)
}

// matchIndices returns the distinct table indices found in lower, ascending
func matchIndices(m *ahocorasick.Matcher, lower string) []int {
	if m == nil {
		return nil
	}
	hits := m.MatchThreadSafe([]byte(lower))
	slices.Sort(hits)
	return hits
}

// score adds every matching pattern of both tables once, in table order
func (p *Profile) score(lower string, acc *accumulator) {
	for _, i := range matchIndices(p.realMatcher, lower) {
		acc.addReal(p.Real[i].Weight, p.Real[i].Text)
	}
	for _, i := range matchIndices(p.fakeMatcher, lower) {
		acc.addFake(p.Fake[i].Weight, p.Fake[i].Text)
	}
}

func (kb *KnowledgeBase) hasConspiracyKeyword(lower string) bool {
	return len(matchIndices(kb.conspiracyMatcher, lower)) > 0
}
