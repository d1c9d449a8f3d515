// Package suggest computes weighted search suggestions for a live.
package suggest

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
)

// Field weights, highest first.
const (
	WeightTopics  = 10
	WeightSubject = 5
	WeightOutline = 3
	WeightTags    = 3
	WeightSpeaker = 2
)

// Analyzer splits text into candidate tokens.
type Analyzer interface {
	Tokens(text string) []string
}

// Fields holds the text sources for one live.
type Fields struct {
	Topics  string
	Subject string
	Outline string
	Tags    string
	Speaker string
}

// Generate returns the suggestions for one live. Each field contributes only
// tokens no earlier field of the same call produced; the dedup set lives and
// dies with the call.
func Generate(analyzer Analyzer, f Fields) []crawler.Suggestion {
	if analyzer == nil {
		analyzer = DefaultAnalyzer{}
	}
	used := make(map[string]struct{})
	sources := []struct {
		text   string
		weight int
	}{
		{f.Topics, WeightTopics},
		{f.Subject, WeightSubject},
		{f.Outline, WeightOutline},
		{f.Tags, WeightTags},
		{f.Speaker, WeightSpeaker},
	}

	var out []crawler.Suggestion
	for _, src := range sources {
		words := newWords(analyzer, src.text, used)
		if len(words) == 0 {
			continue
		}
		out = append(out, crawler.Suggestion{Input: words, Weight: src.weight})
	}
	return out
}

func newWords(analyzer Analyzer, text string, used map[string]struct{}) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	words := make(map[string]struct{})
	for _, tok := range analyzer.Tokens(text) {
		tok = strings.ToLower(tok)
		if utf8.RuneCountInString(tok) <= 1 {
			continue
		}
		words[tok] = struct{}{}
	}

	fresh := make([]string, 0, len(words))
	for w := range words {
		if _, seen := used[w]; seen {
			continue
		}
		fresh = append(fresh, w)
	}
	for w := range words {
		used[w] = struct{}{}
	}
	sort.Strings(fresh)
	return fresh
}

// DefaultAnalyzer splits on anything that is not a letter or digit. Runs of
// Han characters are emitted whole and as overlapping bigrams.
type DefaultAnalyzer struct{}

// Tokens implements Analyzer.
func (DefaultAnalyzer) Tokens(text string) []string {
	var tokens []string
	for _, run := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens = append(tokens, splitScripts(run)...)
	}
	return tokens
}

// splitScripts separates Han runs from other letters and expands Han runs.
func splitScripts(run string) []string {
	var (
		tokens []string
		buf    []rune
		han    bool
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if han {
			tokens = append(tokens, hanTokens(buf)...)
		} else {
			tokens = append(tokens, string(buf))
		}
		buf = buf[:0]
	}
	for _, r := range run {
		isHan := unicode.Is(unicode.Han, r)
		if len(buf) > 0 && isHan != han {
			flush()
		}
		han = isHan
		buf = append(buf, r)
	}
	flush()
	return tokens
}

func hanTokens(runes []rune) []string {
	if len(runes) <= 2 {
		return []string{string(runes)}
	}
	tokens := []string{string(runes)}
	for i := 0; i+1 < len(runes); i++ {
		tokens = append(tokens, string(runes[i:i+2]))
	}
	return tokens
}
