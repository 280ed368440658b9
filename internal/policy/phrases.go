package policy

import (
	"regexp"
	"strings"
)

// PhraseSet matches whole phrases case-insensitively on word boundaries, so
// "kill myself" matches "I want to kill myself" but "kill" never matches "skill".
type PhraseSet struct {
	phrases  []string
	patterns []*regexp.Regexp
}

func NewPhraseSet(phrases ...string) *PhraseSet {
	set := &PhraseSet{
		phrases:  make([]string, 0, len(phrases)),
		patterns: make([]*regexp.Regexp, 0, len(phrases)),
	}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		set.phrases = append(set.phrases, p)
		set.patterns = append(set.patterns, compilePhrase(p))
	}
	return set
}

func compilePhrase(phrase string) *regexp.Regexp {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
}

// FirstMatch returns the first phrase, in list order, found in text.
func (s *PhraseSet) FirstMatch(text string) (string, bool) {
	if s == nil {
		return "", false
	}
	text = NormalizeText(text)
	for i, re := range s.patterns {
		if re.MatchString(text) {
			return s.phrases[i], true
		}
	}
	return "", false
}

// Matches returns every distinct phrase found in text, in list order.
func (s *PhraseSet) Matches(text string) []string {
	if s == nil {
		return nil
	}
	text = NormalizeText(text)
	var out []string
	for i, re := range s.patterns {
		if re.MatchString(text) {
			out = append(out, s.phrases[i])
		}
	}
	return out
}

func (s *PhraseSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.phrases)
}

var apostropheReplacer = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

// NormalizeText lowercases text and folds typographic apostrophes.
func NormalizeText(text string) string {
	return strings.ToLower(apostropheReplacer.Replace(text))
}

// ContainsAny reports whether text contains any of the substrings, ignoring case.
func ContainsAny(text string, subs []string) bool {
	in := NormalizeText(text)
	for _, s := range subs {
		if s != "" && strings.Contains(in, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
