package policy

import (
	"sort"
	"strings"
)

// Intent labels what an assistant reply is trying to do.
type Intent string

const (
	IntentProbeRoot  Intent = "probe_root"
	IntentProbeStory Intent = "probe_story"
	IntentReframe    Intent = "reframe"
	IntentSuggest    Intent = "suggest"
	IntentSummarize  Intent = "summarize"
	IntentValidate   Intent = "validate"
	IntentClose      Intent = "close"
	IntentEmergency  Intent = "emergency"
	IntentOther      Intent = "other"
)

// NeedsValidation reports whether replies with this intent should open with
// an acknowledgement of the user's feelings.
func (i Intent) NeedsValidation() bool {
	switch i {
	case IntentValidate, IntentProbeStory, IntentProbeRoot:
		return true
	default:
		return false
	}
}

// ClassifyIntent runs the lexicon's keyword cascade over a reply. First rule wins.
func (l *Lexicon) ClassifyIntent(reply string) Intent {
	in := NormalizeText(strings.TrimSpace(reply))
	if in == "" {
		return IntentOther
	}
	for _, rule := range l.IntentRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(in, kw) {
				return rule.Intent
			}
		}
	}
	return IntentOther
}

// ClassifyIntent uses the default lexicon.
func ClassifyIntent(reply string) Intent {
	return defaultLexicon.ClassifyIntent(reply)
}

// Tags returns the sorted topic tags whose keywords appear in text.
func (l *Lexicon) Tags(text string) []string {
	keys := make([]string, 0, len(l.TopicTags))
	for k := range l.TopicTags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, tag := range keys {
		if _, ok := l.TopicTags[tag].FirstMatch(text); ok {
			out = append(out, tag)
		}
	}
	return out
}

// FirstUnsafe returns the first hard-block pattern that matches text.
func (l *Lexicon) FirstUnsafe(text string) (UnsafePattern, bool) {
	for _, p := range l.Unsafe {
		if p.Pattern.MatchString(text) {
			return p, true
		}
	}
	return UnsafePattern{}, false
}

// UnsafeCategories returns the distinct categories of every matching hard-block pattern.
func (l *Lexicon) UnsafeCategories(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range l.Unsafe {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		if p.Pattern.MatchString(text) {
			seen[p.Category] = struct{}{}
			out = append(out, p.Category)
		}
	}
	return out
}

// Insights returns the sorted insight cues found in text.
func (l *Lexicon) Insights(text string) []string {
	keys := make([]string, 0, len(l.InsightCues))
	for k := range l.InsightCues {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, cue := range keys {
		if _, ok := l.InsightCues[cue].FirstMatch(text); ok {
			out = append(out, cue)
		}
	}
	return out
}

// FollowUpQuestion returns the last question sentence in reply, if any.
func (l *Lexicon) FollowUpQuestion(reply string) (string, bool) {
	if l.FollowUp == nil {
		return "", false
	}
	matches := l.FollowUp.FindAllString(reply, -1)
	if len(matches) == 0 {
		return "", false
	}
	return strings.TrimSpace(matches[len(matches)-1]), true
}
