package filter

import (
	"strings"
	"unicode/utf8"

	"github.com/antoniostano/steady/internal/policy"
	"github.com/antoniostano/steady/internal/risk"
)

// Action records one modification the filter made to a reply.
type Action string

const (
	ActionBlockedUnsafe  Action = "blocked_unsafe_content"
	ActionSafetyAppended Action = "added_safety_postscript"
	ActionSupportNudge   Action = "added_support_nudge"
	ActionValidation     Action = "added_validation"
	ActionTruncated      Action = "truncated"
	ActionExpanded       Action = "expanded"
)

const (
	// SafetyRedirect replaces replies that match a hard-block pattern.
	SafetyRedirect = "I'm not able to help with that, but I care about how you're doing. " +
		"Talking with a licensed professional or someone you trust can really help. " +
		"Would you like to talk about what's been on your mind?"

	SafetyPostscript = "\n\nIf you're thinking about harming yourself, please reach out right now: " +
		"call or text 988 (Suicide & Crisis Lifeline), text HOME to 741741 (Crisis Text Line), " +
		"or call 911 if you're in immediate danger."

	SupportNudge = "\n\nYou don't have to go through this alone. " +
		"If things feel heavier, it can help to reach out to someone you trust."

	ValidationPrefix = "That sounds really difficult. "
	ExpansionSuffix  = " Would you like to tell me more about that?"

	truncationMarker = "..."
)

// Options bound reply length in characters. Zero values use the filter defaults.
type Options struct {
	MaxLength int
	MinLength int
}

type Result struct {
	Text        string   `json:"text"`
	WasFiltered bool     `json:"was_filtered"`
	Actions     []Action `json:"actions"`
	Violations  []string `json:"violations"`
}

// Filter applies the safety and quality rules to generated replies. It holds
// no mutable state and is safe for concurrent use.
type Filter struct {
	lexicon  *policy.Lexicon
	defaults Options
}

func New(lexicon *policy.Lexicon, defaults Options) *Filter {
	if lexicon == nil {
		lexicon = policy.Default()
	}
	if defaults.MaxLength <= 0 {
		defaults.MaxLength = 1000
	}
	if defaults.MinLength < 0 {
		defaults.MinLength = 0
	}
	return &Filter{lexicon: lexicon, defaults: defaults}
}

// Apply runs the rules in order: hard block, high-risk postscript,
// medium-risk nudge, validation, then length bounds. A hard-blocked reply
// keeps the whole redirect even past MaxLength. Applying it twice
// yields the same text as applying it once.
func (f *Filter) Apply(text string, level risk.Level, intent policy.Intent, opts Options) Result {
	if opts.MaxLength <= 0 {
		opts.MaxLength = f.defaults.MaxLength
	}
	if opts.MinLength <= 0 {
		opts.MinLength = f.defaults.MinLength
	}

	res := Result{Actions: []Action{}, Violations: []string{}}
	out := strings.TrimSpace(text)

	// Violations are the boundary categories detected in the generated reply.
	if cats := f.lexicon.UnsafeCategories(out); len(cats) > 0 {
		res.Violations = append(res.Violations, cats...)
		out = SafetyRedirect
		res.Actions = append(res.Actions, ActionBlockedUnsafe)
	}

	hasSafety := policy.ContainsAny(out, f.lexicon.SafetyPhrases)
	switch level {
	case risk.LevelHigh:
		if !hasSafety {
			out += SafetyPostscript
			res.Actions = append(res.Actions, ActionSafetyAppended)
		}
	case risk.LevelMedium:
		if !hasSafety && !policy.ContainsAny(out, f.lexicon.SupportPhrases) {
			out += SupportNudge
			res.Actions = append(res.Actions, ActionSupportNudge)
		}
	}

	// The fixed redirect is never softened with a validation prefix or truncated.
	redirected := strings.HasPrefix(out, SafetyRedirect)
	if !redirected && intent.NeedsValidation() && !policy.ContainsAny(out, f.lexicon.ValidationPhrases) {
		out = ValidationPrefix + out
		res.Actions = append(res.Actions, ActionValidation)
	}

	// Length is measured on the assembled text so a second pass sees the same total.
	body, suffix := splitProtected(out)
	if total := runeLen(join(body, suffix)); total > opts.MaxLength && !redirected {
		body = truncate(body, opts.MaxLength-runeLen(suffix))
		res.Actions = append(res.Actions, ActionTruncated)
	} else if total < opts.MinLength && !strings.Contains(body, strings.TrimSpace(ExpansionSuffix)) {
		body = strings.TrimSpace(body + ExpansionSuffix)
		res.Actions = append(res.Actions, ActionExpanded)
	}
	res.Text = join(body, suffix)
	res.WasFiltered = len(res.Actions) > 0
	return res
}

// splitProtected separates trailing safety text that truncation must keep.
// The suffix always carries its separator, even when the text ends with the
// bare form left by an earlier trim.
func splitProtected(text string) (body, suffix string) {
	for _, s := range []string{SafetyPostscript, SupportNudge} {
		if strings.HasSuffix(text, s) {
			return strings.TrimSuffix(text, s), s
		}
		if bare := strings.TrimSpace(s); strings.HasSuffix(text, bare) {
			return strings.TrimSuffix(text, bare), s
		}
	}
	return text, ""
}

func join(body, suffix string) string {
	return strings.TrimSpace(strings.TrimRight(body, " \n\t") + suffix)
}

// truncate shortens text to at most limit runes, preferring a word boundary.
func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if runeLen(text) <= limit {
		return text
	}
	budget := limit - utf8.RuneCountInString(truncationMarker)
	if budget <= 0 {
		return string([]rune(text)[:limit])
	}
	cut := string([]rune(text)[:budget])
	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}
	cut = strings.TrimRight(cut, " \n\t,;:")
	return cut + truncationMarker
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
