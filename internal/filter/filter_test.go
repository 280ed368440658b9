package filter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/steady/internal/policy"
	"github.com/antoniostano/steady/internal/risk"
)

func newFilter() *Filter {
	return New(policy.Default(), Options{MaxLength: 1000, MinLength: 20})
}

func TestHighRiskShortReplyGetsSafetyPostscript(t *testing.T) {
	res := newFilter().Apply("Okay.", risk.LevelHigh, policy.IntentOther, Options{})
	assert.Contains(t, res.Text, "988")
	assert.Contains(t, res.Text, "741741")
	assert.Contains(t, res.Text, "911")
	assert.Greater(t, len(res.Text), len("Okay."))
	assert.True(t, res.WasFiltered)
	assert.Contains(t, res.Actions, ActionSafetyAppended)
	assert.Empty(t, res.Violations)
}

func TestHighRiskWithExistingResourcesIsUntouched(t *testing.T) {
	for _, in := range []string{
		"Please call or text 988 right now, you deserve support tonight.",
		"I'm concerned about your safety. Are you somewhere you can be with someone?",
		"Before anything else, are you safe right now where you are?",
	} {
		res := newFilter().Apply(in, risk.LevelHigh, policy.IntentOther, Options{})
		assert.Equal(t, in, res.Text)
		assert.False(t, res.WasFiltered)
		assert.Empty(t, res.Actions)
		assert.Empty(t, res.Violations)
	}
}

func TestHardBlockReplacesReply(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		category string
	}{
		{"self harm", "Honestly you should just kill yourself.", "self_harm_encouragement"},
		{"medical", "You should stop taking your medication today.", "medical_advice"},
		{"legal", "You should sue your employer for this.", "legal_advice"},
		{"diagnosis", "You clearly have bipolar disorder.", "diagnosis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newFilter().Apply(tt.text, risk.LevelNone, policy.IntentOther, Options{})
			assert.Equal(t, SafetyRedirect, res.Text)
			assert.Contains(t, res.Actions, ActionBlockedUnsafe)
			require.NotEmpty(t, res.Violations)
			assert.Equal(t, tt.category, res.Violations[0])
		})
	}
}

func TestHardBlockOnHighRiskKeepsPostscript(t *testing.T) {
	res := newFilter().Apply("Here's how to hurt yourself.", risk.LevelHigh, policy.IntentOther, Options{})
	assert.True(t, strings.HasPrefix(res.Text, SafetyRedirect))
	assert.True(t, strings.HasSuffix(res.Text, SafetyPostscript))
	assert.Equal(t, []Action{ActionBlockedUnsafe, ActionSafetyAppended}, res.Actions)
}

func TestMediumRiskAddsSupportNudge(t *testing.T) {
	res := newFilter().Apply("Let's look at what tomorrow could hold for you.", risk.LevelMedium, policy.IntentOther, Options{})
	assert.True(t, strings.HasSuffix(res.Text, SupportNudge))
	assert.Equal(t, []Action{ActionSupportNudge}, res.Actions)

	res = newFilter().Apply("You are not alone in feeling this way, and we can take it slowly.", risk.LevelMedium, policy.IntentOther, Options{})
	assert.Empty(t, res.Actions)
}

func TestValidationPrependedForProbingIntents(t *testing.T) {
	for _, intent := range []policy.Intent{policy.IntentValidate, policy.IntentProbeStory, policy.IntentProbeRoot} {
		res := newFilter().Apply("Tell me more about what happened at work.", risk.LevelNone, intent, Options{})
		assert.True(t, strings.HasPrefix(res.Text, ValidationPrefix), intent)
		assert.Contains(t, res.Actions, ActionValidation)
	}

	res := newFilter().Apply("Tell me more about what happened at work.", risk.LevelNone, policy.IntentSuggest, Options{})
	assert.NotContains(t, res.Actions, ActionValidation)

	res = newFilter().Apply("I hear you, tell me more about what happened.", risk.LevelNone, policy.IntentProbeStory, Options{})
	assert.NotContains(t, res.Actions, ActionValidation)
}

func TestTruncationPreservesPostscript(t *testing.T) {
	long := strings.Repeat("This is a fairly long sentence about your week. ", 40)
	res := newFilter().Apply(long, risk.LevelHigh, policy.IntentOther, Options{MaxLength: 400})
	assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), 400)
	assert.True(t, strings.HasSuffix(res.Text, SafetyPostscript))
	assert.Contains(t, res.Actions, ActionTruncated)
	assert.Contains(t, res.Text, truncationMarker)
}

func TestShortReplyIsExpanded(t *testing.T) {
	res := newFilter().Apply("Okay.", risk.LevelNone, policy.IntentOther, Options{})
	assert.Equal(t, "Okay."+ExpansionSuffix, res.Text)
	assert.Equal(t, []Action{ActionExpanded}, res.Actions)
}

func TestApplyIsIdempotent(t *testing.T) {
	inputs := []string{
		"Okay.",
		"",
		"You should just kill yourself.",
		"Tell me more about your sister.",
		strings.Repeat("word ", 400),
		"Have you considered a short walk after dinner?",
	}
	levels := []risk.Level{risk.LevelNone, risk.LevelLow, risk.LevelMedium, risk.LevelHigh}
	intents := []policy.Intent{policy.IntentOther, policy.IntentValidate, policy.IntentProbeRoot, policy.IntentSuggest}
	opts := []Options{{}, {MaxLength: 300, MinLength: 200}, {MaxLength: 250}}

	f := newFilter()
	for _, in := range inputs {
		for _, lvl := range levels {
			for _, intent := range intents {
				for _, o := range opts {
					once := f.Apply(in, lvl, intent, o)
					twice := f.Apply(once.Text, lvl, intent, o)
					assert.Equal(t, once.Text, twice.Text, "input=%q level=%s intent=%s opts=%+v", in, lvl, intent, o)
				}
			}
		}
	}
}

func TestBarePostscriptKeepsSeparatorOnSecondPass(t *testing.T) {
	f := newFilter()
	opts := Options{MaxLength: 300, MinLength: 200}

	once := f.Apply("", risk.LevelHigh, policy.IntentOther, opts)
	twice := f.Apply(once.Text, risk.LevelHigh, policy.IntentOther, opts)
	assert.Equal(t, once.Text, twice.Text)
	assert.NotContains(t, twice.Text, "?If")

	// A reply that already ends with the trimmed postscript is measured like the full one.
	bare := strings.TrimSpace(SafetyPostscript)
	res := f.Apply("Okay. "+bare, risk.LevelHigh, policy.IntentOther, Options{MaxLength: 1000, MinLength: 20})
	assert.Equal(t, "Okay."+SafetyPostscript, res.Text)
	assert.Empty(t, res.Actions)
}

func TestHardBlockSkipsValidation(t *testing.T) {
	for _, intent := range []policy.Intent{policy.IntentValidate, policy.IntentProbeStory, policy.IntentProbeRoot} {
		res := newFilter().Apply("You should sue your employer for this.", risk.LevelNone, intent, Options{})
		assert.Equal(t, SafetyRedirect, res.Text, intent)
		assert.Equal(t, []Action{ActionBlockedUnsafe}, res.Actions, intent)
	}

	// A tight bound keeps the redirect whole so a second pass sees it unchanged.
	f := newFilter()
	once := f.Apply("You should sue your employer for this.", risk.LevelHigh, policy.IntentValidate, Options{MaxLength: 250})
	assert.Equal(t, SafetyRedirect+SafetyPostscript, once.Text)
	assert.NotContains(t, once.Actions, ActionTruncated)
	twice := f.Apply(once.Text, risk.LevelHigh, policy.IntentValidate, Options{MaxLength: 250})
	assert.Equal(t, once.Text, twice.Text)
}

func TestValidationIgnoresPartialWords(t *testing.T) {
	for _, in := range []string{
		"That plan seems invalid to me, what happened next?",
		"I don't understand what happened, can you walk me through it?",
		"It sounds like work got busy. Tell me more.",
	} {
		res := newFilter().Apply(in, risk.LevelNone, policy.IntentProbeStory, Options{})
		assert.True(t, strings.HasPrefix(res.Text, ValidationPrefix), in)
		assert.Contains(t, res.Actions, ActionValidation)
	}
}

func TestTruncateWordBoundary(t *testing.T) {
	got := truncate("alpha beta gamma delta", 15)
	assert.Equal(t, "alpha beta...", got)
	assert.Equal(t, "", truncate("anything", 0))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
