package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhraseSetWordBoundaries(t *testing.T) {
	lex := Default()

	_, ok := lex.HighRisk.FirstMatch("I killed the spider in the kitchen")
	assert.False(t, ok, "spider sentence must not match")

	phrase, ok := lex.HighRisk.FirstMatch("Sometimes I want to KILL   myself")
	require.True(t, ok)
	assert.Equal(t, "kill myself", phrase)

	_, ok = lex.NegativeAffect.FirstMatch("my skills are saddening")
	assert.False(t, ok, "substrings inside words must not match")
}

func TestPhraseSetNormalizesApostrophes(t *testing.T) {
	phrase, ok := Default().MediumRisk.FirstMatch("I can’t go on like this")
	require.True(t, ok)
	assert.Equal(t, "can't go on", phrase)
}

func TestPhraseSetMatchesDistinct(t *testing.T) {
	got := Default().NegativeAffect.Matches("sad, so sad and lonely")
	assert.Equal(t, []string{"sad", "lonely"}, got)
}

func TestClassifyIntentCascade(t *testing.T) {
	cases := []struct {
		reply string
		want  Intent
	}{
		{"That sounds hard. Tell me more about what happened.", IntentProbeStory},
		{"Why do you think that bothered you so much?", IntentProbeRoot},
		{"What if there is another way to look at it?", IntentReframe},
		{"You could try writing it down before bed.", IntentSuggest},
		{"To recap, you've been juggling a lot at work.", IntentSummarize},
		{"That sounds exhausting.", IntentValidate},
		{"Take care, and talk soon.", IntentClose},
		{"Okay.", IntentOther},
		{"", IntentOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyIntent(tc.reply), tc.reply)
	}
}

func TestIntentNeedsValidation(t *testing.T) {
	assert.True(t, IntentValidate.NeedsValidation())
	assert.True(t, IntentProbeStory.NeedsValidation())
	assert.True(t, IntentProbeRoot.NeedsValidation())
	assert.False(t, IntentSuggest.NeedsValidation())
	assert.False(t, IntentOther.NeedsValidation())
}

func TestTags(t *testing.T) {
	got := Default().Tags("My boss keeps piling on deadlines and I can't sleep")
	assert.Equal(t, []string{"health", "stress", "work"}, got)
	assert.Empty(t, Default().Tags("hello"))
}

func TestUnsafeCategories(t *testing.T) {
	lex := Default()
	assert.Equal(t, []string{"medical_advice"}, lex.UnsafeCategories("You should stop taking your meds."))
	assert.Equal(t, []string{"diagnosis"}, lex.UnsafeCategories("It seems you clearly have depression."))
	assert.Equal(t, []string{"legal_advice"}, lex.UnsafeCategories("Honestly you should sue them."))
	assert.Empty(t, lex.UnsafeCategories("It might help to talk with your doctor about your medication."))

	p, ok := lex.FirstUnsafe("you should just hurt yourself")
	require.True(t, ok)
	assert.Equal(t, "self_harm_encouragement", p.Category)
}

func TestInsightsAndFollowUp(t *testing.T) {
	lex := Default()
	assert.Equal(t, []string{"pattern", "realization"}, lex.Insights("I realize this happens whenever my boss calls"))
	assert.Empty(t, lex.Insights("nothing notable here"))

	q, ok := lex.FollowUpQuestion("That sounds heavy. What felt hardest? And how did you sleep?")
	require.True(t, ok)
	assert.Equal(t, "And how did you sleep?", q)

	_, ok = lex.FollowUpQuestion("Thanks for sharing that.")
	assert.False(t, ok)
}
