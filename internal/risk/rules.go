package risk

import (
	"strings"

	"github.com/antoniostano/steady/internal/policy"
)

// Rules is the deterministic phrase cascade. It never fails.
type Rules struct {
	lexicon *policy.Lexicon
}

func NewRules(lexicon *policy.Lexicon) *Rules {
	if lexicon == nil {
		lexicon = policy.Default()
	}
	return &Rules{lexicon: lexicon}
}

// Assess evaluates high phrases, then medium phrases, then negative-affect word
// counts. The first tier that matches decides the result.
func (r *Rules) Assess(text string) Assessment {
	if strings.TrimSpace(text) == "" {
		return safeAssessment()
	}

	if phrase, ok := r.lexicon.HighRisk.FirstMatch(text); ok {
		return ruleAssessment(LevelHigh, 0.95, phrase)
	}
	if phrase, ok := r.lexicon.MediumRisk.FirstMatch(text); ok {
		return ruleAssessment(LevelMedium, 0.75, phrase)
	}
	if words := r.lexicon.NegativeAffect.Matches(text); len(words) >= 2 {
		return ruleAssessment(LevelLow, 0.6, strings.Join(words, ","))
	}
	return safeAssessment()
}

func ruleAssessment(level Level, confidence float64, matched string) Assessment {
	return Assessment{
		Level:      level,
		Confidence: confidence,
		Category:   categoryFor(level),
		Urgency:    urgencyFor(level),
		Method:     MethodRuleBased,
		Matched:    matched,
	}
}

func safeAssessment() Assessment {
	return Assessment{
		Level:      LevelNone,
		Confidence: 0.9,
		Category:   categoryFor(LevelNone),
		Urgency:    UrgencyNone,
		Method:     MethodRuleBased,
	}
}
