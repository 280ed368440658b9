package coach

import (
	"github.com/antoniostano/steady/internal/completion"
	"github.com/antoniostano/steady/internal/policy"
)

// Progress is the fixed-schema step indicator for gentle_deep sessions.
type Progress struct {
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Stage      string `json:"stage"`
	Percent    int    `json:"percent"`
}

var gentleDeepStages = []string{
	"settling_in",
	"naming_the_feeling",
	"exploring_the_story",
	"finding_the_root",
	"reframing",
	"closing",
}

// turnsPerStage is how many user messages each stage usually takes.
const turnsPerStage = 2

// gentleDeepProgress advances one stage every turnsPerStage user messages.
// Reply intents can pull the indicator forward but never back.
func gentleDeepProgress(previous []completion.Message, intent policy.Intent) *Progress {
	userTurns := 1
	for _, m := range previous {
		if m.Role == completion.RoleUser {
			userTurns++
		}
	}
	total := len(gentleDeepStages)
	step := 1 + (userTurns-1)/turnsPerStage

	switch intent {
	case policy.IntentProbeRoot:
		step = max(step, 4)
	case policy.IntentReframe, policy.IntentSuggest:
		step = max(step, 5)
	case policy.IntentClose, policy.IntentSummarize:
		step = total
	}
	step = min(step, total)

	return &Progress{
		Step:       step,
		TotalSteps: total,
		Stage:      gentleDeepStages[step-1],
		Percent:    step * 100 / total,
	}
}
