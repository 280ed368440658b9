package coach

import (
	"github.com/antoniostano/steady/internal/policy"
	"github.com/antoniostano/steady/internal/risk"
)

// SafetyCheckReply is served verbatim for every high-risk message.
const SafetyCheckReply = "I'm really concerned about your safety right now, and I'm glad you told me. " +
	"Are you safe at this moment? You deserve support from a person who can help right away: " +
	"call or text 988 to reach the Suicide & Crisis Lifeline, text HOME to 741741 to reach the Crisis Text Line, " +
	"or call 911 if you are in immediate danger. I'm here with you while you reach out."

type CrisisContact struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

var crisisContacts = []CrisisContact{
	{Name: "988 Suicide & Crisis Lifeline", Contact: "Call or text 988"},
	{Name: "Crisis Text Line", Contact: "Text HOME to 741741"},
	{Name: "Emergency services", Contact: "Call 911"},
}

// CrisisContacts returns a copy of the contacts attached to escalations.
func CrisisContacts() []CrisisContact {
	out := make([]CrisisContact, len(crisisContacts))
	copy(out, crisisContacts)
	return out
}

func safetyReply(a risk.Assessment) Reply {
	return Reply{
		Text:           SafetyCheckReply,
		Intent:         policy.IntentEmergency,
		RiskLevel:      risk.LevelHigh,
		Risk:           a,
		Metadata:       Metadata{LexiconVersion: policy.LexiconVersion},
		CrisisContacts: CrisisContacts(),
	}
}
