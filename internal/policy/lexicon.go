package policy

import (
	"regexp"
)

// LexiconVersion identifies the phrase lists below. Bump it whenever a list changes
// so audit logs can be tied to the rules that produced them.
const LexiconVersion = "2025.04"

// UnsafePattern is a hard-block rule for generated text.
type UnsafePattern struct {
	Category string
	Pattern  *regexp.Regexp
}

// IntentRule maps keywords to a response intent. Rules are evaluated in order.
type IntentRule struct {
	Intent   Intent
	Keywords []string
}

// Lexicon holds every keyword cascade used by risk assessment, filtering and intent tagging.
type Lexicon struct {
	Version string

	HighRisk       *PhraseSet
	MediumRisk     *PhraseSet
	NegativeAffect *PhraseSet

	Unsafe []UnsafePattern

	SafetyPhrases     []string
	SupportPhrases    []string
	ValidationPhrases []string

	IntentRules []IntentRule
	TopicTags   map[string]*PhraseSet

	// InsightCues spot user statements worth carrying into the session summary.
	InsightCues map[string]*PhraseSet
	// FollowUp matches a question sentence in a reply.
	FollowUp *regexp.Regexp
}

var defaultLexicon = &Lexicon{
	Version: LexiconVersion,
	HighRisk: NewPhraseSet(
		"kill myself", "killing myself", "end my life", "ending my life", "take my own life",
		"take my life", "suicide", "suicidal", "want to die", "wanna die", "better off dead",
		"hurt myself", "harm myself", "self harm", "self-harm", "cut myself", "cutting myself",
		"overdose", "no reason to live", "don't want to be alive", "do not want to be alive",
		"end it all", "not worth living",
	),
	MediumRisk: NewPhraseSet(
		"hopeless", "no way out", "can't go on", "cannot go on", "can't take it anymore",
		"give up on everything", "nothing matters", "no point in anything", "what's the point",
		"worthless", "trapped", "a burden", "no future", "can't do this anymore",
	),
	NegativeAffect: NewPhraseSet(
		"sad", "depressed", "anxious", "lonely", "stressed", "overwhelmed", "upset", "angry",
		"scared", "afraid", "exhausted", "frustrated", "miserable", "empty", "worried",
		"nervous", "hurt", "tired", "ashamed", "guilty", "numb",
	),
	Unsafe: []UnsafePattern{
		{Category: "self_harm_encouragement", Pattern: regexp.MustCompile(`(?i)\byou\s+should\s+(?:just\s+)?(?:kill|hurt|harm|cut)\s+yourself\b`)},
		{Category: "self_harm_encouragement", Pattern: regexp.MustCompile(`(?i)\b(?:go\s+ahead\s+and|just)\s+(?:end\s+it|kill\s+yourself)\b`)},
		{Category: "self_harm_encouragement", Pattern: regexp.MustCompile(`(?i)\bhere'?s\s+how\s+to\s+(?:kill|hurt|harm)\s+yourself\b`)},
		{Category: "self_harm_encouragement", Pattern: regexp.MustCompile(`(?i)\bmethods?\s+(?:of|for)\s+(?:suicide|self[- ]harm)\b`)},
		{Category: "medical_advice", Pattern: regexp.MustCompile(`(?i)\byou\s+should\s+(?:take|stop\s+taking|increase|decrease|double)\s+(?:your\s+)?(?:medication|meds|dose|dosage|pills)\b`)},
		{Category: "medical_advice", Pattern: regexp.MustCompile(`(?i)\b(?:take|try)\s+\d+\s?mg\b`)},
		{Category: "medical_advice", Pattern: regexp.MustCompile(`(?i)\bstop\s+taking\s+your\s+(?:medication|meds|antidepressants)\b`)},
		{Category: "legal_advice", Pattern: regexp.MustCompile(`(?i)\byou\s+should\s+(?:sue|file\s+a\s+lawsuit|press\s+charges)\b`)},
		{Category: "legal_advice", Pattern: regexp.MustCompile(`(?i)\bmy\s+legal\s+advice\b`)},
		{Category: "diagnosis", Pattern: regexp.MustCompile(`(?i)\byou\s+(?:clearly\s+)?(?:have|are\s+suffering\s+from)\s+(?:clinical\s+)?(?:depression|bipolar(?:\s+disorder)?|ptsd|an?\s+anxiety\s+disorder|ocd|adhd|bpd|borderline\s+personality\s+disorder|schizophrenia)\b`)},
		{Category: "diagnosis", Pattern: regexp.MustCompile(`(?i)\bi\s+(?:would\s+)?diagnose\s+you\b`)},
		{Category: "diagnosis", Pattern: regexp.MustCompile(`(?i)\byou\s+are\s+(?:bipolar|schizophrenic|clinically\s+depressed)\b`)},
	},
	SafetyPhrases:     []string{"concerned about your safety", "are you safe", "crisis resources", "988", "741741", "crisis text line", "crisis line"},
	SupportPhrases:    []string{"go through this alone", "not alone", "reach out to someone"},
	ValidationPhrases: []string{"that sounds", "i'm sorry", "that must feel", "that must be", "i understand", "i can understand", "makes sense", "i hear", "that's valid", "feelings are valid", "it's okay"},
	IntentRules: []IntentRule{
		{Intent: IntentClose, Keywords: []string{"take care", "until next time", "goodbye", "talk soon", "see you next", "end our session"}},
		{Intent: IntentSummarize, Keywords: []string{"to summarize", "in summary", "so far we", "to recap", "let's recap", "what i'm hearing overall"}},
		{Intent: IntentProbeRoot, Keywords: []string{"why do you think", "where do you think", "underneath", "what might be behind", "root of", "what led to", "deep down"}},
		{Intent: IntentProbeStory, Keywords: []string{"tell me more", "what happened", "can you share", "walk me through", "describe what", "what was that like"}},
		{Intent: IntentReframe, Keywords: []string{"another way to look", "what if", "perspective", "reframe", "on the other hand", "another angle"}},
		{Intent: IntentSuggest, Keywords: []string{"you could try", "have you considered", "might help", "one option", "i suggest", "it may help to", "consider trying"}},
		{Intent: IntentValidate, Keywords: []string{"that sounds", "understandable", "makes sense", "it's okay to", "that's valid", "feelings are valid", "i hear you"}},
	},
	TopicTags: map[string]*PhraseSet{
		"work":          NewPhraseSet("job", "boss", "work", "career", "coworker", "colleague", "office"),
		"relationships": NewPhraseSet("partner", "relationship", "boyfriend", "girlfriend", "husband", "wife", "breakup", "dating"),
		"family":        NewPhraseSet("mom", "dad", "mother", "father", "parents", "sister", "brother", "family", "kids", "children"),
		"health":        NewPhraseSet("sleep", "health", "sick", "pain", "exercise", "doctor", "insomnia"),
		"stress":        NewPhraseSet("stress", "pressure", "deadline", "deadlines", "overwhelmed", "burnout"),
		"self_esteem":   NewPhraseSet("confidence", "failure", "not good enough", "worthless", "insecure"),
		"grief":         NewPhraseSet("loss", "died", "passed away", "grief", "funeral", "miss them"),
		"friendship":    NewPhraseSet("friend", "friends", "lonely", "isolated"),
	},
	InsightCues: map[string]*PhraseSet{
		"realization": NewPhraseSet("i realize", "i realise", "i just realized", "i never noticed", "now i see", "it makes sense now"),
		"pattern":     NewPhraseSet("every time", "always end up", "keep doing", "same thing again", "happens whenever"),
		"progress":    NewPhraseSet("i managed to", "i was able to", "feel better", "feeling better", "proud of myself", "it worked"),
		"need":        NewPhraseSet("i need", "what i want is", "i wish i could", "i just want"),
	},
	FollowUp: regexp.MustCompile(`[^.!?\n]*[A-Za-z][^.!?\n]*\?`),
}

// Default returns the built-in lexicon. Callers must treat it as read-only.
func Default() *Lexicon {
	return defaultLexicon
}
