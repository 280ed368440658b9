package coach

import (
	"fmt"
	"strings"

	"github.com/antoniostano/steady/internal/completion"
	"github.com/antoniostano/steady/internal/experiment"
	"github.com/antoniostano/steady/internal/memory"
)

const persona = `You are Steady, a warm and grounded wellbeing coach.
Listen closely, reflect feelings back in plain language, and ask one open question at a time.
Keep replies to a few short sentences. Never diagnose, prescribe, or give medical or legal advice.
If the person mentions harming themselves, gently ask whether they are safe and point them to crisis resources.`

const gentleDeepGuidance = `This is a gentle deep-dive session. Move slowly from naming the feeling,
to the story around it, to what might sit underneath, before offering any reframe.`

const memoryDigestMaxRunes = 280

func buildRequest(cfg Config, tc TurnContext, message string, memories []memory.Result, sel *experiment.Selection) completion.Request {
	var system strings.Builder
	system.WriteString(persona)
	if tc.SessionType == sessionTypeGentle {
		system.WriteString("\n\n")
		system.WriteString(gentleDeepGuidance)
	}
	if digest := memoryDigest(memories); digest != "" {
		system.WriteString("\n\n")
		system.WriteString(digest)
	}

	history := tc.PreviousMessages
	if len(history) > cfg.HistoryTurns {
		history = history[len(history)-cfg.HistoryTurns:]
	}
	msgs := make([]completion.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, completion.Message{Role: completion.RoleUser, Content: message})

	req := completion.Request{
		System:      system.String(),
		Messages:    msgs,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	if sel != nil {
		req.Model = sel.Version
	}
	return req
}

// memoryDigest renders retrieved sessions as a short bulleted list, most relevant first.
func memoryDigest(memories []memory.Result) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Notes from earlier sessions with this person (use only if relevant):")
	for _, m := range memories {
		note := strings.TrimSpace(m.Summary)
		if note == "" {
			note = strings.TrimSpace(m.Text)
		}
		if note == "" {
			continue
		}
		note = clipRunes(strings.Join(strings.Fields(note), " "), memoryDigestMaxRunes)
		if m.Timestamp.IsZero() {
			fmt.Fprintf(&b, "\n- %s", note)
			continue
		}
		fmt.Fprintf(&b, "\n- (%s) %s", m.Timestamp.Format("2006-01-02"), note)
	}
	return b.String()
}

func clipRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit])) + "..."
}
