package coach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antoniostano/steady/internal/completion"
	"github.com/antoniostano/steady/internal/logging"
	"github.com/antoniostano/steady/internal/policy"
	"github.com/antoniostano/steady/internal/session"
)

const (
	summaryTimeout      = 20 * time.Second
	summaryMaxRunes     = 600
	extractiveQuoteRune = 160
)

const summaryInstruction = `Summarize this coaching conversation for the coach's private notes in two or three sentences.
Capture what the person was dealing with, how they felt, and anything they found helpful.
Do not include names, contact details, or direct quotes.`

// SummaryMethod records how a session summary was produced.
type SummaryMethod string

const (
	SummaryGenerated  SummaryMethod = "generated"
	SummaryExtractive SummaryMethod = "extractive"
)

// Summarizer condenses a finished session. It prefers the completion provider
// and falls back to an extractive summary so ending a session never fails.
type Summarizer struct {
	provider completion.Provider
	lexicon  *policy.Lexicon
	logger   *slog.Logger
}

func NewSummarizer(provider completion.Provider, lexicon *policy.Lexicon, logger *slog.Logger) *Summarizer {
	if lexicon == nil {
		lexicon = policy.Default()
	}
	return &Summarizer{provider: provider, lexicon: lexicon, logger: logging.OrDefault(logger)}
}

func (s *Summarizer) Summarize(ctx context.Context, turns []session.Turn) (string, SummaryMethod) {
	if s.provider != nil && len(turns) > 0 {
		genCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
		defer cancel()
		text, err := s.provider.Complete(genCtx, completion.Request{
			System:      summaryInstruction,
			Messages:    []completion.Message{{Role: completion.RoleUser, Content: Transcript(turns)}},
			MaxTokens:   200,
			Temperature: 0.2,
		})
		if err == nil && strings.TrimSpace(text) != "" {
			return clipRunes(strings.TrimSpace(text), summaryMaxRunes), SummaryGenerated
		}
		s.logger.Warn("summary generation failed, using extractive summary",
			slog.String("reason", "summary_generation_failed"),
			slog.Any("error", err),
		)
	}
	return s.extractive(turns), SummaryExtractive
}

func (s *Summarizer) extractive(turns []session.Turn) string {
	var userTexts []string
	for _, t := range turns {
		if t.Role == session.RoleUser && strings.TrimSpace(t.Text) != "" {
			userTexts = append(userTexts, strings.TrimSpace(t.Text))
		}
	}
	if len(userTexts) == 0 {
		return "Session ended before the person shared anything."
	}

	all := strings.Join(userTexts, " ")
	var b strings.Builder
	fmt.Fprintf(&b, "Session with %d message(s) from the person.", len(userTexts))
	if tags := s.lexicon.Tags(all); len(tags) > 0 {
		fmt.Fprintf(&b, " Topics: %s.", strings.Join(tags, ", "))
	}
	fmt.Fprintf(&b, " Opened with: %q.", clipRunes(userTexts[0], extractiveQuoteRune))
	if len(userTexts) > 1 {
		fmt.Fprintf(&b, " Last said: %q.", clipRunes(userTexts[len(userTexts)-1], extractiveQuoteRune))
	}
	return b.String()
}

// Transcript renders turns as "role: text" lines.
func Transcript(turns []session.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		lines = append(lines, string(t.Role)+": "+text)
	}
	return strings.Join(lines, "\n")
}
