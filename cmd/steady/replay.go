package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/antoniostano/steady/internal/protocol"
)

type replayOptions struct {
	baseURL        string
	userID         string
	sessionType    string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type createSessionRequest struct {
	UserID      string `json:"user_id"`
	SessionType string `json:"session_type,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type   string `json:"type"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
	Status string `json:"status,omitempty"`
}

type turnOutcome struct {
	latency time.Duration
	errCode string
}

var defaultUtterances = []string{
	"Work has been piling up and I feel stretched thin.",
	"My manager moved the deadline again and I am frustrated.",
	"I have not been sleeping well this week.",
	"I think I just need a plan for tomorrow.",
}

var (
	replayOpts     replayOptions
	replayTexts    string
	replayDelayMS  int
	replayTimeoutS int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay synthetic turns against a running server over the chat websocket",
	Long: `Creates a session, sends each utterance as a client_message, waits for the
assistant_reply and prints per-turn and percentile round-trip latency.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := finishReplayOptions(replayOpts, replayTexts, replayDelayMS, replayTimeoutS)
		if err != nil {
			return err
		}
		return runReplay(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayOpts.baseURL, "base-url", "http://127.0.0.1:8080", "Steady base URL")
	f.StringVar(&replayOpts.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	f.StringVar(&replayOpts.sessionType, "session-type", "", "session_type for the synthetic session")
	f.IntVar(&replayOpts.turns, "turns", 8, "number of turns to replay")
	f.IntVar(&replayDelayMS, "inter-turn-ms", 150, "delay between turns in milliseconds")
	f.IntVar(&replayTimeoutS, "turn-timeout-s", 45, "timeout waiting for a reply per turn in seconds")
	f.StringVar(&replayTexts, "texts", "", "utterances separated by '|' (optional)")
	f.BoolVar(&replayOpts.verbose, "verbose", true, "print replay progress")
}

func finishReplayOptions(opts replayOptions, textsRaw string, delayMS, timeoutS int) (replayOptions, error) {
	opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
	if opts.baseURL == "" {
		return replayOptions{}, fmt.Errorf("base-url is required")
	}
	if opts.turns <= 0 {
		return replayOptions{}, fmt.Errorf("turns must be > 0")
	}
	opts.interTurnDelay = time.Duration(max(delayMS, 0)) * time.Millisecond
	opts.turnTimeout = time.Duration(max(timeoutS, 1)) * time.Second

	if strings.TrimSpace(textsRaw) == "" {
		opts.texts = append([]string(nil), defaultUtterances...)
		return opts, nil
	}
	for _, part := range strings.Split(textsRaw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			opts.texts = append(opts.texts, t)
		}
	}
	if len(opts.texts) == 0 {
		return replayOptions{}, fmt.Errorf("texts produced no non-empty utterances")
	}
	return opts, nil
}

func runReplay(ctx context.Context, opts replayOptions, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, opts)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, opts.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(opts.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if opts.verbose {
		fmt.Fprintf(out, "replay: session=%s turns=%d\n", sessionID, opts.turns)
	}

	replyCh := make(chan wsEnvelope, 32)
	readErrCh := make(chan error, 1)
	go readLoop(conn, replyCh, readErrCh, opts.verbose)

	latencies := make([]time.Duration, 0, opts.turns)
	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		start := time.Now()
		if err := conn.WriteJSON(protocol.ClientMessage{
			Type:      protocol.TypeClientMessage,
			SessionID: sessionID,
			Text:      text,
		}); err != nil {
			return fmt.Errorf("turn %d send: %w", i+1, err)
		}
		outcome, err := awaitReply(replyCh, readErrCh, opts.turnTimeout, start)
		if err != nil {
			return fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		if outcome.errCode != "" {
			return fmt.Errorf("turn %d failed: %s", i+1, outcome.errCode)
		}
		latencies = append(latencies, outcome.latency)
		if opts.verbose {
			fmt.Fprintf(out, "replay: turn %d/%d latency=%s text=%q\n", i+1, opts.turns, outcome.latency.Round(time.Millisecond), text)
		}
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}

	p50, p95 := latencyPercentiles(latencies)
	fmt.Fprintf(out, "replay: completed turns=%d p50=%s p95=%s\n", len(latencies), p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	return nil
}

func createSession(ctx context.Context, client *http.Client, opts replayOptions) (string, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: opts.userID, SessionType: opts.sessionType})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/sessions/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop forwards the envelopes that end a turn: a reply or an error.
func readLoop(conn *websocket.Conn, replyCh chan<- wsEnvelope, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch protocol.MessageType(env.Type) {
		case protocol.TypeAssistantReply, protocol.TypeErrorEvent:
			if env.Type == string(protocol.TypeErrorEvent) && verbose {
				fmt.Fprintf(os.Stderr, "replay: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
			replyCh <- env
		case protocol.TypeEscalation:
			if verbose {
				fmt.Fprintln(os.Stderr, "replay: session escalated")
			}
		}
	}
}

func awaitReply(replyCh <-chan wsEnvelope, readErrCh <-chan error, timeout time.Duration, start time.Time) (turnOutcome, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-replyCh:
		out := turnOutcome{latency: time.Since(start)}
		if env.Type == string(protocol.TypeErrorEvent) {
			out.errCode = env.Code
		}
		return out, nil
	case err := <-readErrCh:
		return turnOutcome{}, err
	case <-timer.C:
		return turnOutcome{}, fmt.Errorf("timeout after %s", timeout)
	}
}

// latencyPercentiles uses nearest-rank percentiles.
func latencyPercentiles(samples []time.Duration) (p50, p95 time.Duration) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := func(p float64) time.Duration {
		idx := int(p*float64(len(sorted))+0.999999) - 1
		return sorted[min(max(idx, 0), len(sorted)-1)]
	}
	return rank(0.50), rank(0.95)
}
