package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/steady/internal/coach"
	"github.com/antoniostano/steady/internal/completion"
	"github.com/antoniostano/steady/internal/config"
	"github.com/antoniostano/steady/internal/embedding"
	"github.com/antoniostano/steady/internal/experiment"
	"github.com/antoniostano/steady/internal/logging"
	"github.com/antoniostano/steady/internal/memory"
	"github.com/antoniostano/steady/internal/observability"
	"github.com/antoniostano/steady/internal/protocol"
	"github.com/antoniostano/steady/internal/risk"
	"github.com/antoniostano/steady/internal/session"
)

type stubProvider struct {
	reply string
	err   error
}

func (p stubProvider) Name() string { return "stub" }

func (p stubProvider) Complete(context.Context, completion.Request) (string, error) {
	return p.reply, p.err
}

type fixture struct {
	server *httptest.Server
	store  *memory.Store
}

func newFixture(t *testing.T, provider completion.Provider) fixture {
	t.Helper()
	cfg := config.Config{SessionInactivityTimeout: 2 * time.Minute, MetricsNamespace: "test"}
	logger := logging.Discard()
	metrics := observability.NewMetrics("test", nil)
	store := memory.NewStore(memory.NewInMemoryBackend(), embedding.NewHashEmbedder(32), logger)
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	classifier := risk.NewClassifier(risk.NewRules(nil), logger)
	experiments := experiment.NewService(experiment.NewInMemoryStore(), logger)

	orchestrator := coach.NewOrchestrator(coach.Config{}, coach.Deps{
		Risk:        classifier,
		Memory:      store,
		Provider:    provider,
		Experiments: experiments,
		Metrics:     metrics,
		Logger:      logger,
	})
	lifecycle := coach.NewLifecycle(sessions, orchestrator, store, coach.NewSummarizer(provider, nil, logger), metrics, logger)

	srv := New(cfg, Deps{
		Lifecycle:   lifecycle,
		Risk:        classifier,
		Memory:      store,
		Experiments: experiments,
		Metrics:     metrics,
		Logger:      logger,
		Provider:    "stub",
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return fixture{server: ts, store: store}
}

func (f fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var payload map[string]any
	if res.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(res.Body).Decode(&payload)
	}
	return res, payload
}

func (f fixture) createSession(t *testing.T) string {
	t.Helper()
	res, body := f.do(t, http.MethodPost, "/v1/sessions", map[string]string{"user_id": "user-1"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	id, _ := body["session_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, float64(120000), body["inactivity_ttl_ms"])
	return id
}

func TestSessionTurnAndEnd(t *testing.T) {
	f := newFixture(t, stubProvider{reply: "That sounds heavy. What happened at work?"})
	id := f.createSession(t)

	res, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"text": "my boss is stressing me out"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "That sounds heavy. What happened at work?", body["response"])
	assert.Equal(t, "active", body["session_status"])
	assert.Equal(t, "probe_story", body["intent"])

	res, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/end", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "completed", body["status"])

	res, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"text": "one more"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "session_completed", body["code"])

	res, body = f.do(t, http.MethodGet, "/v1/memory/user-1?q=boss", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	memories, _ := body["memories"].([]any)
	assert.Len(t, memories, 1)
}

func TestSessionEscalationPauses(t *testing.T) {
	f := newFixture(t, stubProvider{reply: "unused"})
	id := f.createSession(t)

	res, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"text": "I want to end my life"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, coach.SafetyCheckReply, body["response"])
	assert.Equal(t, true, body["escalated"])
	assert.Equal(t, "paused", body["session_status"])

	res, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "session_paused", body["code"])

	res, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"text": "I want to end my life"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, coach.SafetyCheckReply, body["response"])
	assert.Equal(t, false, body["escalated"])
	assert.Equal(t, "paused", body["session_status"])

	res, _ = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/resume", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/resume", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "invalid_transition", body["code"])
}

func TestErrorStatusMapping(t *testing.T) {
	f := newFixture(t, stubProvider{err: completion.ErrEmptyCompletion})

	res, _ := f.do(t, http.MethodPost, "/v1/sessions", map[string]string{"user_id": " "})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body := f.do(t, http.MethodGet, "/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", body["code"])

	id := f.createSession(t)
	res, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]string{"text": "rough day"})
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "generation_unavailable", body["code"])
}

func TestRiskAssessEndpoint(t *testing.T) {
	f := newFixture(t, stubProvider{reply: "ok"})

	res, body := f.do(t, http.MethodPost, "/v1/risk/assess", map[string]string{"text": "everything feels hopeless"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "medium", body["risk_level"])

	res, _ = f.do(t, http.MethodPost, "/v1/risk/assess", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestMemoryErasure(t *testing.T) {
	f := newFixture(t, stubProvider{reply: "ok"})
	ctx := context.Background()
	require.NoError(t, f.store.Store(ctx, "user-1", "s1", "talked about sleep", "sleep", nil))
	require.NoError(t, f.store.Store(ctx, "user-1", "s2", "talked about work", "work", nil))

	res, _ := f.do(t, http.MethodDelete, "/v1/memory/user-1/s1", nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, body := f.do(t, http.MethodGet, "/v1/memory/user-1?q=talked&k=5", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, body["memories"], 1)

	res, _ = f.do(t, http.MethodDelete, "/v1/memory/user-1", nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	_, body = f.do(t, http.MethodGet, "/v1/memory/user-1?q=talked", nil)
	assert.Empty(t, body["memories"])

	res, _ = f.do(t, http.MethodGet, "/v1/memory/user-1?q=talked&k=0", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, _ = f.do(t, http.MethodGet, "/v1/memory/user-1", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestExperimentRoutes(t *testing.T) {
	f := newFixture(t, stubProvider{reply: "ok"})

	res, body := f.do(t, http.MethodPost, "/v1/experiments", map[string]any{
		"name": "tone", "model_type": "conversation", "variant_a": "m-a", "variant_b": "m-b",
		"traffic_split": map[string]float64{"a": 0.5, "b": 0.6},
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = f.do(t, http.MethodPost, "/v1/experiments", map[string]any{
		"name": "tone", "model_type": "conversation", "variant_a": "m-a", "variant_b": "m-b",
		"traffic_split": map[string]float64{"a": 1, "b": 0},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	id := body["id"].(string)
	assert.Equal(t, "draft", body["status"])

	res, body = f.do(t, http.MethodPost, "/v1/assignments", map[string]string{"user_id": "u1", "model_type": "conversation"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, false, body["assigned"])

	res, _ = f.do(t, http.MethodPost, "/v1/experiments/"+id+"/start", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, body = f.do(t, http.MethodPost, "/v1/experiments/"+id+"/start", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	res, body = f.do(t, http.MethodPost, "/v1/assignments", map[string]string{"user_id": "u1", "model_type": "conversation"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["assigned"])
	sel := body["selection"].(map[string]any)
	assert.Equal(t, "a", sel["variant"])
	assert.Equal(t, "m-a", sel["version"])

	res, body = f.do(t, http.MethodGet, "/v1/experiments?status=active", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, body["experiments"], 1)

	res, body = f.do(t, http.MethodPost, "/v1/experiments/"+id+"/complete", map[string]string{"winner": "b"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "completed", body["status"])

	res, body = f.do(t, http.MethodGet, "/v1/experiments/"+id+"/report", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, body["variants"], 2)

	res, _ = f.do(t, http.MethodGet, "/v1/experiments/nope", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	f := newFixture(t, stubProvider{reply: "ok"})

	res, body := f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "memory", body["memory_backend"])

	res, body = f.do(t, http.MethodGet, "/v1/perf/latency", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "window_size")

	metricsRes, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsRes.Body.Close()
	assert.Equal(t, http.StatusOK, metricsRes.StatusCode)
}

func TestSessionWebsocketTurn(t *testing.T) {
	f := newFixture(t, stubProvider{reply: "I hear you. What happened?"})
	id := f.createSession(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/sessions/ws?session_id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var state protocol.SessionState
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, protocol.TypeSessionState, state.Type)
	assert.Equal(t, "active", state.Status)

	require.NoError(t, conn.WriteJSON(protocol.ClientMessage{Type: protocol.TypeClientMessage, SessionID: id, Text: "long day"}))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, string(protocol.TypeAssistantReply), reply["type"])
	inner := reply["reply"].(map[string]any)
	assert.Equal(t, "I hear you. What happened?", inner["response"])

	require.NoError(t, conn.WriteJSON(protocol.ClientMessage{Type: protocol.TypeClientMessage, SessionID: id, Text: "I want to kill myself"}))
	var types []string
	for i := 0; i < 3; i++ {
		var env protocol.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		types = append(types, string(env.Type))
	}
	assert.Equal(t, []string{"assistant_reply", "escalation", "session_state"}, types)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"client_control","session_id":"`+id+`","action":"stop"}`)))
	var errEvent protocol.ErrorEvent
	require.NoError(t, conn.ReadJSON(&errEvent))
	assert.Equal(t, "invalid_client_message", errEvent.Code)

	require.NoError(t, conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: id, Action: protocol.ActionEnd}))
	require.NoError(t, conn.ReadJSON(&errEvent))
	assert.Equal(t, "invalid_transition", errEvent.Code, "end is only allowed from active")

	require.NoError(t, conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: id, Action: protocol.ActionResume}))
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, "active", state.Status)
}
