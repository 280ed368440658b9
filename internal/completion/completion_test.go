package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/steady/internal/reliability"
)

type scriptedProvider struct {
	name  string
	errs  []error
	text  string
	calls atomic.Int32
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(context.Context, Request) (string, error) {
	n := int(p.calls.Add(1)) - 1
	if n < len(p.errs) && p.errs[n] != nil {
		return "", p.errs[n]
	}
	return p.text, nil
}

func userRequest(text string) Request {
	return Request{Messages: []Message{{Role: RoleUser, Content: text}}}
}

func TestNewProviderAutoWithoutCredentialsIsUnconfigured(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Mode: "auto"})
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrUnconfigured)

	_, err = NewProvider(context.Background(), Config{Mode: "none"})
	assert.ErrorIs(t, err, ErrUnconfigured)
}

func TestNewProviderRejectsUnknownMode(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Mode: "llama"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnconfigured)
}

func TestNewProviderHTTPModeRequiresURL(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Mode: "http"})
	assert.ErrorIs(t, err, ErrUnconfigured)
}

func TestMockProvider(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Mode: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())

	text, err := p.Complete(context.Background(), userRequest("work has been rough."))
	require.NoError(t, err)
	assert.Contains(t, text, "work has been rough")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Complete(ctx, userRequest("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallbackProviderUsesFallback(t *testing.T) {
	p := NewFallbackProvider(
		&scriptedProvider{name: "a", errs: []error{errors.New("boom")}},
		&scriptedProvider{name: "b", text: "fallback"},
	)
	text, err := p.Complete(context.Background(), userRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, "fallback", text)
	assert.Equal(t, "a>b", p.Name())
}

func TestFallbackProviderSkipsFallbackOnCanceledContext(t *testing.T) {
	fb := &scriptedProvider{name: "b", text: "fallback"}
	p := NewFallbackProvider(&scriptedProvider{name: "a", errs: []error{context.Canceled}}, fb)
	_, err := p.Complete(context.Background(), userRequest("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fb.calls.Load())
}

func TestResilientProviderRetriesRetryableErrors(t *testing.T) {
	inner := &scriptedProvider{
		name: "flaky",
		errs: []error{&reliability.StatusError{Provider: "flaky", Code: 503}},
		text: "ok",
	}
	p := NewResilientProvider(inner, time.Second, 3)
	p.base = time.Millisecond
	p.cap = time.Millisecond

	text, err := p.Complete(context.Background(), userRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestResilientProviderDoesNotRetryAuthErrors(t *testing.T) {
	inner := &scriptedProvider{
		name: "denied",
		errs: []error{&reliability.StatusError{Provider: "denied", Code: 401}},
	}
	p := NewResilientProvider(inner, time.Second, 3)
	_, err := p.Complete(context.Background(), userRequest("x"))
	require.Error(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestHTTPProviderJSON(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  hello there "}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second)
	text, err := p.Complete(context.Background(), Request{System: "be kind", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, "be kind", got.System)
	require.Len(t, got.Messages, 1)
}

func TestHTTPProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, time.Second).Complete(context.Background(), userRequest("x"))
	var se *reliability.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.True(t, reliability.IsRetryable(err))
}

func TestConsumeStreamingSSE(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		": keepalive",
		"",
		`data: {"delta":"Hel"}`,
		"",
		`data: {"delta":"lo"}`,
		"",
		"data: [DONE]",
		"",
	}, "\n"))
	text, err := consumeStreaming(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestConsumeStreamingNDJSON(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{`{"delta":"Hi"}`, " there", "[DONE]"}, "\n"))
	text, err := consumeStreaming(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)
}

func TestConversationTurnsAlternates(t *testing.T) {
	turns := conversationTurns([]Message{
		{Role: RoleAssistant, Content: "welcome"},
		{Role: RoleUser, Content: "one"},
		{Role: RoleUser, Content: "two"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "  "},
	})
	require.Len(t, turns, 2)
	assert.Equal(t, Message{Role: RoleUser, Content: "one\n\ntwo"}, turns[0])
	assert.Equal(t, RoleAssistant, turns[1].Role)
}
