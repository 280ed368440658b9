package main

import (
	"testing"
	"time"
)

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://coach.example.com/base/", "s 1")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	want := "wss://coach.example.com/base/v1/sessions/ws?session_id=s+1"
	if got != want {
		t.Fatalf("wsURLForSession() = %q, want %q", got, want)
	}

	if _, err := wsURLForSession("ftp://example.com", "s1"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestFinishReplayOptions(t *testing.T) {
	opts, err := finishReplayOptions(replayOptions{baseURL: "http://localhost:8080/", turns: 2}, " a | | b ", -5, 0)
	if err != nil {
		t.Fatalf("finishReplayOptions() error = %v", err)
	}
	if opts.baseURL != "http://localhost:8080" {
		t.Fatalf("baseURL = %q", opts.baseURL)
	}
	if len(opts.texts) != 2 || opts.texts[0] != "a" || opts.texts[1] != "b" {
		t.Fatalf("texts = %v, want [a b]", opts.texts)
	}
	if opts.interTurnDelay != 0 || opts.turnTimeout != time.Second {
		t.Fatalf("delays = %s/%s", opts.interTurnDelay, opts.turnTimeout)
	}

	if _, err := finishReplayOptions(replayOptions{baseURL: "http://x", turns: 0}, "", 0, 1); err == nil {
		t.Fatalf("expected error for zero turns")
	}
	if _, err := finishReplayOptions(replayOptions{baseURL: "http://x", turns: 1}, "|  |", 0, 1); err == nil {
		t.Fatalf("expected error for empty texts")
	}
}

func TestLatencyPercentiles(t *testing.T) {
	samples := make([]time.Duration, 0, 20)
	for i := 20; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	p50, p95 := latencyPercentiles(samples)
	if p50 != 10*time.Millisecond || p95 != 19*time.Millisecond {
		t.Fatalf("percentiles = %s/%s, want 10ms/19ms", p50, p95)
	}
	if p50, p95 := latencyPercentiles(nil); p50 != 0 || p95 != 0 {
		t.Fatalf("empty percentiles = %s/%s", p50, p95)
	}
}
