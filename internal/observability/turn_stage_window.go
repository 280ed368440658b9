package observability

import (
	"maps"
	"math"
	"slices"
	"sync"
	"time"
)

// Turn pipeline stages reported at /v1/perf/latency.
const (
	StageRisk       = "risk"
	StageMemory     = "memory"
	StageGeneration = "generation"
	StageFilter     = "filter"
	StageTurnTotal  = "turn_total"
)

// stageBudgetsMS is the p95 latency budget per stage.
var stageBudgetsMS = map[string]float64{
	StageRisk:       50,
	StageMemory:     300,
	StageGeneration: 2500,
	StageFilter:     5,
	StageTurnTotal:  3200,
}

type StageLatency struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	AvgMS      float64 `json:"avg_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	BudgetMS   float64 `json:"budget_p95_ms,omitempty"`
	OverBudget bool    `json:"over_budget"`
}

type TurnStageSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageLatency `json:"stages"`
	// Degraded counts turns that took a fallback path, by reason.
	Degraded map[string]int `json:"degraded,omitempty"`
}

// stageWindow keeps the most recent samples of each stage in a fixed ring.
type stageWindow struct {
	mu       sync.Mutex
	size     int
	rings    map[string]*ring
	degraded map[string]int
}

type ring struct {
	values []float64
	next   int
	n      int
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{size: size, rings: map[string]*ring{}, degraded: map[string]int{}}
}

func (w *stageWindow) observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &ring{values: make([]float64, w.size)}
		w.rings[stage] = r
	}
	r.values[r.next] = ms
	r.next = (r.next + 1) % w.size
	r.n = min(r.n+1, w.size)
}

func (w *stageWindow) countDegraded(reason string) {
	if reason == "" {
		return
	}
	w.mu.Lock()
	w.degraded[reason]++
	w.mu.Unlock()
}

func (w *stageWindow) snapshot() TurnStageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := TurnStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageLatency, 0, len(w.rings)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.rings)) {
		r := w.rings[stage]
		samples := slices.Clone(r.values[:r.n])
		last := r.values[(r.next+w.size-1)%w.size]
		slices.Sort(samples)

		var sum float64
		for _, v := range samples {
			sum += v
		}
		s := StageLatency{
			Stage:    stage,
			Samples:  r.n,
			LastMS:   round2(last),
			AvgMS:    round2(sum / float64(r.n)),
			P50MS:    round2(nearestRank(samples, 0.50)),
			P95MS:    round2(nearestRank(samples, 0.95)),
			BudgetMS: stageBudgetsMS[stage],
		}
		s.OverBudget = s.BudgetMS > 0 && s.P95MS > s.BudgetMS
		snap.Stages = append(snap.Stages, s)
	}
	if len(w.degraded) > 0 {
		snap.Degraded = maps.Clone(w.degraded)
	}
	return snap
}

func nearestRank(sorted []float64, q float64) float64 {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
