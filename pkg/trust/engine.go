package trust

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

const (
	// windowDays is the rolling statistics window.
	windowDays = 7

	// defaultMinSuccessRate is the floor below which a capability is
	// hidden from listings and cannot become verified. Overridable via
	// WithMinSuccessRate.
	defaultMinSuccessRate = 0.80

	// defaultMaxP95LatencyMS is the ceiling above which the gateway
	// should throttle the capability. Overridable via WithMaxP95Latency.
	defaultMaxP95LatencyMS = 10_000.0

	// verifiedMinExecutions is the sample size required before the
	// verified badge can be granted.
	verifiedMinExecutions = 10

	// signalMinExecutions is the sample size required before hide and
	// throttle signals fire at all.
	signalMinExecutions = 5
)

// Stats is the computed reliability snapshot for one capability.
type Stats struct {
	CapabilityID    string     `json:"capability_id"`
	SuccessRate7D   float64    `json:"success_rate_7d"`
	P95LatencyMS    float64    `json:"p95_latency_ms"`
	TotalExecutions int        `json:"total_executions_7d"`
	LastChecked     *time.Time `json:"last_checked"`
	Verified        bool       `json:"verified"`
	ShouldHide      bool       `json:"should_hide"`
	ShouldThrottle  bool       `json:"should_throttle"`
}

// Engine records outcome events and computes windowed stats on demand.
type Engine struct {
	store           EventStore
	logger          *slog.Logger
	now             func() time.Time
	minSuccessRate  float64
	maxP95LatencyMS float64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMinSuccessRate overrides the success-rate floor. Values outside
// (0, 1] keep the default.
func WithMinSuccessRate(rate float64) EngineOption {
	return func(e *Engine) {
		if rate > 0 && rate <= 1 {
			e.minSuccessRate = rate
		}
	}
}

// WithMaxP95Latency overrides the p95 latency ceiling in milliseconds.
// Non-positive values keep the default.
func WithMaxP95Latency(ms float64) EngineOption {
	return func(e *Engine) {
		if ms > 0 {
			e.maxP95LatencyMS = ms
		}
	}
}

// NewEngine creates an engine over store.
func NewEngine(store EventStore, opts ...EngineOption) *Engine {
	e := &Engine{
		store:           store,
		logger:          slog.Default().With("component", "trust_engine"),
		now:             time.Now,
		minSuccessRate:  defaultMinSuccessRate,
		maxP95LatencyMS: defaultMaxP95LatencyMS,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Record validates and persists an outcome event. A missing EventID is
// filled in; a missing OccurredAt defaults to now.
func (e *Engine) Record(ctx context.Context, event *contracts.OutcomeEvent) error {
	if event.CapabilityID == "" {
		return fmt.Errorf("trust: event requires capability_id")
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now().UTC()
	}
	if err := e.store.Record(ctx, event); err != nil {
		return err
	}
	e.logger.DebugContext(ctx, "outcome event recorded",
		"event_id", event.EventID,
		"capability_id", event.CapabilityID,
		"success", event.Success,
		"latency_ms", event.LatencyMS)
	return nil
}

// Stats computes the rolling 7-day snapshot for capabilityID. A
// capability with no events reports success rate 1.0, zero latency, and
// no trust signals.
func (e *Engine) Stats(ctx context.Context, capabilityID string) (*Stats, error) {
	cutoff := e.now().UTC().Add(-windowDays * 24 * time.Hour)
	events, err := e.store.EventsSince(ctx, capabilityID, cutoff)
	if err != nil {
		return nil, err
	}

	total := len(events)
	if total == 0 {
		return &Stats{
			CapabilityID:  capabilityID,
			SuccessRate7D: 1.0,
		}, nil
	}

	successes := 0
	latencies := make([]float64, 0, total)
	last := events[0].OccurredAt
	for _, ev := range events {
		if ev.Success {
			successes++
		}
		latencies = append(latencies, ev.LatencyMS)
		if ev.OccurredAt.After(last) {
			last = ev.OccurredAt
		}
	}
	sort.Float64s(latencies)

	rate := float64(successes) / float64(total)
	p95 := percentile(latencies, 95)

	s := &Stats{
		CapabilityID:    capabilityID,
		SuccessRate7D:   round(rate, 4),
		P95LatencyMS:    round(p95, 2),
		TotalExecutions: total,
		LastChecked:     &last,
		Verified:        total >= verifiedMinExecutions && rate >= e.minSuccessRate,
	}
	s.ShouldHide = total >= signalMinExecutions && s.SuccessRate7D < e.minSuccessRate
	s.ShouldThrottle = total >= signalMinExecutions && s.P95LatencyMS > e.maxP95LatencyMS
	return s, nil
}

// AllStats computes stats for every capability with recorded events.
func (e *Engine) AllStats(ctx context.Context) ([]*Stats, error) {
	ids, err := e.store.CapabilityIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Stats, 0, len(ids))
	for _, id := range ids {
		s, err := e.Stats(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// percentile computes the pct-th percentile of sorted values using
// linear interpolation between adjacent ranks.
func percentile(sorted []float64, pct float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	k := float64(len(sorted)-1) * pct / 100
	lo := int(k)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := k - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func round(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
