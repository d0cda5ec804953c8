// Package health tracks whether the execution engine and the language-model
// runtime are reachable.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
	"github.com/Feddakalkun/comfyuifeddafront/internal/metrics"
)

// Probe reports whether a backend answered.
type Probe func(ctx context.Context) bool

// Status is the last known liveness of both backends.
type Status struct {
	EngineOnline bool      `json:"engine_online"`
	LLMOnline    bool      `json:"llm_online"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Options wires a Monitor.
type Options struct {
	Engine      Probe
	LLM         Probe
	EngineEvery time.Duration
	LLMEvery    time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
	Logger       *infra.Logger
}

// Monitor probes both backends on their own schedules.
type Monitor struct {
	engine       Probe
	llm          Probe
	engineEvery  time.Duration
	llmEvery     time.Duration
	probeTimeout time.Duration
	logger       *infra.Logger

	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

// NewMonitor returns a monitor that has not probed yet; both backends start
// offline.
func NewMonitor(opts Options) *Monitor {
	m := &Monitor{
		engine:       opts.Engine,
		llm:          opts.LLM,
		engineEvery:  opts.EngineEvery,
		llmEvery:     opts.LLMEvery,
		probeTimeout: opts.ProbeTimeout,
		logger:       infra.OrDiscard(opts.Logger),
		now:          time.Now,
	}
	if m.engineEvery <= 0 {
		m.engineEvery = 3 * time.Second
	}
	if m.llmEvery <= 0 {
		m.llmEvery = 10 * time.Second
	}
	if m.probeTimeout <= 0 {
		m.probeTimeout = 2 * time.Second
	}
	return m
}

// Status returns the last probe results.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// CheckNow probes both backends once.
func (m *Monitor) CheckNow(ctx context.Context) Status {
	m.checkEngine(ctx)
	m.checkLLM(ctx)
	return m.Status()
}

// Run probes until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	m.CheckNow(ctx)

	engineTick := time.NewTicker(m.engineEvery)
	defer engineTick.Stop()
	llmTick := time.NewTicker(m.llmEvery)
	defer llmTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-engineTick.C:
			m.checkEngine(ctx)
		case <-llmTick.C:
			m.checkLLM(ctx)
		}
	}
}

func (m *Monitor) checkEngine(ctx context.Context) {
	if m.engine == nil {
		return
	}
	online := m.probe(ctx, m.engine)
	m.record("engine", online, func(s *Status) *bool { return &s.EngineOnline })
}

func (m *Monitor) checkLLM(ctx context.Context) {
	if m.llm == nil {
		return
	}
	online := m.probe(ctx, m.llm)
	m.record("llm", online, func(s *Status) *bool { return &s.LLMOnline })
}

func (m *Monitor) probe(ctx context.Context, p Probe) bool {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	return p(ctx)
}

func (m *Monitor) record(backend string, online bool, field func(*Status) *bool) {
	m.mu.Lock()
	flag := field(&m.status)
	changed := *flag != online
	*flag = online
	m.status.CheckedAt = m.now()
	m.mu.Unlock()

	gauge := 0.0
	if online {
		gauge = 1
	}
	metrics.BackendOnline.WithLabelValues(backend).Set(gauge)
	if changed {
		m.logger.Info().Str("backend", backend).Bool("online", online).Msg("health: backend status changed")
	}
}
