package health

import (
	"context"
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/config"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/log"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/rs/zerolog"
)

// Status is the outcome classification of a probe or of the whole
// process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
	StatusMocked    Status = "mocked"
)

// Result is the outcome of one probe invocation.
type Result struct {
	Status       Status
	ResponseTime time.Duration
	Details      map[string]any
	Err          error
	CheckedAt    time.Time
}

// ProbeFunc performs one health check. It must honor ctx.
type ProbeFunc func(ctx context.Context) Result

// Critical probes gate readiness.
var criticalProbes = map[string]bool{
	"database": true,
	"metrics":  true,
}

type probeEntry struct {
	fn      ProbeFunc
	enabled bool
	breaker *breaker
	last    Result
}

// Report is a snapshot of the supervisor's view of the process.
type Report struct {
	Status    Status
	Probes    map[string]Result
	CheckedAt time.Time
}

// Supervisor runs registered probes on a fixed tick, each under its
// own circuit breaker, and collapses the results into an overall
// status.
type Supervisor struct {
	cfg     config.HealthConfig
	devMode bool

	mu     sync.RWMutex
	probes map[string]*probeEntry
	report Report

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewSupervisor creates a supervisor with an empty probe registry.
func NewSupervisor(cfg config.HealthConfig, devMode bool) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		devMode: devMode,
		probes:  make(map[string]*probeEntry),
		report:  Report{Status: StatusUnknown, Probes: map[string]Result{}},
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("health"),
	}
}

// Register adds a named probe. Disabled probes stay registered but are
// never invoked.
func (s *Supervisor) Register(name string, enabled bool, fn ProbeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[name] = &probeEntry{
		fn:      fn,
		enabled: enabled,
		breaker: newBreaker(s.cfg.FailureThreshold, s.cfg.BreakerCooldown, s.cfg.HalfOpenRetries),
	}
}

// Start begins the probe loop. An immediate first round runs before
// the first tick.
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("Health supervisor started")
}

// Stop halts the probe loop.
func (s *Supervisor) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Current returns the latest report.
func (s *Supervisor) Current() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	probes := make(map[string]Result, len(s.report.Probes))
	for name, r := range s.report.Probes {
		probes[name] = r
	}
	return Report{Status: s.report.Status, Probes: probes, CheckedAt: s.report.CheckedAt}
}

// Ready reports readiness: no critical probe may be unhealthy.
func (s *Supervisor) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, r := range s.report.Probes {
		if criticalProbes[name] && r.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// Alive always reports true. Liveness only guards against a wedged
// process, which cannot answer at all.
func (s *Supervisor) Alive() bool {
	return true
}

func (s *Supervisor) run() {
	defer s.wg.Done()

	s.runProbes()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runProbes()
		case <-s.stopCh:
			return
		}
	}
}

// runProbes executes one round over every enabled probe.
func (s *Supervisor) runProbes() {
	s.mu.RLock()
	names := make([]string, 0, len(s.probes))
	for name, e := range s.probes {
		if e.enabled {
			names = append(names, name)
		}
	}
	s.mu.RUnlock()

	results := make(map[string]Result, len(names))
	for _, name := range names {
		results[name] = s.runProbe(name)
	}

	overall := s.collapse(results)

	s.mu.Lock()
	s.report = Report{Status: overall, Probes: results, CheckedAt: time.Now()}
	s.mu.Unlock()
}

// runProbe invokes one probe under its breaker and timeout.
func (s *Supervisor) runProbe(name string) Result {
	s.mu.RLock()
	e := s.probes[name]
	s.mu.RUnlock()

	if remaining, open := e.breaker.blocked(); open {
		r := Result{
			Status:    StatusUnknown,
			Details:   map[string]any{"circuit": "open", "cooldown_remaining_ms": remaining.Milliseconds()},
			CheckedAt: time.Now(),
		}
		s.record(name, e, r)
		return r
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		done <- e.fn(ctx)
	}()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Result{Status: StatusUnhealthy, Err: ctx.Err()}
	}
	r.ResponseTime = time.Since(start)
	r.CheckedAt = start

	e.breaker.observe(r.Status != StatusUnhealthy)
	metrics.ProbeDuration.WithLabelValues(name).Observe(r.ResponseTime.Seconds())
	s.record(name, e, r)

	if r.Status == StatusUnhealthy {
		s.logger.Warn().Str("probe", name).Err(r.Err).Dur("response_time", r.ResponseTime).Msg("Probe unhealthy")
	}
	return r
}

func (s *Supervisor) record(name string, e *probeEntry, r Result) {
	s.mu.Lock()
	e.last = r
	s.mu.Unlock()
	metrics.BreakerState.WithLabelValues(name).Set(float64(e.breaker.stateCode()))
}

// collapse folds per-probe results into an overall status. More than
// half unhealthy means unhealthy; any unhealthy or degraded probe
// degrades the whole; mocked counts as healthy in development mode.
func (s *Supervisor) collapse(results map[string]Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}

	unhealthy, degraded := 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			unhealthy++
		case StatusDegraded:
			degraded++
		case StatusMocked:
			if !s.devMode {
				degraded++
			}
		}
	}

	switch {
	case unhealthy > len(results)/2:
		return StatusUnhealthy
	case unhealthy > 0 || degraded > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
