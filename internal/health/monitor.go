// Package health runs dependency checks on a cron schedule and serves the
// latest results.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/docflow/internal/telemetry"
)

// DefaultSchedule runs the checks every 30 seconds.
const DefaultSchedule = "@every 30s"

// CheckFunc checks one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the last outcome of one check.
type CheckResult struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Report aggregates the latest check results.
type Report struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

// Failing returns the messages of unhealthy checks.
func (r Report) Failing() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Healthy {
			out = append(out, c.Name+": "+c.Message)
		}
	}
	return out
}

type check struct {
	name string
	fn   CheckFunc
}

// Monitor owns the registered checks and their latest results.
type Monitor struct {
	schedule cron.Schedule
	timeout  time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	checks  []check
	results map[string]CheckResult
	cron    *cron.Cron
	now     func() time.Time
}

// NewMonitor parses schedule (standard five-field cron or a descriptor such
// as "@every 30s") and returns a stopped monitor. Each check run is bounded
// by timeout.
func NewMonitor(schedule string, timeout time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) (*Monitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid health schedule %q: %w", schedule, err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		schedule: sched,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger,
		results:  make(map[string]CheckResult),
		now:      time.Now,
	}, nil
}

// Register adds a named check. Registering a name twice replaces the check.
func (m *Monitor) Register(name string, fn CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.checks {
		if m.checks[i].name == name {
			m.checks[i].fn = fn
			return
		}
	}
	m.checks = append(m.checks, check{name: name, fn: fn})
}

// Start runs the checks once and then on the schedule until ctx is done or
// Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cron != nil {
		m.mu.Unlock()
		return fmt.Errorf("health monitor already started")
	}
	c := cron.New()
	c.Schedule(m.schedule, cron.FuncJob(func() { m.RunOnce(ctx) }))
	m.cron = c
	m.mu.Unlock()

	m.RunOnce(ctx)
	c.Start()
	go func() {
		<-ctx.Done()
		m.Stop()
	}()
	m.logger.Info("health monitor started", slog.Int("checks", len(m.snapshotChecks())))
	return nil
}

// Stop halts scheduled runs and waits for a running pass to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce runs every check concurrently and records the results.
func (m *Monitor) RunOnce(ctx context.Context) Report {
	checks := m.snapshotChecks()
	results := make([]CheckResult, len(checks))

	var wg sync.WaitGroup
	for i, chk := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.run(ctx, chk)
		}()
	}
	wg.Wait()

	m.mu.Lock()
	for _, r := range results {
		prev, seen := m.results[r.Name]
		m.results[r.Name] = r
		if seen && prev.Healthy && !r.Healthy {
			m.logger.Warn("health check failing", slog.String("check", r.Name), slog.String("error", r.Message))
		} else if seen && !prev.Healthy && r.Healthy {
			m.logger.Info("health check recovered", slog.String("check", r.Name))
		}
	}
	m.mu.Unlock()
	return m.Status()
}

func (m *Monitor) run(ctx context.Context, chk check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res := CheckResult{Name: chk.name, Healthy: true, CheckedAt: m.now().UTC()}
	if err := safeCall(ctx, chk.fn); err != nil {
		res.Healthy = false
		res.Message = err.Error()
	}
	m.metrics.CheckStatus(chk.name, res.Healthy)
	return res
}

func safeCall(ctx context.Context, fn CheckFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Status returns the latest results in registration order. Checks that have
// not run yet are reported unhealthy.
func (m *Monitor) Status() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep := Report{Healthy: true, Checks: make([]CheckResult, 0, len(m.checks))}
	for _, chk := range m.checks {
		r, ok := m.results[chk.name]
		if !ok {
			r = CheckResult{Name: chk.name, Message: "not checked yet"}
		}
		rep.Healthy = rep.Healthy && r.Healthy
		rep.Checks = append(rep.Checks, r)
	}
	return rep
}

func (m *Monitor) snapshotChecks() []check {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.checks)
}

// Handler serves the latest report as JSON: 200 when every check passes,
// 503 otherwise. "?refresh=true" runs the checks before answering.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rep Report
		if r.URL.Query().Get("refresh") == "true" {
			rep = m.RunOnce(r.Context())
		} else {
			rep = m.Status()
		}
		w.Header().Set("Content-Type", "application/json")
		if !rep.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(struct {
			Report
			Failing []string `json:"failing,omitempty"`
		}{rep, rep.Failing()})
	})
}
