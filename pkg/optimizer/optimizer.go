package optimizer

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/config"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/log"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/storage"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ringSize holds one day of samples at a five-minute cadence.
const ringSize = 288

// Cost breakdown ratios, fixed at this layer.
const (
	computeShare = 0.70
	storageShare = 0.15
	networkShare = 0.10
	otherShare   = 0.05
)

// Analytics summarizes a deployment's resource usage over a window.
type Analytics struct {
	DeploymentID string
	Start, End   time.Time
	SampleCount  int
	AvgCPUPct    float64
	AvgMemoryPct float64
	TotalCost    float64
	Compute      float64
	Storage      float64
	Network      float64
	Other        float64
	Efficiency   float64
}

// Alerter receives budget threshold crossings. Implemented by the
// WebSocket gateway.
type Alerter interface {
	BroadcastBudgetAlert(deploymentID string, payload any)
}

// BudgetAlert is the payload of a budget:alert frame.
type BudgetAlert struct {
	DeploymentID string  `json:"deployment_id"`
	Level        string  `json:"level"` // "warning" or "critical"
	MonthlyLimit float64 `json:"monthly_limit"`
	MonthCost    float64 `json:"month_cost"`
	UsedPct      float64 `json:"used_pct"`
}

// Optimizer tracks per-deployment resource usage, derives cost
// analytics and right-sizing recommendations, and raises budget
// alerts. Sample rings are bounded; history persists through the
// datastore.
type Optimizer struct {
	store    storage.Store
	facade   metrics.Facade
	alerter  Alerter
	interval time.Duration

	mu      sync.Mutex
	rings   map[string][]types.ResourceSample
	budgets map[string]types.BudgetConfig
	fired   map[string]bool // "deployment/level/2006-01" already alerted

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates an optimizer. alerter may be nil to disable budget
// fan-out.
func New(cfg config.OptimizerConfig, store storage.Store, facade metrics.Facade, alerter Alerter) *Optimizer {
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Optimizer{
		store:    store,
		facade:   facade,
		alerter:  alerter,
		interval: interval,
		rings:    make(map[string][]types.ResourceSample),
		budgets:  make(map[string]types.BudgetConfig),
		fired:    make(map[string]bool),
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("optimizer"),
	}
}

// Start begins the periodic sampling loop over running deployments.
func (o *Optimizer) Start() {
	o.wg.Add(1)
	go o.run()
	o.logger.Info().Dur("interval", o.interval).Msg("Optimizer started")
}

// Stop halts the sampling loop.
func (o *Optimizer) Stop() {
	close(o.stopCh)
	o.wg.Wait()
	o.logger.Info().Msg("Optimizer stopped")
}

func (o *Optimizer) run() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.sample()
		case <-o.stopCh:
			return
		}
	}
}

// sample tracks usage for every running deployment.
func (o *Optimizer) sample() {
	deployments, err := o.store.ListDeployments()
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to list deployments for sampling")
		return
	}
	for _, d := range deployments {
		if d.Status != types.StatusRunning {
			continue
		}
		if _, err := o.TrackUsage(d.ID); err != nil {
			o.logger.Warn().Str("deployment_id", d.ID).Err(err).Msg("Usage sample failed")
		}
	}
}

// SetBudget installs or replaces the budget for a deployment.
func (o *Optimizer) SetBudget(b types.BudgetConfig) error {
	if b.MonthlyLimit <= 0 {
		return types.Validationf("monthly limit must be positive, got %g", b.MonthlyLimit)
	}
	if b.WarningPct <= 0 || b.CriticalPct <= b.WarningPct {
		return types.Validationf("thresholds must satisfy 0 < warning < critical, got %g/%g", b.WarningPct, b.CriticalPct)
	}
	o.mu.Lock()
	o.budgets[b.DeploymentID] = b
	o.mu.Unlock()
	return nil
}

// TrackUsage collects one sample from the metrics facade, appends it
// to the deployment's ring, persists it, and checks the budget.
func (o *Optimizer) TrackUsage(deploymentID string) (*types.ResourceSample, error) {
	snap := o.facade.GetCurrent()
	dm := snap.Deployments[deploymentID]

	s := types.ResourceSample{
		Timestamp:   time.Now(),
		CPUPct:      dm.CPUPct,
		MemoryPct:   dm.MemoryPct,
		NetworkIO:   dm.RequestsPerSec,
		CostPerHour: costPerHour(dm.CPUPct, dm.MemoryPct),
	}

	o.mu.Lock()
	ring := append(o.rings[deploymentID], s)
	if len(ring) > ringSize {
		ring = ring[len(ring)-ringSize:]
	}
	o.rings[deploymentID] = ring
	o.mu.Unlock()

	if err := o.store.AppendResourceSample(deploymentID, &s); err != nil {
		return nil, err
	}
	o.checkBudget(deploymentID)
	return &s, nil
}

// CostAnalytics averages the samples inside the window and breaks the
// total cost into fixed shares.
func (o *Optimizer) CostAnalytics(deploymentID string, start, end time.Time) (*Analytics, error) {
	samples, err := o.store.ListResourceSamples(deploymentID, start, end)
	if err != nil {
		return nil, err
	}

	a := &Analytics{DeploymentID: deploymentID, Start: start, End: end, SampleCount: len(samples)}
	if len(samples) == 0 {
		return a, nil
	}

	var cpu, mem, cost float64
	for _, s := range samples {
		cpu += s.CPUPct
		mem += s.MemoryPct
		cost += s.CostPerHour
	}
	n := float64(len(samples))
	a.AvgCPUPct = cpu / n
	a.AvgMemoryPct = mem / n
	// Each sample covers one sampling interval of the hourly rate.
	a.TotalCost = cost * o.hoursPerSample()
	a.Compute = a.TotalCost * computeShare
	a.Storage = a.TotalCost * storageShare
	a.Network = a.TotalCost * networkShare
	a.Other = a.TotalCost * otherShare
	a.Efficiency = Efficiency(a.AvgCPUPct/100, a.AvgMemoryPct/100)
	return a, nil
}

// Recommendations derives deterministic right-sizing suggestions from
// the in-memory ring and persists them.
func (o *Optimizer) Recommendations(deploymentID string) ([]*types.Recommendation, error) {
	o.mu.Lock()
	ring := o.rings[deploymentID]
	samples := make([]types.ResourceSample, len(ring))
	copy(samples, ring)
	o.mu.Unlock()

	if len(samples) == 0 {
		return nil, nil
	}

	var cpu, mem float64
	for _, s := range samples {
		cpu += s.CPUPct
		mem += s.MemoryPct
	}
	n := float64(len(samples))
	avgCPU := cpu / n
	avgMem := mem / n

	var recs []*types.Recommendation
	add := func(kind types.RecommendationKind, resource, suggestion string, pct float64) {
		recs = append(recs, &types.Recommendation{
			ID:           uuid.New().String(),
			DeploymentID: deploymentID,
			Kind:         kind,
			Resource:     resource,
			Suggestion:   suggestion,
			EstimatedPct: pct,
			CreatedAt:    time.Now(),
		})
	}

	if avgCPU < 30 {
		add(types.RecommendDownsize, "cpu", "average CPU below 30%; a smaller CPU allocation fits this workload", 30)
	}
	if avgMem < 40 {
		add(types.RecommendDownsize, "memory", "average memory below 40%; a smaller memory allocation fits this workload", 20)
	}
	if avgCPU > 85 {
		add(types.RecommendUpsize, "cpu", "average CPU above 85%; more CPU will improve latency", -30)
	}
	if Efficiency(avgCPU/100, avgMem/100) < 0.6 {
		add(types.RecommendAggressive, "policy", "utilization far from the ideal band; an aggressive scaling policy is recommended", 0)
	}

	for _, r := range recs {
		if err := o.store.SaveRecommendation(r); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Drop forgets a deployment's in-memory state after it is destroyed.
func (o *Optimizer) Drop(deploymentID string) {
	o.mu.Lock()
	delete(o.rings, deploymentID)
	delete(o.budgets, deploymentID)
	for key := range o.fired {
		if strings.HasPrefix(key, deploymentID+"/") {
			delete(o.fired, key)
		}
	}
	o.mu.Unlock()
}

// checkBudget sums the current month's cost and raises at most one
// alert per threshold per month.
func (o *Optimizer) checkBudget(deploymentID string) {
	o.mu.Lock()
	budget, ok := o.budgets[deploymentID]
	o.mu.Unlock()
	if !ok {
		return
	}

	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	samples, err := o.store.ListResourceSamples(deploymentID, monthStart, now)
	if err != nil {
		o.logger.Error().Err(err).Str("deployment_id", deploymentID).Msg("Budget check failed")
		return
	}

	var cost float64
	for _, s := range samples {
		cost += s.CostPerHour
	}
	cost *= o.hoursPerSample()

	usedPct := cost / budget.MonthlyLimit * 100
	level := ""
	switch {
	case usedPct >= budget.CriticalPct:
		level = "critical"
	case usedPct >= budget.WarningPct:
		level = "warning"
	}
	if level == "" {
		return
	}

	key := deploymentID + "/" + level + "/" + now.Format("2006-01")
	o.mu.Lock()
	already := o.fired[key]
	o.fired[key] = true
	o.mu.Unlock()
	if already {
		return
	}

	o.logger.Warn().
		Str("deployment_id", deploymentID).
		Str("level", level).
		Float64("used_pct", usedPct).
		Msg("Budget threshold crossed")
	if o.alerter != nil {
		o.alerter.BroadcastBudgetAlert(deploymentID, BudgetAlert{
			DeploymentID: deploymentID,
			Level:        level,
			MonthlyLimit: budget.MonthlyLimit,
			MonthCost:    cost,
			UsedPct:      usedPct,
		})
	}
}

// hoursPerSample converts the per-hour rate of one sample into the
// cost it represents at the configured cadence.
func (o *Optimizer) hoursPerSample() float64 {
	return o.interval.Hours()
}

// Efficiency scores utilization against the 0.75 ideal band. Inputs
// are fractions in [0,1].
func Efficiency(cpu, mem float64) float64 {
	score := 0.5*(1-math.Abs(cpu-0.75)) + 0.3*(1-math.Abs(mem-0.75)) + 0.2
	return math.Max(0, math.Min(1, score))
}

// costPerHour prices a deployment's current usage. Flat base rate plus
// usage-proportional burn.
func costPerHour(cpuPct, memPct float64) float64 {
	return 0.05 + 0.10*(cpuPct/100) + 0.05*(memPct/100)
}
