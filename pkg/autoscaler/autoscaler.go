package autoscaler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/config"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/log"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/sandbox"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/storage"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Action is the outcome of one policy evaluation.
type Action string

const (
	ActionScaleUp   Action = "scale_up"
	ActionScaleDown Action = "scale_down"
	ActionNoChange  Action = "no_change"
)

// Decision is the result of evaluating one deployment's policy.
type Decision struct {
	DeploymentID     string
	Action           Action
	CurrentInstances int
	TargetInstances  int
	Score            float64
	Confidence       float64
	Reason           string
	Metrics          map[string]float64 // raw values at decision time
}

// Autoscaler evaluates scaling policies on a fixed tick and executes
// decisions through the sandbox collaborator. Decisions are serialized;
// a decision either executes now or is skipped to the next tick.
type Autoscaler struct {
	cfg      config.AutoscalerConfig
	store    storage.Store
	facade   metrics.Facade
	provider sandbox.Provider

	mu        sync.Mutex
	instances map[string]int       // deployment id -> last known count
	cooldowns map[string]time.Time // deployment id -> last scale action

	execMu sync.Mutex // serializes decision execution

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates an autoscaler over the given collaborators.
func New(cfg config.AutoscalerConfig, store storage.Store, facade metrics.Facade, provider sandbox.Provider) *Autoscaler {
	return &Autoscaler{
		cfg:       cfg,
		store:     store,
		facade:    facade,
		provider:  provider,
		instances: make(map[string]int),
		cooldowns: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		logger:    log.WithComponent("autoscaler"),
	}
}

// Start begins the evaluation loop.
func (a *Autoscaler) Start() {
	a.wg.Add(1)
	go a.run()
	a.logger.Info().Dur("tick", a.cfg.Tick).Msg("Autoscaler started")
}

// Stop halts the evaluation loop.
func (a *Autoscaler) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

// CreatePolicy validates, persists, and activates a policy. Soft
// violations come back as warnings; hard violations reject.
func (a *Autoscaler) CreatePolicy(p *types.ScalingPolicy) ([]string, error) {
	warnings, err := ValidatePolicy(p)
	if err != nil {
		return nil, err
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := a.store.CreatePolicy(p); err != nil {
		return nil, err
	}

	for _, w := range warnings {
		a.logger.Warn().Str("policy_id", p.ID).Str("deployment_id", p.DeploymentID).Msg(w)
	}
	a.logger.Info().Str("policy_id", p.ID).Str("deployment_id", p.DeploymentID).Bool("enabled", p.Enabled).Msg("Scaling policy created")
	return warnings, nil
}

// Evaluate computes a decision for one deployment without executing
// it. Persistent state is read, never written.
func (a *Autoscaler) Evaluate(deploymentID string) (*Decision, error) {
	policy, err := a.store.GetPolicyByDeployment(deploymentID)
	if err != nil {
		return nil, err
	}
	if !policy.Enabled {
		return &Decision{DeploymentID: deploymentID, Action: ActionNoChange, Reason: "policy disabled"}, nil
	}
	return a.evaluate(deploymentID, policy), nil
}

func (a *Autoscaler) evaluate(deploymentID string, policy *types.ScalingPolicy) *Decision {
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	snap := a.facade.GetCurrent()
	dm := snap.Deployments[deploymentID]

	raw := make(map[string]float64, len(policy.Thresholds))
	var weightedSum, weightTotal float64
	triggered := 0
	for _, th := range policy.Thresholds {
		value := rawValue(th.Metric, dm)
		raw[string(th.Metric)] = value
		norm := normalize(th.Metric, value)

		if satisfies(norm, th.Comparison, th.Threshold) {
			triggered++
			weightedSum += (norm + math.Abs(norm-th.Threshold)*0.5) * th.Weight
		} else {
			weightedSum += norm * th.Weight * 0.5
		}
		weightTotal += th.Weight
	}

	var score float64
	if weightTotal > 0 {
		score = weightedSum / weightTotal
	}
	confidence := 0.0
	if len(policy.Thresholds) > 0 {
		confidence = float64(triggered) / float64(len(policy.Thresholds))
	}

	current := a.currentInstances(deploymentID)
	d := &Decision{
		DeploymentID:     deploymentID,
		Action:           ActionNoChange,
		CurrentInstances: current,
		TargetInstances:  current,
		Score:            score,
		Confidence:       confidence,
		Metrics:          raw,
	}

	a.mu.Lock()
	last, cooling := a.cooldowns[deploymentID]
	a.mu.Unlock()
	if cooling && time.Since(last) < policy.Cooldown {
		d.Reason = "cooldown"
		return d
	}

	switch {
	case score > policy.ScaleUpThreshold:
		target := min(current+1, policy.MaxInstances)
		if target > current {
			d.Action = ActionScaleUp
			d.TargetInstances = target
			d.Reason = fmt.Sprintf("score %.3f above %.3f", score, policy.ScaleUpThreshold)
		} else {
			d.Reason = "at max instances"
		}
	case score < policy.ScaleDownThreshold:
		target := max(current-1, policy.MinInstances)
		if target < current {
			d.Action = ActionScaleDown
			d.TargetInstances = target
			d.Reason = fmt.Sprintf("score %.3f below %.3f", score, policy.ScaleDownThreshold)
		} else {
			d.Reason = "at min instances"
		}
	default:
		d.Reason = "score within thresholds"
	}
	return d
}

// ManualScale sets the instance count directly, bypassing and clearing
// any cooldown. A manual_override event is recorded.
func (a *Autoscaler) ManualScale(ctx context.Context, deploymentID string, target int, reason string) error {
	if target < 1 {
		return types.Validationf("target instances must be >= 1, got %d", target)
	}
	d, err := a.store.GetDeployment(deploymentID)
	if err != nil {
		return err
	}

	a.execMu.Lock()
	defer a.execMu.Unlock()

	current := a.currentInstances(deploymentID)
	if err := a.provider.Scale(ctx, d.SandboxID, target); err != nil {
		return err
	}
	if err := a.persistScale(d.ID, current, target, types.ManualOverride, "", reason, nil); err != nil {
		return err
	}

	a.mu.Lock()
	a.instances[deploymentID] = target
	delete(a.cooldowns, deploymentID)
	a.mu.Unlock()

	metrics.ScalingDecisions.WithLabelValues(string(types.ManualOverride)).Inc()
	a.logger.Info().Str("deployment_id", deploymentID).Int("from", current).Int("to", target).Str("reason", reason).Msg("Manual scale applied")
	return nil
}

// Forget drops the in-memory counters for a deployment. Called when a
// deployment reaches a terminal state.
func (a *Autoscaler) Forget(deploymentID string) {
	a.mu.Lock()
	delete(a.instances, deploymentID)
	delete(a.cooldowns, deploymentID)
	a.mu.Unlock()
}

func (a *Autoscaler) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.tick()
		case <-a.stopCh:
			return
		}
	}
}

// tick evaluates every enabled policy and executes non-trivial
// decisions. Failures abandon the decision until the next tick.
func (a *Autoscaler) tick() {
	policies, err := a.store.ListPolicies()
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to list scaling policies")
		return
	}

	for _, policy := range policies {
		if !policy.Enabled {
			continue
		}
		d := a.evaluate(policy.DeploymentID, policy)
		metrics.ScalingDecisions.WithLabelValues(string(d.Action)).Inc()
		if d.Action == ActionNoChange {
			continue
		}
		if err := a.execute(d, policy); err != nil {
			a.logger.Error().Err(err).
				Str("deployment_id", d.DeploymentID).
				Str("action", string(d.Action)).
				Int("target", d.TargetInstances).
				Msg("Scaling decision abandoned")
		}
	}
}

// execute applies a decision through the sandbox collaborator and
// persists the outcome. Cooldown is recorded only on success.
func (a *Autoscaler) execute(d *Decision, policy *types.ScalingPolicy) error {
	a.execMu.Lock()
	defer a.execMu.Unlock()

	dep, err := a.store.GetDeployment(d.DeploymentID)
	if err != nil {
		return err
	}
	if dep.Status != types.StatusRunning {
		return types.Invariantf("deployment %s is %s, not running", dep.ID, dep.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.provider.Scale(ctx, dep.SandboxID, d.TargetInstances); err != nil {
		return err
	}

	kind := types.ScaleUp
	if d.Action == ActionScaleDown {
		kind = types.ScaleDown
	}
	if err := a.persistScale(dep.ID, d.CurrentInstances, d.TargetInstances, kind, policy.ID, d.Reason, d.Metrics); err != nil {
		return err
	}

	a.mu.Lock()
	a.instances[d.DeploymentID] = d.TargetInstances
	a.cooldowns[d.DeploymentID] = time.Now()
	a.mu.Unlock()

	a.logger.Info().
		Str("deployment_id", d.DeploymentID).
		Str("action", string(d.Action)).
		Int("from", d.CurrentInstances).
		Int("to", d.TargetInstances).
		Float64("score", d.Score).
		Float64("confidence", d.Confidence).
		Msg("Scaling decision executed")
	return nil
}

// persistScale commits the instance count and the audit event together.
func (a *Autoscaler) persistScale(deploymentID string, from, to int, kind types.ScalingEventKind, policyID, reason string, raw map[string]float64) error {
	return a.store.Tx(func(tx storage.TxStore) error {
		dep, err := tx.GetDeployment(deploymentID)
		if err != nil {
			return err
		}
		dep.InstanceCount = to
		dep.UpdatedAt = time.Now()
		if err := tx.UpdateDeployment(dep); err != nil {
			return err
		}
		return tx.AppendScalingEvent(&types.ScalingEvent{
			ID:            uuid.New().String(),
			DeploymentID:  deploymentID,
			PolicyID:      policyID,
			Kind:          kind,
			FromInstances: from,
			ToInstances:   to,
			Reason:        reason,
			Metrics:       raw,
			CreatedAt:     time.Now(),
		})
	})
}

// currentInstances returns the in-memory count, defaulting to 1 for
// deployments not seen since process start.
func (a *Autoscaler) currentInstances(deploymentID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.instances[deploymentID]; ok {
		return n
	}
	return 1
}

// rawValue picks the metric's raw reading from a deployment snapshot.
func rawValue(m types.MetricName, dm metrics.DeploymentMetrics) float64 {
	switch m {
	case types.MetricCPU:
		return dm.CPUPct
	case types.MetricMemory:
		return dm.MemoryPct
	case types.MetricRequests:
		return dm.RequestsPerSec
	case types.MetricResponseTime:
		return dm.ResponseTimeMs
	case types.MetricErrorRate:
		return dm.ErrorRatePct
	}
	return 0
}

// normalize maps a raw reading into [0,1] using per-metric divisors.
func normalize(m types.MetricName, value float64) float64 {
	var norm float64
	switch m {
	case types.MetricCPU, types.MetricMemory:
		norm = value / 100
	case types.MetricErrorRate:
		norm = value / 10
	case types.MetricRequests:
		norm = value / 1000
	case types.MetricResponseTime:
		norm = value / 5000
	}
	return math.Max(0, math.Min(1, norm))
}

func satisfies(norm float64, cmp types.Comparison, threshold float64) bool {
	switch cmp {
	case types.CompareGT:
		return norm > threshold
	case types.CompareGTE:
		return norm >= threshold
	case types.CompareLT:
		return norm < threshold
	case types.CompareLTE:
		return norm <= threshold
	}
	return false
}
