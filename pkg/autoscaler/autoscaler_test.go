package autoscaler

import (
	"context"
	"testing"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/config"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/sandbox"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/storage"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	a        *Autoscaler
	store    storage.Store
	facade   *metrics.StaticFacade
	provider *sandbox.FakeProvider
	sboxID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateUser(&types.User{ID: "u1", Email: "u1@example.com", CreatedAt: time.Now()}))
	require.NoError(t, store.CreateProject(&types.Project{ID: "p1", UserID: "u1", Name: "app", CreatedAt: time.Now()}))

	provider := sandbox.NewFakeProvider()
	sb, err := provider.Create(context.Background(), sandbox.DefaultTemplate)
	require.NoError(t, err)

	require.NoError(t, store.CreateDeployment(&types.Deployment{
		ID: "d1", ProjectID: "p1", UserID: "u1", Status: types.StatusRunning,
		SandboxID: sb.ID(), InstanceCount: 1, CreatedAt: time.Now(),
	}))

	facade := &metrics.StaticFacade{}
	a := New(config.AutoscalerConfig{Tick: time.Hour}, store, facade, provider)
	return &fixture{a: a, store: store, facade: facade, provider: provider, sboxID: sb.ID()}
}

func policy(up, down float64, thresholds ...types.MetricThreshold) *types.ScalingPolicy {
	return &types.ScalingPolicy{
		DeploymentID:       "d1",
		Name:               "test",
		Thresholds:         thresholds,
		ScaleUpThreshold:   up,
		ScaleDownThreshold: down,
		Cooldown:           5 * time.Minute,
		MinInstances:       1,
		MaxInstances:       5,
		Enabled:            true,
	}
}

func cpuThreshold(th, weight float64) types.MetricThreshold {
	return types.MetricThreshold{Metric: types.MetricCPU, Threshold: th, Comparison: types.CompareGT, Weight: weight}
}

func TestValidatePolicyRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *types.ScalingPolicy)
	}{
		{"min below one", func(p *types.ScalingPolicy) { p.MinInstances = 0 }},
		{"max below min", func(p *types.ScalingPolicy) { p.MaxInstances = 1; p.MinInstances = 3 }},
		{"up threshold out of range", func(p *types.ScalingPolicy) { p.ScaleUpThreshold = 1.5 }},
		{"up not above down", func(p *types.ScalingPolicy) { p.ScaleUpThreshold = 0.3; p.ScaleDownThreshold = 0.3 }},
		{"no thresholds", func(p *types.ScalingPolicy) { p.Thresholds = nil }},
		{"bad weight", func(p *types.ScalingPolicy) { p.Thresholds[0].Weight = 1.2 }},
		{"bad metric threshold", func(p *types.ScalingPolicy) { p.Thresholds[0].Threshold = -0.1 }},
		{"unknown metric", func(p *types.ScalingPolicy) { p.Thresholds[0].Metric = "disk" }},
		{"unknown comparison", func(p *types.ScalingPolicy) { p.Thresholds[0].Comparison = "ne" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := policy(0.8, 0.3, cpuThreshold(0.8, 1.0))
			tc.mutate(p)
			_, err := ValidatePolicy(p)
			require.Error(t, err)
			assert.Equal(t, types.ErrValidation, types.CategoryOf(err))
		})
	}
}

func TestValidatePolicyWarns(t *testing.T) {
	p := policy(0.5, 0.4,
		cpuThreshold(0.8, 0.3),
		types.MetricThreshold{Metric: types.MetricCPU, Threshold: 0.9, Comparison: types.CompareGT, Weight: 0.3},
	)
	p.Cooldown = 10 * time.Second
	p.MaxInstances = 200

	warnings, err := ValidatePolicy(p)
	require.NoError(t, err)
	// short cooldown, high max, weights sum 0.6, duplicate cpu, gap 0.1
	assert.Len(t, warnings, 5)
}

func TestEvaluateScaleUp(t *testing.T) {
	f := newFixture(t)
	p := policy(0.7, 0.3, cpuThreshold(0.8, 1.0))
	_, err := f.a.CreatePolicy(p)
	require.NoError(t, err)

	f.facade.Snap = metrics.Snapshot{Deployments: map[string]metrics.DeploymentMetrics{
		"d1": {CPUPct: 95},
	}}

	d, err := f.a.Evaluate("d1")
	require.NoError(t, err)
	assert.Equal(t, ActionScaleUp, d.Action)
	assert.Equal(t, 1, d.CurrentInstances)
	assert.Equal(t, 2, d.TargetInstances)
	assert.Equal(t, 1.0, d.Confidence)
	// triggered: (0.95 + |0.95-0.8|*0.5) * 1.0 = 1.025
	assert.InDelta(t, 1.025, d.Score, 1e-9)
	assert.Equal(t, 95.0, d.Metrics["cpu"])
}

func TestEvaluateScaleDownClampsAtMin(t *testing.T) {
	f := newFixture(t)
	_, err := f.a.CreatePolicy(policy(0.7, 0.3, cpuThreshold(0.8, 1.0)))
	require.NoError(t, err)

	f.facade.Snap = metrics.Snapshot{Deployments: map[string]metrics.DeploymentMetrics{
		"d1": {CPUPct: 10},
	}}

	d, err := f.a.Evaluate("d1")
	require.NoError(t, err)
	// not triggered: 0.1 * 1.0 * 0.5 = 0.05 < 0.3, but already at min
	assert.Equal(t, ActionNoChange, d.Action)
	assert.Equal(t, "at min instances", d.Reason)
	assert.Equal(t, 0.0, d.Confidence)
}

func TestEvaluateNormalization(t *testing.T) {
	f := newFixture(t)
	p := policy(0.9, 0.1,
		types.MetricThreshold{Metric: types.MetricRequests, Threshold: 0.5, Comparison: types.CompareGTE, Weight: 0.5},
		types.MetricThreshold{Metric: types.MetricResponseTime, Threshold: 0.5, Comparison: types.CompareGT, Weight: 0.5},
	)
	_, err := f.a.CreatePolicy(p)
	require.NoError(t, err)

	f.facade.Snap = metrics.Snapshot{Deployments: map[string]metrics.DeploymentMetrics{
		"d1": {RequestsPerSec: 500, ResponseTimeMs: 1000},
	}}

	d, err := f.a.Evaluate("d1")
	require.NoError(t, err)
	// requests 500/1000=0.5 triggers gte: (0.5+0)*0.5 = 0.25
	// response 1000/5000=0.2 untriggered: 0.2*0.5*0.5 = 0.05
	// score = 0.3 / 1.0
	assert.InDelta(t, 0.3, d.Score, 1e-9)
	assert.InDelta(t, 0.5, d.Confidence, 1e-9)
	assert.Equal(t, ActionNoChange, d.Action)
}

func TestCooldownForcesNoChange(t *testing.T) {
	f := newFixture(t)
	p := policy(0.7, 0.3, cpuThreshold(0.8, 1.0))
	_, err := f.a.CreatePolicy(p)
	require.NoError(t, err)

	f.facade.Snap = metrics.Snapshot{Deployments: map[string]metrics.DeploymentMetrics{
		"d1": {CPUPct: 95},
	}}

	f.a.tick()
	assert.Equal(t, 2, f.provider.Get(f.sboxID).Instances)

	d, err := f.a.Evaluate("d1")
	require.NoError(t, err)
	assert.Equal(t, ActionNoChange, d.Action)
	assert.Equal(t, "cooldown", d.Reason)

	// tick during cooldown does not scale again
	f.a.tick()
	assert.Equal(t, 2, f.provider.Get(f.sboxID).Instances)
}

func TestTickPersistsInstanceCountAndEvent(t *testing.T) {
	f := newFixture(t)
	_, err := f.a.CreatePolicy(policy(0.7, 0.3, cpuThreshold(0.8, 1.0)))
	require.NoError(t, err)

	f.facade.Snap = metrics.Snapshot{Deployments: map[string]metrics.DeploymentMetrics{
		"d1": {CPUPct: 95},
	}}
	f.a.tick()

	dep, err := f.store.GetDeployment("d1")
	require.NoError(t, err)
	assert.Equal(t, 2, dep.InstanceCount)

	events, err := f.store.ListScalingEvents("d1", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.ScaleUp, events[0].Kind)
	assert.Equal(t, 1, events[0].FromInstances)
	assert.Equal(t, 2, events[0].ToInstances)
	assert.Equal(t, 95.0, events[0].Metrics["cpu"])
}

func TestExecutionFailureSkipsCooldown(t *testing.T) {
	f := newFixture(t)
	_, err := f.a.CreatePolicy(policy(0.7, 0.3, cpuThreshold(0.8, 1.0)))
	require.NoError(t, err)

	f.facade.Snap = metrics.Snapshot{Deployments: map[string]metrics.DeploymentMetrics{
		"d1": {CPUPct: 95},
	}}

	f.provider.ScaleErr = assert.AnError
	f.a.tick()

	dep, err := f.store.GetDeployment("d1")
	require.NoError(t, err)
	assert.Equal(t, 1, dep.InstanceCount)

	// No cooldown recorded; the next tick retries and succeeds.
	f.provider.ScaleErr = nil
	f.a.tick()
	dep, err = f.store.GetDeployment("d1")
	require.NoError(t, err)
	assert.Equal(t, 2, dep.InstanceCount)
}

func TestManualScaleBypassesAndClearsCooldown(t *testing.T) {
	f := newFixture(t)
	_, err := f.a.CreatePolicy(policy(0.7, 0.3, cpuThreshold(0.8, 1.0)))
	require.NoError(t, err)

	f.facade.Snap = metrics.Snapshot{Deployments: map[string]metrics.DeploymentMetrics{
		"d1": {CPUPct: 95},
	}}
	f.a.tick() // scale to 2, cooldown active

	require.NoError(t, f.a.ManualScale(context.Background(), "d1", 4, "load test"))
	assert.Equal(t, 4, f.provider.Get(f.sboxID).Instances)

	dep, err := f.store.GetDeployment("d1")
	require.NoError(t, err)
	assert.Equal(t, 4, dep.InstanceCount)

	events, err := f.store.ListScalingEvents("d1", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.ManualOverride, events[0].Kind)
	assert.Equal(t, "load test", events[0].Reason)

	// Cooldown cleared: the next tick can act immediately.
	f.a.tick()
	dep, err = f.store.GetDeployment("d1")
	require.NoError(t, err)
	assert.Equal(t, 5, dep.InstanceCount)
}

func TestManualScaleValidatesTarget(t *testing.T) {
	f := newFixture(t)
	err := f.a.ManualScale(context.Background(), "d1", 0, "bad")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CategoryOf(err))
}

func TestTickSkipsNonRunningDeployments(t *testing.T) {
	f := newFixture(t)
	_, err := f.a.CreatePolicy(policy(0.7, 0.3, cpuThreshold(0.8, 1.0)))
	require.NoError(t, err)

	dep, err := f.store.GetDeployment("d1")
	require.NoError(t, err)
	dep.Status = types.StatusStopped
	require.NoError(t, f.store.UpdateDeployment(dep))

	f.facade.Snap = metrics.Snapshot{Deployments: map[string]metrics.DeploymentMetrics{
		"d1": {CPUPct: 95},
	}}
	f.a.tick()

	// No scale call reached the provider.
	assert.Equal(t, 0, f.provider.Get(f.sboxID).Instances)
}
