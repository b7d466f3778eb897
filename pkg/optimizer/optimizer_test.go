package optimizer

import (
	"testing"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/config"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/storage"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAlerter struct {
	alerts []BudgetAlert
}

func (r *recordingAlerter) BroadcastBudgetAlert(deploymentID string, payload any) {
	r.alerts = append(r.alerts, payload.(BudgetAlert))
}

func newTestOptimizer(t *testing.T, facade metrics.Facade, alerter Alerter) (*Optimizer, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateUser(&types.User{ID: "u1", Email: "u1@example.com", CreatedAt: time.Now()}))
	require.NoError(t, store.CreateProject(&types.Project{ID: "p1", UserID: "u1", Name: "app", CreatedAt: time.Now()}))
	require.NoError(t, store.CreateDeployment(&types.Deployment{
		ID: "d1", ProjectID: "p1", UserID: "u1", Status: types.StatusRunning, CreatedAt: time.Now(),
	}))
	return New(config.OptimizerConfig{SampleInterval: 5 * time.Minute}, store, facade, alerter), store
}

func staticFacade(cpu, mem float64) *metrics.StaticFacade {
	return &metrics.StaticFacade{Snap: metrics.Snapshot{
		Deployments: map[string]metrics.DeploymentMetrics{
			"d1": {CPUPct: cpu, MemoryPct: mem},
		},
	}}
}

func TestTrackUsagePersistsSample(t *testing.T) {
	o, store := newTestOptimizer(t, staticFacade(50, 60), nil)

	s, err := o.TrackUsage("d1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, s.CPUPct)
	assert.Greater(t, s.CostPerHour, 0.0)

	samples, err := store.ListResourceSamples("d1", time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 60.0, samples[0].MemoryPct)
}

func TestRingIsBounded(t *testing.T) {
	o, _ := newTestOptimizer(t, staticFacade(50, 50), nil)

	for i := 0; i < ringSize+10; i++ {
		_, err := o.TrackUsage("d1")
		require.NoError(t, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	assert.Len(t, o.rings["d1"], ringSize)
}

func TestCostAnalyticsBreakdown(t *testing.T) {
	o, store := newTestOptimizer(t, staticFacade(75, 75), nil)

	base := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, store.AppendResourceSample("d1", &types.ResourceSample{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			CPUPct:    75, MemoryPct: 75, CostPerHour: 0.12,
		}))
	}

	a, err := o.CostAnalytics("d1", base.Add(-time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, a.SampleCount)
	assert.Equal(t, 75.0, a.AvgCPUPct)
	assert.InDelta(t, 0.04, a.TotalCost, 1e-9)
	assert.InDelta(t, a.TotalCost*0.70, a.Compute, 1e-9)
	assert.InDelta(t, a.TotalCost*0.15, a.Storage, 1e-9)
	assert.InDelta(t, a.TotalCost*0.10, a.Network, 1e-9)
	assert.InDelta(t, a.TotalCost*0.05, a.Other, 1e-9)
	// Both at the ideal band: efficiency is 1.
	assert.InDelta(t, 1.0, a.Efficiency, 1e-9)
}

func TestCostScalesWithSampleInterval(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.CreateUser(&types.User{ID: "u1", Email: "u1@example.com", CreatedAt: time.Now()}))
	require.NoError(t, store.CreateProject(&types.Project{ID: "p1", UserID: "u1", Name: "app", CreatedAt: time.Now()}))
	require.NoError(t, store.CreateDeployment(&types.Deployment{
		ID: "d1", ProjectID: "p1", UserID: "u1", Status: types.StatusRunning, CreatedAt: time.Now(),
	}))

	base := time.Now()
	for i := 0; i < 6; i++ {
		require.NoError(t, store.AppendResourceSample("d1", &types.ResourceSample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			CPUPct:    50, MemoryPct: 50, CostPerHour: 1.0,
		}))
	}

	// Six samples of an hourly rate of 1.0 at one-minute cadence cover
	// six minutes, not half an hour.
	o := New(config.OptimizerConfig{SampleInterval: time.Minute}, store, staticFacade(50, 50), nil)
	a, err := o.CostAnalytics("d1", base.Add(-time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 6.0/60.0, a.TotalCost, 1e-9)

	o5 := New(config.OptimizerConfig{SampleInterval: 5 * time.Minute}, store, staticFacade(50, 50), nil)
	a5, err := o5.CostAnalytics("d1", base.Add(-time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 5*a.TotalCost, a5.TotalCost, 1e-9)
}

func TestCostAnalyticsEmptyWindow(t *testing.T) {
	o, _ := newTestOptimizer(t, staticFacade(0, 0), nil)
	a, err := o.CostAnalytics("d1", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, a.SampleCount)
	assert.Zero(t, a.TotalCost)
}

func TestRecommendationRules(t *testing.T) {
	cases := []struct {
		name      string
		cpu, mem  float64
		kinds     []types.RecommendationKind
		resources []string
	}{
		{"idle workload", 10, 20,
			[]types.RecommendationKind{types.RecommendDownsize, types.RecommendDownsize, types.RecommendAggressive},
			[]string{"cpu", "memory", "policy"}},
		{"hot cpu", 95, 75,
			[]types.RecommendationKind{types.RecommendUpsize},
			[]string{"cpu"}},
		{"ideal band", 75, 75, nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, store := newTestOptimizer(t, staticFacade(tc.cpu, tc.mem), nil)
			_, err := o.TrackUsage("d1")
			require.NoError(t, err)

			recs, err := o.Recommendations("d1")
			require.NoError(t, err)
			require.Len(t, recs, len(tc.kinds))
			for i, r := range recs {
				assert.Equal(t, tc.kinds[i], r.Kind)
				assert.Equal(t, tc.resources[i], r.Resource)
			}

			saved, err := store.ListRecommendations("d1")
			require.NoError(t, err)
			assert.Len(t, saved, len(tc.kinds))
		})
	}
}

func TestRecommendationSavingsEstimates(t *testing.T) {
	o, _ := newTestOptimizer(t, staticFacade(10, 80), nil)
	_, err := o.TrackUsage("d1")
	require.NoError(t, err)

	recs, err := o.Recommendations("d1")
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, 30.0, recs[0].EstimatedPct)
}

func TestEfficiency(t *testing.T) {
	assert.InDelta(t, 1.0, Efficiency(0.75, 0.75), 1e-9)
	assert.InDelta(t, 0.5*(1-0.75)+0.3*(1-0.75)+0.2, Efficiency(0, 0), 1e-9)
	assert.Greater(t, Efficiency(0.75, 0.2), Efficiency(0.1, 0.2))
}

func TestBudgetAlertIdempotentPerMonth(t *testing.T) {
	alerter := &recordingAlerter{}
	o, _ := newTestOptimizer(t, staticFacade(100, 100), alerter)

	require.NoError(t, o.SetBudget(types.BudgetConfig{
		DeploymentID: "d1",
		MonthlyLimit: 0.01, // tiny limit so one sample crosses critical
		WarningPct:   80,
		CriticalPct:  95,
	}))

	_, err := o.TrackUsage("d1")
	require.NoError(t, err)
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, "critical", alerter.alerts[0].Level)
	assert.Greater(t, alerter.alerts[0].UsedPct, 95.0)

	// Same threshold does not refire within the month.
	_, err = o.TrackUsage("d1")
	require.NoError(t, err)
	assert.Len(t, alerter.alerts, 1)
}

func TestSetBudgetValidation(t *testing.T) {
	o, _ := newTestOptimizer(t, staticFacade(0, 0), nil)

	err := o.SetBudget(types.BudgetConfig{DeploymentID: "d1", MonthlyLimit: 0})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CategoryOf(err))

	err = o.SetBudget(types.BudgetConfig{DeploymentID: "d1", MonthlyLimit: 10, WarningPct: 90, CriticalPct: 80})
	assert.Error(t, err)
}
