package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemFacadeDeploymentMetrics(t *testing.T) {
	f := NewSystemFacade()

	f.ReportDeployment("d1", DeploymentMetrics{CPUPct: 85, ResponseTimeMs: 4000})
	f.ReportDeployment("d2", DeploymentMetrics{CPUPct: 10})

	snap := f.GetCurrent()
	assert.Equal(t, 85.0, snap.Deployments["d1"].CPUPct)
	assert.Equal(t, 4000.0, snap.Deployments["d1"].ResponseTimeMs)
	assert.Equal(t, 10.0, snap.Deployments["d2"].CPUPct)

	f.DropDeployment("d1")
	snap = f.GetCurrent()
	_, ok := snap.Deployments["d1"]
	assert.False(t, ok)
}

func TestSnapshotIsCopy(t *testing.T) {
	f := NewSystemFacade()
	f.ReportDeployment("d1", DeploymentMetrics{CPUPct: 50})

	snap := f.GetCurrent()
	snap.Deployments["d1"] = DeploymentMetrics{CPUPct: 99}

	again := f.GetCurrent()
	assert.Equal(t, 50.0, again.Deployments["d1"].CPUPct)
}

func TestStaticFacade(t *testing.T) {
	f := &StaticFacade{Snap: Snapshot{CPUUsagePct: 42}}
	assert.Equal(t, 42.0, f.GetCurrent().CPUUsagePct)
}
