package metrics

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of system metrics consumed by the
// autoscaler, the optimizer, and the health supervisor.
type Snapshot struct {
	CPUUsagePct    float64
	MemoryUsagePct float64
	Load1          float64
	Uptime         time.Duration

	// Per-deployment application metrics, raw units: cpu/memory in
	// percent, requests in req/s, response_time in ms, error_rate in
	// percent of requests.
	Deployments map[string]DeploymentMetrics
}

// DeploymentMetrics is the raw metric set for one deployment.
type DeploymentMetrics struct {
	CPUPct         float64
	MemoryPct      float64
	RequestsPerSec float64
	ResponseTimeMs float64
	ErrorRatePct   float64
}

// Facade is the read surface the decision-making components depend on.
// The production implementation samples the host; tests substitute a
// static facade.
type Facade interface {
	GetCurrent() Snapshot
}

// Recorder is the write surface: counters and gauges the components
// push events through.
type Recorder interface {
	RecordAPIRequest(method, status string)
	RecordDeploymentStatus(status string, count int)
	RecordError(category, component string)
	SetWSConnections(n int)
}

// SystemFacade samples the local host and aggregates per-deployment
// metrics reported by collectors.
type SystemFacade struct {
	mu          sync.RWMutex
	startTime   time.Time
	deployments map[string]DeploymentMetrics
	sampler     *systemSampler
}

// NewSystemFacade creates a facade sampling the local system.
func NewSystemFacade() *SystemFacade {
	return &SystemFacade{
		startTime:   time.Now(),
		deployments: make(map[string]DeploymentMetrics),
		sampler:     newSystemSampler(),
	}
}

// GetCurrent returns the current metrics snapshot.
func (f *SystemFacade) GetCurrent() Snapshot {
	cpu, mem, load := f.sampler.sample()

	f.mu.RLock()
	defer f.mu.RUnlock()

	deployments := make(map[string]DeploymentMetrics, len(f.deployments))
	for id, m := range f.deployments {
		deployments[id] = m
	}

	return Snapshot{
		CPUUsagePct:    cpu,
		MemoryUsagePct: mem,
		Load1:          load,
		Uptime:         time.Since(f.startTime),
		Deployments:    deployments,
	}
}

// ReportDeployment records the latest raw metrics for one deployment.
// Called by whatever ingests sandbox-side measurements.
func (f *SystemFacade) ReportDeployment(deploymentID string, m DeploymentMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[deploymentID] = m
}

// DropDeployment forgets a deployment's metrics after it is destroyed.
func (f *SystemFacade) DropDeployment(deploymentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.deployments, deploymentID)
}

// RecordAPIRequest increments the api request counter.
func (f *SystemFacade) RecordAPIRequest(method, status string) {
	APIRequestsTotal.WithLabelValues(method, status).Inc()
}

// RecordDeploymentStatus sets the deployment gauge for one status.
func (f *SystemFacade) RecordDeploymentStatus(status string, count int) {
	DeploymentsTotal.WithLabelValues(status).Set(float64(count))
}

// RecordError increments the classified error counter.
func (f *SystemFacade) RecordError(category, component string) {
	ErrorsTotal.WithLabelValues(category, component).Inc()
}

// SetWSConnections sets the live connection gauge.
func (f *SystemFacade) SetWSConnections(n int) {
	WSConnections.Set(float64(n))
}

// StaticFacade returns a fixed snapshot; used by tests and development
// mode where no real sandbox metrics flow.
type StaticFacade struct {
	Snap Snapshot
}

// GetCurrent returns the configured snapshot.
func (f *StaticFacade) GetCurrent() Snapshot {
	return f.Snap
}
