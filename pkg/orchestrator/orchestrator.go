package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/config"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/log"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/loghub"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/sandbox"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/scaffold"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/storage"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StatusSink receives deployment status transitions. Implemented by
// the WebSocket gateway.
type StatusSink interface {
	BroadcastStatus(deploymentID string, status, previous types.DeploymentStatus)
}

// DeployConfig tunes one Deploy call.
type DeployConfig struct {
	Timeout time.Duration     // default from orchestrator config
	Env     map[string]string // injected before install
	Port    int               // default 3000
}

// MonitorReport is the answer to a Monitor call.
type MonitorReport struct {
	Deployment *types.Deployment
	Health     string
	Metrics    metrics.DeploymentMetrics
	RecentLogs []types.LogEntry
}

// CleanupOptions select which sandboxes a sweep may reap. Zero
// durations fall back to the configured thresholds.
type CleanupOptions struct {
	Force   bool
	MaxAge  time.Duration
	MaxIdle time.Duration
	UserID  string
}

// CleanupReport summarizes one sweep.
type CleanupReport struct {
	Examined int
	Reaped   int
	Reasons  map[string]string // deployment id -> reason
}

// Orchestrator owns the deployment lifecycle: status, sandbox handles,
// and the per-user concurrency ledger. Every status transition persists
// before the in-memory update is published.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	store    storage.Store
	provider sandbox.Provider
	hub      *loghub.Hub
	facade   metrics.Facade
	sink     StatusSink

	mu      sync.Mutex
	handles map[string]sandbox.Sandbox    // deployment id -> live handle
	cancels map[string]context.CancelFunc // deployment id -> in-flight pipeline

	// OnDestroy is invoked after a deployment reaches destroyed, so
	// sibling components can drop their per-deployment state.
	OnDestroy func(deploymentID string)

	sleep  func(time.Duration) // swapped out by tests
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates an orchestrator. sink may be nil.
func New(cfg config.OrchestratorConfig, store storage.Store, provider sandbox.Provider, hub *loghub.Hub, facade metrics.Facade, sink StatusSink) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		provider: provider,
		hub:      hub,
		facade:   facade,
		sink:     sink,
		handles:  make(map[string]sandbox.Sandbox),
		cancels:  make(map[string]context.CancelFunc),
		sleep:    time.Sleep,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("orchestrator"),
	}
}

// Start begins the periodic cleanup sweep.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go o.run()
	o.logger.Info().
		Int("max_concurrent_per_user", o.cfg.MaxConcurrentPerUser).
		Dur("deploy_timeout", o.cfg.DeployTimeout).
		Msg("Orchestrator started")
}

// Stop cancels in-flight pipelines and halts the sweep.
func (o *Orchestrator) Stop() {
	close(o.stopCh)

	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// Deploy provisions, builds, and starts a sandbox for the file set.
// It returns once the deployment is running, or with the classified
// error that exhausted recovery.
func (o *Orchestrator) Deploy(ctx context.Context, userID, projectID string, files map[string][]byte, cfg DeployConfig) (*types.Deployment, error) {
	start := time.Now()

	project, err := o.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if project.UserID != userID {
		return nil, types.AccessDeniedf("project %s is not owned by user %s", projectID, userID)
	}
	if len(files) == 0 {
		return nil, types.Validationf("deploy needs at least one file")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = o.cfg.DeployTimeout
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}

	files, kind, err := o.classify(files)
	if err != nil {
		return nil, err
	}

	if err := o.enforceUserCap(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now()
	d := &types.Deployment{
		ID:             uuid.New().String(),
		ProjectID:      projectID,
		UserID:         userID,
		Status:         types.StatusPending,
		RuntimeKind:    kind,
		InstanceCount:  1,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	if err := o.store.CreateDeployment(d); err != nil {
		return nil, err
	}
	metrics.DeploymentsStarted.Inc()

	pipelineCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	o.mu.Lock()
	o.cancels[d.ID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, d.ID)
		o.mu.Unlock()
	}()

	o.systemLog(d.ID, types.LogInfo, "deployment accepted, runtime "+string(kind))

	if err := o.runPipeline(pipelineCtx, d, files, cfg); err != nil {
		o.markFailed(d, err)
		return d, err
	}

	metrics.DeployDuration.Observe(time.Since(start).Seconds())
	o.logger.Info().
		Str("deployment_id", d.ID).
		Str("user_id", userID).
		Str("public_url", d.PublicURL).
		Dur("took", time.Since(start)).
		Msg("Deployment running")
	return d, nil
}

// Monitor returns the deployment's current state plus its latest
// metrics and recent logs. Counts as client activity.
func (o *Orchestrator) Monitor(deploymentID string) (*MonitorReport, error) {
	// Touch activity transactionally; writing back a snapshot could
	// resurrect a status a concurrent Cancel just persisted.
	var d *types.Deployment
	err := o.store.Tx(func(tx storage.TxStore) error {
		current, err := tx.GetDeployment(deploymentID)
		if err != nil {
			return err
		}
		current.LastActivityAt = time.Now()
		d = current
		return tx.UpdateDeployment(current)
	})
	if err != nil {
		return nil, err
	}

	snap := o.facade.GetCurrent()
	return &MonitorReport{
		Deployment: d,
		Health:     healthOf(d.Status),
		Metrics:    snap.Deployments[deploymentID],
		RecentLogs: o.hub.Recent(deploymentID, 50),
	}, nil
}

// Cancel transitions the deployment to destroyed and releases its
// sandbox. Reports whether the deployment is destroyed afterwards;
// repeated calls are safe.
func (o *Orchestrator) Cancel(deploymentID string) (bool, error) {
	d, err := o.store.GetDeployment(deploymentID)
	if err != nil {
		return false, err
	}
	if d.Status == types.StatusDestroyed {
		return true, nil
	}
	if d.Status == types.StatusFailed {
		// Failed is terminal; there is only a sandbox left to release.
		o.releaseHandle(deploymentID)
		return false, nil
	}

	o.mu.Lock()
	if cancel, ok := o.cancels[deploymentID]; ok {
		cancel()
	}
	o.mu.Unlock()

	if err := o.transition(d, types.StatusDestroyed); err != nil {
		return false, err
	}
	o.releaseHandle(deploymentID)
	o.systemLog(deploymentID, types.LogInfo, "deployment cancelled")
	return true, nil
}

// CleanupSandboxes sweeps tracked sandboxes and reaps the ones that
// are orphaned, terminal, too old, or idle. Forced sweeps ignore
// age and idle and honor only the user filter.
func (o *Orchestrator) CleanupSandboxes(opts CleanupOptions) *CleanupReport {
	if opts.MaxAge <= 0 {
		opts.MaxAge = o.cfg.SandboxMaxAge
	}
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = o.cfg.SandboxMaxIdle
	}

	o.mu.Lock()
	tracked := make(map[string]sandbox.Sandbox, len(o.handles))
	for id, h := range o.handles {
		tracked[id] = h
	}
	o.mu.Unlock()

	report := &CleanupReport{Reasons: make(map[string]string)}
	now := time.Now()

	for id := range tracked {
		report.Examined++

		d, err := o.store.GetDeployment(id)
		reason := ""
		switch {
		case types.IsNotFound(err):
			reason = "orphan"
		case err != nil:
			o.logger.Error().Err(err).Str("deployment_id", id).Msg("Cleanup lookup failed")
			continue
		case opts.UserID != "" && d.UserID != opts.UserID:
			continue
		case opts.Force:
			reason = "forced"
		case d.Status.IsTerminal():
			reason = "terminal"
		case now.Sub(d.CreatedAt) > opts.MaxAge:
			reason = "max_age"
		case now.Sub(d.LastActivityAt) > opts.MaxIdle:
			reason = "max_idle"
		default:
			continue
		}

		o.reap(d, id, reason)
		report.Reaped++
		report.Reasons[id] = reason
	}
	return report
}

// reap releases one sandbox and persists destroyed where the record
// still allows it. d is nil for orphans.
func (o *Orchestrator) reap(d *types.Deployment, deploymentID, reason string) {
	o.releaseHandle(deploymentID)

	if d != nil && !d.Status.IsTerminal() {
		if err := o.transition(d, types.StatusDestroyed); err != nil {
			o.logger.Error().Err(err).Str("deployment_id", deploymentID).Msg("Reap transition failed")
		}
	}
	metrics.SandboxesReaped.WithLabelValues(reason).Inc()
	o.systemLog(deploymentID, types.LogInfo, "sandbox reaped: "+reason)
	o.logger.Info().Str("deployment_id", deploymentID).Str("reason", reason).Msg("Sandbox reaped")
}

// releaseHandle destroys the sandbox in a detached task and forgets it.
func (o *Orchestrator) releaseHandle(deploymentID string) {
	o.mu.Lock()
	h, ok := o.handles[deploymentID]
	delete(o.handles, deploymentID)
	o.mu.Unlock()
	if !ok {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.Destroy(ctx); err != nil {
			o.logger.Warn().Err(err).Str("deployment_id", deploymentID).Msg("Sandbox destroy failed")
		}
	}()
}

// enforceUserCap force-destroys the user's oldest deployment when the
// non-terminal count has reached the limit.
func (o *Orchestrator) enforceUserCap(ctx context.Context, userID string) error {
	deployments, err := o.store.ListDeploymentsByUser(userID)
	if err != nil {
		return err
	}

	var active []*types.Deployment
	for _, d := range deployments {
		if !d.Status.IsTerminal() {
			active = append(active, d)
		}
	}
	if len(active) < o.cfg.MaxConcurrentPerUser {
		return nil
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	oldest := active[0]

	o.logger.Warn().
		Str("user_id", userID).
		Str("deployment_id", oldest.ID).
		Int("active", len(active)).
		Msg("User concurrency limit reached, reaping oldest deployment")

	o.mu.Lock()
	if cancel, ok := o.cancels[oldest.ID]; ok {
		cancel()
	}
	o.mu.Unlock()

	o.reap(oldest, oldest.ID, "user_limit")
	return nil
}

// transition persists the status change, then publishes it. Illegal
// edges are invariant violations and are never written.
func (o *Orchestrator) transition(d *types.Deployment, next types.DeploymentStatus) error {
	prev := d.Status

	err := o.store.Tx(func(tx storage.TxStore) error {
		current, err := tx.GetDeployment(d.ID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(next) {
			return types.Invariantf("illegal transition %s -> %s for deployment %s", current.Status, next, d.ID)
		}
		prev = current.Status
		current.Status = next
		current.SandboxID = d.SandboxID
		current.PublicURL = d.PublicURL
		current.UpdatedAt = time.Now()
		current.LastActivityAt = current.UpdatedAt
		*d = *current
		return tx.UpdateDeployment(current)
	})
	if err != nil {
		if types.CategoryOf(err) == types.ErrInvariant {
			o.logger.Error().Err(err).Str("deployment_id", d.ID).Msg("Illegal status transition rejected")
		}
		return err
	}

	if o.sink != nil {
		o.sink.BroadcastStatus(d.ID, next, prev)
	}
	o.hub.Append(types.LogEntry{
		DeploymentID: d.ID,
		Level:        types.LogInfo,
		Source:       types.SourceDeployment,
		Message:      "status " + string(prev) + " -> " + string(next),
	})
	if next == types.StatusDestroyed && o.OnDestroy != nil {
		o.OnDestroy(d.ID)
	}
	return nil
}

// markFailed moves a deployment to failed unless a concurrent cancel
// already destroyed it.
func (o *Orchestrator) markFailed(d *types.Deployment, cause error) {
	current, err := o.store.GetDeployment(d.ID)
	if err == nil && current.Status.IsTerminal() {
		d.Status = current.Status
		return
	}

	o.systemLog(d.ID, types.LogError, "deployment failed: "+cause.Error())
	if err := o.transition(d, types.StatusFailed); err != nil {
		o.logger.Error().Err(err).Str("deployment_id", d.ID).Msg("Failed-state transition rejected")
	}
	o.releaseHandle(d.ID)
	metrics.DeploymentsFailed.Inc()
	metrics.ErrorsTotal.WithLabelValues(string(types.CategoryOf(cause)), "orchestrator").Inc()
}

// classify inspects the upload for a manifest and expands it through
// the scaffold generator when present.
func (o *Orchestrator) classify(files map[string][]byte) (map[string][]byte, types.RuntimeKind, error) {
	name, ok := scaffold.FindManifest(files)
	if !ok {
		return files, types.RuntimeGenericNode, nil
	}

	m, err := scaffold.Parse(files[name])
	if err != nil {
		return nil, "", err
	}
	return scaffold.Generate(m, files), types.RuntimeManifestGenerated, nil
}

func (o *Orchestrator) systemLog(deploymentID string, level types.LogLevel, msg string) {
	o.hub.Append(types.LogEntry{
		DeploymentID: deploymentID,
		Level:        level,
		Source:       types.SourceSystem,
		Message:      msg,
	})
}

func (o *Orchestrator) run() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.CleanupSandboxes(CleanupOptions{})
		case <-o.stopCh:
			return
		}
	}
}

func healthOf(s types.DeploymentStatus) string {
	switch s {
	case types.StatusRunning:
		return "healthy"
	case types.StatusFailed:
		return "unhealthy"
	case types.StatusPending, types.StatusProvisioning, types.StatusBuilding:
		return "starting"
	default:
		return string(s)
	}
}
