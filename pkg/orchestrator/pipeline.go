package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/log"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/sandbox"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/storage"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
)

// failureKind classifies a pipeline failure for the recovery policy.
type failureKind string

const (
	failTimeout  failureKind = "timeout"
	failNetwork  failureKind = "network"
	failResource failureKind = "resource"
	failSandbox  failureKind = "sandbox"
	failUnknown  failureKind = "unknown"
)

// severity grades a failure for logging.
type severity string

const (
	sevLow      severity = "low"
	sevMedium   severity = "medium"
	sevHigh     severity = "high"
	sevCritical severity = "critical"
)

// pipelineError carries the stage a failure happened in.
type pipelineError struct {
	stage types.DeploymentStatus
	err   error
}

func (e *pipelineError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *pipelineError) Unwrap() error { return e.err }

func stageErr(stage types.DeploymentStatus, err error) error {
	return &pipelineError{stage: stage, err: err}
}

// runPipeline drives a deployment from pending to running, retrying
// recoverable failures with exponential backoff and falling back to a
// smaller template on provisioning resource pressure.
func (o *Orchestrator) runPipeline(ctx context.Context, d *types.Deployment, files map[string][]byte, cfg DeployConfig) error {
	template := sandbox.DefaultTemplate
	logger := log.WithDeploymentID(d.ID)

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return stageErr(d.Status, err)
		}

		lastErr = o.attempt(ctx, d, files, cfg, template)
		if lastErr == nil {
			return nil
		}

		// The attempt's sandbox, if any, is dead weight now.
		o.releaseHandle(d.ID)

		kind, sev := classifyFailure(lastErr)
		stage := failedStage(lastErr)
		logger.Warn().
			Str("kind", string(kind)).
			Str("severity", string(sev)).
			Str("stage", string(stage)).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("Deployment attempt failed")

		switch {
		case kind == failSandbox:
			return lastErr
		case kind == failResource && stage != types.StatusProvisioning:
			return lastErr
		case kind == failResource:
			template = sandbox.FallbackTemplate(template)
			if template == "" {
				return lastErr
			}
			o.systemLog(d.ID, types.LogWarn, "resource pressure, falling back to template "+template)
		case kind == failNetwork:
			o.sleep(2 * backoff(attempt))
		default: // timeout, unknown
			o.sleep(backoff(attempt))
		}
	}
	return lastErr
}

// attempt runs one full pass: provision a sandbox, upload, install,
// start, and resolve the public host.
func (o *Orchestrator) attempt(ctx context.Context, d *types.Deployment, files map[string][]byte, cfg DeployConfig, template string) error {
	// Retries re-enter with the status of the failed stage; transitions
	// already taken are not repeated.
	if d.Status == types.StatusPending {
		if err := o.transition(d, types.StatusProvisioning); err != nil {
			return stageErr(types.StatusPending, err)
		}
	}

	sb, err := o.provider.Create(ctx, template)
	if err != nil {
		return stageErr(types.StatusProvisioning, err)
	}

	d.SandboxID = sb.ID()
	o.mu.Lock()
	o.handles[d.ID] = sb
	o.mu.Unlock()
	// Persist only the sandbox id; the stored record stays the source
	// of truth for status so a concurrent cancel is not overwritten.
	err = o.store.Tx(func(tx storage.TxStore) error {
		current, err := tx.GetDeployment(d.ID)
		if err != nil {
			return err
		}
		current.SandboxID = d.SandboxID
		if err := tx.UpdateDeployment(current); err != nil {
			return err
		}
		*d = *current
		return nil
	})
	if err != nil {
		return stageErr(types.StatusProvisioning, err)
	}
	o.systemLog(d.ID, types.LogInfo, "sandbox "+sb.ID()+" provisioned from template "+template)

	for path, content := range files {
		if err := sb.WriteFile(ctx, path, content); err != nil {
			return stageErr(types.StatusProvisioning, err)
		}
	}

	if d.Status == types.StatusProvisioning {
		if err := o.transition(d, types.StatusBuilding); err != nil {
			return stageErr(types.StatusProvisioning, err)
		}
	}

	// Dependency install gets half of the remaining deployment budget.
	installCtx := ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		installCtx, cancel = context.WithTimeout(ctx, time.Until(deadline)/2)
		defer cancel()
	}
	res, err := sb.Run(installCtx, "npm install", sandbox.RunOptions{Env: cfg.Env})
	if err != nil {
		return stageErr(types.StatusBuilding, err)
	}
	if res.ExitCode != 0 {
		return stageErr(types.StatusBuilding, fmt.Errorf("npm install exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)))
	}
	o.buildLog(d.ID, "npm install completed")

	start, err := sb.Run(ctx, "npm start", sandbox.RunOptions{Background: true, Env: cfg.Env})
	if err != nil {
		return stageErr(types.StatusBuilding, err)
	}
	o.buildLog(d.ID, fmt.Sprintf("application started, pid %d", start.PID))

	// Host resolution failure is fatal for the attempt; running is
	// entered only with a public URL in hand.
	url, err := sb.Host(ctx, cfg.Port)
	if err != nil {
		return stageErr(types.StatusBuilding, err)
	}
	d.PublicURL = url

	if err := o.transition(d, types.StatusRunning); err != nil {
		return stageErr(types.StatusBuilding, err)
	}
	return nil
}

// backoff returns min(1s * 2^attempt, 30s).
func backoff(attempt int) time.Duration {
	d := time.Second << attempt
	if d > 30*time.Second || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func failedStage(err error) types.DeploymentStatus {
	var pe *pipelineError
	if errors.As(err, &pe) {
		return pe.stage
	}
	return ""
}

// classifyFailure maps an error into the recovery taxonomy.
func classifyFailure(err error) (failureKind, severity) {
	switch types.CategoryOf(err) {
	case types.ErrTimeout:
		return failTimeout, sevMedium
	case types.ErrResource:
		return failResource, sevHigh
	case types.ErrQuotaExceeded:
		return failResource, sevHigh
	case types.ErrInvariant:
		return failSandbox, sevCritical
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failTimeout, sevMedium
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return failTimeout, sevMedium
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection") || strings.Contains(msg, "refused") || strings.Contains(msg, "dns"):
		return failNetwork, sevMedium
	case strings.Contains(msg, "memory") || strings.Contains(msg, "disk") || strings.Contains(msg, "capacity") || strings.Contains(msg, "resource"):
		return failResource, sevHigh
	case strings.Contains(msg, "sandbox"):
		return failSandbox, sevCritical
	default:
		return failUnknown, sevLow
	}
}

func (o *Orchestrator) buildLog(deploymentID, msg string) {
	o.hub.Append(types.LogEntry{
		DeploymentID: deploymentID,
		Level:        types.LogInfo,
		Source:       types.SourceBuild,
		Message:      msg,
	})
}
