package sandbox

import (
	"context"
)

// CommandResult is the outcome of one command run inside a sandbox.
// Background commands return a PID and empty output.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	PID      int
}

// RunOptions controls command execution.
type RunOptions struct {
	Background bool
	Env        map[string]string
}

// Sandbox is an isolated execution environment provided by the external
// cloud runtime: a process, its files, and a reachable network port.
type Sandbox interface {
	// ID returns the provider-assigned opaque identifier.
	ID() string

	// WriteFile writes path inside the sandbox; overwrite is idempotent.
	WriteFile(ctx context.Context, path string, data []byte) error

	// Run executes cmd. Foreground runs block until exit; background
	// runs return immediately with a PID.
	Run(ctx context.Context, cmd string, opts RunOptions) (*CommandResult, error)

	// Host returns the external URL routing to the given internal port.
	Host(ctx context.Context, port int) (string, error)

	// Destroy terminates the sandbox; best effort.
	Destroy(ctx context.Context) error
}

// Provider is the capability set the control plane consumes from the
// cloud sandbox runtime.
type Provider interface {
	// Create provisions a sandbox from a named template.
	Create(ctx context.Context, template string) (Sandbox, error)

	// Scale sets the instance count behind an existing sandbox.
	Scale(ctx context.Context, sandboxID string, instances int) error
}

// DefaultTemplate is used when the caller does not pick one.
const DefaultTemplate = "node-standard"

// fallbacks maps each template to its next-smaller sibling. Used when
// provisioning fails on resource capacity.
var fallbacks = map[string]string{
	"node-large":    "node-standard",
	"node-standard": "node-small",
	"node-small":    "node-micro",
}

// FallbackTemplate returns the lesser-resource template to retry with,
// or "" when there is nothing smaller.
func FallbackTemplate(template string) string {
	return fallbacks[template]
}
