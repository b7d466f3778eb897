/*
Package sandbox defines the capability surface the control plane
consumes from the external cloud sandbox runtime.

A Provider creates sandboxes from named templates and scales the
instance pool behind them; a Sandbox exposes file writes, command
execution (foreground or background), external host resolution, and
best-effort destruction. The control plane never sees inside the
runtime: handles carry only an opaque id, and every call takes a
context so callers own deadlines and cancellation.

Two implementations ship: HTTPProvider speaks to the runtime's REST
control API and is what production wires in; FakeProvider is an
in-memory double with failure injection, used by tests and local
development mode.

FallbackTemplate encodes the lesser-resource template chain the
orchestrator walks when provisioning fails on capacity.
*/
package sandbox
