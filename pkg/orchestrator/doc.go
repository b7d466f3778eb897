/*
Package orchestrator drives the deployment lifecycle.

Deploy classifies the uploaded file set (a manifest delegates to the
scaffold generator), enforces the per-user concurrency cap by reaping
the user's oldest deployment, and runs the pipeline: provision a
sandbox, upload files, install dependencies, start the app in the
background, and resolve the public host. Status moves through
pending, provisioning, building, and running; failed and destroyed
are terminal. Every transition persists before it is published to the
gateway and the log hub.

Failures are classified into timeout, network, resource, sandbox, and
unknown. Timeouts and unknowns retry with exponential backoff capped
at 30s, network failures with doubled backoff, and provisioning
resource pressure falls back through smaller sandbox templates.
Sandbox failures and non-provisioning resource failures abort.

A periodic sweep reaps sandboxes that are orphaned, terminal, past
max age, or idle too long; forced sweeps ignore age and idle and
honor only the user filter.
*/
package orchestrator
