/*
Package autoscaler adjusts deployment instance counts from weighted
metric policies.

Each enabled policy is evaluated on a fixed tick. Raw metrics are
normalized into [0,1], scored against the policy's thresholds, and the
weighted score drives a one-step scale_up or scale_down decision
clamped to the policy's instance range. Confidence is the fraction of
thresholds that triggered.

A successful scale action starts the policy's cooldown, during which
evaluation is forced to no_change. Manual scaling bypasses and clears
the cooldown. Execution goes through the sandbox collaborator; the new
instance count and the audit event commit in one transaction, and a
failed execution records nothing so the next tick retries.
*/
package autoscaler
