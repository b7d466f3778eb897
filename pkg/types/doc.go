/*
Package types defines the core data structures shared across the control
plane.

This package contains the domain model for the deployment platform:
deployments and their lifecycle states, scaling policies and audit events,
resource usage samples, log entries, and the closed error taxonomy every
component classifies failures into.

# Core Types

Deployment lifecycle:
  - Deployment: one sandbox plus its metadata and observability streams
  - DeploymentStatus: pending → provisioning → building → running →
    stopped → destroyed, with failed reachable from every active state
  - RuntimeKind: generic_node or manifest_generated

Autoscaling:
  - ScalingPolicy: weighted metric thresholds bound to one deployment
  - MetricThreshold: metric, comparison, threshold, weight
  - ScalingEvent: append-only audit record of scale actions

Observability:
  - LogEntry: one log line with a per-deployment sequence number
  - ResourceSample: one usage point (cpu, memory, io, cost)

Errors:
  - ErrorCategory / DomainError: the closed failure classification that
    drives retry, surfacing, and health accounting

All types are plain serializable structs; mutation ownership is documented
on the component that owns each entity (orchestrator owns Deployment
status, loghub owns log buffers, and so on).
*/
package types
