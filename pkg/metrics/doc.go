/*
Package metrics provides Prometheus instrumentation and the metrics
facade the decision-making components read from.

# Collectors

Package-level Prometheus collectors cover deployments, autoscaling
decisions, log buffering, WebSocket connections, API requests, classified
errors, and health probes. All are registered in init; Handler exposes
the standard promhttp endpoint.

# Facade

The Facade interface narrows what the autoscaler, optimizer, and health
supervisor may observe to a single GetCurrent snapshot: host cpu, memory,
load, uptime, plus the latest raw per-deployment application metrics.
SystemFacade samples the host through procfs and aggregates deployment
metrics reported by collectors; StaticFacade serves tests and
development mode with fixed readings.

Raw deployment metric units are fixed here and normalized by consumers:
cpu and memory in percent, requests in req/s, response_time in
milliseconds, error_rate in percent.
*/
package metrics
