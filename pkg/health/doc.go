/*
Package health supervises the control plane's own wellbeing.

A registry of named probes runs on a fixed tick, each under its own
circuit breaker and timeout. A probe that times out counts as
unhealthy. Consecutive failures open the breaker; while open, the
probe is skipped and reported unknown with the cooldown remaining.
After the cooldown, trial runs in half_open either close the breaker
or snap it open again.

Per-probe results collapse into an overall status: more than half
unhealthy is unhealthy, any unhealthy or degraded probe degrades the
whole, otherwise healthy. Readiness requires that no critical probe
(database, metrics) is unhealthy; liveness always answers alive.

Built-in probes cover the datastore, the metrics facade, the WebSocket
gateway, host system pressure, outbound network reachability, and
configured external dependencies.
*/
package health
