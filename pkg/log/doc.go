/*
Package log provides structured logging for the control plane built on
zerolog.

Init configures the global logger once at process start; components then
derive child loggers tagged with their name:

	logger := log.WithComponent("orchestrator")
	logger.Info().Str("deployment_id", id).Msg("deployment running")

Console output is human readable for development; JSON output is intended
for production log shipping. Field helpers (WithDeploymentID, WithUserID)
keep field names consistent across components.
*/
package log
