/*
Package optimizer watches deployment resource usage and suggests
right-sizing.

TrackUsage samples the metrics facade into a bounded per-deployment
ring (one day at a five-minute cadence) and persists each sample; a
background loop drives it for every running deployment.
CostAnalytics averages a window and splits total cost into fixed
compute, storage, network, and other shares. Recommendations applies
deterministic utilization rules; the efficiency score treats 75%
utilization as the ideal band.

Budgets pair a monthly dollar limit with warning and critical
thresholds. Crossing a threshold publishes one budget:alert through
the gateway per threshold per month.
*/
package optimizer
