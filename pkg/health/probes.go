package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/metrics"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/storage"
	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
)

// ConnectionCounter is the slice of the gateway the probe needs.
type ConnectionCounter interface {
	ConnectionCount() int
}

// DatabaseProbe checks the datastore with a cheap keyed read. A
// not_found answer proves the store is serving.
func DatabaseProbe(store storage.Store) ProbeFunc {
	return func(ctx context.Context) Result {
		_, err := store.GetUser("health-probe")
		if err != nil && !types.IsNotFound(err) {
			return Result{Status: StatusUnhealthy, Err: err}
		}
		return Result{Status: StatusHealthy}
	}
}

// MetricsProbe checks that the metrics facade serves snapshots.
func MetricsProbe(facade metrics.Facade) ProbeFunc {
	return func(ctx context.Context) Result {
		snap := facade.GetCurrent()
		return Result{
			Status: StatusHealthy,
			Details: map[string]any{
				"cpu_pct":     snap.CPUUsagePct,
				"memory_pct":  snap.MemoryUsagePct,
				"deployments": len(snap.Deployments),
			},
		}
	}
}

// GatewayProbe degrades when the gateway nears its connection cap.
func GatewayProbe(gw ConnectionCounter, maxConnections int) ProbeFunc {
	return func(ctx context.Context) Result {
		n := gw.ConnectionCount()
		status := StatusHealthy
		if maxConnections > 0 && float64(n) > 0.9*float64(maxConnections) {
			status = StatusDegraded
		}
		return Result{
			Status:  status,
			Details: map[string]any{"connections": n, "max_connections": maxConnections},
		}
	}
}

// SystemProbe classifies host cpu, memory, and load pressure.
func SystemProbe(facade metrics.Facade) ProbeFunc {
	return func(ctx context.Context) Result {
		snap := facade.GetCurrent()
		status := StatusHealthy
		switch {
		case snap.CPUUsagePct > 95 || snap.MemoryUsagePct > 95:
			status = StatusUnhealthy
		case snap.CPUUsagePct > 85 || snap.MemoryUsagePct > 85:
			status = StatusDegraded
		}
		return Result{
			Status: status,
			Details: map[string]any{
				"cpu_pct":    snap.CPUUsagePct,
				"memory_pct": snap.MemoryUsagePct,
				"load_1m":    snap.Load1,
				"uptime_s":   snap.Uptime.Seconds(),
			},
		}
	}
}

// NetworkProbe checks outbound DNS resolution and HTTP reachability.
func NetworkProbe(client *http.Client, checkURL, dnsHost string) ProbeFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) Result {
		if _, err := net.DefaultResolver.LookupHost(ctx, dnsHost); err != nil {
			return Result{Status: StatusUnhealthy, Err: fmt.Errorf("dns lookup %s: %w", dnsHost, err)}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
		if err != nil {
			return Result{Status: StatusUnhealthy, Err: err}
		}
		resp, err := client.Do(req)
		if err != nil {
			return Result{Status: StatusUnhealthy, Err: err}
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return Result{Status: StatusDegraded, Details: map[string]any{"status_code": resp.StatusCode}}
		}
		return Result{Status: StatusHealthy, Details: map[string]any{"status_code": resp.StatusCode}}
	}
}

// DependenciesProbe checks each configured external URL. One failure
// degrades; all failing is unhealthy.
func DependenciesProbe(client *http.Client, urls []string) ProbeFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context) Result {
		if len(urls) == 0 {
			return Result{Status: StatusHealthy, Details: map[string]any{"configured": 0}}
		}

		failed := make([]string, 0)
		for _, u := range urls {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				failed = append(failed, u)
				continue
			}
			resp, err := client.Do(req)
			if err != nil || resp.StatusCode >= 500 {
				failed = append(failed, u)
			}
			if err == nil {
				resp.Body.Close()
			}
		}

		details := map[string]any{"configured": len(urls), "failed": failed}
		switch {
		case len(failed) == len(urls):
			return Result{Status: StatusUnhealthy, Details: details}
		case len(failed) > 0:
			return Result{Status: StatusDegraded, Details: details}
		default:
			return Result{Status: StatusHealthy, Details: details}
		}
	}
}

// MockProbe always reports mocked. Development mode substitutes this
// for probes whose collaborators are not wired.
func MockProbe() ProbeFunc {
	return func(ctx context.Context) Result {
		return Result{Status: StatusMocked}
	}
}
