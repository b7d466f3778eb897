package health

import (
	"encoding/json"
	"net/http"
	"time"
)

type probeView struct {
	Status         string         `json:"status"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	Details        map[string]any `json:"details,omitempty"`
	Error          string         `json:"error,omitempty"`
	CheckedAt      time.Time      `json:"checked_at"`
}

type reportView struct {
	Status    string               `json:"status"`
	Probes    map[string]probeView `json:"probes"`
	CheckedAt time.Time            `json:"checked_at"`
}

// Handler serves the full report. Overall unhealthy maps to 503.
func (s *Supervisor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := s.Current()

		view := reportView{
			Status:    string(report.Status),
			Probes:    make(map[string]probeView, len(report.Probes)),
			CheckedAt: report.CheckedAt,
		}
		for name, p := range report.Probes {
			pv := probeView{
				Status:         string(p.Status),
				ResponseTimeMs: p.ResponseTime.Milliseconds(),
				Details:        p.Details,
				CheckedAt:      p.CheckedAt,
			}
			if p.Err != nil {
				pv.Error = p.Err.Error()
			}
			view.Probes[name] = pv
		}

		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(view)
	}
}

// ReadyHandler serves readiness: 503 while any critical probe is
// unhealthy.
func (s *Supervisor) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]bool{"ready": false})
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"ready": true})
	}
}

// LiveHandler always answers 200.
func (s *Supervisor) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"alive": s.Alive()})
	}
}
