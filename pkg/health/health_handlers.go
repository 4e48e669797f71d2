package health

import (
	"encoding/json"
	"net/http"
)

// Register mounts the three probe endpoints on mux.
func (hc *HealthChecker) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", hc.HTTPHandler())
	mux.HandleFunc("/health/ready", hc.ReadinessHandler())
	mux.HandleFunc("/health/live", hc.LivenessHandler())
}

// HTTPHandler serves the full report. Degraded still answers 200.
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check()
		code := http.StatusOK
		if response.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeResponse(w, code, response)
	}
}

// ReadinessHandler answers 200 only when every readiness probe is healthy.
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return binary(hc.CheckReadiness)
}

// LivenessHandler answers 200 only when every liveness probe is healthy.
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return binary(hc.CheckLiveness)
}

func binary(check func() Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := check()
		code := http.StatusOK
		if response.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeResponse(w, code, response)
	}
}

func writeResponse(w http.ResponseWriter, code int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}
