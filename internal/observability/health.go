package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Version is reported by the health endpoints.
var Version = "dev"

const serviceName = "interview-orchestrator"

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Optional  bool   `json:"optional,omitempty"`
}

// HealthCheckFunc reports a dependency's health; nil means healthy.
type HealthCheckFunc func(ctx context.Context) error

// Check is a named dependency check. An optional check is reported but
// does not make the service unready.
type Check struct {
	Name     string
	Func     HealthCheckFunc
	Optional bool
}

// HealthCheckHandler handles liveness requests
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Service:   serviceName,
			Version:   Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadinessHandler runs every check concurrently under a shared timeout.
func ReadinessHandler(timeout time.Duration, checks ...Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		deps := RunChecks(ctx, checks...)
		ready := true
		for _, c := range checks {
			if dep, ok := deps[c.Name]; ok && dep.Status != "healthy" && !c.Optional {
				ready = false
			}
		}

		status := HealthStatus{
			Status:       "ready",
			Service:      serviceName,
			Version:      Version,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: deps,
		}
		code := http.StatusOK
		if !ready {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

// RunChecks runs checks concurrently and returns their status by name.
func RunChecks(ctx context.Context, checks ...Check) map[string]DependencyStatus {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		deps = make(map[string]DependencyStatus, len(checks))
	)
	for _, c := range checks {
		if c.Func == nil {
			continue
		}
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()
			start := time.Now()
			err := c.Func(ctx)
			dep := DependencyStatus{
				Status:    "healthy",
				LatencyMs: time.Since(start).Milliseconds(),
				Optional:  c.Optional,
			}
			if err != nil {
				dep.Status = "unhealthy"
				dep.Message = err.Error()
			}
			mu.Lock()
			deps[c.Name] = dep
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return deps
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
