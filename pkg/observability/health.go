package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus is the overall state reported by /health.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const defaultProbeTimeout = 2 * time.Second

// PlaygroundHealth is what a running playground reports about itself.
type PlaygroundHealth struct {
	Closed     bool          `json:"closed"`
	Session    string        `json:"session"`
	Epoch      int           `json:"epoch"`
	Transcript int           `json:"transcript"`
	Persist    PersistHealth `json:"persist"`
}

// PersistHealth describes writes to the shareable location.
type PersistHealth struct {
	// Breaker is the state of the circuit guarding location writes.
	Breaker  string `json:"breaker"`
	Failures int    `json:"failures"`
	// Pending is set while an edit waits out the quiet interval.
	Pending   bool      `json:"pending"`
	LastError string    `json:"last_error,omitempty"`
	LastWrite time.Time `json:"last_write,omitzero"`
}

// Reporter is implemented by the playground.
type Reporter interface {
	Health() PlaygroundHealth
}

// HealthReport is the body of /health.
type HealthReport struct {
	Status     HealthStatus     `json:"status"`
	Version    string           `json:"version"`
	Uptime     string           `json:"uptime"`
	Playground PlaygroundHealth `json:"playground"`
	// Location is "ok" or the error from reading the shareable location.
	Location string   `json:"location,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`
}

// HealthChecker derives service health from the playground state and an
// optional read probe of the shareable location.
type HealthChecker struct {
	reporter     Reporter
	probe        func(context.Context) error
	probeTimeout time.Duration
	version      string
	started      time.Time
}

// NewHealthChecker creates a checker for reporter. probe may be nil.
func NewHealthChecker(version string, reporter Reporter, probe func(context.Context) error) *HealthChecker {
	return &HealthChecker{
		reporter:     reporter,
		probe:        probe,
		probeTimeout: defaultProbeTimeout,
		version:      version,
		started:      time.Now(),
	}
}

// Check evaluates health. A closed session is unhealthy. Suspended or
// failing location writes and an unreadable location only degrade the
// service, since the REPL keeps working without sharing.
func (hc *HealthChecker) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:     HealthStatusHealthy,
		Version:    hc.version,
		Uptime:     time.Since(hc.started).Round(time.Second).String(),
		Playground: hc.reporter.Health(),
	}
	degrade := func(reason string) {
		if report.Status == HealthStatusHealthy {
			report.Status = HealthStatusDegraded
		}
		report.Reasons = append(report.Reasons, reason)
	}

	persist := report.Playground.Persist
	if persist.Breaker != "" && persist.Breaker != "closed" {
		degrade("location writes suspended, breaker " + persist.Breaker)
	} else if persist.LastError != "" {
		degrade("last location write failed")
	}

	if hc.probe != nil {
		if err := hc.runProbe(ctx); err != nil {
			report.Location = err.Error()
			degrade("location unreadable")
		} else {
			report.Location = "ok"
		}
	}

	if report.Playground.Closed {
		report.Status = HealthStatusUnhealthy
		report.Reasons = append(report.Reasons, "session closed")
	}
	return report
}

// runProbe bounds the probe by probeTimeout even if it ignores ctx.
func (hc *HealthChecker) runProbe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, hc.probeTimeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- hc.probe(ctx)
	}()
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthHandler serves the full report. Only an unhealthy service answers 503.
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hc.Check(r.Context())
		status := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeHealth(w, status, report)
	}
}

// ReadinessHandler reports ready while the session accepts events. The
// persist state is included so a degraded slot is visible to the prober.
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hc.Check(r.Context())
		body := map[string]any{
			"status":  "ready",
			"persist": report.Playground.Persist,
		}
		status := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			body["status"] = "not ready"
			status = http.StatusServiceUnavailable
		}
		writeHealth(w, status, body)
	}
}

// LivenessHandler answers as long as the process serves HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

func writeHealth(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
