package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Version   string           `json:"version,omitempty"`
	Checks    map[string]Check `json:"checks,omitempty"`
	System    *SystemInfo      `json:"system,omitempty"`
}

// Check represents a single health check result
type Check struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_mb"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusDisabled  = "disabled"
)

// backlogFactor is how many waiting jobs per slot count as a backlog.
const backlogFactor = 10

// Health returns basic health status (for load balancer)
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.Version,
	}
	writeJSON(w, http.StatusOK, status)
}

// Ready checks every backend a job depends on. The transcription and LLM
// services are required; the cache and the archive only degrade the service.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	probes := []struct {
		name     string
		pinger   Pinger
		required bool
	}{
		{"whisper", h.Whisper, true},
		{"llm", h.LLM, true},
		{"redis", h.Redis, false},
		{"database", h.DB, false},
	}

	checks := make(map[string]Check, len(probes)+1)
	overallStatus := StatusHealthy

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range probes {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := ping(ctx, p.pinger)

			mu.Lock()
			defer mu.Unlock()
			checks[p.name] = c
			switch {
			case c.Status != StatusUnhealthy:
			case p.required:
				overallStatus = StatusUnhealthy
			case overallStatus == StatusHealthy:
				overallStatus = StatusDegraded
			}
		}()
	}
	wg.Wait()

	sched := h.checkScheduler()
	checks["scheduler"] = sched
	if sched.Status == StatusDegraded && overallStatus == StatusHealthy {
		overallStatus = StatusDegraded
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	sysInfo := &SystemInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc / 1024 / 1024,
	}

	status := HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.Version,
		Checks:    checks,
		System:    sysInfo,
	}

	code := http.StatusOK
	if overallStatus == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func ping(ctx context.Context, p Pinger) Check {
	if p == nil {
		return Check{Status: StatusDisabled, Message: "not configured"}
	}

	start := time.Now()
	err := p.Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		return Check{
			Status:   StatusUnhealthy,
			Message:  err.Error(),
			Duration: duration.String(),
		}
	}
	return Check{
		Status:   StatusHealthy,
		Message:  "connection successful",
		Duration: duration.String(),
	}
}

// checkScheduler reports the job backlog.
func (h *Handlers) checkScheduler() Check {
	st := h.Jobs.Stats()

	status := StatusHealthy
	message := "scheduler operational"
	if st.WaitingJobs > backlogFactor*st.MaxConcurrent {
		status = StatusDegraded
		message = "job backlog detected"
	}

	return Check{
		Status:  status,
		Message: fmt.Sprintf("%s (running: %d, waiting: %d)", message, st.ActiveJobs, st.WaitingJobs),
	}
}
