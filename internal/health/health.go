// Package health отдаёт состояние зависимостей магазина (хранилище
// заказов, брокер событий) для /healthz и readiness-проб.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const defaultProbeTimeout = 2 * time.Second

// Probe проверяет одну зависимость. Возврат ошибки означает, что
// зависимость недоступна.
type Probe func(ctx context.Context) error

// CheckResult — итог одной проверки в ответе /healthz.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Report — полный ответ /healthz.
type Report struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version,omitempty"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Timestamp     time.Time              `json:"timestamp"`
	Checks        map[string]CheckResult `json:"checks,omitempty"`
}

const (
	statusOK          = "ok"
	statusUnavailable = "unavailable"
	statusUp          = "up"
	statusDown        = "down"
)

// Handler выполняет зарегистрированные probes и отдаёт Report.
type Handler struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	version string
	started time.Time
	timeout time.Duration
}

// NewHandler создаёт handler. version попадает в каждый ответ.
func NewHandler(version string) *Handler {
	return &Handler{
		probes:  make(map[string]Probe),
		version: version,
		started: time.Now(),
		timeout: defaultProbeTimeout,
	}
}

// Register добавляет проверку зависимости под заданным именем.
func (h *Handler) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

func (h *Handler) snapshot() map[string]Probe {
	h.mu.RLock()
	defer h.mu.RUnlock()

	probes := make(map[string]Probe, len(h.probes))
	for name, probe := range h.probes {
		probes[name] = probe
	}
	return probes
}

// Evaluate прогоняет все probes с таймаутом на каждую.
func (h *Handler) Evaluate(ctx context.Context) Report {
	report := Report{
		Status:        statusOK,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]CheckResult),
	}

	for name, probe := range h.snapshot() {
		report.Checks[name] = h.runProbe(ctx, probe)
		if report.Checks[name].Status == statusDown {
			report.Status = statusUnavailable
		}
	}

	return report
}

func (h *Handler) runProbe(ctx context.Context, probe Probe) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := probe(probeCtx)
	result := CheckResult{
		Status:    statusUp,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Status = statusDown
		result.Error = err.Error()
	}
	return result
}

// ServeHTTP отдаёт Report как JSON; 503, если хотя бы одна зависимость
// недоступна.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Evaluate(r.Context())

	code := http.StatusOK
	if report.Status != statusOK {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// Ready — readiness-проба в текстовом виде для оркестратора.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	report := h.Evaluate(r.Context())
	if report.Status != statusOK {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
