// Package health отдаёт состояние зависимостей витрины для оркестратора.
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Checker возвращает ошибку, если зависимость недоступна.
type Checker func(ctx context.Context) error

// Check - результат одной проверки.
type Check struct {
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Report - тело ответа /healthz.
type Report struct {
	Status        Status           `json:"status"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	CheckedAt     time.Time        `json:"checked_at"`
	Checks        map[string]Check `json:"checks,omitempty"`
}

// Handler хранит зарегистрированные проверки. Все проверки выполняются
// параллельно и делят один таймаут.
type Handler struct {
	version string
	started time.Time
	timeout time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewHandler(version string) *Handler {
	return &Handler{
		version:  version,
		started:  time.Now(),
		timeout:  2 * time.Second,
		checkers: make(map[string]Checker),
	}
}

// RegisterChecker добавляет или заменяет проверку name. nil игнорируется.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	if checker == nil {
		return
	}
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// Evaluate выполняет проверки. Отчёт unhealthy, если упала хотя бы одна.
func (h *Handler) Evaluate(ctx context.Context) Report {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]Check, len(checkers))
		g      errgroup.Group
	)
	for name, checker := range checkers {
		g.Go(func() error {
			check := Run(ctx, checker)
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:        StatusHealthy,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		CheckedAt:     time.Now().UTC(),
		Checks:        checks,
	}
	for _, c := range checks {
		if c.Status != StatusHealthy {
			report.Status = StatusUnhealthy
			break
		}
	}
	return report
}

// Run выполняет одну проверку и замеряет её время.
func Run(ctx context.Context, checker Checker) Check {
	start := time.Now()
	err := checker(ctx)
	check := Check{Status: StatusHealthy, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Error = err.Error()
	}
	return check
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Evaluate(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode(report.Status))
	_ = json.NewEncoder(w).Encode(report)
}

// ReadinessHandler - короткий вариант /healthz для probe.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context()).Status
	w.WriteHeader(statusCode(status))
	if status == StatusHealthy {
		_, _ = w.Write([]byte("ready"))
		return
	}
	_, _ = w.Write([]byte("not ready"))
}

// LivenessHandler отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func statusCode(s Status) int {
	if s == StatusHealthy {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}
