package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// scenarioStep - псевдошаг, в который пишется весь сценарий целиком.
const scenarioStep = "scenario"

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Steps             map[string]stepReport `json:"steps"`
}

// series - все наблюдения одного шага.
type series struct {
	failed   int64
	statuses map[string]int64
	millis   []float64
}

func (s *series) observe(latency time.Duration, status int, ok bool) {
	if !ok {
		s.failed++
	}
	label := "network_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	s.statuses[label]++
	s.millis = append(s.millis, float64(latency.Microseconds())/1000)
}

func (s *series) report() stepReport {
	calls := int64(len(s.millis))
	r := stepReport{
		Calls:     calls,
		Success:   calls - s.failed,
		Failed:    s.failed,
		Statuses:  maps.Clone(s.statuses),
		LatencyMs: buildLatencySummary(s.millis),
	}
	if calls > 0 {
		r.ErrorRate = float64(s.failed) / float64(calls)
	}
	return r
}

// collector потокобезопасно копит наблюдения по шагам сценария.
type collector struct {
	mu    sync.Mutex
	steps map[string]*series
}

func newCollector() *collector {
	return &collector{steps: make(map[string]*series)}
}

// record учитывает один вызов; status 0 - ответа не было.
func (c *collector) record(step string, latency time.Duration, status int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.steps[step]
	if s == nil {
		s = &series{statuses: make(map[string]int64)}
		c.steps[step] = s
	}
	s.observe(latency, status, ok)
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Steps:           make(map[string]stepReport, len(c.steps)),
	}
	for name, s := range c.steps {
		if name != scenarioStep {
			r.Steps[name] = s.report()
		}
	}
	if s, ok := c.steps[scenarioStep]; ok {
		sc := s.report()
		r.TotalScenarios, r.SuccessScenarios, r.FailedScenarios = sc.Calls, sc.Success, sc.Failed
		r.ErrorRate = sc.ErrorRate
		r.ScenarioLatencyMs = sc.LatencyMs
	}
	if elapsed > 0 {
		r.RPS = float64(r.TotalScenarios) / elapsed.Seconds()
	}
	return r
}

// writeJSONReport пишет отчёт только внутри рабочего каталога.
func writeJSONReport(path string, r report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задан флагом -out.
	f, err := os.Create(clean)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printReport(out io.Writer, r report, cfg config) {
	lat := r.ScenarioLatencyMs
	lines := []string{
		"Checkout load test summary",
		fmt.Sprintf("mode=%s target=%s total=%d success=%d failed=%d error_rate=%.4f",
			cfg.mode, runTarget(cfg), r.TotalScenarios, r.SuccessScenarios, r.FailedScenarios, r.ErrorRate),
		fmt.Sprintf("duration=%.2fs rps=%.2f", r.DurationSeconds, r.RPS),
		fmt.Sprintf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f",
			lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max),
	}
	for _, name := range slices.Sorted(maps.Keys(r.Steps)) {
		s := r.Steps[name]
		lines = append(lines, fmt.Sprintf("%s: calls=%d failed=%d error_rate=%.4f p95=%.2fms",
			name, s.Calls, s.Failed, s.ErrorRate, s.LatencyMs.P95))
	}
	_, _ = io.WriteString(out, strings.Join(lines, "\n")+"\n")
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return "count:" + strconv.Itoa(cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return "duration:" + cfg.duration.String()
	}
}

func buildLatencySummary(samples []float64) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует между соседними рангами отсортированной выборки.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}
