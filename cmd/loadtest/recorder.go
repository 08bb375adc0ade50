package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	stepDurationMetric = "loadtest_step_duration_seconds"
	stepResultsMetric  = "loadtest_step_results_total"
	scenarioStep       = "scenario"
)

// recorder копит латентность и коды ответов по шагам в собственном registry,
// отчёт собирается из Gather.
type recorder struct {
	registry *prometheus.Registry
	duration *prometheus.SummaryVec
	results  *prometheus.CounterVec
}

func newRecorder() *recorder {
	r := &recorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       stepDurationMetric,
			Help:       "Latency of load test steps.",
			Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
			MaxAge:     24 * time.Hour,
		}, []string{"step"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: stepResultsMetric,
			Help: "Load test step outcomes by HTTP code.",
		}, []string{"step", "code", "ok"}),
	}
	r.registry.MustRegister(r.duration, r.results)
	return r
}

func (r *recorder) observe(step string, took time.Duration, code string, ok bool) {
	r.duration.WithLabelValues(step).Observe(took.Seconds())
	r.results.WithLabelValues(step, code, strconv.FormatBool(ok)).Inc()
}

// latencySummary — квантили в миллисекундах.
type latencySummary struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// steps раскладывает собранные метрики по шагам.
func (r *recorder) steps() (map[string]stepReport, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather load metrics: %w", err)
	}

	out := make(map[string]stepReport)
	for _, family := range families {
		for _, m := range family.GetMetric() {
			labels := labelValues(m.GetLabel())
			rep := out[labels["step"]]
			switch family.GetName() {
			case stepDurationMetric:
				rep.LatencyMs = summaryMillis(m.GetSummary())
			case stepResultsMetric:
				n := int64(m.GetCounter().GetValue())
				rep.Calls += n
				if labels["ok"] != "true" {
					rep.Failed += n
				}
				if rep.Codes == nil {
					rep.Codes = make(map[string]int64)
				}
				rep.Codes[labels["code"]] += n
			}
			out[labels["step"]] = rep
		}
	}
	for name, rep := range out {
		rep.ErrorRate = ratio(rep.Failed, rep.Calls)
		out[name] = rep
	}
	return out, nil
}

func labelValues(pairs []*dto.LabelPair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p.GetName()] = p.GetValue()
	}
	return out
}

func summaryMillis(s *dto.Summary) latencySummary {
	var out latencySummary
	if s.GetSampleCount() == 0 {
		return out
	}
	out.Avg = s.GetSampleSum() / float64(s.GetSampleCount()) * 1000
	for _, q := range s.GetQuantile() {
		ms := q.GetValue() * 1000
		switch q.GetQuantile() {
		case 0.5:
			out.P50 = ms
		case 0.95:
			out.P95 = ms
		case 0.99:
			out.P99 = ms
		}
	}
	return out
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
