package metrics

import (
	"strconv"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "simbuild"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	phaseDuration   *prom.HistogramVec
	phaseResults    *prom.CounterVec
	buildDuration   prom.Histogram
	buildOutcome    *prom.CounterVec
	setupMode       *prom.CounterVec
	filesCopied     prom.Histogram
	buildInProgress prom.Gauge
	previewRequests *prom.CounterVec
	runtimeHealthy  prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.phaseDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of build phases (setup, build, extract)",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"phase"})
		pr.phaseResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "phase_results_total",
			Help:      "Phase result counts by outcome",
		}, []string{"phase", "result"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total duration of a build attempt",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build attempts by final status",
		}, []string{"outcome"})
		pr.setupMode = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "setup_mode_total",
			Help:      "Setup phase executions by mode",
		}, []string{"mode"})
		pr.filesCopied = prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "incremental_files_copied",
			Help:      "Files copied into the volume by incremental setups",
			Buckets:   prom.ExponentialBuckets(1, 4, 7),
		})
		pr.buildInProgress = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "build_in_progress",
			Help:      "1 while a build holds the global build slot",
		})
		pr.previewRequests = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "preview_requests_total",
			Help:      "Preview server responses by status code",
		}, []string{"code"})
		pr.runtimeHealthy = prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "container_runtime_healthy",
			Help:      "1 when the last container runtime probe succeeded",
		})
		reg.MustRegister(pr.phaseDuration, pr.phaseResults, pr.buildDuration, pr.buildOutcome,
			pr.setupMode, pr.filesCopied, pr.buildInProgress, pr.previewRequests, pr.runtimeHealthy)
	})
	return pr
}

func (p *PrometheusRecorder) ObservePhaseDuration(phase string, d time.Duration) {
	if p == nil || p.phaseDuration == nil {
		return
	}
	p.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPhaseResult(phase string, result ResultLabel) {
	if p == nil || p.phaseResults == nil {
		return
	}
	p.phaseResults.WithLabelValues(phase, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome BuildOutcomeLabel) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncSetupMode(mode string) {
	if p == nil || p.setupMode == nil {
		return
	}
	p.setupMode.WithLabelValues(mode).Inc()
}

func (p *PrometheusRecorder) ObserveFilesCopied(n int) {
	if p == nil || p.filesCopied == nil {
		return
	}
	p.filesCopied.Observe(float64(n))
}

func (p *PrometheusRecorder) SetBuildInProgress(active bool) {
	if p == nil || p.buildInProgress == nil {
		return
	}
	p.buildInProgress.Set(boolToFloat(active))
}

func (p *PrometheusRecorder) IncPreviewRequest(status int) {
	if p == nil || p.previewRequests == nil {
		return
	}
	p.previewRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (p *PrometheusRecorder) SetRuntimeHealthy(healthy bool) {
	if p == nil || p.runtimeHealthy == nil {
		return
	}
	p.runtimeHealthy.Set(boolToFloat(healthy))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
