package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used as metric labels
const (
	StageResolve    = "resolve"
	StageTranscribe = "transcribe"
	StageDiarize    = "diarize"
	StageAlign      = "align"
	StageRender     = "render"
	StageArtifacts  = "artifacts"
	StageGenerate   = "generate"
	StageStore      = "store"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collectors holds the service's prometheus collectors on a private registry
type Collectors struct {
	registry *prometheus.Registry

	JobsTotal          *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	DurationResolution *prometheus.CounterVec
	UnknownSegments    prometheus.Counter
	MappingCollisions  prometheus.Counter
	QueueDepth         prometheus.Gauge
	HTTPRequests       *prometheus.CounterVec
}

// NewCollectors creates and registers all collectors
func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protocolmaker_jobs_total",
				Help: "Pipeline stage executions by result",
			},
			[]string{"stage", "result"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "protocolmaker_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		DurationResolution: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protocolmaker_duration_resolution_total",
				Help: "Audio duration resolutions by winning strategy",
			},
			[]string{"strategy"},
		),
		UnknownSegments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protocolmaker_unknown_speaker_segments_total",
			Help: "Segments that no diarization turn overlapped",
		}),
		MappingCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "protocolmaker_mapping_collisions_total",
			Help: "Speaker mapping entries skipped because of name collisions",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "protocolmaker_queue_depth",
			Help: "Jobs waiting for a worker",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "protocolmaker_http_requests_total",
				Help: "HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
	}

	c.registry.MustRegister(
		c.JobsTotal,
		c.StageDuration,
		c.DurationResolution,
		c.UnknownSegments,
		c.MappingCollisions,
		c.QueueDepth,
		c.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the private registry, mainly for tests
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StageTimer measures one stage execution
type StageTimer struct {
	c     *Collectors
	stage string
	start time.Time
}

// StartStage begins timing a stage
func (c *Collectors) StartStage(stage string) *StageTimer {
	return &StageTimer{c: c, stage: stage, start: time.Now()}
}

// Done records the stage duration and its outcome
func (t *StageTimer) Done(err error) time.Duration {
	elapsed := time.Since(t.start)
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	t.c.StageDuration.WithLabelValues(t.stage).Observe(elapsed.Seconds())
	t.c.JobsTotal.WithLabelValues(t.stage, result).Inc()
	return elapsed
}

// ObserveResolution counts the strategy that produced the file duration, or "none"
func (c *Collectors) ObserveResolution(strategy string) {
	if strategy == "" {
		strategy = "none"
	}
	c.DurationResolution.WithLabelValues(strategy).Inc()
}

// ObserveHTTP counts a served request
func (c *Collectors) ObserveHTTP(method string, code int) {
	c.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
