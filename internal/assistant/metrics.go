package assistant

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stage names, used as metric labels and in Answer.Degraded.
const (
	StageTranslateIn  = "translate_in"
	StageAnalyze      = "analyze"
	StageRetrieve     = "retrieve"
	StageSynthesize   = "synthesize"
	StageTranslateOut = "translate_out"
	StageTranscribe   = "transcribe"
	StageWeather      = "weather"
	StagePredict      = "predict"
)

// pipelineMetrics holds the Prometheus metrics owned by the assistant.
type pipelineMetrics struct {
	// stageDuration records the latency of each pipeline stage.
	stageDuration *prometheus.HistogramVec

	// degradedTotal counts stage failures that were absorbed under the
	// degrade policy.
	degradedTotal *prometheus.CounterVec
}

// newPipelineMetrics registers the assistant metrics against reg. A nil reg
// yields unregistered collectors.
func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	factory := promauto.With(reg)

	return &pipelineMetrics{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sakhi",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Latency of each answer pipeline stage.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage", "outcome"}),

		degradedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sakhi",
			Subsystem: "pipeline",
			Name:      "degraded_total",
			Help:      "Stage failures absorbed by the degrade policy, partitioned by stage.",
		}, []string{"stage"}),
	}
}

// observe records the duration of one stage run.
func (m *pipelineMetrics) observe(stage string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stageDuration.WithLabelValues(stage, outcome).Observe(time.Since(start).Seconds())
}
