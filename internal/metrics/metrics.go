// Package metrics exposes Prometheus counters for the quantization engine.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	QuantizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inwhale_quantize_total",
		Help: "Total number of quantize calls",
	}, []string{"scheme"})

	QuantizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inwhale_quantize_duration_seconds",
		Help:    "Duration of quantize calls",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	}, []string{"scheme"})

	DegenerateChannels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inwhale_degenerate_channels_total",
		Help: "Channels whose observed range was below eps and fell back to the eps scale floor",
	}, []string{"scheme"})

	ClampedElements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inwhale_clamped_elements_total",
		Help: "Elements whose rounded code fell outside the representable range",
	}, []string{"scheme"})

	ObserveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inwhale_observe_errors_total",
		Help: "Observations rejected by input validation",
	}, []string{"observer", "reason"})
)

func RecordQuantize(scheme string, duration time.Duration) {
	QuantizeTotal.WithLabelValues(scheme).Inc()
	QuantizeDuration.WithLabelValues(scheme).Observe(duration.Seconds())
}

func RecordDegenerate(scheme string, channels int) {
	if channels > 0 {
		DegenerateChannels.WithLabelValues(scheme).Add(float64(channels))
	}
}

func RecordClamped(scheme string, elements int) {
	if elements > 0 {
		ClampedElements.WithLabelValues(scheme).Add(float64(elements))
	}
}

func RecordObserveError(observer, reason string) {
	ObserveErrors.WithLabelValues(observer, reason).Inc()
}

// WriteText gathers g and writes every family in the Prometheus text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	return nil
}
