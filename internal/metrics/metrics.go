package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Stage string

const (
	StageToken    Stage = "token"
	StageUpload   Stage = "upload"
	StageRegister Stage = "register"
	StageSearch   Stage = "search"
	StageMapping  Stage = "mapping"
	StageBackfill Stage = "backfill"
)

// Recorder receives per-stage timings from the pipeline components.
type Recorder interface {
	ObserveStage(stage Stage, duration time.Duration, err error)
	AddUploadedBytes(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(Stage, time.Duration, error) {}
func (nopRecorder) AddUploadedBytes(int)                     {}

// Nop discards everything.
var Nop Recorder = nopRecorder{}

// Since is a helper for deferred observation:
//
//	defer metrics.Since(rec, metrics.StageUpload, time.Now(), &err)
func Since(rec Recorder, stage Stage, start time.Time, errp *error) {
	if rec == nil {
		return
	}
	var err error
	if errp != nil {
		err = *errp
	}
	rec.ObserveStage(stage, time.Since(start), err)
}

type PrometheusRecorder struct {
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	uploadedBytes prometheus.Counter
}

func NewPrometheusRecorder(namespace string, reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if namespace == "" {
		namespace = "picsearch"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	rec := &PrometheusRecorder{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Count of failed pipeline stages.",
		}, []string{"stage"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Payload bytes successfully uploaded to the object store.",
		}),
	}

	var err error
	if rec.stageDuration, err = register(reg, rec.stageDuration); err != nil {
		return nil, fmt.Errorf("register stage histogram: %w", err)
	}
	if rec.stageErrors, err = register(reg, rec.stageErrors); err != nil {
		return nil, fmt.Errorf("register stage error counter: %w", err)
	}
	if rec.uploadedBytes, err = register(reg, rec.uploadedBytes); err != nil {
		return nil, fmt.Errorf("register uploaded bytes counter: %w", err)
	}

	return rec, nil
}

func (r *PrometheusRecorder) ObserveStage(stage Stage, duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())
	if err != nil {
		r.stageErrors.WithLabelValues(string(stage)).Inc()
	}
}

func (r *PrometheusRecorder) AddUploadedBytes(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.uploadedBytes.Add(float64(n))
}

// register reuses an already registered collector of the same type.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

var _ Recorder = (*PrometheusRecorder)(nil)
