package events

import (
	"context"

	"go.uber.org/zap"

	"solana-pool-sentinel/internal/observability"
	"solana-pool-sentinel/internal/worker"
)

// LogSink logs job outcomes.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("jobs")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(_ context.Context, ev Event) error {
	if ev.Kind != KindJobResult {
		return nil
	}
	r := ev.Result
	fields := []zap.Field{
		zap.String("queue", r.Queue),
		zap.String("job_id", r.JobID),
		zap.String("signature", r.TxID),
		zap.Int("attempts", r.Attempts),
		zap.Duration("duration", r.Duration),
	}

	switch r.Status {
	case worker.StatusCompleted:
		s.logger.Debug("job completed", fields...)
	case worker.StatusFailed:
		s.logger.Warn("job failed", append(fields, zap.Error(r.Err))...)
	default:
		s.logger.Error("job infrastructure error", append(fields, zap.Error(r.Err))...)
	}
	return nil
}

// MetricsSink records job outcomes in Prometheus.
type MetricsSink struct {
	metrics *observability.Metrics
}

// NewMetricsSink creates a MetricsSink.
func NewMetricsSink(m *observability.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Handle(_ context.Context, ev Event) error {
	if ev.Kind == KindJobResult {
		s.metrics.RecordJob(ev.Result.Queue, string(ev.Result.Status), ev.Result.Duration)
	}
	return nil
}
