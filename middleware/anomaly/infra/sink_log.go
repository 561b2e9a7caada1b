package infra

import (
	"context"
	"log/slog"

	"anomaly-gateway/middleware/anomaly/domain"
)

// LogSink escreve uma linha estruturada por registro.
// Registros benignos saem em Debug para não inundar o log.
type LogSink struct {
	log          *slog.Logger
	withFeatures bool
}

type LogSinkOption func(*LogSink)

// WithFeatureText inclui o vetor de features (texto longo) em cada linha.
func WithFeatureText(on bool) LogSinkOption {
	return func(s *LogSink) { s.withFeatures = on }
}

func NewLogSink(log *slog.Logger, opts ...LogSinkOption) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	s := &LogSink{log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write implementa domain.TrafficSink.
func (s *LogSink) Write(ctx context.Context, rec domain.TrafficRecord) error {
	level := slog.LevelDebug
	if rec.AttackType != domain.Benign {
		level = slog.LevelInfo
	}

	attrs := []slog.Attr{
		slog.String("id", rec.ID),
		slog.String("src", rec.SourceIP),
		slog.Int("src_port", rec.SourcePort),
		slog.String("dst", rec.DestIP),
		slog.Int("dst_port", rec.DestPort),
		slog.String("protocol", rec.Protocol),
		slog.String("method", rec.Method),
		slog.String("path", rec.Path),
		slog.String("attack_type", rec.AttackType.String()),
		slog.String("threat", rec.ThreatLevel.String()),
		slog.String("reason", rec.Reason),
		slog.Time("at", rec.At),
	}
	if s.withFeatures {
		attrs = append(attrs, slog.String("features", rec.Features))
	}
	s.log.LogAttrs(ctx, level, "traffic.record", attrs...)
	return nil
}
