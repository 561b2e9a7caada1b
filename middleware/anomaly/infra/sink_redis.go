package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"anomaly-gateway/middleware/anomaly/domain"

	"github.com/redis/go-redis/v9"
)

// RedisSink grava cada registro em um stream e mantém totais agregados.
//
// Chaves:
//
//	<prefix>:stream              XADD com MAXLEN aproximado
//	<prefix>:total               HASH  "DosFam" / "BENIGN" / "threat:high" ...
//	<prefix>:minute:YYYYMMDDhhmm HASH  mesmos campos, com TTL
type RedisSink struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas nos buckets por minuto.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	maxLen int64
}

type RedisSinkOption func(*RedisSink)

func WithSinkPrefix(prefix string) RedisSinkOption {
	return func(s *RedisSink) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithSinkTTL(d time.Duration) RedisSinkOption {
	return func(s *RedisSink) { s.ttl = d }
}

func WithSinkBucket(bucket string) RedisSinkOption {
	return func(s *RedisSink) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// WithSinkStreamMaxLen limita o tamanho (aproximado) do stream. 0 = sem limite.
func WithSinkStreamMaxLen(n int64) RedisSinkOption {
	return func(s *RedisSink) { s.maxLen = n }
}

func NewRedisSink(rdb *redis.Client, opts ...RedisSinkOption) *RedisSink {
	s := &RedisSink{
		rdb:    rdb,
		prefix: "anomaly:traffic",
		ttl:    24 * time.Hour,
		bucket: "minute",
		maxLen: 100000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write implementa domain.TrafficSink.
func (s *RedisSink) Write(ctx context.Context, rec domain.TrafficRecord) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	attack := rec.AttackType.String()
	threat := "threat:" + rec.ThreatLevel.String()

	pipe := s.rdb.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.prefix + ":stream",
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: map[string]any{
			"id":           rec.ID,
			"src_ip":       rec.SourceIP,
			"dst_ip":       rec.DestIP,
			"src_port":     rec.SourcePort,
			"dst_port":     rec.DestPort,
			"protocol":     rec.Protocol,
			"method":       rec.Method,
			"path":         rec.Path,
			"features":     rec.Features,
			"attack_type":  attack,
			"threat_level": rec.ThreatLevel.String(),
			"reason":       rec.Reason,
			"timestamp":    at.UTC().Format(time.RFC3339Nano),
		},
	})

	totalKey := s.prefix + ":total"
	pipe.HIncrBy(ctx, totalKey, attack, 1)
	pipe.HIncrBy(ctx, totalKey, threat, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, attack, 1)
		pipe.HIncrBy(ctx, bucketKey, threat, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
