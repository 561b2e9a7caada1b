package domain

import (
	"context"
	"time"
)

// TrafficRecord é a escrita append-only enviada ao coletor de persistência.
type TrafficRecord struct {
	ID string

	SourceIP   string
	DestIP     string
	SourcePort int
	DestPort   int
	Protocol   string

	Method string
	Path   string

	Features    string
	AttackType  AttackType
	ThreatLevel ThreatLevel
	Reason      string

	At time.Time
}

// TrafficSink é a estratégia de persistência dos registros classificados.
//
// Implementações podem gravar em Redis, log, memória, etc.
// O chamador trata erro como best-effort (nunca derruba a requisição).
type TrafficSink interface {
	Write(ctx context.Context, rec TrafficRecord) error
}

// Throttle limita a taxa de escrita no sink.
// *rate.Limiter (golang.org/x/time/rate) satisfaz esta interface.
type Throttle interface {
	Wait(ctx context.Context) error
}
