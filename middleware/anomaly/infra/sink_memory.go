package infra

import (
	"context"
	"sync"

	"anomaly-gateway/middleware/anomaly/domain"
)

// MemorySink guarda totais por tipo/nível e um anel com os registros recentes.
// Útil para testes e desenvolvimento.
//
// Não persiste nada e não é indicada para produção.
type MemorySink struct {
	mu     sync.Mutex
	totals map[string]int64
	ring   []domain.TrafficRecord
	next   int
	full   bool
}

type MemorySinkOption func(*MemorySink)

// WithRecentCapacity define quantos registros recentes ficam no anel (padrão 256).
func WithRecentCapacity(n int) MemorySinkOption {
	return func(s *MemorySink) {
		if n > 0 {
			s.ring = make([]domain.TrafficRecord, n)
		}
	}
}

func NewMemorySink(opts ...MemorySinkOption) *MemorySink {
	s := &MemorySink{
		totals: make(map[string]int64),
		ring:   make([]domain.TrafficRecord, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func totalsKey(at domain.AttackType, lvl domain.ThreatLevel) string {
	return at.String() + "/" + lvl.String()
}

// Write implementa domain.TrafficSink.
func (s *MemorySink) Write(_ context.Context, rec domain.TrafficRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totals[totalsKey(rec.AttackType, rec.ThreatLevel)]++

	s.ring[s.next] = rec
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Total devolve quantos registros foram gravados com o tipo e nível informados.
func (s *MemorySink) Total(at domain.AttackType, lvl domain.ThreatLevel) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[totalsKey(at, lvl)]
}

// Totals devolve uma cópia dos totais, indexados por "Tipo/nivel".
func (s *MemorySink) Totals() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.totals))
	for k, v := range s.totals {
		out[k] = v
	}
	return out
}

// Recent devolve os registros recentes, do mais antigo para o mais novo.
func (s *MemorySink) Recent() []domain.TrafficRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		out := make([]domain.TrafficRecord, s.next)
		copy(out, s.ring[:s.next])
		return out
	}
	out := make([]domain.TrafficRecord, 0, len(s.ring))
	out = append(out, s.ring[s.next:]...)
	out = append(out, s.ring[:s.next]...)
	return out
}
