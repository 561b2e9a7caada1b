package infra

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"anomaly-gateway/middleware/anomaly/domain"

	"github.com/cespare/xxhash/v2"
)

// MemoryWindowStore guarda a janela de cada cliente em memória.
//
// As chaves são distribuídas em shards (xxhash), cada um com seu mutex, para
// que clientes diferentes não disputem o mesmo lock. O Prune percorre os
// shards um de cada vez usando os mesmos locks.
type MemoryWindowStore struct {
	shards      []*windowShard
	window      time.Duration
	burstWindow time.Duration
	maxEntries  int
}

type windowShard struct {
	mu      sync.Mutex
	clients map[domain.ClientKey]*clientWindow
}

type clientWindow struct {
	stamps []time.Time // ordem crescente
	active int
}

type WindowOption func(*MemoryWindowStore)

// DefaultMaxEntries é o limite padrão de timestamps guardados por cliente.
const DefaultMaxEntries = 10000

// WithShards define o número de shards (padrão 32).
func WithShards(n int) WindowOption {
	return func(s *MemoryWindowStore) {
		if n > 0 {
			s.shards = make([]*windowShard, n)
		}
	}
}

// WithMaxEntries limita quantos timestamps um cliente pode acumular.
// Acima disso os mais antigos são descartados; a contagem satura no limite.
func WithMaxEntries(n int) WindowOption {
	return func(s *MemoryWindowStore) { s.maxEntries = n }
}

func NewMemoryWindowStore(window, burstWindow time.Duration, opts ...WindowOption) *MemoryWindowStore {
	s := &MemoryWindowStore{
		shards:      make([]*windowShard, 32),
		window:      window,
		burstWindow: burstWindow,
		maxEntries:  DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &windowShard{clients: make(map[domain.ClientKey]*clientWindow)}
	}
	return s
}

// MaxEntries devolve o teto da contagem por cliente (0 = sem teto).
// Um limite de taxa igual ou maior que esse valor nunca dispara.
func (s *MemoryWindowStore) MaxEntries() int { return s.maxEntries }

func (s *MemoryWindowStore) shard(key domain.ClientKey) *windowShard {
	return s.shards[xxhash.Sum64String(string(key))%uint64(len(s.shards))]
}

// Record implementa domain.WindowStore.
func (s *MemoryWindowStore) Record(_ context.Context, key domain.ClientKey, at time.Time) (domain.WindowStats, error) {
	if key == "" {
		return domain.WindowStats{}, domain.ErrEmptyKey
	}
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	cw, ok := sh.clients[key]
	if !ok {
		cw = &clientWindow{}
		sh.clients[key] = cw
	}

	if n := len(cw.stamps); n > 0 && at.Before(cw.stamps[n-1]) {
		// a ordem é a de chegada no lock; o relógio de quem chegou
		// atrasado é ajustado para manter a sequência não decrescente.
		at = cw.stamps[n-1]
	}
	cw.stamps = append(cw.stamps, at)
	cw.active++

	cw.stamps = trimBefore(cw.stamps, at.Add(-s.window))
	if s.maxEntries > 0 && len(cw.stamps) > s.maxEntries {
		cw.stamps = slices.Delete(cw.stamps, 0, len(cw.stamps)-s.maxEntries)
	}

	return domain.WindowStats{
		Count:  len(cw.stamps),
		Burst:  countSince(cw.stamps, at.Add(-s.burstWindow)),
		Active: cw.active,
	}, nil
}

// Release implementa domain.WindowStore. Nunca deixa o contador negativo.
func (s *MemoryWindowStore) Release(_ context.Context, key domain.ClientKey) error {
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if cw, ok := sh.clients[key]; ok && cw.active > 0 {
		cw.active--
	}
	return nil
}

// Prune implementa domain.WindowStore. Idempotente para o mesmo cutoff.
func (s *MemoryWindowStore) Prune(ctx context.Context, cutoff time.Time) (domain.PruneResult, error) {
	var res domain.PruneResult
	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		sh.mu.Lock()
		for key, cw := range sh.clients {
			res.Scanned++
			before := len(cw.stamps)
			cw.stamps = trimBefore(cw.stamps, cutoff)
			res.Trimmed += before - len(cw.stamps)

			if len(cw.stamps) == 0 && cw.active <= 0 {
				delete(sh.clients, key)
				res.Evicted++
			}
		}
		res.Tracked += len(sh.clients)
		sh.mu.Unlock()
	}
	return res, nil
}

// Window devolve uma cópia do estado do cliente (para inspeção e testes).
func (s *MemoryWindowStore) Window(key domain.ClientKey) (stamps []time.Time, active int, ok bool) {
	sh := s.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	cw, ok := sh.clients[key]
	if !ok {
		return nil, 0, false
	}
	return slices.Clone(cw.stamps), cw.active, true
}

// Len devolve o número de clientes rastreados.
func (s *MemoryWindowStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.clients)
		sh.mu.Unlock()
	}
	return n
}

// trimBefore remove o prefixo com timestamps estritamente anteriores a cutoff.
func trimBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(stamps), func(i int) bool { return !stamps[i].Before(cutoff) })
	if i == 0 {
		return stamps
	}
	return slices.Delete(stamps, 0, i)
}

// countSince conta os timestamps >= since.
func countSince(stamps []time.Time, since time.Time) int {
	i := sort.Search(len(stamps), func(i int) bool { return !stamps[i].Before(since) })
	return len(stamps) - i
}
