package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"anomaly-gateway/middleware/anomaly/domain"
)

// FailMode decide a resposta quando a store falha (erro ou panic).
type FailMode int

const (
	// FailOpen libera a requisição como benigna.
	FailOpen FailMode = iota
	// FailClosed bloqueia a requisição.
	FailClosed
)

func (m FailMode) String() string {
	if m == FailClosed {
		return "closed"
	}
	return "open"
}

// ParseFailMode aceita "open" ou "closed" (case-insensitive).
func ParseFailMode(s string) (FailMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("invalid fail mode %q (want open or closed)", s)
	}
}

// Enqueuer recebe o trabalho assíncrono de síntese + registro.
// Enqueue nunca deve bloquear.
type Enqueuer interface {
	Enqueue(job RecordJob) bool
}

const releaseTimeout = 2 * time.Second

// ErrRateLimitUnreachable indica um limite de taxa que a store nunca consegue
// ultrapassar, porque a contagem dela satura antes.
var ErrRateLimitUnreachable = errors.New("rate limit threshold is not below the store count cap")

// GateOptions configura o Gate. Store é obrigatório.
type GateOptions struct {
	Store    domain.WindowStore
	Rules    domain.Rules
	Recorder Enqueuer
	Observer Observer
	Logger   *slog.Logger

	FailMode          FailMode
	TrustForwardedFor bool
	// RecordBlocked também envia ao recorder as requisições bloqueadas.
	RecordBlocked bool
	// MaxCount é o teto da contagem da store (0 = sem teto). Regras com
	// RateLimit >= MaxCount são recusadas.
	MaxCount int

	// Now permite relógio fixo nos testes.
	Now func() time.Time
}

// Gate é o ponto de entrada por requisição: registra na janela, classifica e
// devolve a decisão. Não sabe nada sobre HTTP.
type Gate struct {
	store      domain.WindowStore
	classifier atomic.Pointer[Classifier]
	recorder   Enqueuer
	observer   Observer
	log        *slog.Logger

	failMode      FailMode
	trustXFF      bool
	recordBlocked bool
	maxCount      int
	now           func() time.Time
}

func NewGate(opts GateOptions) (*Gate, error) {
	if opts.Store == nil {
		return nil, errors.New("gate: store is required")
	}
	g := &Gate{
		store:         opts.Store,
		recorder:      opts.Recorder,
		observer:      opts.Observer,
		log:           opts.Logger,
		failMode:      opts.FailMode,
		trustXFF:      opts.TrustForwardedFor,
		recordBlocked: opts.RecordBlocked,
		maxCount:      opts.MaxCount,
		now:           opts.Now,
	}
	if g.observer == nil {
		g.observer = nopObserver{}
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	c := NewClassifier(opts.Rules)
	if err := g.checkRules(c.Rules()); err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	g.classifier.Store(c)
	return g, nil
}

// Reload troca as regras do classificador de forma atômica.
// Requisições em andamento terminam com as regras antigas. Regras que a
// store não consegue avaliar são recusadas e as atuais continuam valendo.
func (g *Gate) Reload(rules domain.Rules) error {
	c := NewClassifier(rules)
	r := c.Rules()
	if err := g.checkRules(r); err != nil {
		g.log.Warn("gate.rules.reject", "rate_limit", r.Thresholds.RateLimit, "max_count", g.maxCount, "err", err)
		return err
	}
	g.classifier.Store(c)
	g.log.Info("gate.rules.reload",
		"signatures", len(r.Signatures),
		"rate_limit", r.Thresholds.RateLimit,
		"burst", r.Thresholds.Burst,
		"connections", r.Thresholds.Connections,
		"soft_rate", r.Thresholds.SoftRate,
		"attack_header", r.AttackHeader,
	)
	return nil
}

func (g *Gate) checkRules(r domain.Rules) error {
	if g.maxCount > 0 && r.Thresholds.RateLimit >= g.maxCount {
		return fmt.Errorf("%w: rate_limit=%d max_count=%d", ErrRateLimitUnreachable, r.Thresholds.RateLimit, g.maxCount)
	}
	return nil
}

// Rules devolve as regras em uso.
func (g *Gate) Rules() domain.Rules { return g.classifier.Load().Rules() }

// Handle decide sobre uma requisição. Sempre devolve uma decisão, nunca erro.
//
// A função release deve ser chamada exatamente uma vez quando a requisição
// terminar, inclusive quando bloqueada; chamadas extras são ignoradas.
func (g *Gate) Handle(ctx context.Context, meta domain.RequestMeta) (dec domain.Decision, release func()) {
	start := time.Now()
	release = func() {}

	if meta.ReceivedAt.IsZero() {
		meta.ReceivedAt = g.now()
	}
	if meta.ClientKey == "" {
		meta.ClientKey = domain.ResolveClientKey(meta.ForwardedFor, meta.RemoteAddr, g.trustXFF)
	}
	key := meta.ClientKey

	defer func() {
		if r := recover(); r != nil {
			g.log.Error("gate.panic", "key", string(key), "panic", fmt.Sprint(r), "fail_mode", g.failMode.String())
			dec = g.failDecision(key)
		}
		g.observer.Decision(dec, time.Since(start))
	}()

	stats, err := g.store.Record(ctx, key, meta.ReceivedAt)
	if err != nil {
		g.log.Warn("gate.store.fail", "key", string(key), "err", err, "fail_mode", g.failMode.String())
		return g.failDecision(key), release
	}
	release = g.releaseFunc(key)

	c := g.classifier.Load()
	verdict := c.Classify(ClassifyInput{
		Stats:      stats,
		UserAgent:  meta.UserAgent,
		AttackHint: meta.HeaderValue(c.Rules().AttackHeader),
	})
	dec = domain.Decision{
		Allowed: !verdict.Block,
		Verdict: verdict,
		Key:     key,
		Stats:   stats,
	}

	if verdict.Block {
		g.log.Warn("gate.block",
			"key", string(key),
			"reason", verdict.Reason,
			"count", stats.Count,
			"burst", stats.Burst,
			"active", stats.Active,
			"path", meta.Path,
		)
		if g.recordBlocked {
			g.enqueue(meta, verdict)
		}
		return dec, release
	}

	if verdict.AttackType != domain.Benign {
		g.log.Debug("gate.flag",
			"key", string(key),
			"reason", verdict.Reason,
			"threat", verdict.ThreatLevel.String(),
			"count", stats.Count,
			"burst", stats.Burst,
			"active", stats.Active,
		)
	}
	g.enqueue(meta, verdict)
	return dec, release
}

func (g *Gate) failDecision(key domain.ClientKey) domain.Decision {
	if g.failMode == FailClosed {
		v := domain.BenignVerdict()
		v.Block = true
		v.Reason = domain.ReasonFailClosed
		return domain.Decision{Allowed: false, Verdict: v, Key: key, Degraded: true}
	}
	return domain.Decision{Allowed: true, Verdict: domain.BenignVerdict(), Key: key, Degraded: true}
}

func (g *Gate) releaseFunc(key domain.ClientKey) func() {
	var done atomic.Bool
	return func() {
		if !done.CompareAndSwap(false, true) {
			return
		}
		// contexto próprio: o da requisição pode já ter sido cancelado.
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := g.store.Release(ctx, key); err != nil {
			g.log.Warn("gate.release.fail", "key", string(key), "err", err)
		}
	}
}

func (g *Gate) enqueue(meta domain.RequestMeta, v domain.Verdict) {
	if g.recorder == nil {
		return
	}
	// não segura a requisição original viva até o worker processar.
	meta.Header = nil
	job := RecordJob{
		Meta:     meta,
		Verdict:  v,
		SourceIP: string(domain.ResolveClientKey(meta.ForwardedFor, meta.RemoteAddr, g.trustXFF)),
	}
	if !g.recorder.Enqueue(job) {
		g.log.Debug("gate.record.dropped", "key", string(meta.ClientKey))
	}
}
