package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"anomaly-gateway/middleware/anomaly/domain"

	"github.com/google/uuid"
)

// Valores do registro quando o destino real não é conhecido pelo gate.
const (
	DefaultDestIP   = "127.0.0.1"
	DefaultDestPort = 8000
	DefaultProtocol = "TCP"
)

// RecordJob é o trabalho enfileirado pelo gate.
type RecordJob struct {
	Meta    domain.RequestMeta
	Verdict domain.Verdict
	// SourceIP é o endereço do cliente. Pode diferir de Meta.ClientKey
	// quando a chave vem de um header (API key, tenant).
	SourceIP string
}

// RecorderOptions configura o Recorder. Sink é obrigatório.
type RecorderOptions struct {
	Sink        domain.TrafficSink
	Synthesizer *Synthesizer
	// Throttle opcional para limitar escritas por segundo no sink.
	Throttle domain.Throttle

	Workers      int
	QueueSize    int
	WriteTimeout time.Duration

	DestIP   string
	DestPort int
	Protocol string

	Observer Observer
	Logger   *slog.Logger

	// NewID e SourcePort podem ser substituídos nos testes.
	NewID      func() string
	SourcePort func() int
}

// Recorder executa fora do caminho da requisição: sintetiza as features,
// monta o TrafficRecord e grava no sink. É best-effort: fila cheia descarta,
// erro do sink é logado e contado.
type Recorder struct {
	opts RecorderOptions
	jobs chan RecordJob
}

func NewRecorder(opts RecorderOptions) (*Recorder, error) {
	if opts.Sink == nil {
		return nil, errors.New("recorder: sink is required")
	}
	if opts.Synthesizer == nil {
		opts.Synthesizer = NewSynthesizer(nil)
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	if opts.DestIP == "" {
		opts.DestIP = DefaultDestIP
	}
	if opts.DestPort <= 0 {
		opts.DestPort = DefaultDestPort
	}
	if opts.Protocol == "" {
		opts.Protocol = DefaultProtocol
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.SourcePort == nil {
		opts.SourcePort = func() int { return 1024 + rand.IntN(65535-1024+1) }
	}
	return &Recorder{
		opts: opts,
		jobs: make(chan RecordJob, opts.QueueSize),
	}, nil
}

// Enqueue nunca bloqueia. Devolve false quando a fila está cheia.
func (r *Recorder) Enqueue(job RecordJob) bool {
	select {
	case r.jobs <- job:
		return true
	default:
		r.opts.Observer.RecordDropped()
		return false
	}
}

// Pending devolve quantos jobs aguardam na fila.
func (r *Recorder) Pending() int { return len(r.jobs) }

// Run inicia os workers e bloqueia até o ctx encerrar.
// Jobs ainda na fila no shutdown são descartados.
func (r *Recorder) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-r.jobs:
					r.process(ctx, job)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (r *Recorder) process(ctx context.Context, job RecordJob) {
	defer func() {
		if p := recover(); p != nil {
			r.opts.Observer.RecordFailed()
			r.opts.Logger.Error("recorder.panic", "panic", fmt.Sprint(p))
		}
	}()

	rec := r.Build(job)

	if r.opts.Throttle != nil {
		if err := r.opts.Throttle.Wait(ctx); err != nil {
			r.opts.Observer.RecordDropped()
			return
		}
	}

	wctx, cancel := context.WithTimeout(ctx, r.opts.WriteTimeout)
	defer cancel()
	if err := r.opts.Sink.Write(wctx, rec); err != nil {
		r.opts.Observer.RecordFailed()
		r.opts.Logger.Warn("recorder.sink.fail", "err", err, "src", rec.SourceIP, "attack_type", rec.AttackType.String())
		return
	}
	r.opts.Observer.RecordWritten()
}

// Build monta o registro de saída a partir do job (inclui a síntese das features).
func (r *Recorder) Build(job RecordJob) domain.TrafficRecord {
	meta := job.Meta
	features := r.opts.Synthesizer.Synthesize(meta, job.Verdict)

	srcPort := domain.PeerPort(meta.RemoteAddr)
	if srcPort == 0 || meta.ForwardedFor != "" {
		// a porta do peer é a do proxy; usa uma sintética.
		srcPort = r.opts.SourcePort()
	}

	at := meta.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	src := job.SourceIP
	if src == "" {
		src = string(domain.ResolveClientKey("", meta.RemoteAddr, false))
	}

	return domain.TrafficRecord{
		ID:          r.opts.NewID(),
		SourceIP:    src,
		DestIP:      r.opts.DestIP,
		SourcePort:  srcPort,
		DestPort:    r.opts.DestPort,
		Protocol:    r.opts.Protocol,
		Method:      meta.Method,
		Path:        meta.Path,
		Features:    features.String(),
		AttackType:  job.Verdict.AttackType,
		ThreatLevel: job.Verdict.ThreatLevel,
		Reason:      job.Verdict.Reason,
		At:          at,
	}
}
