package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"anomaly-gateway/middleware/anomaly/domain"
)

// ReaperOptions configura o Reaper.
type ReaperOptions struct {
	// RateLimitWindow é a janela longa; a retenção é o dobro dela.
	RateLimitWindow time.Duration
	// Interval é a cadência das passadas.
	Interval time.Duration

	Observer Observer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Reaper remove periodicamente o estado de clientes inativos.
// O ciclo de vida é explícito: Run bloqueia até o ctx encerrar.
type Reaper struct {
	store     domain.WindowStore
	retention time.Duration
	interval  time.Duration
	observer  Observer
	log       *slog.Logger
	now       func() time.Time
}

func NewReaper(store domain.WindowStore, opts ReaperOptions) *Reaper {
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = 60 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	r := &Reaper{
		store:     store,
		retention: 2 * opts.RateLimitWindow,
		interval:  opts.Interval,
		observer:  opts.Observer,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Run executa uma passada a cada Interval. Falhas são logadas e o loop segue.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.log.Info("reaper.start", "interval", r.interval.String(), "retention", r.retention.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper.stop")
			return nil
		case <-t.C:
			_, _ = r.Sweep(ctx)
		}
	}
}

// Sweep executa uma única passada com corte em now - 2x janela.
func (r *Reaper) Sweep(ctx context.Context) (res domain.PruneResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reaper: panic during sweep: %v", p)
		}
		if err != nil {
			r.log.Error("reaper.sweep.fail", "err", err)
		}
	}()

	cutoff := r.now().Add(-r.retention)
	res, err = r.store.Prune(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("reaper: prune: %w", err)
	}

	r.observer.Swept(res)
	r.log.Debug("reaper.sweep",
		"scanned", res.Scanned,
		"trimmed", res.Trimmed,
		"evicted", res.Evicted,
		"tracked", res.Tracked,
	)
	return res, nil
}
