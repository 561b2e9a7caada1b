package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anomaly-gateway/middleware/anomaly"
	"anomaly-gateway/middleware/anomaly/application"
	"anomaly-gateway/middleware/anomaly/domain"
	"anomaly-gateway/middleware/anomaly/infra"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway.exit", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// .env é opcional; variáveis já definidas no ambiente têm precedência.
	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log := newLogger(os.Stdout, cfg.logLevel)
	slog.SetDefault(log)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy.error", "path", r.URL.Path, "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.needsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping error: %w", err)
		}
	}

	var store domain.WindowStore
	switch cfg.storeBackend {
	case "redis":
		store = infra.NewRedisWindowStore(rdb, cfg.rateWindow, cfg.burstWindow,
			infra.WithWindowPrefix(cfg.redisPrefix+":window"),
		)
	default:
		store = infra.NewMemoryWindowStore(cfg.rateWindow, cfg.burstWindow,
			infra.WithShards(cfg.storeShards),
			infra.WithMaxEntries(cfg.maxEntries),
		)
	}

	var sink domain.TrafficSink
	switch cfg.sink {
	case "redis":
		sink = infra.NewRedisSink(rdb,
			infra.WithSinkPrefix(cfg.redisPrefix+":traffic"),
			infra.WithSinkTTL(cfg.sinkTTL),
			infra.WithSinkStreamMaxLen(cfg.streamMaxLen),
		)
	case "memory":
		sink = infra.NewMemorySink()
	default:
		sink = infra.NewLogSink(log, infra.WithFeatureText(cfg.logFeatures))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := infra.NewMetrics(reg)

	rules := cfg.rules()
	if cfg.rulesFile != "" {
		rules, err = infra.LoadRules(cfg.rulesFile)
		if err != nil {
			return err
		}
	}

	recorder, err := application.NewRecorder(application.RecorderOptions{
		Sink:         sink,
		Synthesizer:  application.NewSynthesizer(nil),
		Throttle:     infra.NewWriteThrottle(cfg.recordMaxPerSec, cfg.recordWorkers),
		Workers:      cfg.recordWorkers,
		QueueSize:    cfg.recordQueue,
		WriteTimeout: 2 * time.Second,
		DestIP:       cfg.destIP,
		DestPort:     cfg.destPort,
		Observer:     metrics,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	gate, err := application.NewGate(application.GateOptions{
		Store:             store,
		Rules:             rules,
		Recorder:          recorder,
		Observer:          metrics,
		Logger:            log,
		FailMode:          cfg.failMode,
		TrustForwardedFor: cfg.trustXFF,
		RecordBlocked:     cfg.recordBlocked,
		MaxCount:          cfg.maxCount(),
	})
	if err != nil {
		return err
	}

	reaper := application.NewReaper(store, application.ReaperOptions{
		RateLimitWindow: cfg.rateWindow,
		Interval:        cfg.reaperInterval,
		Observer:        metrics,
		Logger:          log,
	})

	h := anomaly.Middleware(anomaly.Options{
		Gate:               gate,
		KeyHeader:          cfg.keyHeader,
		TrustXForwardedFor: cfg.trustXFF,
		RejectStatus:       http.StatusTooManyRequests,
		RetryAfter:         cfg.retryAfter,
		AddAnomalyHeaders:  cfg.addHeaders,
	})(proxy)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	cur := gate.Rules()
	log.Info("gateway.start",
		"listen", cfg.listenAddr,
		"upstream", target.String(),
		"store", cfg.storeBackend,
		"sink", cfg.sink,
		"fail_mode", cfg.failMode.String(),
		"trust_xff", cfg.trustXFF,
		"rate_window", cfg.rateWindow.String(),
		"burst_window", cfg.burstWindow.String(),
		"rate_limit", cur.Thresholds.RateLimit,
		"burst", cur.Thresholds.Burst,
		"connections", cur.Thresholds.Connections,
		"soft_rate", cur.Thresholds.SoftRate,
		"rules_file", cfg.rulesFile,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return reaper.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx) })
	g.Go(serve(gctx, srv, log, "gateway"))

	if cfg.rulesFile != "" {
		g.Go(func() error { return infra.WatchRules(gctx, cfg.rulesFile, log, gate.Reload) })
	}
	if cfg.metricsAddr != "" {
		admin := &http.Server{
			Addr:              cfg.metricsAddr,
			Handler:           newAdminRouter(gate, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(serve(gctx, admin, log, "admin"))
	}

	err = g.Wait()
	log.Info("gateway.stop")
	return err
}

// serve roda o servidor até ctx encerrar e então faz shutdown gracioso.
func serve(ctx context.Context, srv *http.Server, log *slog.Logger, name string) func() error {
	return func() error {
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		log.Info("server.listen", "name", name, "addr", srv.Addr)

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("%s server: %w", name, err)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}
