package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anomaly-gateway/middleware/anomaly"
	"anomaly-gateway/middleware/anomaly/application"
	"anomaly-gateway/middleware/anomaly/domain"
	"anomaly-gateway/middleware/anomaly/infra"

	"github.com/gin-gonic/gin"
)

func main() {
	// Exemplo: injetando o gate diretamente em um servidor gin (sem proxy)
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	store := infra.NewMemoryWindowStore(60*time.Second, 10*time.Second)
	sink := infra.NewMemorySink()

	recorder, err := application.NewRecorder(application.RecorderOptions{Sink: sink, Logger: log})
	if err != nil {
		log.Error("example.recorder", "err", err)
		os.Exit(1)
	}
	gate, err := application.NewGate(application.GateOptions{
		Store:    store,
		Rules:    domain.DefaultRules(),
		Recorder: recorder,
		Logger:   log,
		MaxCount: store.MaxEntries(),
	})
	if err != nil {
		log.Error("example.gate", "err", err)
		os.Exit(1)
	}
	reaper := application.NewReaper(store, application.ReaperOptions{Logger: log})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() { _ = reaper.Run(ctx) }()
	go func() { _ = recorder.Run(ctx) }()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(anomaly.GinMiddleware(anomaly.Options{
		Gate:               gate,
		KeyHeader:          "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor: true,
		AddAnomalyHeaders:  true,
	}))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok\n")
	})
	// totais do que já foi classificado, para acompanhar testes manuais
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"totals":  sink.Totals(),
			"tracked": store.Len(),
			"pending": recorder.Pending(),
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example.listen", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("example.server", "err", err)
		os.Exit(1)
	}
}
