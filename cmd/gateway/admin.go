package main

import (
	"encoding/json"
	"net/http"

	"anomaly-gateway/middleware/anomaly/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type rulesSource interface {
	Rules() domain.Rules
}

type rulesView struct {
	RateLimit    int      `json:"rate_limit"`
	Burst        int      `json:"burst"`
	Connections  int      `json:"connections"`
	SoftRate     int      `json:"soft_rate"`
	Signatures   []string `json:"signatures"`
	AttackHeader string   `json:"attack_header"`
}

// newAdminRouter expõe /healthz, /metrics e /rules (regras em uso).
// Fica em um listener separado do tráfego proxied.
func newAdminRouter(rules rulesSource, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Get("/rules", func(w http.ResponseWriter, _ *http.Request) {
		cur := rules.Rules()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rulesView{
			RateLimit:    cur.Thresholds.RateLimit,
			Burst:        cur.Thresholds.Burst,
			Connections:  cur.Thresholds.Connections,
			SoftRate:     cur.Thresholds.SoftRate,
			Signatures:   cur.Signatures,
			AttackHeader: cur.AttackHeader,
		})
	})
	return r
}
