package anomaly

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"anomaly-gateway/middleware/anomaly/application"
	"anomaly-gateway/middleware/anomaly/domain"
	"anomaly-gateway/middleware/anomaly/infra"
)

func newTestGate(t *testing.T, rules domain.Rules) (*application.Gate, *infra.MemoryWindowStore) {
	t.Helper()
	store := infra.NewMemoryWindowStore(60*time.Second, 10*time.Second)
	g, err := application.NewGate(application.GateOptions{
		Store:  store,
		Rules:  rules,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g, store
}

func TestMiddleware_BlocksSignatureUserAgent(t *testing.T) {
	gate, _ := newTestGate(t, domain.DefaultRules())

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Gate: gate, RetryAfter: 1500 * time.Millisecond, AddAnomalyHeaders: true})(next)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("User-Agent", "DDoSBot/2.0")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After rounded up to 2, got %q", got)
	}
	if got := w.Header().Get("X-Anomaly-Type"); got != "DosFam" {
		t.Fatalf("expected X-Anomaly-Type=DosFam, got %q", got)
	}
	if calls != 0 {
		t.Fatalf("next handler must not run for blocked request")
	}
}

func TestMiddleware_AllowsBenignAndReleases(t *testing.T) {
	gate, store := newTestGate(t, domain.DefaultRules())

	var inFlight int
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, inFlight, _ = store.Window("10.0.0.2")
		dec, ok := DecisionFromContext(r.Context())
		if !ok || !dec.Allowed {
			t.Errorf("expected allowed decision in context, got %+v ok=%v", dec, ok)
		}
		_, _ = io.WriteString(w, "ok")
	})
	h := Middleware(Options{Gate: gate, AddAnomalyHeaders: true})(next)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	r.Header.Set("User-Agent", "Mozilla/5.0")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("X-Anomaly-Threat"); got != "none" {
		t.Fatalf("expected X-Anomaly-Threat=none, got %q", got)
	}
	if inFlight != 1 {
		t.Fatalf("expected 1 active connection while handling, got %d", inFlight)
	}
	if _, active, _ := store.Window("10.0.0.2"); active != 0 {
		t.Fatalf("expected connection released after response, got %d", active)
	}
}

func TestMiddleware_RateLimitPerKey(t *testing.T) {
	rules := domain.DefaultRules()
	rules.Thresholds.RateLimit = 2
	gate, _ := newTestGate(t, rules)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Gate: gate, KeyHeader: "X-Api-Key"})(next)

	do := func(key string) int {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		r.Header.Set("X-Api-Key", key)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	if do("a") != http.StatusOK || do("a") != http.StatusOK {
		t.Fatalf("expected first two requests of key a to pass")
	}
	if got := do("a"); got != http.StatusTooManyRequests {
		t.Fatalf("expected third request of key a to be rejected, got %d", got)
	}
	if got := do("b"); got != http.StatusOK {
		t.Fatalf("expected key b to have its own window, got %d", got)
	}
}

func TestMiddleware_NilGatePassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(Options{})(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", w.Code)
	}
}

func TestRequestMeta(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example/api/v1?x=1", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("User-Agent", "curl/8")
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.Header.Set("X-Attack-Type", "flood")

	m := RequestMeta(r, "k")
	if m.ClientKey != "k" || m.Path != "/api/v1" || m.Method != http.MethodPost || m.UserAgent != "curl/8" {
		t.Fatalf("unexpected meta %+v", m)
	}
	if m.ForwardedFor != "1.2.3.4" || m.HeaderValue("x-attack-type") != "flood" {
		t.Fatalf("expected header lookups to work, got xff=%q hint=%q", m.ForwardedFor, m.HeaderValue("x-attack-type"))
	}
}
