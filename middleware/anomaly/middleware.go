package anomaly

import (
	"context"
	"net/http"
	"strings"
	"time"

	"anomaly-gateway/middleware/anomaly/domain"
)

type KeyFunc func(r *http.Request) string

// Gate é o que o middleware precisa do application.Gate.
type Gate interface {
	Handle(ctx context.Context, meta domain.RequestMeta) (domain.Decision, func())
}

type Options struct {
	Gate               Gate
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	RejectStatus       int
	RetryAfter         time.Duration
	// AddAnomalyHeaders expõe o veredito em X-Anomaly-Type / X-Anomaly-Threat.
	AddAnomalyHeaders bool
}

func (o Options) withDefaults() Options {
	if o.RejectStatus == 0 {
		o.RejectStatus = http.StatusTooManyRequests
	}
	if o.RetryAfter == 0 {
		o.RetryAfter = 1 * time.Second
	}
	if o.KeyFn == nil {
		o.KeyFn = DefaultKeyFunc(o.KeyHeader, o.TrustXForwardedFor)
	}
	return o
}

// DefaultKeyFunc escolhe a chave do cliente: header configurado, primeiro IP do
// X-Forwarded-For (se trustXFF), host do RemoteAddr e por fim 127.0.0.1.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}
		return string(domain.ResolveClientKey(r.Header.Get("X-Forwarded-For"), r.RemoteAddr, trustXFF))
	}
}

// RequestMeta monta os metadados do domínio a partir da requisição HTTP.
func RequestMeta(r *http.Request, key string) domain.RequestMeta {
	return domain.RequestMeta{
		ReceivedAt:    time.Now(),
		ClientKey:     domain.ClientKey(key),
		RemoteAddr:    r.RemoteAddr,
		ForwardedFor:  r.Header.Get("X-Forwarded-For"),
		Method:        r.Method,
		Path:          r.URL.Path,
		UserAgent:     r.UserAgent(),
		ContentLength: r.ContentLength,
		Header:        r.Header.Get,
	}
}

type decisionKey struct{}

// DecisionFromContext devolve a decisão do gate gravada pelo Middleware.
func DecisionFromContext(ctx context.Context) (domain.Decision, bool) {
	dec, ok := ctx.Value(decisionKey{}).(domain.Decision)
	return dec, ok
}

func setAnomalyHeaders(h http.Header, dec domain.Decision) {
	h.Set("X-Anomaly-Type", dec.Verdict.AttackType.String())
	h.Set("X-Anomaly-Threat", dec.Verdict.ThreatLevel.String())
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	opts = opts.withDefaults()

	return func(next http.Handler) http.Handler {
		if opts.Gate == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			dec, release := opts.Gate.Handle(r.Context(), RequestMeta(r, key))
			defer release()

			if opts.AddAnomalyHeaders {
				setAnomalyHeaders(w.Header(), dec)
			}
			if !dec.Allowed {
				w.Header().Set("Retry-After", formatRetryAfter(opts.RetryAfter))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, dec)))
		})
	}
}
