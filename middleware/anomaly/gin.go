package anomaly

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinDecisionKey é a chave em gin.Context onde a decisão fica disponível.
const GinDecisionKey = "anomaly.decision"

// GinMiddleware tem a mesma semântica do Middleware, com corpo de erro em JSON.
func GinMiddleware(opts Options) gin.HandlerFunc {
	opts = opts.withDefaults()

	return func(c *gin.Context) {
		if opts.Gate == nil {
			c.Next()
			return
		}

		r := c.Request
		dec, release := opts.Gate.Handle(r.Context(), RequestMeta(r, opts.KeyFn(r)))
		defer release()

		if opts.AddAnomalyHeaders {
			setAnomalyHeaders(c.Writer.Header(), dec)
		}
		c.Set(GinDecisionKey, dec)

		if !dec.Allowed {
			c.Header("Retry-After", formatRetryAfter(opts.RetryAfter))
			c.AbortWithStatusJSON(opts.RejectStatus, gin.H{
				"error":  http.StatusText(opts.RejectStatus),
				"reason": dec.Verdict.Reason,
			})
			return
		}

		c.Next()
	}
}
