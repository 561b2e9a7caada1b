package infra

import (
	"anomaly-gateway/middleware/anomaly/domain"

	"golang.org/x/time/rate"
)

// NewWriteThrottle devolve um token bucket para as escritas do recorder.
// perSec <= 0 desliga o limite (devolve nil).
func NewWriteThrottle(perSec float64, burst int) domain.Throttle {
	if perSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}
