package application

import (
	"time"

	"anomaly-gateway/middleware/anomaly/domain"
)

// Observer recebe eventos para métricas. Implementações devem ser baratas:
// Decision é chamado no caminho quente.
type Observer interface {
	Decision(d domain.Decision, elapsed time.Duration)
	RecordDropped()
	RecordWritten()
	RecordFailed()
	Swept(res domain.PruneResult)
}

type nopObserver struct{}

func (nopObserver) Decision(domain.Decision, time.Duration) {}
func (nopObserver) RecordDropped()                          {}
func (nopObserver) RecordWritten()                          {}
func (nopObserver) RecordFailed()                           {}
func (nopObserver) Swept(domain.PruneResult)                {}
