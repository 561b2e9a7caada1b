// utilitário pequeno para formatação de valores numéricos em headers.
// Padroniza a formatação sem puxar fmt para casos simples.

package anomaly

import (
	"math"
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// formatRetryAfter arredonda para cima, com mínimo de 1 segundo.
func formatRetryAfter(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return formatInt(secs)
}
