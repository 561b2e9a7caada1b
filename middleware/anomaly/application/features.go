package application

import (
	"math/rand/v2"
	"sync"

	"anomaly-gateway/middleware/anomaly/domain"
)

// Faixas do preenchimento. São placeholders do extrator de features de um
// modelo real: só o intervalo é garantido, não a distribuição.
const (
	attackFillMin = 0.84
	attackFillMax = 0.96
	benignFillMin = 0.0
	benignFillMax = 0.3
)

// Synthesizer gera o vetor de 78 features no formato que o consumidor do
// modelo espera. Seguro para uso concorrente.
type Synthesizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthesizer usa o gerador global de math/rand/v2 quando rng é nil.
// Passe um *rand.Rand com seed fixa nos testes.
func NewSynthesizer(rng *rand.Rand) *Synthesizer {
	return &Synthesizer{rng: rng}
}

func (s *Synthesizer) Synthesize(meta domain.RequestMeta, v domain.Verdict) domain.FeatureVector {
	var out domain.FeatureVector

	contentLength := meta.ContentLength
	if contentLength < 0 {
		contentLength = 0
	}
	out[0] = domain.Clamp01(float64(contentLength) / 1000.0)
	out[1] = domain.Clamp01(float64(len(meta.Path)) / 100.0)
	out[2] = domain.Clamp01(float64(len(meta.UserAgent)) / 200.0)
	if meta.Method == "GET" {
		out[3] = 1
	}
	if meta.Method == "POST" {
		out[4] = 1
	}

	lo, hi := benignFillMin, benignFillMax
	if v.AttackType == domain.DoSFamily {
		lo, hi = attackFillMin, attackFillMax
	}

	if s != nil && s.rng != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	for i := domain.BaseFeatureCount; i < domain.FeatureCount; i++ {
		out[i] = domain.Clamp01(lo + s.sample()*(hi-lo))
	}
	return out
}

// sample devolve um valor em [0, 1). Deve ser chamado com mu travado
// quando rng != nil.
func (s *Synthesizer) sample() float64 {
	if s == nil || s.rng == nil {
		return rand.Float64()
	}
	return s.rng.Float64()
}
