package domain

import (
	"strings"
)

// Thresholds são os limites numéricos do classificador.
type Thresholds struct {
	// RateLimit: acima disso na janela longa a requisição é bloqueada.
	RateLimit int
	// Burst: acima disso na janela curta a requisição é marcada (sem bloqueio).
	Burst int
	// Connections: conexões simultâneas acima disso são marcadas como médio.
	Connections int
	// SoftRate: taxa suspeita na janela longa, marcada como médio.
	SoftRate int
}

// DefaultThresholds devolve os limites padrão.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RateLimit:   100,
		Burst:       20,
		Connections: 50,
		SoftRate:    30,
	}
}

// DefaultAttackHeader é o header de dica de ataque inspecionado pelo classificador.
const DefaultAttackHeader = "X-Attack-Type"

// DefaultSignatures são substrings de User-Agent que indicam ferramenta de DoS.
func DefaultSignatures() []string {
	return []string{"ddosbot", "floodbot", "slowlorisbot", "flood attack", "syn flood"}
}

// Rules agrupa tudo que pode ser recarregado em tempo de execução.
type Rules struct {
	Thresholds   Thresholds
	Signatures   []string
	AttackHeader string
}

// DefaultRules devolve as regras padrão.
func DefaultRules() Rules {
	return Rules{
		Thresholds:   DefaultThresholds(),
		Signatures:   DefaultSignatures(),
		AttackHeader: DefaultAttackHeader,
	}
}

// Normalize preenche valores zerados com o padrão e normaliza as assinaturas
// (minúsculas, sem espaços nas pontas, sem vazias/duplicadas).
func (r Rules) Normalize() Rules {
	def := DefaultThresholds()
	if r.Thresholds.RateLimit <= 0 {
		r.Thresholds.RateLimit = def.RateLimit
	}
	if r.Thresholds.Burst <= 0 {
		r.Thresholds.Burst = def.Burst
	}
	if r.Thresholds.Connections <= 0 {
		r.Thresholds.Connections = def.Connections
	}
	if r.Thresholds.SoftRate <= 0 {
		r.Thresholds.SoftRate = def.SoftRate
	}
	if strings.TrimSpace(r.AttackHeader) == "" {
		r.AttackHeader = DefaultAttackHeader
	}

	seen := make(map[string]struct{}, len(r.Signatures))
	sigs := make([]string, 0, len(r.Signatures))
	for _, s := range r.Signatures {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		sigs = append(sigs, s)
	}
	r.Signatures = sigs
	return r
}
