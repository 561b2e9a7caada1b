package application

import (
	"strings"

	"anomaly-gateway/middleware/anomaly/domain"
)

// ClassifyInput reúne as estatísticas da janela e os metadados relevantes.
type ClassifyInput struct {
	Stats      domain.WindowStats
	UserAgent  string
	AttackHint string
}

// Classifier aplica a heurística de rajada/taxa. É imutável e seguro para
// uso concorrente; para trocar as regras crie outro com NewClassifier.
type Classifier struct {
	rules domain.Rules
}

func NewClassifier(rules domain.Rules) *Classifier {
	return &Classifier{rules: rules.Normalize()}
}

// Rules devolve as regras normalizadas em uso.
func (c *Classifier) Rules() domain.Rules { return c.rules }

// Classify é uma função pura. A ordem das regras é o critério de desempate:
// a primeira que casar vence.
//
// Assinatura e estouro da taxa absoluta bloqueiam; rajada, conexões e taxa
// suspeita apenas marcam a requisição.
func (c *Classifier) Classify(in ClassifyInput) domain.Verdict {
	th := c.rules.Thresholds

	if c.matchesSignature(in.UserAgent) {
		return domain.Verdict{AttackType: domain.DoSFamily, ThreatLevel: domain.ThreatHigh, Block: true, Reason: domain.ReasonSignature}
	}

	switch {
	case in.Stats.Count > th.RateLimit:
		return domain.Verdict{AttackType: domain.DoSFamily, ThreatLevel: domain.ThreatHigh, Block: true, Reason: domain.ReasonRate}
	case in.Stats.Burst > th.Burst:
		return domain.Verdict{AttackType: domain.DoSFamily, ThreatLevel: domain.ThreatHigh, Reason: domain.ReasonBurst}
	case in.Stats.Active > th.Connections:
		return domain.Verdict{AttackType: domain.DoSFamily, ThreatLevel: domain.ThreatMedium, Reason: domain.ReasonConnections}
	case in.Stats.Count > th.SoftRate:
		return domain.Verdict{AttackType: domain.DoSFamily, ThreatLevel: domain.ThreatMedium, Reason: domain.ReasonSoftRate}
	}

	if hint := strings.ToLower(in.AttackHint); hint != "" {
		if strings.Contains(hint, "flood") || strings.Contains(hint, "dos") {
			return domain.Verdict{AttackType: domain.DoSFamily, ThreatLevel: domain.ThreatHigh, Reason: domain.ReasonAttackHeader}
		}
	}

	return domain.BenignVerdict()
}

func (c *Classifier) matchesSignature(userAgent string) bool {
	if userAgent == "" || len(c.rules.Signatures) == 0 {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, sig := range c.rules.Signatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}
