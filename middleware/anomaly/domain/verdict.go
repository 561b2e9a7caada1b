package domain

// AttackType é a família de ataque atribuída à requisição.
type AttackType int

const (
	Benign AttackType = iota
	DoSFamily
)

// String devolve o rótulo usado pelo coletor de persistência.
func (t AttackType) String() string {
	switch t {
	case DoSFamily:
		return "DosFam"
	default:
		return "BENIGN"
	}
}

// ThreatLevel é o nível de ameaça do veredito.
type ThreatLevel int

const (
	ThreatNone ThreatLevel = iota
	ThreatLow
	ThreatMedium
	ThreatHigh
)

func (l ThreatLevel) String() string {
	switch l {
	case ThreatLow:
		return "low"
	case ThreatMedium:
		return "medium"
	case ThreatHigh:
		return "high"
	default:
		return "none"
	}
}

// Regras que podem produzir um veredito. Vão para logs e métricas.
const (
	ReasonNone         = ""
	ReasonSignature    = "signature"
	ReasonRate         = "rate"
	ReasonBurst        = "burst"
	ReasonConnections  = "connections"
	ReasonSoftRate     = "soft_rate"
	ReasonAttackHeader = "attack_header"
	ReasonFailClosed   = "fail_closed"
)

// Verdict é a saída do classificador para uma requisição.
// É produzido a cada chamada e não é armazenado pelo núcleo.
type Verdict struct {
	AttackType  AttackType
	ThreatLevel ThreatLevel
	Block       bool
	Reason      string
}

// BenignVerdict é o veredito padrão quando nenhuma regra dispara.
func BenignVerdict() Verdict {
	return Verdict{AttackType: Benign, ThreatLevel: ThreatNone}
}

// Decision é o que a camada web recebe do gate.
type Decision struct {
	Allowed bool
	Verdict Verdict
	Key     ClientKey
	Stats   WindowStats
	// Degraded indica que a store falhou e o modo de falha decidiu a resposta.
	Degraded bool
}
