package domain

import "testing"

func TestRulesNormalize(t *testing.T) {
	r := Rules{
		Thresholds: Thresholds{RateLimit: 10},
		Signatures: []string{" DDoSBot ", "", "ddosbot", "Syn Flood"},
	}.Normalize()

	if r.Thresholds.RateLimit != 10 {
		t.Fatalf("explicit threshold must be kept, got %d", r.Thresholds.RateLimit)
	}
	def := DefaultThresholds()
	if r.Thresholds.Burst != def.Burst || r.Thresholds.Connections != def.Connections || r.Thresholds.SoftRate != def.SoftRate {
		t.Fatalf("zero thresholds must take defaults, got %+v", r.Thresholds)
	}
	if r.AttackHeader != DefaultAttackHeader {
		t.Fatalf("expected default attack header, got %q", r.AttackHeader)
	}
	if len(r.Signatures) != 2 || r.Signatures[0] != "ddosbot" || r.Signatures[1] != "syn flood" {
		t.Fatalf("unexpected signatures: %q", r.Signatures)
	}
}
