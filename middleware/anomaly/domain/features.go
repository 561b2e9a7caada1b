package domain

import "strconv"

// FeatureCount é o tamanho fixo do vetor esperado pelo consumidor do modelo.
const FeatureCount = 78

// BaseFeatureCount é o número de features derivadas da requisição;
// o restante é preenchimento dependente do veredito.
const BaseFeatureCount = 5

// FeatureVector é um array (e não slice) para que o tamanho seja garantido pelo tipo.
type FeatureVector [FeatureCount]float64

// String serializa o vetor em texto decimal com 6 casas, separado por vírgula.
func (v FeatureVector) String() string {
	buf := make([]byte, 0, FeatureCount*9)
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, f, 'f', 6, 64)
	}
	return string(buf)
}

// Clamp01 limita f ao intervalo [0, 1].
func Clamp01(f float64) float64 {
	switch {
	case f != f: // NaN
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
