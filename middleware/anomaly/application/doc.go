// Package application contém os casos de uso da detecção de anomalias:
// classificação, síntese de features, o gate por requisição, o registro
// assíncrono e a limpeza periódica (reaper).
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Gate.Handle(ctx, meta) retorna uma Decision (allow/block + veredito)
// e uma função de release que deve ser chamada ao fim da requisição.
package application
