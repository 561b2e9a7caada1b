package domain

// Camada de domínio da janela deslizante por cliente.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

// ClientKey identifica o cliente (normalmente o IP de origem).
// É tratado como string opaca: não há validação de formato.
type ClientKey string

// ErrEmptyKey é retornado quando uma operação recebe uma chave vazia.
var ErrEmptyKey = errors.New("empty client key")

// WindowStats é o retrato consistente da janela de um cliente no momento do registro.
type WindowStats struct {
	// Count é o total de requisições dentro da janela de rate limit (ex: 60s).
	Count int
	// Burst é o total dentro da janela curta de rajada (ex: 10s).
	Burst int
	// Active é o número de conexões em andamento do cliente.
	Active int
}

// PruneResult resume uma passada de limpeza.
type PruneResult struct {
	Scanned int
	Trimmed int
	Evicted int
	// Tracked é o número de clientes que continuam na store após a passada.
	Tracked int
}

// WindowStore mantém a janela de timestamps e o contador de conexões por cliente.
//
// Requisitos:
//   - Record e Release de uma mesma chave são mutuamente exclusivos
//   - Record devolve estatísticas de um único trecho crítico (sem leituras parciais)
//   - Release nunca deixa o contador abaixo de zero
//   - Prune remove a chave quando a janela fica vazia e não há conexões ativas
//
// A implementação em memória nunca retorna erro; uma implementação remota
// (ex: Redis) pode falhar e o chamador decide entre fail-open e fail-closed.
type WindowStore interface {
	Record(ctx context.Context, key ClientKey, at time.Time) (WindowStats, error)
	Release(ctx context.Context, key ClientKey) error
	Prune(ctx context.Context, cutoff time.Time) (PruneResult, error)
}
