// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryWindowStore: janela deslizante por cliente em memória, com shards
//   - RedisWindowStore: a mesma janela em Redis (scripts Lua), compartilhada entre réplicas
//   - LogSink / MemorySink / RedisSink: destinos dos registros classificados
//   - Metrics: contadores Prometheus
//   - LoadRules / WatchRules: regras em YAML com recarga a quente
package infra
