// Package anomaly fornece adapters HTTP (net/http e gin) para o detector de
// anomalias de tráfego.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (classificação, gate, reaper, recorder) sem net/http
//   - infra: implementações concretas (janela em memória/Redis, sinks, métricas, regras)
//   - anomaly (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (header/XFF/IP)
//  2. Chama o Gate, que registra a requisição na janela e classifica
//  3. Se bloqueado, responde 429 com Retry-After
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
//  5. Ao final da requisição libera a conexão na janela do cliente
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_LIMIT_THRESHOLD, BURST_THRESHOLD, FAIL_MODE e STORE_BACKEND.
package anomaly
