// Package domain define contratos e tipos de domínio para a detecção de anomalias
// de tráfego (janela por cliente, veredito, vetor de features, registro de saída).
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
