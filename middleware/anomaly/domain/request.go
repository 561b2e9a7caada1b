package domain

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// LoopbackKey é usado quando nenhum endereço de cliente pôde ser resolvido.
const LoopbackKey ClientKey = "127.0.0.1"

// HeaderFunc busca o valor de um header pelo nome (case-insensitive).
// É uma função para manter o domínio agnóstico de HTTP.
type HeaderFunc func(name string) string

// RequestMeta descreve uma requisição de entrada. Não é persistido pelo núcleo.
type RequestMeta struct {
	ReceivedAt time.Time

	// ClientKey, se preenchido, tem precedência sobre ForwardedFor/RemoteAddr.
	ClientKey    ClientKey
	RemoteAddr   string
	ForwardedFor string

	Method        string
	Path          string
	UserAgent     string
	ContentLength int64

	Header HeaderFunc
}

// HeaderValue devolve o valor do header ou "" quando não há lookup configurado.
func (m RequestMeta) HeaderValue(name string) string {
	if m.Header == nil || name == "" {
		return ""
	}
	return m.Header(name)
}

// ResolveClientKey escolhe a chave do cliente:
//  1. primeiro IP do X-Forwarded-For (se trustXFF)
//  2. host do RemoteAddr
//  3. LoopbackKey
//
// Atenção: X-Forwarded-For é controlado pelo cliente. Confiar nele permite
// fugir do limite ou incriminar outro IP; use trustXFF=true só atrás de um proxy.
func ResolveClientKey(forwardedFor, remoteAddr string, trustXFF bool) ClientKey {
	if trustXFF && forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ClientKey(ip)
		}
	}

	remoteAddr = strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return ClientKey(host)
	}
	if remoteAddr != "" {
		return ClientKey(remoteAddr)
	}
	return LoopbackKey
}

// PeerPort extrai a porta do RemoteAddr; 0 quando desconhecida.
func PeerPort(remoteAddr string) int {
	_, port, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return 0
	}
	return n
}
