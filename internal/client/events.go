// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package client implementa a sessão e os canais do protocolo Spice:
// handshake de link versionado, upgrade opcional para TLS, autenticação
// RSA-OAEP e o pump de mensagens em steady state, tudo dirigido por um
// reactor de legibilidade single-threaded por sessão.
package client

// ChannelEvent é o evento observável de um canal, entregue ao embedder.
type ChannelEvent int

const (
	// eventNone marca um disconnect interno silencioso (reconnect de
	// downgrade ou upgrade para TLS); nunca chega ao embedder.
	eventNone ChannelEvent = iota

	EventOpened
	EventClosed
	EventErrorConnect
	EventErrorTLS
	EventErrorLink
	EventErrorAuth
	EventErrorIO
	EventErrorProtocol
)

// String retorna o nome do evento.
func (e ChannelEvent) String() string {
	switch e {
	case eventNone:
		return "none"
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventErrorConnect:
		return "error-connect"
	case EventErrorTLS:
		return "error-tls"
	case EventErrorLink:
		return "error-link"
	case EventErrorAuth:
		return "error-auth"
	case EventErrorIO:
		return "error-io"
	case EventErrorProtocol:
		return "error-protocol"
	}
	return "unknown"
}

// IsError reporta se o evento representa uma falha.
func (e ChannelEvent) IsError() bool {
	switch e {
	case EventErrorConnect, EventErrorTLS, EventErrorLink,
		EventErrorAuth, EventErrorIO, EventErrorProtocol:
		return true
	}
	return false
}
