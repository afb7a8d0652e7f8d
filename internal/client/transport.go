// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrWouldBlock sinaliza que não há bytes disponíveis agora; o caller
// devolve o controle ao reactor e re-entra no próximo evento de
// legibilidade.
var ErrWouldBlock = errors.New("client: operation would block")

// pokeInterval é o deadline curto usado para sondar leituras sem
// bloquear o reactor. Precisa ser positivo: um deadline já expirado faz o
// Read falhar sem entregar nem os bytes já disponíveis.
const pokeInterval = time.Millisecond

// tlsHandshakeTimeout limita o handshake TLS, que roda síncrono no
// reactor. Um timeout aqui é fatal para o canal (ErrorTLS), nunca um
// would-block: o estado do engine não sobrevive a um handshake
// interrompido.
const tlsHandshakeTimeout = 10 * time.Second

// Transport abstrai o byte stream de um canal com semântica não
// bloqueante de leitura: Recv retorna os bytes disponíveis, ErrWouldBlock
// quando não há nada, io.EOF no fechamento limpo do peer, ou outro erro
// fatal. Send escreve o buffer inteiro ou falha.
type Transport interface {
	Send(p []byte) (int, error)
	Recv(p []byte) (int, error)
	Close() error
}

// recvConn faz uma leitura com deadline de poke sobre uma net.Conn,
// mapeando timeout para would-block. Vale para a conn crua e para a
// tls.Conn: desde que o handshake esteja completo, o crypto/tls retoma
// leituras após timeout sem corromper o stream.
func recvConn(conn net.Conn, p []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(pokeInterval)); err != nil {
		return 0, fmt.Errorf("arming read deadline: %w", err)
	}
	n, err := conn.Read(p)
	conn.SetReadDeadline(time.Time{})

	if n > 0 {
		return n, nil
	}
	switch {
	case err == nil:
		return 0, ErrWouldBlock
	case errors.Is(err, io.EOF):
		return 0, io.EOF
	default:
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
}

// sendConn escreve p por inteiro. net.Conn.Write só retorna short write
// junto com um erro, então qualquer retorno incompleto é fatal.
func sendConn(conn net.Conn, p []byte) (int, error) {
	n, err := conn.Write(p)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, fmt.Errorf("short write: %d/%d bytes", n, len(p))
	}
	return n, nil
}

// plainTransport é o transport sobre o socket TCP cru.
type plainTransport struct {
	conn net.Conn
}

func (t *plainTransport) Send(p []byte) (int, error) {
	return sendConn(t.conn, p)
}

func (t *plainTransport) Recv(p []byte) (int, error) {
	return recvConn(t.conn, p)
}

func (t *plainTransport) Close() error {
	return t.conn.Close()
}

// tlsTransport envolve o socket em uma tls.Conn.
type tlsTransport struct {
	raw  net.Conn
	conn *tls.Conn
}

func newTLSTransport(raw net.Conn, cfg *tls.Config) *tlsTransport {
	return &tlsTransport{raw: raw, conn: tls.Client(raw, cfg)}
}

// Handshake completa o handshake TLS de forma síncrona, limitado por
// tlsHandshakeTimeout.
func (t *tlsTransport) Handshake() error {
	if err := t.conn.SetDeadline(time.Now().Add(tlsHandshakeTimeout)); err != nil {
		return fmt.Errorf("arming handshake deadline: %w", err)
	}
	err := t.conn.Handshake()
	t.conn.SetDeadline(time.Time{})
	return err
}

func (t *tlsTransport) Send(p []byte) (int, error) {
	return sendConn(t.conn, p)
}

func (t *tlsTransport) Recv(p []byte) (int, error) {
	return recvConn(t.conn, p)
}

func (t *tlsTransport) Close() error {
	// Close da tls.Conn tentaria um close_notify bloqueante; em teardown
	// de canal interessa só liberar o fd.
	return t.raw.Close()
}
