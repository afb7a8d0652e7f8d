// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testKey gera a chave RSA-1024 do server de teste e o DER da pública.
func testKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshalling public key: %v", err)
	}
	return key, der
}

// listen abre um listener TCP de loopback e devolve a porta.
func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

// tlsListen abre um listener TLS com certificado self-signed.
func tlsListen(t *testing.T) (net.Listener, int) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating tls key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating tls certificate: %v", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("tls listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

// serve roda script na próxima conexão aceita. A conexão fica aberta até
// o fim do teste, para o client não ver um EOF espúrio; scripts que
// precisam de EOF fecham a conn explicitamente.
func serve(t *testing.T, ln net.Listener, script func(conn net.Conn)) {
	t.Helper()
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
		<-hold
	}()
}

// readClientLink lê e valida o link header + link message do client.
func readClientLink(t *testing.T, conn net.Conn) (*protocol.LinkHeader, *protocol.LinkMessage) {
	t.Helper()
	hdr, err := protocol.ReadLinkHeader(conn)
	if err != nil {
		t.Errorf("server: reading client link header: %v", err)
		return nil, nil
	}
	msg, err := protocol.ReadLinkMessage(conn, hdr.Size)
	if err != nil {
		t.Errorf("server: reading client link message: %v", err)
		return nil, nil
	}
	return hdr, msg
}

// completeAuth lê o ciphertext, decifra e valida a senha, e responde OK.
func completeAuth(t *testing.T, conn net.Conn, key *rsa.PrivateKey, wantPassword string) bool {
	t.Helper()
	ciphertext := make([]byte, key.Size())
	if _, err := io.ReadFull(conn, ciphertext); err != nil {
		t.Errorf("server: reading auth ciphertext: %v", err)
		return false
	}
	plaintext, err := rsa.DecryptOAEP(sha1.New(), nil, key, ciphertext, nil)
	if err != nil {
		t.Errorf("server: decrypting password: %v", err)
		return false
	}
	if string(plaintext) != wantPassword+"\x00" {
		t.Errorf("server: expected password %q + NUL, got %q", wantPassword, plaintext)
		return false
	}
	if err := protocol.WriteAuthResult(conn, protocol.AuthResultOK); err != nil {
		t.Errorf("server: writing auth result: %v", err)
		return false
	}
	return true
}

// serverHandshake completa link + auth do lado do server (major atual).
func serverHandshake(t *testing.T, conn net.Conn, pubDER []byte, key *rsa.PrivateKey, password string) *protocol.LinkMessage {
	t.Helper()
	_, msg := readClientLink(t, conn)
	if msg == nil {
		return nil
	}
	reply := &protocol.LinkReply{Error: protocol.LinkErrOK, PubKey: pubDER}
	if err := protocol.WriteLinkReply(conn, protocol.VersionMajor, protocol.VersionMinor, reply); err != nil {
		t.Errorf("server: writing link reply: %v", err)
		return nil
	}
	if !completeAuth(t, conn, key, password) {
		return nil
	}
	return msg
}

// eventRecorder acumula os eventos de canal entregues ao embedder.
type eventRecorder struct {
	ch chan ChannelEvent
}

func newEventRecorder(s *Session) *eventRecorder {
	r := &eventRecorder{ch: make(chan ChannelEvent, 32)}
	s.OnEvent(func(_ *Channel, ev ChannelEvent) { r.ch <- ev })
	return r
}

// wait espera o próximo evento.
func (r *eventRecorder) wait(t *testing.T) ChannelEvent {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return eventNone
	}
}

// expect espera o próximo evento e exige que seja ev.
func (r *eventRecorder) expect(t *testing.T, ev ChannelEvent) {
	t.Helper()
	if got := r.wait(t); got != ev {
		t.Fatalf("expected event %s, got %s", ev, got)
	}
}

// expectNone garante que nenhum evento chegue no intervalo.
func (r *eventRecorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("expected no event, got %s", ev)
	case <-time.After(d):
	}
}

// waitFor espera cond virar true.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
