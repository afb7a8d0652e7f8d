// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/nishisan-dev/n-viewer/internal/codec"
	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// State é o estado corrente da state machine do canal.
type State int32

const (
	StateUnconnected State = iota
	StateTLS
	StateLinkHdr
	StateLinkMsg
	StateAuth
	StateReady
)

// String retorna o nome do estado.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateTLS:
		return "tls"
	case StateLinkHdr:
		return "link-hdr"
	case StateLinkMsg:
		return "link-msg"
	case StateAuth:
		return "auth"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// maxLinkReplySize limita o corpo do link reply do peer.
const maxLinkReplySize = 64 * 1024

// Channel é um stream lógico do protocolo: faz o handshake de link, a
// autenticação e então bombeia mensagens tipadas nas duas direções. Toda
// a state machine roda na goroutine do reactor da sessão; um passo lê
// avidamente até o transport sinalizar would-block e então devolve o
// controle.
type Channel struct {
	session *Session
	typ     protocol.ChannelType
	id      uint8
	name    string
	logger  *slog.Logger
	class   channelClass

	st atomic.Int32

	tls       bool
	conn      net.Conn
	transport Transport
	tlsT      *tlsTransport
	watch     Watch

	// protocolMajor é o major a negociar no próximo link; rebaixado para
	// o legado quando o peer responde com major 1.
	protocolMajor uint32
	linkHdr       protocol.LinkHeader
	codec         *codec.Codec
	parser        codec.ParseFunc

	// Montagem do link reply do peer.
	linkBuf   [protocol.LinkHeaderSize]byte
	lpos      int
	peerHdr   *protocol.LinkHeader
	peerBuf   []byte
	ppos      int
	peerReply *protocol.LinkReply

	// Resultado de autenticação.
	authBuf [4]byte
	apos    int

	// Mensagem inbound em montagem: no máximo uma por vez.
	hdrBuf [protocol.DataHeaderSize]byte
	hpos   int
	msgIn  *InMessage

	// Serial outbound: começa em 1, monotônico por mensagem enviada.
	serial uint64

	// Janela de acknowledgment instalada pelo server via SET_ACK.
	ackWindow uint32
	ackCount  uint32
}

func newChannel(s *Session, typ protocol.ChannelType, id uint8) (*Channel, error) {
	class, err := newChannelClass(typ)
	if err != nil {
		return nil, err
	}
	c := &Channel{
		session:       s,
		typ:           typ,
		id:            id,
		name:          fmt.Sprintf("%s:%d", typ, id),
		class:         class,
		protocolMajor: protocol.VersionMajor,
		serial:        1,
	}
	c.logger = s.logger.With("channel", c.name)
	return c, nil
}

// Type retorna o tipo do canal.
func (c *Channel) Type() protocol.ChannelType { return c.typ }

// ID retorna o id do canal.
func (c *Channel) ID() uint8 { return c.id }

// Name retorna o nome legível "<tipo>:<id>".
func (c *Channel) Name() string { return c.name }

// Session retorna a sessão dona do canal.
func (c *Channel) Session() *Session { return c.session }

// State retorna o estado corrente.
func (c *Channel) State() State { return State(c.st.Load()) }

func (c *Channel) state() State     { return State(c.st.Load()) }
func (c *Channel) setState(s State) { c.st.Store(int32(s)) }

// Connect inicia a conexão do canal. Assíncrono: o progresso e as falhas
// chegam como eventos.
func (c *Channel) Connect() error {
	if c.session == nil || c.typ == 0 {
		return errors.New("client: channel setup incomplete")
	}
	c.session.loop.Post(c.connect)
	return nil
}

// Disconnect derruba o canal e emite EventClosed. Idempotente.
func (c *Channel) Disconnect() {
	c.session.loop.Call(func() { c.disconnect(EventClosed) })
}

// connect roda no reactor: abre o socket (promovendo para TLS se o plain
// falhar), registra o watch e dispara o handshake.
func (c *Channel) connect() {
	if c.state() != StateUnconnected {
		return
	}

	conn, err := c.session.channelConnect(c.tls)
	if err != nil && !c.tls {
		// Porta plain recusou: tenta uma vez a porta TLS.
		c.tls = true
		conn, err = c.session.channelConnect(true)
	}
	if err != nil {
		c.logger.Error("connect failed", "error", err)
		c.emit(EventErrorConnect)
		return
	}
	c.conn = conn

	watch, err := c.session.watcher.Watch(conn, c.onReadable)
	if err != nil {
		c.logger.Error("watch registration failed", "error", err)
		conn.Close()
		c.conn = nil
		c.emit(EventErrorConnect)
		return
	}
	c.watch = watch

	if c.tls {
		tlsCfg, err := c.session.clientTLSConfig()
		if err != nil {
			c.logger.Error("tls config failed", "error", err)
			c.teardown()
			c.emit(EventErrorTLS)
			return
		}
		c.tlsT = newTLSTransport(conn, tlsCfg)
		c.transport = c.tlsT

		// O handshake roda síncrono, com timeout; um engine
		// interrompido no meio do handshake não é retomável.
		c.setState(StateTLS)
		if err := c.tlsT.Handshake(); err != nil {
			c.logger.Error("tls handshake failed", "error", err)
			c.setState(StateUnconnected)
			c.teardown()
			c.emit(EventErrorTLS)
			return
		}
	} else {
		c.transport = &plainTransport{conn: conn}
	}

	c.sendLink()
}

// onReadable é o callback do watch: avança a state machine até o
// transport sinalizar would-block ou o canal cair.
func (c *Channel) onReadable() {
	for c.state() != StateUnconnected {
		if !c.stepOnce() {
			return
		}
	}
}

func (c *Channel) stepOnce() bool {
	switch c.state() {
	case StateTLS:
		// Handshake em andamento no connect; nada a fazer aqui.
		return false
	case StateLinkHdr:
		return c.recvLinkHeader()
	case StateLinkMsg:
		return c.recvLinkMessage()
	case StateAuth:
		return c.recvAuthResult()
	case StateReady:
		return c.recvMsg()
	}
	return false
}

// sendLink escolhe parser e numeração pelo major corrente e envia link
// header + link message (capabilities reservadas: listas vazias).
func (c *Channel) sendLink() {
	major, minor := protocol.VersionMajor, protocol.VersionMinor
	if c.protocolMajor == protocol.VersionMajorLegacy {
		major, minor = protocol.VersionMajorLegacy, protocol.VersionMinorLegacy
	}

	cdc, err := codec.ForMajor(major)
	if err != nil {
		c.logger.Error("selecting codec", "error", err)
		c.disconnect(EventErrorLink)
		return
	}
	parser, err := cdc.ServerParser(c.typ)
	if err != nil {
		c.logger.Error("selecting parser", "error", err)
		c.disconnect(EventErrorLink)
		return
	}
	c.codec, c.parser = cdc, parser

	c.linkHdr = protocol.LinkHeader{Magic: protocol.Magic, Major: major, Minor: minor}
	msg := protocol.LinkMessage{
		ConnectionID: c.session.ConnectionID(),
		ChannelType:  c.typ,
		ChannelID:    c.id,
	}
	buf := protocol.EncodeLink(&c.linkHdr, &msg)

	if err := c.send(buf); err != nil {
		c.logger.Error("sending link", "error", err)
		c.disconnect(EventErrorIO)
		return
	}
	c.lpos = 0
	c.setState(StateLinkHdr)
}

func (c *Channel) recvLinkHeader() bool {
	complete, err := c.readInto(c.linkBuf[:], &c.lpos)
	if err != nil {
		return c.recvFailed(err)
	}
	if !complete {
		return false
	}

	hdr, err := protocol.ParseLinkHeader(c.linkBuf[:])
	if err != nil {
		c.logger.Error("bad link header", "error", err)
		c.disconnect(EventErrorLink)
		return false
	}
	if hdr.Major != c.linkHdr.Major {
		if hdr.Major == protocol.VersionMajorLegacy {
			// Peer legado: reconecta silenciosamente falando major 1.
			c.logger.Info("peer speaks legacy protocol, reconnecting", "major", hdr.Major)
			c.protocolMajor = protocol.VersionMajorLegacy
			c.disconnect(eventNone)
			c.connect()
			return false
		}
		c.logger.Error("link major mismatch",
			"peer", hdr.Major, "local", c.linkHdr.Major)
		c.disconnect(EventErrorLink)
		return false
	}
	if hdr.Size > maxLinkReplySize {
		c.logger.Error("link reply too large", "size", hdr.Size)
		c.disconnect(EventErrorLink)
		return false
	}

	c.peerHdr = hdr
	c.peerBuf = make([]byte, hdr.Size)
	c.ppos = 0
	c.setState(StateLinkMsg)
	return true
}

func (c *Channel) recvLinkMessage() bool {
	complete, err := c.readInto(c.peerBuf, &c.ppos)
	if err != nil {
		return c.recvFailed(err)
	}
	if !complete {
		return false
	}

	reply, err := protocol.ParseLinkReply(c.peerBuf)
	if err != nil {
		c.logger.Error("bad link reply", "error", err)
		c.disconnect(EventErrorLink)
		return false
	}

	switch reply.Error {
	case protocol.LinkErrOK:
	case protocol.LinkErrNeedSecured:
		if c.tls {
			// O link já é TLS; um segundo NEED_SECURED é impossível.
			c.logger.Error("peer demanded tls on a tls link")
			c.disconnect(EventErrorLink)
			return false
		}
		c.logger.Info("peer requires tls, reconnecting")
		c.tls = true
		c.disconnect(eventNone)
		c.connect()
		return false
	default:
		c.logger.Error("link rejected", "code", reply.Error)
		c.disconnect(EventErrorLink)
		return false
	}

	c.peerReply = reply
	c.apos = 0
	c.setState(StateAuth)
	return c.sendAuth()
}

// sendAuth cifra a senha com a chave pública do peer e envia o ciphertext
// (exatamente o tamanho do módulo RSA).
func (c *Channel) sendAuth() bool {
	ciphertext, err := encryptPassword(c.peerReply.PubKey, c.session.Password())
	if err != nil {
		c.logger.Error("auth encryption failed", "error", err)
		c.disconnect(EventErrorAuth)
		return false
	}
	err = c.send(ciphertext)
	wipe(ciphertext)
	if err != nil {
		c.logger.Error("sending auth", "error", err)
		c.disconnect(EventErrorIO)
		return false
	}
	return true
}

func (c *Channel) recvAuthResult() bool {
	complete, err := c.readInto(c.authBuf[:], &c.apos)
	if err != nil {
		return c.recvFailed(err)
	}
	if !complete {
		return false
	}

	result := uint32(c.authBuf[0]) | uint32(c.authBuf[1])<<8 |
		uint32(c.authBuf[2])<<16 | uint32(c.authBuf[3])<<24
	if result != protocol.AuthResultOK {
		c.logger.Error("authentication rejected", "result", result)
		c.disconnect(EventErrorAuth)
		return false
	}

	c.hpos = 0
	c.msgIn = nil
	c.setState(StateReady)
	c.logger.Info("channel up")
	c.emit(EventOpened)
	c.class.channelUp(c)
	return c.state() == StateReady
}

// recvMsg monta a mensagem inbound corrente (header e depois payload),
// expande sub-messages, mantém a janela de ACK e despacha o top-level.
func (c *Channel) recvMsg() bool {
	if c.msgIn == nil {
		c.msgIn = newInMessage()
		c.hpos = 0
	}
	in := c.msgIn

	if c.hpos < protocol.DataHeaderSize {
		complete, err := c.readInto(c.hdrBuf[:], &c.hpos)
		if err != nil {
			return c.recvFailed(err)
		}
		if !complete {
			return false
		}
		hdr, err := protocol.ParseDataHeader(c.hdrBuf[:])
		if err != nil || hdr.Size > protocol.MaxMessageSize {
			c.logger.Error("bad data header", "size", hdr.Size)
			c.disconnect(EventErrorProtocol)
			return false
		}
		in.Header = hdr
		in.Type = c.codec.CanonicalType(hdr.Type)
		in.Data = make([]byte, hdr.Size)
		in.dpos = 0
	}

	if in.dpos < len(in.Data) {
		complete, err := c.readInto(in.Data, &in.dpos)
		if err != nil {
			return c.recvFailed(err)
		}
		if !complete {
			return false
		}
	}

	c.session.recordFrame(c.name, in.Header, in.Data)

	// Fan-out das sub-messages, em ordem de lista, antes do top-level.
	if in.Header.SubList != 0 {
		subs, err := protocol.ParseSubMessageList(in.Data, in.Header.SubList)
		if err != nil {
			c.logger.Error("bad sub-message list", "error", err)
			c.disconnect(EventErrorProtocol)
			return false
		}
		for _, sub := range subs {
			subIn := newSubMessage(in, c.codec.CanonicalType(sub.Type), sub.Body)
			parsed, release, err := c.parser(subIn.Data, subIn.Type, c.peerHdr.Minor)
			if err != nil {
				c.logger.Error("sub-message parse failed",
					"type", subIn.Type, "error", err)
				subIn.Unref()
				c.disconnect(EventErrorProtocol)
				return false
			}
			subIn.setParsed(parsed, release)
			c.dispatch(subIn)
			subIn.Unref()
			if c.state() != StateReady {
				return false
			}
		}
	}

	// Janela de ACK: só ativa depois do SET_ACK instalar o tamanho.
	if c.ackCount > 0 {
		c.ackCount--
		if c.ackCount == 0 {
			out := newOutMessage(c, protocol.MsgcAck)
			c.sendMessage(out)
			c.ackCount = c.ackWindow
			if c.state() != StateReady {
				return false
			}
		}
	}

	parsed, release, err := c.parser(in.Data, in.Type, c.peerHdr.Minor)
	if err != nil {
		c.logger.Error("message parse failed", "type", in.Type, "error", err)
		c.disconnect(EventErrorProtocol)
		return false
	}
	in.setParsed(parsed, release)

	c.logger.Debug("message",
		"serial", in.Header.Serial, "type", in.Type, "size", in.Header.Size)

	c.dispatch(in)
	in.Unref()
	c.msgIn = nil
	c.hpos = 0
	return c.state() == StateReady
}

// dispatch entrega a mensagem: primeiro o tratamento comum a todos os
// canais (ACK window, ping, notify), depois o handler da classe.
func (c *Channel) dispatch(in *InMessage) {
	if c.handleCommon(in) {
		return
	}
	if err := c.class.handleMsg(c, in); err != nil {
		c.logger.Error("message handler failed", "type", in.Type, "error", err)
		c.disconnect(EventErrorProtocol)
	}
}

func (c *Channel) handleCommon(in *InMessage) bool {
	switch in.Type {
	case protocol.MsgSetAck:
		ack := in.Parsed.(*codec.SetAck)
		c.ackWindow = ack.Window
		c.ackCount = ack.Window
		out := newOutMessage(c, protocol.MsgcAckSync)
		codec.AppendAckSync(out.Marshaller(), ack.Generation)
		c.sendMessage(out)
		return true
	case protocol.MsgPing:
		ping := in.Parsed.(*codec.Ping)
		out := newOutMessage(c, protocol.MsgcPong)
		codec.AppendPong(out.Marshaller(), ping)
		c.sendMessage(out)
		return true
	case protocol.MsgNotify:
		n := in.Parsed.(*codec.Notify)
		c.logger.Info("server notify",
			"severity", n.Severity, "what", n.What, "message", n.Message)
		return true
	case protocol.MsgDisconnecting:
		d := in.Parsed.(*codec.Disconnecting)
		c.logger.Info("server disconnecting", "reason", d.Reason)
		return true
	case protocol.MsgMigrate, protocol.MsgMigrateData, protocol.MsgWaitForChannels:
		c.logger.Debug("ignoring migration message", "type", in.Type)
		return true
	}
	return false
}

// nextSerial consome o próximo serial outbound.
func (c *Channel) nextSerial() uint64 {
	s := c.serial
	c.serial++
	return s
}

// send escreve buf por inteiro no transport.
func (c *Channel) send(buf []byte) error {
	_, err := c.transport.Send(buf)
	return err
}

// sendMessage transmite e solta uma mensagem outbound; falha de I/O
// derruba o canal.
func (c *Channel) sendMessage(out *OutMessage) {
	if err := out.Send(); err != nil {
		c.logger.Error("send failed", "error", err)
		out.Unref()
		c.disconnect(EventErrorIO)
		return
	}
	out.Unref()
}

// readInto completa buf a partir de *pos; retorna complete=true quando o
// buffer inteiro chegou. ErrWouldBlock, EOF e erros de I/O sobem para o
// caller decidir.
func (c *Channel) readInto(buf []byte, pos *int) (bool, error) {
	for *pos < len(buf) {
		n, err := c.transport.Recv(buf[*pos:])
		if err != nil {
			return false, err
		}
		*pos += n
	}
	return true, nil
}

// recvFailed traduz o erro de leitura: would-block devolve ao reactor,
// EOF fecha limpo, o resto é falha de I/O.
func (c *Channel) recvFailed(err error) bool {
	switch {
	case errors.Is(err, ErrWouldBlock):
	case errors.Is(err, io.EOF):
		c.logger.Info("channel eof")
		c.disconnect(EventClosed)
	default:
		c.logger.Error("channel read failed", "error", err)
		c.disconnect(EventErrorIO)
	}
	return false
}

// teardown fecha socket e watch sem transição de evento; usado nos
// caminhos de falha do connect, antes do canal ter estado.
func (c *Channel) teardown() {
	if c.watch != nil {
		c.watch.Cancel()
		c.watch = nil
	}
	if c.transport != nil {
		c.transport.Close()
	} else if c.conn != nil {
		c.conn.Close()
	}
	c.conn = nil
	c.transport = nil
	c.tlsT = nil
}

// disconnect derruba o canal: cancela o watch, fecha o socket, zera a
// montagem em progresso e volta para UNCONNECTED. Idempotente; um reason
// eventNone não emite evento (reconnect interno).
func (c *Channel) disconnect(ev ChannelEvent) {
	if c.state() == StateUnconnected {
		return
	}
	c.setState(StateUnconnected)
	c.teardown()

	c.msgIn = nil
	c.hpos = 0
	c.lpos = 0
	c.ppos = 0
	c.apos = 0
	c.peerHdr = nil
	c.peerBuf = nil
	c.peerReply = nil
	c.ackWindow = 0
	c.ackCount = 0

	if ev != eventNone {
		c.emit(ev)
	}
}

// emit entrega o evento ao embedder via sessão.
func (c *Channel) emit(ev ChannelEvent) {
	c.logger.Debug("event", "event", ev.String())
	c.session.notifyEvent(c, ev)
}
