// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"sync/atomic"

	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// InMessage é uma mensagem inbound com contagem de referências. Mensagens
// top-level são donas do próprio buffer; sub-messages seguram uma
// referência forte ao parent e apontam para dentro dos bytes dele, de
// modo que o buffer só é liberado quando o último holder solta.
type InMessage struct {
	// Header é o data header como veio no wire.
	Header protocol.DataHeader

	// Type é o tipo canônico (renumerado do wire pelo codec do major
	// negociado); é o tipo que os handlers inspecionam.
	Type uint16

	// Data é o payload. Em sub-messages, um sub-slice do payload do
	// parent.
	Data []byte

	// Parsed e release andam juntos: ambos nil antes do parse, ambos
	// preenchidos depois.
	Parsed  any
	release func()

	refs   atomic.Int32
	parent *InMessage

	// Cursor de montagem do payload (apenas top-level em assembly).
	dpos int
}

// newInMessage cria uma mensagem top-level com uma referência.
func newInMessage() *InMessage {
	m := &InMessage{}
	m.refs.Store(1)
	return m
}

// newSubMessage cria o envelope de uma sub-message apontando para os
// bytes do parent, segurando uma referência a ele.
func newSubMessage(parent *InMessage, typ uint16, body []byte) *InMessage {
	m := &InMessage{
		Header: protocol.DataHeader{
			Serial: parent.Header.Serial,
			Type:   typ,
			Size:   uint32(len(body)),
		},
		Type:   typ,
		Data:   body,
		parent: parent,
	}
	m.refs.Store(1)
	parent.Ref()
	return m
}

// Ref adiciona uma referência. Handlers que retêm a mensagem além do
// handleMsg devem chamar Ref e soltar com Unref depois.
func (m *InMessage) Ref() {
	m.refs.Add(1)
}

// Unref solta uma referência; na última, libera o parsed e a referência
// ao parent (ou o buffer, em mensagens top-level).
func (m *InMessage) Unref() {
	if m.refs.Add(-1) > 0 {
		return
	}
	if m.release != nil {
		m.release()
		m.release = nil
		m.Parsed = nil
	}
	if m.parent != nil {
		m.parent.Unref()
		m.parent = nil
	}
	m.Data = nil
}

// setParsed instala o payload decodificado e seu release.
func (m *InMessage) setParsed(v any, release func()) {
	m.Parsed = v
	m.release = release
}

// OutMessage é uma mensagem outbound: um marshaller com o data header
// reservado no prefixo. O size do header é finalizado uma única vez,
// imediatamente antes da transmissão.
type OutMessage struct {
	channel    *Channel
	marshaller *protocol.Marshaller
	header     protocol.DataHeader
	hdrOff     int
	refs       atomic.Int32
}

// newOutMessage cria uma mensagem outbound do tipo canônico dado,
// consumindo o próximo serial do canal. O tipo é renumerado para o wire
// do major negociado.
func newOutMessage(c *Channel, typ uint16) *OutMessage {
	m := &OutMessage{
		channel:    c,
		marshaller: protocol.NewMarshaller(),
	}
	m.refs.Store(1)
	m.hdrOff = m.marshaller.Reserve(protocol.DataHeaderSize)
	m.marshaller.SetBase(protocol.DataHeaderSize)
	m.header = protocol.DataHeader{
		Serial: c.nextSerial(),
		Type:   c.codec.WireType(typ),
	}
	return m
}

// Marshaller expõe o marshaller para os builders de payload.
func (m *OutMessage) Marshaller() *protocol.Marshaller {
	return m.marshaller
}

// Serial retorna o serial estampado na mensagem.
func (m *OutMessage) Serial() uint64 {
	return m.header.Serial
}

// Send finaliza o header (size = total - header) e transmite o frame
// linearizado pelo transport do canal.
func (m *OutMessage) Send() error {
	m.header.Size = uint32(m.marshaller.BodySize())
	protocol.PutDataHeader(m.marshaller.At(m.hdrOff, protocol.DataHeaderSize), &m.header)

	buf, err := m.marshaller.Linearize()
	if err != nil {
		return err
	}
	return m.channel.send(buf)
}

// Ref adiciona uma referência; o sender pode reter a mensagem através da
// transmissão.
func (m *OutMessage) Ref() {
	m.refs.Add(1)
}

// Unref solta uma referência; na última, o marshaller é liberado.
func (m *OutMessage) Unref() {
	if m.refs.Add(-1) > 0 {
		return
	}
	m.marshaller = nil
	m.channel = nil
}
