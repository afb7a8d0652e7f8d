// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import "encoding/binary"

// Marshaller acumula o payload de uma mensagem outbound em um buffer
// crescente com um prefixo de header reservado. Regiões reservadas são
// endereçadas por offset, nunca por slice retido: o buffer pode ser
// realocado a cada write, mas os offsets permanecem estáveis até
// Linearize.
type Marshaller struct {
	buf  []byte
	base int
	err  error
}

// NewMarshaller cria um Marshaller vazio.
func NewMarshaller() *Marshaller {
	return &Marshaller{buf: make([]byte, 0, 256)}
}

// Reserve anexa n bytes zerados e retorna o offset da região. A região
// continua gravável via At/PutU32At até Linearize.
func (m *Marshaller) Reserve(n int) int {
	off := len(m.buf)
	m.grow(n)
	return off
}

// SetBase marca os primeiros n bytes como prefixo de header, excluído do
// tamanho de corpo reportado por BodySize.
func (m *Marshaller) SetBase(n int) {
	m.base = n
}

// Base retorna o prefixo de header corrente.
func (m *Marshaller) Base() int {
	return m.base
}

// At retorna a região [off, off+n) do buffer corrente. O slice é
// invalidado pelo próximo write; refaça a chamada após novos appends.
func (m *Marshaller) At(off, n int) []byte {
	return m.buf[off : off+n]
}

// WriteU8 anexa um byte.
func (m *Marshaller) WriteU8(v uint8) {
	off := len(m.buf)
	if m.grow(1) {
		m.buf[off] = v
	}
}

// WriteU16 anexa um u16 little-endian.
func (m *Marshaller) WriteU16(v uint16) {
	off := len(m.buf)
	if m.grow(2) {
		binary.LittleEndian.PutUint16(m.buf[off:], v)
	}
}

// WriteU32 anexa um u32 little-endian.
func (m *Marshaller) WriteU32(v uint32) {
	off := len(m.buf)
	if m.grow(4) {
		binary.LittleEndian.PutUint32(m.buf[off:], v)
	}
}

// WriteU64 anexa um u64 little-endian.
func (m *Marshaller) WriteU64(v uint64) {
	off := len(m.buf)
	if m.grow(8) {
		binary.LittleEndian.PutUint64(m.buf[off:], v)
	}
}

// WriteI32 anexa um i32 little-endian (complemento de dois).
func (m *Marshaller) WriteI32(v int32) {
	m.WriteU32(uint32(v))
}

// WriteBytes anexa p.
func (m *Marshaller) WriteBytes(p []byte) {
	off := len(m.buf)
	if m.grow(len(p)) {
		copy(m.buf[off:], p)
	}
}

// PutU32At grava um u32 little-endian em uma região previamente reservada.
func (m *Marshaller) PutU32At(off int, v uint32) {
	binary.LittleEndian.PutUint32(m.buf[off:], v)
}

// TotalSize retorna o total de bytes escritos, incluindo o prefixo.
func (m *Marshaller) TotalSize() int {
	return len(m.buf)
}

// BodySize retorna TotalSize menos o prefixo de header.
func (m *Marshaller) BodySize() int {
	return len(m.buf) - m.base
}

// Linearize retorna o buffer contíguo completo. O buffer pertence ao
// Marshaller; o caller não deve retê-lo além do write no transport.
func (m *Marshaller) Linearize() ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.buf, nil
}

// grow estende o buffer em n bytes zerados, respeitando MaxMessageSize.
func (m *Marshaller) grow(n int) bool {
	if m.err != nil {
		return false
	}
	if len(m.buf)+n > MaxMessageSize {
		m.err = ErrBufferFull
		return false
	}
	m.buf = append(m.buf, make([]byte, n)...)
	return true
}
