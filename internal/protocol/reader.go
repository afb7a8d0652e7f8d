// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadLinkHeader lê e valida o link header (qualquer direção).
func ReadLinkHeader(r io.Reader) (*LinkHeader, error) {
	var buf [LinkHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("reading link header: %w", err)
	}
	hdr, err := ParseLinkHeader(buf[:])
	if err != nil {
		return nil, err
	}
	return hdr, nil
}

// ParseLinkHeader decodifica um link header a partir de um buffer completo.
// Valida apenas o magic; a negociação de versão é decisão do caller.
func ParseLinkHeader(b []byte) (*LinkHeader, error) {
	if len(b) < LinkHeaderSize {
		return nil, ErrTruncatedFrame
	}
	hdr := &LinkHeader{
		Magic: binary.LittleEndian.Uint32(b[0:4]),
		Major: binary.LittleEndian.Uint32(b[4:8]),
		Minor: binary.LittleEndian.Uint32(b[8:12]),
		Size:  binary.LittleEndian.Uint32(b[12:16]),
	}
	if hdr.Magic != Magic {
		return nil, ErrInvalidMagic
	}
	return hdr, nil
}

// ReadLinkMessage lê o link message do client (Client → Server), incluindo
// as listas de capabilities cobertas por size.
func ReadLinkMessage(r io.Reader, size uint32) (*LinkMessage, error) {
	if size < LinkMessageSize {
		return nil, ErrTruncatedFrame
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading link message: %w", err)
	}

	msg := &LinkMessage{
		ConnectionID:   binary.LittleEndian.Uint32(buf[0:4]),
		ChannelType:    ChannelType(buf[4]),
		ChannelID:      buf[5],
		NumCommonCaps:  binary.LittleEndian.Uint32(buf[6:10]),
		NumChannelCaps: binary.LittleEndian.Uint32(buf[10:14]),
		CapsOffset:     binary.LittleEndian.Uint32(buf[14:18]),
	}
	caps, err := parseCaps(buf, msg.CapsOffset, msg.NumCommonCaps, msg.NumChannelCaps)
	if err != nil {
		return nil, err
	}
	msg.CommonCaps, msg.ChannelCaps = caps[0], caps[1]
	return msg, nil
}

// ParseLinkReply decodifica o corpo do link reply do server a partir do
// buffer completo (o caller já leu header.Size bytes). O tamanho da chave
// pública é derivado de caps_offset em vez de fixado, aceitando chaves que
// não sejam RSA-1024.
func ParseLinkReply(buf []byte) (*LinkReply, error) {
	if len(buf) < linkReplyFixedSize {
		return nil, ErrTruncatedFrame
	}

	reply := &LinkReply{
		Error: binary.LittleEndian.Uint32(buf[0:4]),
	}
	numCommon := binary.LittleEndian.Uint32(buf[4:8])
	numChannel := binary.LittleEndian.Uint32(buf[8:12])
	offset := binary.LittleEndian.Uint32(buf[12:16])

	keyEnd := len(buf)
	if offset != 0 {
		if offset < linkReplyFixedSize || int(offset) > len(buf) {
			return nil, ErrMalformedReply
		}
		keyEnd = int(offset)
	} else if numCommon != 0 || numChannel != 0 {
		return nil, ErrMalformedReply
	}

	caps, err := parseCaps(buf, offset, numCommon, numChannel)
	if err != nil {
		return nil, err
	}
	reply.CommonCaps, reply.ChannelCaps = caps[0], caps[1]
	reply.PubKey = buf[linkReplyFixedSize:keyEnd]
	return reply, nil
}

// parseCaps extrai as duas listas de capabilities a partir de offset.
func parseCaps(buf []byte, offset, numCommon, numChannel uint32) ([2][]uint32, error) {
	var out [2][]uint32
	if numCommon == 0 && numChannel == 0 {
		return out, nil
	}
	total := uint64(numCommon) + uint64(numChannel)
	end := uint64(offset) + total*4
	if uint64(offset) > uint64(len(buf)) || end > uint64(len(buf)) {
		return out, ErrMalformedReply
	}
	p := buf[offset:]
	common := make([]uint32, numCommon)
	for i := range common {
		common[i] = binary.LittleEndian.Uint32(p[i*4:])
	}
	p = p[numCommon*4:]
	channel := make([]uint32, numChannel)
	for i := range channel {
		channel[i] = binary.LittleEndian.Uint32(p[i*4:])
	}
	out[0], out[1] = common, channel
	return out, nil
}

// ReadAuthResult lê o resultado da autenticação (u32 LE, Server → Client).
func ReadAuthResult(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading auth result: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ParseDataHeader decodifica um data header a partir de um buffer completo.
func ParseDataHeader(b []byte) (DataHeader, error) {
	if len(b) < DataHeaderSize {
		return DataHeader{}, ErrTruncatedFrame
	}
	return DataHeader{
		Serial:  binary.LittleEndian.Uint64(b[0:8]),
		Type:    binary.LittleEndian.Uint16(b[8:10]),
		Size:    binary.LittleEndian.Uint32(b[10:14]),
		SubList: binary.LittleEndian.Uint32(b[14:18]),
	}, nil
}

// ReadDataMessage lê um frame completo de steady state: header + payload.
// Usado pelos peers de teste; o caminho quente do
// client monta o frame incrementalmente a partir do transport.
func ReadDataMessage(r io.Reader) (DataHeader, []byte, error) {
	var buf [DataHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return DataHeader{}, nil, fmt.Errorf("reading data header: %w", err)
	}
	hdr, err := ParseDataHeader(buf[:])
	if err != nil {
		return DataHeader{}, nil, err
	}
	if hdr.Size > MaxMessageSize {
		return DataHeader{}, nil, ErrFrameTooLarge
	}
	payload := make([]byte, hdr.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return DataHeader{}, nil, fmt.Errorf("reading data payload: %w", err)
	}
	return hdr, payload, nil
}
