// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PutLinkHeader serializa o link header em b (mínimo LinkHeaderSize bytes).
func PutLinkHeader(b []byte, hdr *LinkHeader) {
	binary.LittleEndian.PutUint32(b[0:4], hdr.Magic)
	binary.LittleEndian.PutUint32(b[4:8], hdr.Major)
	binary.LittleEndian.PutUint32(b[8:12], hdr.Minor)
	binary.LittleEndian.PutUint32(b[12:16], hdr.Size)
}

// EncodeLink serializa header + link message do client em um único buffer,
// pronto para um write só. O Size do header é preenchido aqui.
func EncodeLink(hdr *LinkHeader, msg *LinkMessage) []byte {
	msg.NumCommonCaps = uint32(len(msg.CommonCaps))
	msg.NumChannelCaps = uint32(len(msg.ChannelCaps))
	msg.CapsOffset = LinkMessageSize
	hdr.Size = LinkMessageSize + 4*(msg.NumCommonCaps+msg.NumChannelCaps)

	buf := make([]byte, LinkHeaderSize+hdr.Size)
	PutLinkHeader(buf, hdr)

	p := buf[LinkHeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], msg.ConnectionID)
	p[4] = byte(msg.ChannelType)
	p[5] = msg.ChannelID
	binary.LittleEndian.PutUint32(p[6:10], msg.NumCommonCaps)
	binary.LittleEndian.PutUint32(p[10:14], msg.NumChannelCaps)
	binary.LittleEndian.PutUint32(p[14:18], msg.CapsOffset)

	p = p[LinkMessageSize:]
	for _, c := range msg.CommonCaps {
		binary.LittleEndian.PutUint32(p, c)
		p = p[4:]
	}
	for _, c := range msg.ChannelCaps {
		binary.LittleEndian.PutUint32(p, c)
		p = p[4:]
	}
	return buf
}

// WriteLinkReply escreve header + link reply (Server → Client). Usado pelos
// peers de teste que encenam o lado do server.
func WriteLinkReply(w io.Writer, major, minor uint32, reply *LinkReply) error {
	numCommon := uint32(len(reply.CommonCaps))
	numChannel := uint32(len(reply.ChannelCaps))

	size := uint32(linkReplyFixedSize + len(reply.PubKey) + 4*int(numCommon+numChannel))
	hdr := LinkHeader{Magic: Magic, Major: major, Minor: minor, Size: size}

	buf := make([]byte, LinkHeaderSize+size)
	PutLinkHeader(buf, &hdr)

	p := buf[LinkHeaderSize:]
	capsOffset := uint32(0)
	if numCommon+numChannel > 0 {
		capsOffset = uint32(linkReplyFixedSize + len(reply.PubKey))
	}
	binary.LittleEndian.PutUint32(p[0:4], reply.Error)
	binary.LittleEndian.PutUint32(p[4:8], numCommon)
	binary.LittleEndian.PutUint32(p[8:12], numChannel)
	binary.LittleEndian.PutUint32(p[12:16], capsOffset)
	copy(p[linkReplyFixedSize:], reply.PubKey)

	p = p[linkReplyFixedSize+len(reply.PubKey):]
	for _, c := range reply.CommonCaps {
		binary.LittleEndian.PutUint32(p, c)
		p = p[4:]
	}
	for _, c := range reply.ChannelCaps {
		binary.LittleEndian.PutUint32(p, c)
		p = p[4:]
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing link reply: %w", err)
	}
	return nil
}

// WriteAuthResult escreve o resultado da autenticação (Server → Client).
func WriteAuthResult(w io.Writer, result uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], result)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing auth result: %w", err)
	}
	return nil
}

// PutDataHeader serializa um data header em b (mínimo DataHeaderSize bytes).
func PutDataHeader(b []byte, hdr *DataHeader) {
	binary.LittleEndian.PutUint64(b[0:8], hdr.Serial)
	binary.LittleEndian.PutUint16(b[8:10], hdr.Type)
	binary.LittleEndian.PutUint32(b[10:14], hdr.Size)
	binary.LittleEndian.PutUint32(b[14:18], hdr.SubList)
}

// WriteDataMessage escreve um frame completo de steady state.
func WriteDataMessage(w io.Writer, hdr *DataHeader, payload []byte) error {
	hdr.Size = uint32(len(payload))
	var buf [DataHeaderSize]byte
	PutDataHeader(buf[:], hdr)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("writing data header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing data payload: %w", err)
		}
	}
	return nil
}
