// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import "encoding/binary"

// subMessageHeaderSize é o prefixo de cada sub-message: Type u16 + Size u32.
const subMessageHeaderSize = 6

// ParseSubMessageList percorre o SubMessageList em payload[offset:] e
// resolve cada sub-message para um sub-slice do próprio payload.
//
// Formato da lista: [Count u16] [Offset u32 × Count]; cada offset aponta,
// dentro do payload, para [Type u16] [Size u32] [corpo de Size bytes].
// Offsets fora do payload ou corpos que não cabem são rejeitados com
// ErrMalformedSubList; nenhum sub-slice retornado escapa dos limites do
// payload.
func ParseSubMessageList(payload []byte, offset uint32) ([]SubMessage, error) {
	if uint64(offset)+2 > uint64(len(payload)) {
		return nil, ErrMalformedSubList
	}
	list := payload[offset:]
	count := int(binary.LittleEndian.Uint16(list[0:2]))
	if 2+count*4 > len(list) {
		return nil, ErrMalformedSubList
	}

	subs := make([]SubMessage, 0, count)
	for i := 0; i < count; i++ {
		subOff := binary.LittleEndian.Uint32(list[2+i*4:])
		if uint64(subOff)+subMessageHeaderSize > uint64(len(payload)) {
			return nil, ErrMalformedSubList
		}
		hdr := payload[subOff:]
		typ := binary.LittleEndian.Uint16(hdr[0:2])
		size := binary.LittleEndian.Uint32(hdr[2:6])
		bodyStart := uint64(subOff) + subMessageHeaderSize
		bodyEnd := bodyStart + uint64(size)
		if bodyEnd > uint64(len(payload)) {
			return nil, ErrMalformedSubList
		}
		subs = append(subs, SubMessage{
			Type: typ,
			Body: payload[bodyStart:bodyEnd:bodyEnd],
		})
	}
	return subs, nil
}

// AppendSubMessageList monta um payload contendo os corpos das sub-messages
// seguidos da lista de offsets, retornando o payload completo e o offset da
// lista. Usado pelos peers de teste para encenar frames com fan-out.
func AppendSubMessageList(payload []byte, subs []SubMessage) ([]byte, uint32) {
	offsets := make([]uint32, len(subs))
	for i, sub := range subs {
		offsets[i] = uint32(len(payload))
		var hdr [subMessageHeaderSize]byte
		binary.LittleEndian.PutUint16(hdr[0:2], sub.Type)
		binary.LittleEndian.PutUint32(hdr[2:6], uint32(len(sub.Body)))
		payload = append(payload, hdr[:]...)
		payload = append(payload, sub.Body...)
	}
	listOffset := uint32(len(payload))
	var cnt [2]byte
	binary.LittleEndian.PutUint16(cnt[:], uint16(len(subs)))
	payload = append(payload, cnt[:]...)
	for _, off := range offsets {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], off)
		payload = append(payload, b[:]...)
	}
	return payload, listOffset
}
