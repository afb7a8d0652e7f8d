// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import "github.com/nishisan-dev/n-viewer/internal/protocol"

// Builders de payload Client → Server. Cada função escreve o corpo da
// mensagem no Marshaller; o header fica por conta do envelope outbound.
// O layout é idêntico nos dois majors — o que varia entre eles é a
// numeração de tipo, resolvida por Codec.WireType.

// AppendAckSync escreve o corpo de MSGC_ACK_SYNC.
func AppendAckSync(m *protocol.Marshaller, generation uint32) {
	m.WriteU32(generation)
}

// AppendPong escreve o corpo de MSGC_PONG, ecoando o ping recebido.
func AppendPong(m *protocol.Marshaller, ping *Ping) {
	m.WriteU32(ping.ID)
	m.WriteU64(ping.Timestamp)
}

// AppendDisconnecting escreve o corpo de MSGC_DISCONNECTING.
func AppendDisconnecting(m *protocol.Marshaller, timestamp uint64, reason uint32) {
	m.WriteU64(timestamp)
	m.WriteU32(reason)
}

// AppendMouseModeRequest escreve o corpo de MSGC_MAIN_MOUSE_MODE_REQUEST.
func AppendMouseModeRequest(m *protocol.Marshaller, mode uint32) {
	m.WriteU32(mode)
}

// AppendKey escreve o corpo de MSGC_INPUTS_KEY_DOWN / KEY_UP (scancode).
func AppendKey(m *protocol.Marshaller, code uint32) {
	m.WriteU32(code)
}

// AppendKeyModifiers escreve o corpo de MSGC_INPUTS_KEY_MODIFIERS.
func AppendKeyModifiers(m *protocol.Marshaller, modifiers uint16) {
	m.WriteU16(modifiers)
}

// AppendMouseMotion escreve o corpo de MSGC_INPUTS_MOUSE_MOTION (deltas).
func AppendMouseMotion(m *protocol.Marshaller, dx, dy int32, buttonsState uint16) {
	m.WriteI32(dx)
	m.WriteI32(dy)
	m.WriteU16(buttonsState)
}

// AppendMousePosition escreve o corpo de MSGC_INPUTS_MOUSE_POSITION.
func AppendMousePosition(m *protocol.Marshaller, x, y uint32, buttonsState uint16, display uint8) {
	m.WriteU32(x)
	m.WriteU32(y)
	m.WriteU16(buttonsState)
	m.WriteU8(display)
}

// AppendMouseButton escreve o corpo de MSGC_INPUTS_MOUSE_PRESS / RELEASE.
func AppendMouseButton(m *protocol.Marshaller, button uint8, buttonsState uint16) {
	m.WriteU8(button)
	m.WriteU16(buttonsState)
}
