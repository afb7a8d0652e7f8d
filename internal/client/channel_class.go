// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"fmt"

	"github.com/nishisan-dev/n-viewer/internal/codec"
	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// channelClass são os dois hooks polimórficos de um tipo de canal:
// channelUp roda uma vez na entrada em READY e handleMsg uma vez por
// mensagem inbound (depois do tratamento comum).
type channelClass interface {
	channelUp(c *Channel)
	handleMsg(c *Channel, in *InMessage) error
}

// newChannelClass instancia a classe do tipo de canal.
func newChannelClass(typ protocol.ChannelType) (channelClass, error) {
	switch typ {
	case protocol.ChannelMain:
		return &mainClass{}, nil
	case protocol.ChannelDisplay:
		return &displayClass{}, nil
	case protocol.ChannelInputs:
		return newInputsClass(), nil
	case protocol.ChannelCursor:
		return &cursorClass{}, nil
	case protocol.ChannelPlayback:
		return &playbackClass{}, nil
	}
	return nil, fmt.Errorf("client: unknown channel type %d", typ)
}

// unexpectedMsg é o erro para tipos que o canal não deveria receber.
func unexpectedMsg(in *InMessage) error {
	return fmt.Errorf("unexpected message type %d", in.Type)
}

// DisplaySink consome os updates de framebuffer do canal display. A
// renderização em si fica fora da biblioteca.
type DisplaySink interface {
	ModeChanged(width, height, depth uint32)
	Marked()
	Reset()
	CopyBits(dest codec.Rect, srcPos codec.Point)
}

// CursorSink consome os updates de cursor.
type CursorSink interface {
	CursorSet(shape codec.CursorShape, pos codec.Point16, visible bool)
	CursorMove(pos codec.Point16)
	CursorHide()
	CursorReset()
}

// PlaybackSink consome o stream de áudio do canal playback. As amostras
// em PlaybackData só são válidas durante a chamada; o sink copia se
// precisar reter.
type PlaybackSink interface {
	PlaybackStart(channels, frequency uint32, format uint16)
	PlaybackData(time uint32, samples []byte)
	PlaybackStop()
}
