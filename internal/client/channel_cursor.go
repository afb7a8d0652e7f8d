// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"github.com/nishisan-dev/n-viewer/internal/codec"
	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// cursorClass traduz as mensagens do canal cursor em chamadas no
// CursorSink da sessão. Ids de cache de forma passam direto para o sink;
// a biblioteca não mantém o cache.
type cursorClass struct {
	visible bool
}

func (cc *cursorClass) channelUp(c *Channel) {}

func (cc *cursorClass) handleMsg(c *Channel, in *InMessage) error {
	sink := c.session.sinkCursor()

	switch in.Type {
	case protocol.MsgCursorInit:
		init := in.Parsed.(*codec.CursorInit)
		cc.visible = init.Visible
		if sink != nil {
			sink.CursorSet(init.Shape, init.Position, init.Visible)
		}
		return nil

	case protocol.MsgCursorSet:
		set := in.Parsed.(*codec.CursorSet)
		cc.visible = set.Visible
		if sink != nil {
			sink.CursorSet(set.Shape, set.Position, set.Visible)
		}
		return nil

	case protocol.MsgCursorMove:
		move := in.Parsed.(*codec.CursorMove)
		if sink != nil {
			sink.CursorMove(move.Position)
		}
		return nil

	case protocol.MsgCursorHide:
		cc.visible = false
		if sink != nil {
			sink.CursorHide()
		}
		return nil

	case protocol.MsgCursorReset:
		cc.visible = true
		if sink != nil {
			sink.CursorReset()
		}
		return nil

	case protocol.MsgCursorTrail:
		trail := in.Parsed.(*codec.CursorTrail)
		c.logger.Debug("cursor trail",
			"length", trail.Length, "frequency", trail.Frequency)
		return nil

	case protocol.MsgCursorInvalOne, protocol.MsgCursorInvalAll:
		// Sem cache local de formas: nada a invalidar.
		return nil
	}
	return unexpectedMsg(in)
}
