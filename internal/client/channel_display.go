// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"github.com/nishisan-dev/n-viewer/internal/codec"
	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// displayClass traduz as mensagens do canal display em chamadas no
// DisplaySink da sessão.
type displayClass struct {
	width  uint32
	height uint32
	marked bool
}

func (d *displayClass) channelUp(c *Channel) {}

func (d *displayClass) handleMsg(c *Channel, in *InMessage) error {
	sink := c.session.sinkDisplay()

	switch in.Type {
	case protocol.MsgDisplayMode:
		mode := in.Parsed.(*codec.DisplayMode)
		d.width, d.height = mode.Width, mode.Height
		d.marked = false
		c.logger.Info("display mode",
			"width", mode.Width, "height", mode.Height, "depth", mode.Depth)
		if sink != nil {
			sink.ModeChanged(mode.Width, mode.Height, mode.Depth)
		}
		return nil

	case protocol.MsgDisplayMark:
		d.marked = true
		if sink != nil {
			sink.Marked()
		}
		return nil

	case protocol.MsgDisplayReset:
		d.marked = false
		if sink != nil {
			sink.Reset()
		}
		return nil

	case protocol.MsgDisplayCopyBits:
		cb := in.Parsed.(*codec.CopyBits)
		if sink != nil {
			sink.CopyBits(cb.Dest, cb.SrcPos)
		}
		return nil
	}
	return unexpectedMsg(in)
}
