// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"github.com/nishisan-dev/n-viewer/internal/codec"
	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// mainClass dirige o canal main: adota o connection id do INIT, anuncia a
// lista de canais ao embedder e negocia o modo de mouse.
type mainClass struct {
	mouseMode codec.MouseMode
	mmTime    uint32
}

func (m *mainClass) channelUp(c *Channel) {
	// Pede ao server para anexar os demais canais desta conexão.
	out := newOutMessage(c, protocol.MsgcMainAttachChannels)
	c.sendMessage(out)
}

func (m *mainClass) handleMsg(c *Channel, in *InMessage) error {
	switch in.Type {
	case protocol.MsgMainInit:
		init := in.Parsed.(*codec.MainInit)
		c.session.setConnectionID(init.SessionID)
		m.mmTime = init.MultiMediaTime
		m.mouseMode = codec.MouseMode{
			SupportedModes: init.SupportedMouseModes,
			CurrentMode:    init.CurrentMouseMode,
		}
		c.logger.Info("session init",
			"connection_id", init.SessionID,
			"displays_hint", init.DisplayChannelsHint,
			"mouse_mode", init.CurrentMouseMode,
			"agent_connected", init.AgentConnected != 0)

		// Prefere mouse client quando o server suporta.
		if init.CurrentMouseMode != codec.MouseModeClient &&
			init.SupportedMouseModes&codec.MouseModeClient != 0 {
			out := newOutMessage(c, protocol.MsgcMainMouseModeRequest)
			codec.AppendMouseModeRequest(out.Marshaller(), codec.MouseModeClient)
			c.sendMessage(out)
		}
		return nil

	case protocol.MsgMainChannelsList:
		list := in.Parsed.(*codec.ChannelsList)
		c.logger.Info("channels announced", "count", len(list.Channels))
		c.session.notifyChannelsList(list.Channels)
		return nil

	case protocol.MsgMainMouseMode:
		mode := in.Parsed.(*codec.MouseMode)
		m.mouseMode = *mode
		c.logger.Debug("mouse mode", "current", mode.CurrentMode,
			"supported", mode.SupportedModes)
		return nil

	case protocol.MsgMainMMTime:
		mm := in.Parsed.(*codec.MultiMediaTime)
		m.mmTime = mm.Time
		return nil

	case protocol.MsgMainMigrateBegin, protocol.MsgMainMigrateCancel:
		c.logger.Debug("ignoring migration message", "type", in.Type)
		return nil
	}
	return unexpectedMsg(in)
}
