// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"github.com/nishisan-dev/n-viewer/internal/codec"
	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// playbackClass traduz o stream de áudio em chamadas no PlaybackSink.
type playbackClass struct {
	started   bool
	frequency uint32
}

func (p *playbackClass) channelUp(c *Channel) {}

func (p *playbackClass) handleMsg(c *Channel, in *InMessage) error {
	sink := c.session.sinkPlayback()

	switch in.Type {
	case protocol.MsgPlaybackStart:
		start := in.Parsed.(*codec.PlaybackStart)
		p.started = true
		p.frequency = start.Frequency
		c.logger.Info("playback start",
			"channels", start.Channels,
			"frequency", start.Frequency,
			"format", start.Format)
		if sink != nil {
			sink.PlaybackStart(start.Channels, start.Frequency, start.Format)
		}
		return nil

	case protocol.MsgPlaybackData:
		data := in.Parsed.(*codec.PlaybackData)
		if !p.started {
			c.logger.Debug("dropping samples before start", "size", len(data.Data))
			return nil
		}
		if sink != nil {
			sink.PlaybackData(data.Time, data.Data)
		}
		return nil

	case protocol.MsgPlaybackMode:
		mode := in.Parsed.(*codec.PlaybackMode)
		c.logger.Debug("playback mode", "mode", mode.Mode)
		return nil

	case protocol.MsgPlaybackStop:
		p.started = false
		c.logger.Info("playback stop")
		if sink != nil {
			sink.PlaybackStop()
		}
		return nil
	}
	return unexpectedMsg(in)
}
