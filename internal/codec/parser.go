// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// Erros do codec.
var (
	ErrUnknownMajor   = errors.New("codec: unsupported protocol major")
	ErrUnknownType    = errors.New("codec: unknown message type")
	ErrShortPayload   = errors.New("codec: payload shorter than message layout")
	ErrUnknownChannel = errors.New("codec: unknown channel type")
)

// ParseFunc decodifica um payload Server → Client. O tipo é canônico (já
// renumerado para o espaço do major atual). O release retornado libera o
// valor decodificado; valor e release são ambos nil ou ambos não-nil.
type ParseFunc func(data []byte, typ uint16, minor uint32) (any, func(), error)

// Codec reúne o parser e a numeração de wire de um major negociado.
type Codec struct {
	major      uint32
	firstAvail uint16
}

// ForMajor retorna o codec do major negociado (1 ou o corrente).
func ForMajor(major uint32) (*Codec, error) {
	switch major {
	case protocol.VersionMajorLegacy:
		return &Codec{major: major, firstAvail: protocol.MsgFirstAvailLegacy}, nil
	case protocol.VersionMajor:
		return &Codec{major: major, firstAvail: protocol.MsgFirstAvail}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMajor, major)
}

// Major retorna o major deste codec.
func (c *Codec) Major() uint32 {
	return c.major
}

// CanonicalType renumera um tipo recebido no wire para o espaço atual.
// No major legado os tipos específicos de canal começam mais cedo; os
// comuns são idênticos nos dois majors.
func (c *Codec) CanonicalType(wire uint16) uint16 {
	if wire >= c.firstAvail {
		return wire - c.firstAvail + protocol.MsgFirstAvail
	}
	return wire
}

// WireType renumera um tipo canônico Client → Server para o wire do major.
func (c *Codec) WireType(canonical uint16) uint16 {
	if canonical >= protocol.MsgFirstAvail {
		return canonical - protocol.MsgFirstAvail + c.firstAvail
	}
	return canonical
}

// ServerParser retorna o parser Server → Client do canal. O parser é puro
// e reentrante; a mesma instância pode ser compartilhada entre canais.
func (c *Codec) ServerParser(ct protocol.ChannelType) (ParseFunc, error) {
	table, ok := channelParsers[ct]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, ct)
	}
	return func(data []byte, typ uint16, minor uint32) (any, func(), error) {
		fn, ok := table[typ]
		if !ok {
			fn, ok = commonParsers[typ]
		}
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s type %d", ErrUnknownType, ct, typ)
		}
		v, err := fn(newReader(data), minor)
		if err != nil {
			return nil, nil, err
		}
		return v, noRelease, nil
	}, nil
}

// noRelease é o release de payloads sem recursos próprios.
var noRelease = func() {}

type parseBody func(r *reader, minor uint32) (any, error)

// commonParsers cobre os tipos comuns a todos os canais.
var commonParsers = map[uint16]parseBody{
	protocol.MsgMigrate: func(r *reader, _ uint32) (any, error) {
		v := &Migrate{Flags: r.u32()}
		return v, r.done()
	},
	protocol.MsgSetAck: func(r *reader, _ uint32) (any, error) {
		v := &SetAck{Generation: r.u32(), Window: r.u32()}
		return v, r.done()
	},
	protocol.MsgPing: func(r *reader, _ uint32) (any, error) {
		v := &Ping{ID: r.u32(), Timestamp: r.u64(), Data: r.rest()}
		return v, r.done()
	},
	protocol.MsgWaitForChannels: func(r *reader, _ uint32) (any, error) {
		n := r.u32()
		v := &WaitForChannels{}
		for i := uint32(0); i < n && r.ok(); i++ {
			v.Waits = append(v.Waits, ChannelWait{
				Type:   protocol.ChannelType(r.u8()),
				ID:     r.u8(),
				Serial: r.u64(),
			})
		}
		return v, r.done()
	},
	protocol.MsgDisconnecting: func(r *reader, _ uint32) (any, error) {
		v := &Disconnecting{Timestamp: r.u64(), Reason: r.u32()}
		return v, r.done()
	},
	protocol.MsgNotify: func(r *reader, _ uint32) (any, error) {
		v := &Notify{
			Timestamp:  r.u64(),
			Severity:   r.u32(),
			Visibility: r.u32(),
			What:       r.u32(),
		}
		v.Message = string(r.bytes(int(r.u32())))
		return v, r.done()
	},
}

var mainParsers = map[uint16]parseBody{
	protocol.MsgMainMigrateBegin: func(r *reader, _ uint32) (any, error) {
		v := &Migrate{Flags: r.u32()}
		return v, r.done()
	},
	protocol.MsgMainMigrateCancel: func(r *reader, _ uint32) (any, error) {
		return &Migrate{}, r.done()
	},
	protocol.MsgMainInit: func(r *reader, _ uint32) (any, error) {
		v := &MainInit{
			SessionID:           r.u32(),
			DisplayChannelsHint: r.u32(),
			SupportedMouseModes: r.u32(),
			CurrentMouseMode:    r.u32(),
			AgentConnected:      r.u32(),
			AgentTokens:         r.u32(),
			MultiMediaTime:      r.u32(),
			RAMHint:             r.u32(),
		}
		return v, r.done()
	},
	protocol.MsgMainChannelsList: func(r *reader, _ uint32) (any, error) {
		n := r.u32()
		v := &ChannelsList{}
		for i := uint32(0); i < n && r.ok(); i++ {
			v.Channels = append(v.Channels, ChannelID{
				Type: protocol.ChannelType(r.u8()),
				ID:   r.u8(),
			})
		}
		return v, r.done()
	},
	protocol.MsgMainMouseMode: func(r *reader, _ uint32) (any, error) {
		v := &MouseMode{SupportedModes: r.u32(), CurrentMode: r.u32()}
		return v, r.done()
	},
	protocol.MsgMainMMTime: func(r *reader, _ uint32) (any, error) {
		v := &MultiMediaTime{Time: r.u32()}
		return v, r.done()
	},
}

var displayParsers = map[uint16]parseBody{
	protocol.MsgDisplayMode: func(r *reader, _ uint32) (any, error) {
		v := &DisplayMode{Width: r.u32(), Height: r.u32(), Depth: r.u32()}
		return v, r.done()
	},
	protocol.MsgDisplayMark: func(r *reader, _ uint32) (any, error) {
		return &DisplayMark{}, r.done()
	},
	protocol.MsgDisplayReset: func(r *reader, _ uint32) (any, error) {
		return &DisplayReset{}, r.done()
	},
	protocol.MsgDisplayCopyBits: func(r *reader, _ uint32) (any, error) {
		v := &CopyBits{
			Dest:   r.rect(),
			SrcPos: Point{X: r.i32(), Y: r.i32()},
		}
		return v, r.done()
	},
}

var inputsParsers = map[uint16]parseBody{
	protocol.MsgInputsInit: func(r *reader, _ uint32) (any, error) {
		v := &InputsInit{KeyModifiers: r.u16()}
		return v, r.done()
	},
	protocol.MsgInputsKeyModifiers: func(r *reader, _ uint32) (any, error) {
		v := &KeyModifiers{Modifiers: r.u16()}
		return v, r.done()
	},
	protocol.MsgInputsMouseMotionAck: func(r *reader, _ uint32) (any, error) {
		return &MouseMotionAck{}, r.done()
	},
}

var cursorParsers = map[uint16]parseBody{
	protocol.MsgCursorInit: func(r *reader, _ uint32) (any, error) {
		v := &CursorInit{
			Position:       r.point16(),
			TrailLength:    r.u16(),
			TrailFrequency: r.u16(),
			Visible:        r.u8() != 0,
		}
		v.Shape = r.cursorShape()
		return v, r.done()
	},
	protocol.MsgCursorReset: func(r *reader, _ uint32) (any, error) {
		return &CursorReset{}, r.done()
	},
	protocol.MsgCursorSet: func(r *reader, _ uint32) (any, error) {
		v := &CursorSet{
			Position: r.point16(),
			Visible:  r.u8() != 0,
		}
		v.Shape = r.cursorShape()
		return v, r.done()
	},
	protocol.MsgCursorMove: func(r *reader, _ uint32) (any, error) {
		v := &CursorMove{Position: r.point16()}
		return v, r.done()
	},
	protocol.MsgCursorHide: func(r *reader, _ uint32) (any, error) {
		return &CursorHide{}, r.done()
	},
	protocol.MsgCursorTrail: func(r *reader, _ uint32) (any, error) {
		v := &CursorTrail{Length: r.u16(), Frequency: r.u16()}
		return v, r.done()
	},
	protocol.MsgCursorInvalOne: func(r *reader, _ uint32) (any, error) {
		v := &CursorID{ID: r.u64()}
		return v, r.done()
	},
	protocol.MsgCursorInvalAll: func(r *reader, _ uint32) (any, error) {
		return &CursorInvalAll{}, r.done()
	},
}

var playbackParsers = map[uint16]parseBody{
	protocol.MsgPlaybackData: func(r *reader, _ uint32) (any, error) {
		v := &PlaybackData{Time: r.u32(), Data: r.rest()}
		return v, r.done()
	},
	protocol.MsgPlaybackMode: func(r *reader, _ uint32) (any, error) {
		v := &PlaybackMode{Time: r.u32(), Mode: r.u16()}
		return v, r.done()
	},
	protocol.MsgPlaybackStart: func(r *reader, _ uint32) (any, error) {
		v := &PlaybackStart{
			Channels:  r.u32(),
			Frequency: r.u32(),
			Format:    r.u16(),
			Time:      r.u32(),
		}
		return v, r.done()
	},
	protocol.MsgPlaybackStop: func(r *reader, _ uint32) (any, error) {
		return &PlaybackStop{}, r.done()
	},
}

var channelParsers = map[protocol.ChannelType]map[uint16]parseBody{
	protocol.ChannelMain:     mainParsers,
	protocol.ChannelDisplay:  displayParsers,
	protocol.ChannelInputs:   inputsParsers,
	protocol.ChannelCursor:   cursorParsers,
	protocol.ChannelPlayback: playbackParsers,
}
