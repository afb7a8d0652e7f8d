// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

func le16(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestForMajor(t *testing.T) {
	if _, err := ForMajor(protocol.VersionMajor); err != nil {
		t.Errorf("current major: %v", err)
	}
	if _, err := ForMajor(protocol.VersionMajorLegacy); err != nil {
		t.Errorf("legacy major: %v", err)
	}
	if _, err := ForMajor(3); !errors.Is(err, ErrUnknownMajor) {
		t.Errorf("expected ErrUnknownMajor, got %v", err)
	}
}

func TestCodec_TypeRenumbering(t *testing.T) {
	legacy, _ := ForMajor(protocol.VersionMajorLegacy)
	current, _ := ForMajor(protocol.VersionMajor)

	tests := []struct {
		name      string
		codec     *Codec
		wire      uint16
		canonical uint16
	}{
		{"legacy common untouched", legacy, protocol.MsgPing, protocol.MsgPing},
		{"legacy channel specific shifted", legacy, protocol.MsgFirstAvailLegacy, protocol.MsgFirstAvail},
		{"legacy init", legacy, protocol.MsgFirstAvailLegacy + 2, protocol.MsgMainInit},
		{"current identity", current, protocol.MsgMainInit, protocol.MsgMainInit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.codec.CanonicalType(tt.wire); got != tt.canonical {
				t.Errorf("CanonicalType(%d) = %d, expected %d", tt.wire, got, tt.canonical)
			}
			if got := tt.codec.WireType(tt.canonical); got != tt.wire {
				t.Errorf("WireType(%d) = %d, expected %d", tt.canonical, got, tt.wire)
			}
		})
	}
}

func TestServerParser_CommonMessages(t *testing.T) {
	c, _ := ForMajor(protocol.VersionMajor)

	tests := []struct {
		name    string
		channel protocol.ChannelType
		typ     uint16
		payload []byte
		want    any
	}{
		{
			"set ack", protocol.ChannelMain, protocol.MsgSetAck,
			concat(le32(7), le32(10)),
			&SetAck{Generation: 7, Window: 10},
		},
		{
			"ping", protocol.ChannelDisplay, protocol.MsgPing,
			concat(le32(3), le64(99), []byte{1, 2}),
			&Ping{ID: 3, Timestamp: 99, Data: []byte{1, 2}},
		},
		{
			"notify", protocol.ChannelMain, protocol.MsgNotify,
			concat(le64(1), le32(2), le32(3), le32(4), le32(5), []byte("hello")),
			&Notify{Timestamp: 1, Severity: 2, Visibility: 3, What: 4, Message: "hello"},
		},
		{
			"disconnecting", protocol.ChannelCursor, protocol.MsgDisconnecting,
			concat(le64(42), le32(1)),
			&Disconnecting{Timestamp: 42, Reason: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parse, err := c.ServerParser(tt.channel)
			if err != nil {
				t.Fatalf("ServerParser: %v", err)
			}
			got, release, err := parse(tt.payload, tt.typ, protocol.VersionMinor)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if release == nil {
				t.Fatal("expected non-nil release")
			}
			defer release()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestServerParser_MainInit(t *testing.T) {
	c, _ := ForMajor(protocol.VersionMajor)
	parse, _ := c.ServerParser(protocol.ChannelMain)

	payload := concat(
		le32(0xbeef), le32(1), le32(3), le32(MouseModeServer),
		le32(0), le32(0), le32(1234), le32(64),
	)
	got, release, err := parse(payload, protocol.MsgMainInit, protocol.VersionMinor)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	defer release()

	init, ok := got.(*MainInit)
	if !ok {
		t.Fatalf("expected *MainInit, got %T", got)
	}
	if init.SessionID != 0xbeef || init.CurrentMouseMode != MouseModeServer || init.MultiMediaTime != 1234 {
		t.Errorf("unexpected init: %+v", init)
	}
}

func TestServerParser_ChannelsList(t *testing.T) {
	c, _ := ForMajor(protocol.VersionMajor)
	parse, _ := c.ServerParser(protocol.ChannelMain)

	payload := concat(le32(2),
		[]byte{byte(protocol.ChannelDisplay), 0},
		[]byte{byte(protocol.ChannelInputs), 0},
	)
	got, release, err := parse(payload, protocol.MsgMainChannelsList, protocol.VersionMinor)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	defer release()

	list := got.(*ChannelsList)
	want := []ChannelID{
		{Type: protocol.ChannelDisplay, ID: 0},
		{Type: protocol.ChannelInputs, ID: 0},
	}
	if !reflect.DeepEqual(list.Channels, want) {
		t.Errorf("expected %v, got %v", want, list.Channels)
	}
}

func TestServerParser_CursorSet(t *testing.T) {
	c, _ := ForMajor(protocol.VersionMajor)
	parse, _ := c.ServerParser(protocol.ChannelCursor)

	pixels := []byte{9, 9, 9, 9}
	payload := concat(
		le16(100), le16(200), // position
		[]byte{1},                          // visible
		le64(77), []byte{0},                // shape id + type
		le16(4), le16(4), le16(1), le16(2), // width height hot
		pixels,
	)
	got, release, err := parse(payload, protocol.MsgCursorSet, protocol.VersionMinor)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	defer release()

	set := got.(*CursorSet)
	if set.Position.X != 100 || set.Position.Y != 200 || !set.Visible {
		t.Errorf("unexpected cursor set: %+v", set)
	}
	if set.Shape.ID != 77 || set.Shape.Width != 4 || !bytes.Equal(set.Shape.Data, pixels) {
		t.Errorf("unexpected shape: %+v", set.Shape)
	}
}

func TestServerParser_PlaybackDataAliasesPayload(t *testing.T) {
	c, _ := ForMajor(protocol.VersionMajor)
	parse, _ := c.ServerParser(protocol.ChannelPlayback)

	payload := concat(le32(5), []byte{10, 20, 30})
	got, release, err := parse(payload, protocol.MsgPlaybackData, protocol.VersionMinor)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	defer release()

	data := got.(*PlaybackData)
	payload[4] = 99
	if data.Data[0] != 99 {
		t.Error("playback data should alias the message payload")
	}
}

func TestServerParser_Failures(t *testing.T) {
	c, _ := ForMajor(protocol.VersionMajor)

	t.Run("unknown type", func(t *testing.T) {
		parse, _ := c.ServerParser(protocol.ChannelMain)
		_, _, err := parse(nil, 9999, protocol.VersionMinor)
		if !errors.Is(err, ErrUnknownType) {
			t.Errorf("expected ErrUnknownType, got %v", err)
		}
	})

	t.Run("short payload", func(t *testing.T) {
		parse, _ := c.ServerParser(protocol.ChannelMain)
		_, _, err := parse(le32(1), protocol.MsgSetAck, protocol.VersionMinor)
		if !errors.Is(err, ErrShortPayload) {
			t.Errorf("expected ErrShortPayload, got %v", err)
		}
	})

	t.Run("unknown channel", func(t *testing.T) {
		if _, err := c.ServerParser(protocol.ChannelType(77)); !errors.Is(err, ErrUnknownChannel) {
			t.Errorf("expected ErrUnknownChannel, got %v", err)
		}
	})
}

func TestServerParser_Reentrant(t *testing.T) {
	c, _ := ForMajor(protocol.VersionMajor)
	parse, _ := c.ServerParser(protocol.ChannelMain)

	payload := concat(le32(7), le32(10))
	first, release1, err := parse(payload, protocol.MsgSetAck, protocol.VersionMinor)
	if err != nil {
		t.Fatalf("first parse: %v", err)
	}
	release1()

	second, release2, err := parse(payload, protocol.MsgSetAck, protocol.VersionMinor)
	if err != nil {
		t.Fatalf("second parse: %v", err)
	}
	defer release2()

	if !reflect.DeepEqual(first, second) {
		t.Error("repeated parses should yield structurally equal payloads")
	}
}

func TestAppendBuilders(t *testing.T) {
	tests := []struct {
		name  string
		build func(m *protocol.Marshaller)
		want  []byte
	}{
		{
			"ack sync", func(m *protocol.Marshaller) { AppendAckSync(m, 9) },
			le32(9),
		},
		{
			"pong", func(m *protocol.Marshaller) { AppendPong(m, &Ping{ID: 2, Timestamp: 3}) },
			concat(le32(2), le64(3)),
		},
		{
			"mouse motion", func(m *protocol.Marshaller) { AppendMouseMotion(m, -1, 2, 4) },
			concat(le32(0xffffffff), le32(2), le16(4)),
		},
		{
			"mouse position", func(m *protocol.Marshaller) { AppendMousePosition(m, 10, 20, 1, 0) },
			concat(le32(10), le32(20), le16(1), []byte{0}),
		},
		{
			"mouse button", func(m *protocol.Marshaller) { AppendMouseButton(m, 1, 0x2) },
			concat([]byte{1}, le16(0x2)),
		},
		{
			"key down", func(m *protocol.Marshaller) { AppendKey(m, 0x1c) },
			le32(0x1c),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := protocol.NewMarshaller()
			tt.build(m)
			got, err := m.Linearize()
			if err != nil {
				t.Fatalf("Linearize: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("expected %x, got %x", tt.want, got)
			}
		})
	}
}
