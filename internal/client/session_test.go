// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"testing"

	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

func TestSession_ChannelRegistry(t *testing.T) {
	s := NewSession(SessionConfig{Host: "localhost", Port: 5900}, testLogger())
	defer s.Close()

	var announced []string
	s.OnChannel(func(c *Channel) { announced = append(announced, c.Name()) })

	main, err := s.NewChannel(protocol.ChannelMain, 0)
	if err != nil {
		t.Fatalf("NewChannel main: %v", err)
	}
	if main.Name() != "main:0" {
		t.Errorf("expected name 'main:0', got %q", main.Name())
	}

	if _, err := s.NewChannel(protocol.ChannelMain, 0); err == nil {
		t.Error("expected error for duplicate channel")
	}

	display, err := s.NewChannel(protocol.ChannelDisplay, 1)
	if err != nil {
		t.Fatalf("NewChannel display: %v", err)
	}

	if len(announced) != 2 {
		t.Errorf("expected 2 channel-new callbacks, got %d", len(announced))
	}
	if got := s.Channel(protocol.ChannelDisplay, 1); got != display {
		t.Error("Channel lookup returned wrong channel")
	}
	if len(s.Channels()) != 2 {
		t.Errorf("expected 2 channels, got %d", len(s.Channels()))
	}

	s.DestroyChannel(display)
	if s.Channel(protocol.ChannelDisplay, 1) != nil {
		t.Error("destroyed channel still registered")
	}
	if len(s.Channels()) != 1 {
		t.Errorf("expected 1 channel after destroy, got %d", len(s.Channels()))
	}
}

func TestSession_UnknownChannelType(t *testing.T) {
	s := NewSession(SessionConfig{Host: "localhost", Port: 5900}, testLogger())
	defer s.Close()

	if _, err := s.NewChannel(protocol.ChannelType(99), 0); err == nil {
		t.Error("expected error for unknown channel type")
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s := NewSession(SessionConfig{Host: "localhost", Port: 5900}, testLogger())
	s.Close()
	s.Close()

	if _, err := s.NewChannel(protocol.ChannelMain, 0); err == nil {
		t.Error("expected NewChannel to fail after Close")
	}
}

func TestSession_ChannelConnectPortSelection(t *testing.T) {
	ln, port := listen(t)

	accepted := make(chan struct{}, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
			accepted <- struct{}{}
		}
	}()

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port}, testLogger())
	defer s.Close()

	conn, err := s.channelConnect(false)
	if err != nil {
		t.Fatalf("channelConnect plain: %v", err)
	}
	conn.Close()
	<-accepted

	// Sem porta TLS configurada, o connect TLS falha.
	if _, err := s.channelConnect(true); err == nil {
		t.Error("expected error connecting to unset tls port")
	}
}

type countingRecorder struct {
	frames int
	bytes  int
}

func (r *countingRecorder) Record(_ string, _ protocol.DataHeader, payload []byte) error {
	r.frames++
	r.bytes += len(payload)
	return nil
}

func TestSession_RecordFrameFeedsStatsAndRecorder(t *testing.T) {
	s := NewSession(SessionConfig{Host: "localhost", Port: 5900}, testLogger())
	defer s.Close()

	rec := &countingRecorder{}
	s.SetRecorder(rec)

	payload := []byte{1, 2, 3, 4}
	s.recordFrame("main:0", protocol.DataHeader{Serial: 1, Size: 4}, payload)
	s.recordFrame("main:0", protocol.DataHeader{Serial: 2, Size: 4}, payload)

	stats := s.Stats()
	if stats.FramesIn != 2 {
		t.Errorf("expected 2 frames, got %d", stats.FramesIn)
	}
	if want := uint64(2 * (protocol.DataHeaderSize + 4)); stats.BytesIn != want {
		t.Errorf("expected %d bytes, got %d", want, stats.BytesIn)
	}
	if rec.frames != 2 || rec.bytes != 8 {
		t.Errorf("recorder saw %d frames / %d bytes", rec.frames, rec.bytes)
	}
}
