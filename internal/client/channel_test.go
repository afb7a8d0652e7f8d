// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/n-viewer/internal/codec"
	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// mainInitPayload monta o corpo de um MAIN_INIT.
func mainInitPayload(sessionID uint32) []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint32(buf[0:4], sessionID)
	binary.LittleEndian.PutUint32(buf[4:8], 1)                     // displays hint
	binary.LittleEndian.PutUint32(buf[8:12], codec.MouseModeClient) // supported
	binary.LittleEndian.PutUint32(buf[12:16], codec.MouseModeClient) // current
	return buf
}

func TestChannel_HappyPathPlain(t *testing.T) {
	key, pubDER := testKey(t)
	ln, port := listen(t)

	done := make(chan struct{})
	serve(t, ln, func(conn net.Conn) {
		defer close(done)
		hdr, msg := readClientLink(t, conn)
		if msg == nil {
			return
		}
		if hdr.Major != protocol.VersionMajor || hdr.Minor != protocol.VersionMinor {
			t.Errorf("server: expected version %d.%d, got %d.%d",
				protocol.VersionMajor, protocol.VersionMinor, hdr.Major, hdr.Minor)
		}
		if hdr.Size != protocol.LinkMessageSize {
			t.Errorf("server: expected link size %d, got %d", protocol.LinkMessageSize, hdr.Size)
		}
		if msg.ConnectionID != 0 {
			t.Errorf("server: first link should carry connection id 0, got %d", msg.ConnectionID)
		}
		if msg.ChannelType != protocol.ChannelMain || msg.ChannelID != 0 {
			t.Errorf("server: expected main:0, got %s:%d", msg.ChannelType, msg.ChannelID)
		}

		reply := &protocol.LinkReply{Error: protocol.LinkErrOK, PubKey: pubDER}
		if err := protocol.WriteLinkReply(conn, protocol.VersionMajor, protocol.VersionMinor, reply); err != nil {
			t.Errorf("server: writing link reply: %v", err)
			return
		}
		if !completeAuth(t, conn, key, "abc") {
			return
		}

		// channel_up do main envia ATTACH_CHANNELS com o primeiro serial.
		attach, _, err := protocol.ReadDataMessage(conn)
		if err != nil {
			t.Errorf("server: reading attach channels: %v", err)
			return
		}
		if attach.Type != protocol.MsgcMainAttachChannels {
			t.Errorf("server: expected attach channels, got type %d", attach.Type)
		}
		if attach.Serial != 1 {
			t.Errorf("server: expected serial 1, got %d", attach.Serial)
		}

		// INIT atribui o connection id à sessão.
		if err := protocol.WriteDataMessage(conn,
			&protocol.DataHeader{Serial: 1, Type: protocol.MsgMainInit},
			mainInitPayload(0x1234)); err != nil {
			t.Errorf("server: writing init: %v", err)
		}
	})

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port, Password: "abc"}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, err := s.NewChannel(protocol.ChannelMain, 0)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	events.expect(t, EventOpened)
	waitFor(t, func() bool { return s.ConnectionID() == 0x1234 },
		"connection id not adopted from init")
	if c.State() != StateReady {
		t.Errorf("expected READY, got %s", c.State())
	}

	<-done
	events.expectNone(t, 50*time.Millisecond)
}

func TestChannel_SecondChannelCarriesConnectionID(t *testing.T) {
	key, pubDER := testKey(t)
	ln, port := listen(t)

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port, Password: ""}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)
	s.setConnectionID(0xbeef)

	done := make(chan struct{})
	serve(t, ln, func(conn net.Conn) {
		defer close(done)
		_, msg := readClientLink(t, conn)
		if msg == nil {
			return
		}
		if msg.ConnectionID != 0xbeef {
			t.Errorf("server: expected stamped connection id 0xbeef, got %#x", msg.ConnectionID)
		}
		if msg.ChannelType != protocol.ChannelDisplay || msg.ChannelID != 2 {
			t.Errorf("server: expected display:2, got %s:%d", msg.ChannelType, msg.ChannelID)
		}
		reply := &protocol.LinkReply{Error: protocol.LinkErrOK, PubKey: pubDER}
		protocol.WriteLinkReply(conn, protocol.VersionMajor, protocol.VersionMinor, reply)
		completeAuth(t, conn, key, "")
	})

	c, err := s.NewChannel(protocol.ChannelDisplay, 2)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	c.Connect()
	events.expect(t, EventOpened)
	<-done
}

func TestChannel_TLSUpgrade(t *testing.T) {
	key, pubDER := testKey(t)
	plainLn, plainPort := listen(t)
	tlsLn, tlsPort := tlsListen(t)

	// Primeira conexão, plain: o server exige TLS.
	serve(t, plainLn, func(conn net.Conn) {
		_, msg := readClientLink(t, conn)
		if msg == nil {
			return
		}
		reply := &protocol.LinkReply{Error: protocol.LinkErrNeedSecured}
		if err := protocol.WriteLinkReply(conn, protocol.VersionMajor, protocol.VersionMinor, reply); err != nil {
			t.Errorf("server: writing need-secured reply: %v", err)
		}
	})

	done := make(chan struct{})
	serve(t, tlsLn, func(conn net.Conn) {
		defer close(done)
		serverHandshake(t, conn, pubDER, key, "abc")
	})

	s := NewSession(SessionConfig{
		Host:               "127.0.0.1",
		Port:               plainPort,
		TLSPort:            tlsPort,
		Password:           "abc",
		InsecureSkipVerify: true,
	}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, err := s.NewChannel(protocol.ChannelCursor, 0)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	c.Connect()

	// Exatamente um Opened; o reconnect é silencioso.
	events.expect(t, EventOpened)
	<-done
	events.expectNone(t, 50*time.Millisecond)
}

func TestChannel_ProtocolDowngrade(t *testing.T) {
	key, pubDER := testKey(t)
	ln, port := listen(t)

	done := make(chan struct{})
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	go func() {
		// Primeira conexão: responde com major legado e fecha.
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		if _, msg := readClientLink(t, conn); msg == nil {
			conn.Close()
			return
		}
		var hdr [protocol.LinkHeaderSize]byte
		protocol.PutLinkHeader(hdr[:], &protocol.LinkHeader{
			Magic: protocol.Magic,
			Major: protocol.VersionMajorLegacy,
			Minor: protocol.VersionMinorLegacy,
		})
		conn.Write(hdr[:])
		conn.Close()

		// Segunda conexão: o client fala major 1 e o handshake completa.
		conn, err = ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		lhdr, msg := readClientLink(t, conn)
		if msg == nil {
			return
		}
		if lhdr.Major != protocol.VersionMajorLegacy || lhdr.Minor != protocol.VersionMinorLegacy {
			t.Errorf("server: expected legacy link %d.%d, got %d.%d",
				protocol.VersionMajorLegacy, protocol.VersionMinorLegacy, lhdr.Major, lhdr.Minor)
		}
		reply := &protocol.LinkReply{Error: protocol.LinkErrOK, PubKey: pubDER}
		if err := protocol.WriteLinkReply(conn, protocol.VersionMajorLegacy, protocol.VersionMinorLegacy, reply); err != nil {
			t.Errorf("server: writing link reply: %v", err)
			return
		}
		if !completeAuth(t, conn, key, "abc") {
			return
		}

		// ATTACH_CHANNELS chega renumerado para o espaço do major 1.
		attach, _, err := protocol.ReadDataMessage(conn)
		if err != nil {
			t.Errorf("server: reading attach channels: %v", err)
			return
		}
		wantWire := protocol.MsgcMainAttachChannels - protocol.MsgFirstAvail + protocol.MsgFirstAvailLegacy
		if attach.Type != wantWire {
			t.Errorf("server: expected legacy attach type %d, got %d", wantWire, attach.Type)
		}

		// INIT também viaja com a numeração do major 1 e é parseado pelo
		// registry legado.
		initWire := protocol.MsgMainInit - protocol.MsgFirstAvail + protocol.MsgFirstAvailLegacy
		if err := protocol.WriteDataMessage(conn,
			&protocol.DataHeader{Serial: 1, Type: initWire},
			mainInitPayload(0x77)); err != nil {
			t.Errorf("server: writing legacy init: %v", err)
		}
		close(done)
		<-hold
	}()

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port, Password: "abc"}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, err := s.NewChannel(protocol.ChannelMain, 0)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	c.Connect()

	events.expect(t, EventOpened)
	waitFor(t, func() bool { return s.ConnectionID() == 0x77 },
		"connection id not adopted through the legacy parser")
	<-done
	events.expectNone(t, 50*time.Millisecond)
}

func TestChannel_AckCadence(t *testing.T) {
	key, pubDER := testKey(t)
	ln, port := listen(t)

	const window = 3
	done := make(chan struct{})
	serve(t, ln, func(conn net.Conn) {
		defer close(done)
		if serverHandshake(t, conn, pubDER, key, "") == nil {
			return
		}

		// Instala a janela de ACK.
		setAck := make([]byte, 8)
		binary.LittleEndian.PutUint32(setAck[0:4], 9) // generation
		binary.LittleEndian.PutUint32(setAck[4:8], window)
		if err := protocol.WriteDataMessage(conn,
			&protocol.DataHeader{Serial: 1, Type: protocol.MsgSetAck}, setAck); err != nil {
			t.Errorf("server: writing set-ack: %v", err)
			return
		}

		// ACK_SYNC ecoa a generation, com o primeiro serial outbound.
		sync, payload, err := protocol.ReadDataMessage(conn)
		if err != nil {
			t.Errorf("server: reading ack-sync: %v", err)
			return
		}
		if sync.Type != protocol.MsgcAckSync || sync.Serial != 1 {
			t.Errorf("server: expected ack-sync serial 1, got type %d serial %d",
				sync.Type, sync.Serial)
		}
		if len(payload) != 4 || binary.LittleEndian.Uint32(payload) != 9 {
			t.Errorf("server: ack-sync should echo generation 9, got %v", payload)
		}

		for cycle := 0; cycle < 2; cycle++ {
			for i := 0; i < window; i++ {
				if err := protocol.WriteDataMessage(conn,
					&protocol.DataHeader{Serial: uint64(2 + cycle*window + i), Type: protocol.MsgCursorHide},
					nil); err != nil {
					t.Errorf("server: writing message: %v", err)
					return
				}
			}
			// Exatamente um ACK vazio por janela, serial crescente sem gaps.
			ack, payload, err := protocol.ReadDataMessage(conn)
			if err != nil {
				t.Errorf("server: reading ack: %v", err)
				return
			}
			if ack.Type != protocol.MsgcAck {
				t.Errorf("server: expected ack, got type %d", ack.Type)
			}
			if len(payload) != 0 {
				t.Errorf("server: ack should have empty body, got %d bytes", len(payload))
			}
			if want := uint64(2 + cycle); ack.Serial != want {
				t.Errorf("server: expected ack serial %d, got %d", want, ack.Serial)
			}
		}
	})

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, err := s.NewChannel(protocol.ChannelCursor, 0)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	c.Connect()

	events.expect(t, EventOpened)
	<-done
	events.expectNone(t, 50*time.Millisecond)
}

// recordingClass captura os handle de mensagem em ordem.
type recordingClass struct {
	types  []uint16
	parent *InMessage
	got    chan struct{}
}

func (rc *recordingClass) channelUp(c *Channel) {}

func (rc *recordingClass) handleMsg(c *Channel, in *InMessage) error {
	rc.types = append(rc.types, in.Type)
	if in.parent == nil {
		rc.parent = in
	}
	select {
	case rc.got <- struct{}{}:
	default:
	}
	return nil
}

func TestChannel_SubMessageFanout(t *testing.T) {
	key, pubDER := testKey(t)
	ln, port := listen(t)

	done := make(chan struct{})
	serve(t, ln, func(conn net.Conn) {
		defer close(done)
		if serverHandshake(t, conn, pubDER, key, "") == nil {
			return
		}

		// Frame com 3 sub-messages seguidas do corpo top-level.
		payload, offset := protocol.AppendSubMessageList(nil, []protocol.SubMessage{
			{Type: protocol.MsgCursorHide},
			{Type: protocol.MsgCursorMove, Body: []byte{10, 0, 20, 0}},
			{Type: protocol.MsgCursorReset},
		})
		if err := protocol.WriteDataMessage(conn,
			&protocol.DataHeader{Serial: 1, Type: protocol.MsgCursorInvalAll, SubList: offset},
			payload); err != nil {
			t.Errorf("server: writing fan-out frame: %v", err)
		}
	})

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, err := s.NewChannel(protocol.ChannelCursor, 0)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	rc := &recordingClass{got: make(chan struct{}, 8)}
	c.class = rc
	c.Connect()

	events.expect(t, EventOpened)
	waitFor(t, func() bool {
		var n int
		s.loop.Call(func() { n = len(rc.types) })
		return n == 4
	}, "expected 4 handle_msg calls")

	var types []uint16
	s.loop.Call(func() { types = append([]uint16(nil), rc.types...) })
	want := []uint16{protocol.MsgCursorHide, protocol.MsgCursorMove,
		protocol.MsgCursorReset, protocol.MsgCursorInvalAll}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected dispatch order %v, got %v", want, types)
		}
	}

	// O buffer compartilhado é liberado uma única vez, quando o último
	// holder (o top-level) solta.
	waitFor(t, func() bool {
		var freed bool
		s.loop.Call(func() { freed = rc.parent.refs.Load() == 0 && rc.parent.Data == nil })
		return freed
	}, "parent buffer not released after fan-out")

	<-done
}

func TestChannel_MidHeaderDisconnect(t *testing.T) {
	ln, port := listen(t)

	serve(t, ln, func(conn net.Conn) {
		if _, msg := readClientLink(t, conn); msg == nil {
			return
		}
		// 8 bytes de link header e EOF.
		var hdr [protocol.LinkHeaderSize]byte
		protocol.PutLinkHeader(hdr[:], &protocol.LinkHeader{
			Magic: protocol.Magic,
			Major: protocol.VersionMajor,
			Minor: protocol.VersionMinor,
		})
		conn.Write(hdr[:8])
		conn.Close()
	})

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, err := s.NewChannel(protocol.ChannelDisplay, 0)
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	c.Connect()

	// Nenhum evento pelo progresso parcial; só o Closed do EOF.
	events.expect(t, EventClosed)
	if c.State() != StateUnconnected {
		t.Errorf("expected UNCONNECTED after eof, got %s", c.State())
	}
	events.expectNone(t, 50*time.Millisecond)
}

func TestChannel_BadMagic(t *testing.T) {
	ln, port := listen(t)

	serve(t, ln, func(conn net.Conn) {
		if _, msg := readClientLink(t, conn); msg == nil {
			return
		}
		garbage := make([]byte, protocol.LinkHeaderSize)
		copy(garbage, "XXXXYYYYZZZZWWWW")
		conn.Write(garbage)
	})

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, _ := s.NewChannel(protocol.ChannelDisplay, 0)
	c.Connect()
	events.expect(t, EventErrorLink)
}

func TestChannel_AuthRejected(t *testing.T) {
	key, pubDER := testKey(t)
	ln, port := listen(t)

	serve(t, ln, func(conn net.Conn) {
		if _, msg := readClientLink(t, conn); msg == nil {
			return
		}
		reply := &protocol.LinkReply{Error: protocol.LinkErrOK, PubKey: pubDER}
		protocol.WriteLinkReply(conn, protocol.VersionMajor, protocol.VersionMinor, reply)

		ciphertext := make([]byte, key.Size())
		if _, err := io.ReadFull(conn, ciphertext); err != nil {
			t.Errorf("server: reading ciphertext: %v", err)
			return
		}
		protocol.WriteAuthResult(conn, 1)
	})

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port, Password: "wrong"}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, _ := s.NewChannel(protocol.ChannelMain, 0)
	c.Connect()
	events.expect(t, EventErrorAuth)
}

func TestChannel_PasswordTooLong(t *testing.T) {
	_, pubDER := testKey(t)
	ln, port := listen(t)

	serve(t, ln, func(conn net.Conn) {
		if _, msg := readClientLink(t, conn); msg == nil {
			return
		}
		reply := &protocol.LinkReply{Error: protocol.LinkErrOK, PubKey: pubDER}
		protocol.WriteLinkReply(conn, protocol.VersionMajor, protocol.VersionMinor, reply)
	})

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port, Password: string(long)}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, _ := s.NewChannel(protocol.ChannelMain, 0)
	c.Connect()
	events.expect(t, EventErrorAuth)
}

func TestChannel_NeedSecuredUnderTLSIsFatal(t *testing.T) {
	tlsLn, tlsPort := tlsListen(t)

	serve(t, tlsLn, func(conn net.Conn) {
		if _, msg := readClientLink(t, conn); msg == nil {
			return
		}
		reply := &protocol.LinkReply{Error: protocol.LinkErrNeedSecured}
		protocol.WriteLinkReply(conn, protocol.VersionMajor, protocol.VersionMinor, reply)
	})

	// Sem porta plain: o connect promove direto para TLS.
	s := NewSession(SessionConfig{
		Host:               "127.0.0.1",
		TLSPort:            tlsPort,
		InsecureSkipVerify: true,
	}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, _ := s.NewChannel(protocol.ChannelDisplay, 0)
	c.Connect()
	events.expect(t, EventErrorLink)
}

func TestChannel_ConnectRefusedBothPorts(t *testing.T) {
	// Portas sem listener.
	ln, port := listen(t)
	ln.Close()

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port, TLSPort: port}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, _ := s.NewChannel(protocol.ChannelMain, 0)
	c.Connect()
	events.expect(t, EventErrorConnect)
}

func TestChannel_DisconnectIdempotent(t *testing.T) {
	key, pubDER := testKey(t)
	ln, port := listen(t)

	serve(t, ln, func(conn net.Conn) {
		if serverHandshake(t, conn, pubDER, key, "") == nil {
			return
		}
		// Mantém a conexão aberta até o client derrubar.
		buf := make([]byte, 1)
		conn.Read(buf)
	})

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, _ := s.NewChannel(protocol.ChannelCursor, 0)
	c.Connect()
	events.expect(t, EventOpened)

	c.Disconnect()
	c.Disconnect()

	events.expect(t, EventClosed)
	events.expectNone(t, 100*time.Millisecond)
	if c.State() != StateUnconnected {
		t.Errorf("expected UNCONNECTED, got %s", c.State())
	}
}

func TestChannel_ProtocolErrorOnBadSubList(t *testing.T) {
	key, pubDER := testKey(t)
	ln, port := listen(t)

	serve(t, ln, func(conn net.Conn) {
		if serverHandshake(t, conn, pubDER, key, "") == nil {
			return
		}
		// sub_list aponta para fora do payload.
		protocol.WriteDataMessage(conn,
			&protocol.DataHeader{Serial: 1, Type: protocol.MsgCursorHide, SubList: 100},
			make([]byte, 8))
	})

	s := NewSession(SessionConfig{Host: "127.0.0.1", Port: port}, testLogger())
	defer s.Close()
	events := newEventRecorder(s)

	c, _ := s.NewChannel(protocol.ChannelCursor, 0)
	c.Connect()
	events.expect(t, EventOpened)
	events.expect(t, EventErrorProtocol)
}
