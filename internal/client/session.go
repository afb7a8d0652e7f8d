// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/n-viewer/internal/codec"
	"github.com/nishisan-dev/n-viewer/internal/pki"
	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// dialTimeout limita a abertura do socket TCP de cada canal.
const dialTimeout = 10 * time.Second

// SessionConfig são os knobs de configuração de uma sessão.
type SessionConfig struct {
	Host               string
	Port               int
	TLSPort            int
	Password           string
	CAFile             string
	InsecureSkipVerify bool

	// MotionRate limita eventos de mouse motion por segundo (0 = sem
	// limite além da janela de motion-ack do protocolo).
	MotionRate int
}

// FrameRecorder recebe cada frame inbound completo para captura.
type FrameRecorder interface {
	Record(channel string, hdr protocol.DataHeader, payload []byte) error
}

// SessionStats é o snapshot de métricas de uma sessão.
type SessionStats struct {
	ConnectionID uint32
	Channels     int
	ChannelsUp   int
	FramesIn     uint64
	BytesIn      uint64
}

type channelKey struct {
	typ protocol.ChannelType
	id  uint8
}

// Session é a relação lógica client-server: dona do connection id, da
// senha e do conjunto de canais vivos, todos dirigidos por um reactor
// único. Os canais compartilham o connection id assim que o server o
// atribui na primeira resposta do canal main.
type Session struct {
	cfg     SessionConfig
	logger  *slog.Logger
	loop    *reactor
	watcher Watcher

	connectionID atomic.Uint32

	mu        sync.Mutex
	channels  map[channelKey]*Channel
	onChannel func(*Channel)
	onEvent   func(*Channel, ChannelEvent)
	onList    func([]codec.ChannelID)
	closed    bool

	recorder FrameRecorder

	displaySink  DisplaySink
	cursorSink   CursorSink
	playbackSink PlaybackSink

	framesIn atomic.Uint64
	bytesIn  atomic.Uint64
}

// NewSession cria uma sessão e seu reactor.
func NewSession(cfg SessionConfig, logger *slog.Logger) *Session {
	s := &Session{
		cfg:      cfg,
		logger:   logger.With("component", "session"),
		channels: make(map[channelKey]*Channel),
	}
	s.loop = newReactor()
	s.watcher = newPollWatcher(s.loop)
	return s
}

// OnChannel registra o callback disparado quando um canal novo é
// registrado na sessão. Deve ser chamado antes de criar canais.
func (s *Session) OnChannel(fn func(*Channel)) {
	s.mu.Lock()
	s.onChannel = fn
	s.mu.Unlock()
}

// OnEvent registra o callback de eventos de canal. O callback roda na
// goroutine do reactor da sessão: não chame APIs síncronas de canal
// (Disconnect, senders de inputs) a partir dele.
func (s *Session) OnEvent(fn func(*Channel, ChannelEvent)) {
	s.mu.Lock()
	s.onEvent = fn
	s.mu.Unlock()
}

// OnChannelsList registra o callback da lista de canais anunciada pelo
// server no canal main.
func (s *Session) OnChannelsList(fn func([]codec.ChannelID)) {
	s.mu.Lock()
	s.onList = fn
	s.mu.Unlock()
}

// SetRecorder instala o recorder de frames inbound (captura).
func (s *Session) SetRecorder(r FrameRecorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// SetDisplaySink instala o consumidor de updates de framebuffer.
func (s *Session) SetDisplaySink(sink DisplaySink) {
	s.mu.Lock()
	s.displaySink = sink
	s.mu.Unlock()
}

// SetCursorSink instala o consumidor de updates de cursor.
func (s *Session) SetCursorSink(sink CursorSink) {
	s.mu.Lock()
	s.cursorSink = sink
	s.mu.Unlock()
}

// SetPlaybackSink instala o consumidor de áudio.
func (s *Session) SetPlaybackSink(sink PlaybackSink) {
	s.mu.Lock()
	s.playbackSink = sink
	s.mu.Unlock()
}

// ConnectionID retorna o connection id corrente (0 até o server atribuir).
func (s *Session) ConnectionID() uint32 {
	return s.connectionID.Load()
}

// setConnectionID adota o id atribuído pelo server; os canais criados
// depois o carimbam no link.
func (s *Session) setConnectionID(id uint32) {
	if s.connectionID.Swap(id) != id {
		s.logger.Info("connection id assigned", "connection_id", id)
	}
}

// Password retorna a senha configurada (vazia se não definida).
func (s *Session) Password() string {
	return s.cfg.Password
}

// Host retorna o host configurado.
func (s *Session) Host() string {
	return s.cfg.Host
}

// NewChannel cria e registra um canal do tipo/id dados. O canal ainda não
// está conectado; chame Connect nele.
func (s *Session) NewChannel(typ protocol.ChannelType, id uint8) (*Channel, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("client: session closed")
	}
	key := channelKey{typ: typ, id: id}
	if _, exists := s.channels[key]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("client: channel %s:%d already exists", typ, id)
	}
	s.mu.Unlock()

	c, err := newChannel(s, typ, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.channels[key] = c
	onChannel := s.onChannel
	s.mu.Unlock()

	s.logger.Info("channel registered", "channel", c.Name())
	if onChannel != nil {
		onChannel(c)
	}
	return c, nil
}

// DestroyChannel desconecta e remove o canal da sessão.
func (s *Session) DestroyChannel(c *Channel) {
	c.Disconnect()
	s.mu.Lock()
	delete(s.channels, channelKey{typ: c.typ, id: c.id})
	s.mu.Unlock()
	s.logger.Info("channel destroyed", "channel", c.Name())
}

// Channels enumera os canais registrados.
func (s *Session) Channels() []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Channel, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	return out
}

// Channel retorna o canal (tipo, id) ou nil.
func (s *Session) Channel(typ protocol.ChannelType, id uint8) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[channelKey{typ: typ, id: id}]
}

// Stats retorna o snapshot corrente de métricas da sessão.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	channels := len(s.channels)
	up := 0
	for _, c := range s.channels {
		if c.State() == StateReady {
			up++
		}
	}
	s.mu.Unlock()

	return SessionStats{
		ConnectionID: s.ConnectionID(),
		Channels:     channels,
		ChannelsUp:   up,
		FramesIn:     s.framesIn.Load(),
		BytesIn:      s.bytesIn.Load(),
	}
}

// Close desconecta todos os canais e para o reactor.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	channels := make([]*Channel, 0, len(s.channels))
	for _, c := range s.channels {
		channels = append(channels, c)
	}
	s.mu.Unlock()

	s.loop.Call(func() {
		for _, c := range channels {
			c.disconnect(EventClosed)
		}
	})
	s.loop.Stop()
	s.logger.Info("session closed")
}

// channelConnect abre o socket TCP de um canal, na porta plain ou TLS.
func (s *Session) channelConnect(useTLS bool) (net.Conn, error) {
	port := s.cfg.Port
	if useTLS {
		port = s.cfg.TLSPort
	}
	if port <= 0 {
		return nil, fmt.Errorf("client: no %s port configured",
			map[bool]string{true: "tls", false: "plain"}[useTLS])
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return conn, nil
}

// clientTLSConfig monta a configuração TLS do canal a partir da CA e do
// host da sessão.
func (s *Session) clientTLSConfig() (*tls.Config, error) {
	return pki.NewClientTLSConfig(s.cfg.CAFile, s.cfg.Host, s.cfg.InsecureSkipVerify)
}

// notifyEvent repassa um evento de canal ao embedder.
func (s *Session) notifyEvent(c *Channel, ev ChannelEvent) {
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	if fn != nil {
		fn(c, ev)
	}
}

// notifyChannelsList repassa a lista de canais anunciada no main.
func (s *Session) notifyChannelsList(list []codec.ChannelID) {
	s.mu.Lock()
	fn := s.onList
	s.mu.Unlock()
	if fn != nil {
		fn(list)
	}
}

// recordFrame alimenta contadores e o recorder de captura com um frame
// inbound completo.
func (s *Session) recordFrame(channel string, hdr protocol.DataHeader, payload []byte) {
	s.framesIn.Add(1)
	s.bytesIn.Add(protocol.DataHeaderSize + uint64(len(payload)))

	s.mu.Lock()
	rec := s.recorder
	s.mu.Unlock()
	if rec == nil {
		return
	}
	if err := rec.Record(channel, hdr, payload); err != nil {
		s.logger.Warn("frame capture failed", "channel", channel, "error", err)
	}
}

func (s *Session) sinkDisplay() DisplaySink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displaySink
}

func (s *Session) sinkCursor() CursorSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursorSink
}

func (s *Session) sinkPlayback() PlaybackSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playbackSink
}
