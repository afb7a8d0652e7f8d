// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package codec decodifica payloads Server → Client em valores tipados e
// monta payloads Client → Server, com tabelas separadas por major
// negociado no link.
package codec

import "github.com/nishisan-dev/n-viewer/internal/protocol"

// Point é uma coordenada absoluta (i32, i32).
type Point struct {
	X int32
	Y int32
}

// Point16 é uma coordenada compacta (i16, i16) usada pelo canal cursor.
type Point16 struct {
	X int16
	Y int16
}

// Rect delimita uma região do framebuffer.
type Rect struct {
	Top    int32
	Left   int32
	Bottom int32
	Right  int32
}

// ChannelID identifica um canal anunciado pelo server.
type ChannelID struct {
	Type protocol.ChannelType
	ID   uint8
}

// Mensagens comuns -----------------------------------------------------

// SetAck instala a janela de acknowledgment do canal.
type SetAck struct {
	Generation uint32
	Window     uint32
}

// Ping é o keep-alive do server; o client ecoa id e timestamp no PONG.
type Ping struct {
	ID        uint32
	Timestamp uint64
	Data      []byte
}

// ChannelWait identifica um ponto de sincronização em outro canal.
type ChannelWait struct {
	Type   protocol.ChannelType
	ID     uint8
	Serial uint64
}

// WaitForChannels pede que o client aguarde serials em outros canais.
type WaitForChannels struct {
	Waits []ChannelWait
}

// Disconnecting anuncia o encerramento iminente da conexão pelo server.
type Disconnecting struct {
	Timestamp uint64
	Reason    uint32
}

// Notify carrega uma notificação textual do server.
type Notify struct {
	Timestamp  uint64
	Severity   uint32
	Visibility uint32
	What       uint32
	Message    string
}

// Migrate sinaliza o início de uma migração de host.
type Migrate struct {
	Flags uint32
}

// Canal MAIN -----------------------------------------------------------

// MainInit é a primeira mensagem do canal main; SessionID é o connection
// id que a sessão adota e propaga aos canais seguintes.
type MainInit struct {
	SessionID           uint32
	DisplayChannelsHint uint32
	SupportedMouseModes uint32
	CurrentMouseMode    uint32
	AgentConnected      uint32
	AgentTokens         uint32
	MultiMediaTime      uint32
	RAMHint             uint32
}

// ChannelsList enumera os canais disponíveis no server.
type ChannelsList struct {
	Channels []ChannelID
}

// Modos de mouse.
const (
	MouseModeServer uint32 = 1
	MouseModeClient uint32 = 2
)

// MouseMode informa os modos de mouse suportados e o corrente.
type MouseMode struct {
	SupportedModes uint32
	CurrentMode    uint32
}

// MultiMediaTime sincroniza o relógio de mídia do client.
type MultiMediaTime struct {
	Time uint32
}

// Canal DISPLAY --------------------------------------------------------

// DisplayMode define a geometria do framebuffer primário.
type DisplayMode struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

// DisplayMark marca o primeiro frame válido após um mode.
type DisplayMark struct{}

// DisplayReset descarta o framebuffer primário.
type DisplayReset struct{}

// CopyBits move uma região do framebuffer.
type CopyBits struct {
	Dest   Rect
	SrcPos Point
}

// Canal INPUTS ---------------------------------------------------------

// InputsInit entrega o estado inicial dos modificadores de teclado.
type InputsInit struct {
	KeyModifiers uint16
}

// KeyModifiers atualiza o estado dos modificadores (caps/num/scroll lock).
type KeyModifiers struct {
	Modifiers uint16
}

// MouseMotionAck devolve créditos da janela de motion.
type MouseMotionAck struct{}

// Canal CURSOR ---------------------------------------------------------

// CursorShape descreve a forma do cursor; Data aponta para os pixels no
// payload da mensagem e só é válido durante o handle da mensagem.
type CursorShape struct {
	ID     uint64
	Type   uint8
	Width  uint16
	Height uint16
	HotX   uint16
	HotY   uint16
	Data   []byte
}

// CursorInit entrega posição, visibilidade e forma iniciais do cursor.
type CursorInit struct {
	Position       Point16
	TrailLength    uint16
	TrailFrequency uint16
	Visible        bool
	Shape          CursorShape
}

// CursorSet troca a forma do cursor.
type CursorSet struct {
	Position Point16
	Visible  bool
	Shape    CursorShape
}

// CursorMove reposiciona o cursor.
type CursorMove struct {
	Position Point16
}

// CursorHide oculta o cursor.
type CursorHide struct{}

// CursorReset restaura o cursor default do client.
type CursorReset struct{}

// CursorTrail configura o rastro do cursor.
type CursorTrail struct {
	Length    uint16
	Frequency uint16
}

// CursorID referencia uma forma no cache do client.
type CursorID struct {
	ID uint64
}

// CursorInvalAll invalida todo o cache de formas.
type CursorInvalAll struct{}

// Canal PLAYBACK -------------------------------------------------------

// Formatos de playback.
const (
	PlaybackFormatInvalid uint16 = 0
	PlaybackFormatS16     uint16 = 1
)

// PlaybackStart abre um stream de áudio.
type PlaybackStart struct {
	Channels  uint32
	Frequency uint32
	Format    uint16
	Time      uint32
}

// PlaybackMode seleciona o codec do stream.
type PlaybackMode struct {
	Time uint32
	Mode uint16
}

// PlaybackData carrega amostras; Data aponta para o payload da mensagem.
type PlaybackData struct {
	Time uint32
	Data []byte
}

// PlaybackStop encerra o stream de áudio.
type PlaybackStop struct{}
