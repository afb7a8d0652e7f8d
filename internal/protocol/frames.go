// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implementa o wire format do protocolo Spice para
// comunicação client → host de virtualização sobre TCP ou TCP+TLS.
package protocol

import "errors"

// Magic identifica o link header ("REDQ" em little-endian).
const Magic uint32 = 0x51444552

// Versões do protocolo. O major 1 é o modo legado, negociado quando o
// peer responde o link header com major_version == 1.
const (
	VersionMajor uint32 = 2
	VersionMinor uint32 = 2

	VersionMajorLegacy uint32 = 1
	VersionMinorLegacy uint32 = 3
)

// ChannelType identifica o tipo de um canal dentro da sessão.
type ChannelType uint8

const (
	ChannelMain     ChannelType = 1
	ChannelDisplay  ChannelType = 2
	ChannelInputs   ChannelType = 3
	ChannelCursor   ChannelType = 4
	ChannelPlayback ChannelType = 5
)

// String retorna o nome do tipo de canal.
func (t ChannelType) String() string {
	switch t {
	case ChannelMain:
		return "main"
	case ChannelDisplay:
		return "display"
	case ChannelInputs:
		return "inputs"
	case ChannelCursor:
		return "cursor"
	case ChannelPlayback:
		return "playback"
	}
	return "unknown"
}

// Link error codes (campo error do link reply, Server → Client).
const (
	LinkErrOK                  uint32 = 0
	LinkErrNeedSecured         uint32 = 1
	LinkErrError               uint32 = 2
	LinkErrInvalidMagic        uint32 = 3
	LinkErrInvalidData         uint32 = 4
	LinkErrVersionMismatch     uint32 = 5
	LinkErrPermissionDenied    uint32 = 6
	LinkErrBadConnectionID     uint32 = 7
	LinkErrChannelNotAvailable uint32 = 8
)

// AuthResultOK é a resposta de autenticação bem sucedida (u32 LE).
const AuthResultOK uint32 = 0

// Mensagens comuns Server → Client (válidas em qualquer canal).
const (
	MsgMigrate         uint16 = 1
	MsgMigrateData     uint16 = 2
	MsgSetAck          uint16 = 3
	MsgPing            uint16 = 4
	MsgWaitForChannels uint16 = 5
	MsgDisconnecting   uint16 = 6
	MsgNotify          uint16 = 7
)

// Mensagens comuns Client → Server.
const (
	MsgcAckSync          uint16 = 1
	MsgcAck              uint16 = 2
	MsgcPong             uint16 = 3
	MsgcMigrateFlushMark uint16 = 4
	MsgcMigrateData      uint16 = 5
	MsgcDisconnecting    uint16 = 6
)

// MsgFirstAvail é o primeiro tipo específico de canal no major atual.
// No major 1 legado os tipos específicos começam em MsgFirstAvailLegacy.
const (
	MsgFirstAvail       uint16 = 101
	MsgFirstAvailLegacy uint16 = 64
)

// Mensagens do canal MAIN (Server → Client).
const (
	MsgMainMigrateBegin  uint16 = 101
	MsgMainMigrateCancel uint16 = 102
	MsgMainInit          uint16 = 103
	MsgMainChannelsList  uint16 = 104
	MsgMainMouseMode     uint16 = 105
	MsgMainMMTime        uint16 = 106
)

// Mensagens do canal MAIN (Client → Server).
const (
	MsgcMainClientInfo          uint16 = 101
	MsgcMainMigrateConnected    uint16 = 102
	MsgcMainMigrateConnectError uint16 = 103
	MsgcMainAttachChannels      uint16 = 104
	MsgcMainMouseModeRequest    uint16 = 105
)

// Mensagens do canal DISPLAY (Server → Client).
const (
	MsgDisplayMode     uint16 = 101
	MsgDisplayMark     uint16 = 102
	MsgDisplayReset    uint16 = 103
	MsgDisplayCopyBits uint16 = 104
)

// Mensagens do canal INPUTS.
const (
	MsgInputsInit           uint16 = 101
	MsgInputsKeyModifiers   uint16 = 102
	MsgInputsMouseMotionAck uint16 = 111

	MsgcInputsKeyDown       uint16 = 101
	MsgcInputsKeyUp         uint16 = 102
	MsgcInputsKeyModifiers  uint16 = 103
	MsgcInputsMouseMotion   uint16 = 111
	MsgcInputsMousePosition uint16 = 112
	MsgcInputsMousePress    uint16 = 113
	MsgcInputsMouseRelease  uint16 = 114
)

// Mensagens do canal CURSOR (Server → Client).
const (
	MsgCursorInit     uint16 = 101
	MsgCursorReset    uint16 = 102
	MsgCursorSet      uint16 = 103
	MsgCursorMove     uint16 = 104
	MsgCursorHide     uint16 = 105
	MsgCursorTrail    uint16 = 106
	MsgCursorInvalOne uint16 = 107
	MsgCursorInvalAll uint16 = 108
)

// Mensagens do canal PLAYBACK (Server → Client).
const (
	MsgPlaybackData  uint16 = 101
	MsgPlaybackMode  uint16 = 102
	MsgPlaybackStart uint16 = 103
	MsgPlaybackStop  uint16 = 104
)

// Tamanhos fixos no wire.
const (
	LinkHeaderSize  = 16
	LinkMessageSize = 18
	DataHeaderSize  = 18

	// linkReplyFixedSize é o prefixo fixo do link reply: error(4) +
	// num_common_caps(4) + num_channel_caps(4) + caps_offset(4). A chave
	// pública fica entre o error e os contadores; seu tamanho é derivado
	// de caps_offset.
	linkReplyFixedSize = 16

	// PubKeyBytes é o tamanho canônico da chave RSA-1024 em DER
	// (SubjectPublicKeyInfo). O parser aceita o tamanho informado pelo
	// peer; a constante existe para o caminho de escrita.
	PubKeyBytes = 162
)

// MaxMessageSize limita o payload de uma mensagem de dados. Frames acima
// disso são rejeitados antes da alocação do buffer.
const MaxMessageSize = 64 * 1024 * 1024

// Erros do protocolo.
var (
	ErrInvalidMagic     = errors.New("protocol: invalid magic bytes")
	ErrTruncatedFrame   = errors.New("protocol: truncated frame")
	ErrFrameTooLarge    = errors.New("protocol: frame exceeds maximum size")
	ErrMalformedReply   = errors.New("protocol: malformed link reply")
	ErrMalformedSubList = errors.New("protocol: malformed sub-message list")
	ErrBufferFull       = errors.New("protocol: marshaller buffer full")
)

// LinkHeader é o preâmbulo do handshake, trocado nas duas direções.
// Formato: [Magic u32] [Major u32] [Minor u32] [Size u32], little-endian.
// Size cobre o link message seguinte, incluindo as listas de capabilities.
type LinkHeader struct {
	Magic uint32
	Major uint32
	Minor uint32
	Size  uint32
}

// LinkMessage é o corpo do link enviado pelo client.
// Formato: [ConnectionID u32] [ChannelType u8] [ChannelID u8]
// [NumCommonCaps u32] [NumChannelCaps u32] [CapsOffset u32], seguido das
// duas listas de capabilities (u32 cada entrada).
type LinkMessage struct {
	ConnectionID   uint32
	ChannelType    ChannelType
	ChannelID      uint8
	NumCommonCaps  uint32
	NumChannelCaps uint32
	CapsOffset     uint32
	CommonCaps     []uint32
	ChannelCaps    []uint32
}

// LinkReply é o corpo do link enviado pelo server.
// Formato: [Error u32] [NumCommonCaps u32] [NumChannelCaps u32]
// [CapsOffset u32] [PubKey DER] [caps u32...]. CapsOffset é relativo ao
// início do reply; a chave ocupa o intervalo entre o prefixo fixo e o
// caps_offset (ou o fim do buffer quando não há caps), de modo que seu
// tamanho vem do peer em vez de ser fixado em PubKeyBytes.
type LinkReply struct {
	Error       uint32
	PubKey      []byte
	CommonCaps  []uint32
	ChannelCaps []uint32
}

// DataHeader precede cada mensagem em steady state, nas duas direções.
// Formato: [Serial u64] [Type u16] [Size u32] [SubList u32].
// SubList é zero ou o offset, dentro do payload, de um SubMessageList.
type DataHeader struct {
	Serial  uint64
	Type    uint16
	Size    uint32
	SubList uint32
}

// SubMessage referencia uma mensagem aninhada dentro do payload do parent.
// No wire: [Type u16] [Size u32] seguido de Size bytes de corpo. Body é um
// sub-slice do payload do parent, nunca uma cópia.
type SubMessage struct {
	Type uint16
	Body []byte
}
