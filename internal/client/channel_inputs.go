// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"errors"

	"golang.org/x/time/rate"

	"github.com/nishisan-dev/n-viewer/internal/codec"
	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// motionAckWindow é o máximo de mouse motions em voo sem MOUSE_MOTION_ACK
// do server; acima disso os deltas são coalescidos no pendente.
const motionAckWindow = 4

// Botões de mouse e as máscaras de estado correspondentes.
const (
	MouseButtonLeft   uint8 = 1
	MouseButtonMiddle uint8 = 2
	MouseButtonRight  uint8 = 3
	MouseButtonUp     uint8 = 4
	MouseButtonDown   uint8 = 5
)

func buttonMask(button uint8) uint16 {
	return 1 << (button - 1)
}

// pendingMotion acumula deltas coalescidos enquanto a janela de motion
// está cheia ou o limiter segura o envio.
type pendingMotion struct {
	dx, dy int32
}

// inputsClass mantém o estado de envio de teclado e mouse: janela de
// motion-ack, coalescência de deltas e o token bucket que limita a taxa
// de motion.
type inputsClass struct {
	modifiers    uint16
	buttonsState uint16
	outstanding  int
	pending      *pendingMotion
	limiter      *rate.Limiter
}

func newInputsClass() *inputsClass {
	return &inputsClass{}
}

func (ic *inputsClass) channelUp(c *Channel) {
	// O limiter depende da configuração da sessão, só disponível aqui.
	if r := c.session.cfg.MotionRate; r > 0 && ic.limiter == nil {
		ic.limiter = rate.NewLimiter(rate.Limit(r), r)
	}
}

func (ic *inputsClass) handleMsg(c *Channel, in *InMessage) error {
	switch in.Type {
	case protocol.MsgInputsInit:
		init := in.Parsed.(*codec.InputsInit)
		ic.modifiers = init.KeyModifiers
		return nil

	case protocol.MsgInputsKeyModifiers:
		mods := in.Parsed.(*codec.KeyModifiers)
		ic.modifiers = mods.Modifiers
		return nil

	case protocol.MsgInputsMouseMotionAck:
		if ic.outstanding > 0 {
			ic.outstanding--
		}
		ic.flushPending(c)
		return nil
	}
	return unexpectedMsg(in)
}

// sendMotion transmite um delta de motion, respeitando a janela e o
// limiter; deltas segurados são coalescidos e liberados no próximo ack.
func (ic *inputsClass) sendMotion(c *Channel, dx, dy int32) {
	if ic.outstanding >= motionAckWindow || (ic.limiter != nil && !ic.limiter.Allow()) {
		if ic.pending == nil {
			ic.pending = &pendingMotion{}
		}
		ic.pending.dx += dx
		ic.pending.dy += dy
		return
	}

	out := newOutMessage(c, protocol.MsgcInputsMouseMotion)
	codec.AppendMouseMotion(out.Marshaller(), dx, dy, ic.buttonsState)
	c.sendMessage(out)
	ic.outstanding++
}

func (ic *inputsClass) flushPending(c *Channel) {
	if ic.pending == nil || ic.outstanding >= motionAckWindow {
		return
	}
	p := ic.pending
	ic.pending = nil
	ic.sendMotion(c, p.dx, p.dy)
}

// InputsChannel é a superfície de envio do canal de inputs, usada pela
// camada de captura de teclado/mouse do embedder. Todos os envios rodam
// no reactor da sessão.
type InputsChannel struct {
	c     *Channel
	class *inputsClass
}

// Inputs retorna a superfície de envio se este é um canal de inputs.
func (c *Channel) Inputs() (*InputsChannel, bool) {
	class, ok := c.class.(*inputsClass)
	if !ok {
		return nil, false
	}
	return &InputsChannel{c: c, class: class}, true
}

// ErrChannelNotReady indica envio com o canal fora de READY.
var ErrChannelNotReady = errors.New("client: channel not ready")

// post roda fn no reactor com o canal em READY.
func (ic *InputsChannel) post(fn func()) error {
	var err error
	ic.c.session.loop.Call(func() {
		if ic.c.state() != StateReady {
			err = ErrChannelNotReady
			return
		}
		fn()
	})
	return err
}

// KeyDown envia um scancode pressionado.
func (ic *InputsChannel) KeyDown(code uint32) error {
	return ic.post(func() {
		out := newOutMessage(ic.c, protocol.MsgcInputsKeyDown)
		codec.AppendKey(out.Marshaller(), code)
		ic.c.sendMessage(out)
	})
}

// KeyUp envia um scancode solto.
func (ic *InputsChannel) KeyUp(code uint32) error {
	return ic.post(func() {
		out := newOutMessage(ic.c, protocol.MsgcInputsKeyUp)
		codec.AppendKey(out.Marshaller(), code)
		ic.c.sendMessage(out)
	})
}

// KeyModifiers sincroniza os lock-modifiers do client no guest.
func (ic *InputsChannel) KeyModifiers(modifiers uint16) error {
	return ic.post(func() {
		out := newOutMessage(ic.c, protocol.MsgcInputsKeyModifiers)
		codec.AppendKeyModifiers(out.Marshaller(), modifiers)
		ic.c.sendMessage(out)
	})
}

// MouseMotion envia um delta relativo de mouse (modo server).
func (ic *InputsChannel) MouseMotion(dx, dy int32) error {
	return ic.post(func() {
		ic.class.sendMotion(ic.c, dx, dy)
	})
}

// MousePosition envia a posição absoluta do mouse (modo client).
func (ic *InputsChannel) MousePosition(x, y uint32, display uint8) error {
	return ic.post(func() {
		out := newOutMessage(ic.c, protocol.MsgcInputsMousePosition)
		codec.AppendMousePosition(out.Marshaller(), x, y, ic.class.buttonsState, display)
		ic.c.sendMessage(out)
	})
}

// MousePress envia o aperto de um botão.
func (ic *InputsChannel) MousePress(button uint8) error {
	return ic.post(func() {
		ic.class.buttonsState |= buttonMask(button)
		out := newOutMessage(ic.c, protocol.MsgcInputsMousePress)
		codec.AppendMouseButton(out.Marshaller(), button, ic.class.buttonsState)
		ic.c.sendMessage(out)
	})
}

// MouseRelease envia a soltura de um botão.
func (ic *InputsChannel) MouseRelease(button uint8) error {
	return ic.post(func() {
		ic.class.buttonsState &^= buttonMask(button)
		out := newOutMessage(ic.c, protocol.MsgcInputsMouseRelease)
		codec.AppendMouseButton(out.Marshaller(), button, ic.class.buttonsState)
		ic.c.sendMessage(out)
	})
}

// Modifiers retorna o último estado de modificadores reportado pelo
// server.
func (ic *InputsChannel) Modifiers() uint16 {
	var mods uint16
	ic.c.session.loop.Call(func() { mods = ic.class.modifiers })
	return mods
}
