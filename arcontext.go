// The MIT License
//
// Copyright (c) 2025-2026 by the author(s)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//
// Description:
//
// Asynchronous receive context. Drives the AR request or response register
// block over a circular receive ring and surfaces arrived packets to a
// handler on the interrupt path.

package goohci1394

import (
	"github.com/pkg/errors"
)

// ARPacketFunc receives a view of an arrived packet. The view's bytes are
// only valid for the duration of the call; the slot is recycled when the
// handler returns.
type ARPacketFunc func(view ARPacketView)

// ARContext drives one asynchronous receive DMA context.
type ARContext struct {
	ContextBase

	kind ATKind
	ring *ARRing

	onPacket ARPacketFunc
}

// NewARContext creates the receive context of the given kind over its ring.
func NewARContext(regs RegisterSpace, ring *ARRing, kind ATKind) (*ARContext, error) {
	if ring == nil {
		return nil, errors.Wrap(ErrBadArgument, "nil AR ring")
	}

	base := uint32(OHCI_CTX_AR_REQUEST)
	name := "AR-request"
	if kind == ATResponse {
		base = OHCI_CTX_AR_RESPONSE
		name = "AR-response"
	}

	ctx := &ARContext{kind: kind, ring: ring}
	if err := ctx.initContext(regs, name, base); err != nil {
		return nil, err
	}
	return ctx, nil
}

// SetPacketHandler installs the packet delivery callback.
func (c *ARContext) SetPacketHandler(fn ARPacketFunc) {
	c.onPacket = fn
}

// Ring returns the receive ring, mainly for refill accounting and tests.
func (c *ARContext) Ring() *ARRing { return c.ring }

// Start seeds the CommandPtr with the ring's consume position and sets run.
func (c *ARContext) Start() error {
	ctrl := c.ReadControl()
	if ctrl&OHCI_CTXCTRL_DEAD != 0 {
		return errors.Wrapf(ErrDead, "%s start", c.name)
	}
	if ctrl&OHCI_CTXCTRL_ACTIVE != 0 {
		return errors.Wrapf(ErrBusy, "%s start while active", c.name)
	}

	pa, z := c.ring.GetCommandPtrSeed()
	if err := c.WriteCommandPtr(pa, z); err != nil {
		return err
	}
	c.setControl(OHCI_CTXCTRL_RUN)
	return nil
}

// OnPacketArrived nudges the context after new buffers were made available.
func (c *ARContext) OnPacketArrived() {
	c.Wake()
}

// OnBufferComplete nudges the context after a filled slot was recycled.
func (c *ARContext) OnBufferComplete() {
	c.Wake()
}

// HandleInterrupt pops every completed slot, delivers it and recycles it.
// If the controller ran out of buffers and dropped out of active while run
// is still set, the context is re-seeded and woken.
func (c *ARContext) HandleInterrupt() {
	for {
		view, ok := c.ring.TryPopCompleted()
		if !ok {
			break
		}

		Log(LOG_DEBUG, "%s: slot %d received %d byte(s), status 0x%04x",
			c.name, view.Index, len(view.Data), view.XferStatus)

		metricRxPackets.WithLabelValues(c.name).Inc()
		metricRxBytes.WithLabelValues(c.name).Add(float64(len(view.Data)))

		if c.onPacket != nil {
			c.onPacket(view)
		}
		if err := c.ring.Recycle(view.Index); err != nil {
			Log(LOG_WARN, "%s: recycle slot %d: %v", c.name, view.Index, err)
		}
	}

	ctrl := c.ReadControl()
	if ctrl&OHCI_CTXCTRL_DEAD != 0 {
		if err := c.RecoverDead(); err != nil {
			Log(LOG_WARN, "%s: %v", c.name, err)
		}
		return
	}
	if ctrl&OHCI_CTXCTRL_RUN != 0 && ctrl&OHCI_CTXCTRL_ACTIVE == 0 {
		// the controller starved while we held all buffers; re-seed at the
		// current consume position and continue
		pa, z := c.ring.GetCommandPtrSeed()
		if err := c.WriteCommandPtr(pa, z); err != nil {
			Log(LOG_WARN, "%s: re-seed: %v", c.name, err)
			return
		}
		c.Wake()
	}
}

// OnBusResetEnd rebuilds the ring for the new bus generation and restarts
// reception.
func (c *ARContext) OnBusResetEnd() {
	c.ring.ReArmAfterBusReset()
	if err := c.Start(); err != nil {
		Log(LOG_WARN, "%s: restart after bus reset: %v", c.name, err)
	}
}
