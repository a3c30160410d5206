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
// Shared DMA context register protocol. Every context type (AT, AR, IT, IR)
// drives the same four-register block: ContextControl read at the base
// address, set bits written at the base, clear bits at base+0x04 and
// CommandPtr at base+0x0C. Context state is always derived from a fresh
// ContextControl read, never cached.

package goohci1394

import (
	"time"

	"github.com/pkg/errors"
)

// ContextBase implements the register protocol common to all DMA contexts.
type ContextBase struct {
	regs RegisterSpace
	name string
	base uint32
}

// initContext binds the context to its register block.
func (c *ContextBase) initContext(regs RegisterSpace, name string, base uint32) error {
	if regs == nil {
		return errors.Wrap(ErrBadArgument, "nil register space")
	}
	c.regs = regs
	c.name = name
	c.base = base
	return nil
}

// Name returns the context's diagnostic name.
func (c *ContextBase) Name() string { return c.name }

// ReadControl returns the current ContextControl value.
func (c *ContextBase) ReadControl() uint32 {
	v := c.regs.Read32(c.base)
	consumeFence()
	return v
}

// setControl writes 1-bits to set ContextControl bits.
func (c *ContextBase) setControl(bits uint32) {
	c.regs.Write32(c.base, bits)
}

// clearControl writes 1-bits to clear ContextControl bits.
func (c *ContextBase) clearControl(bits uint32) {
	c.regs.Write32(c.base+OHCI_CTX_CTRL_CLEAR_OFFSET, bits)
}

// IsRunning reports the run bit.
func (c *ContextBase) IsRunning() bool { return c.ReadControl()&OHCI_CTXCTRL_RUN != 0 }

// IsActive reports the active bit.
func (c *ContextBase) IsActive() bool { return c.ReadControl()&OHCI_CTXCTRL_ACTIVE != 0 }

// IsDead reports the dead bit.
func (c *ContextBase) IsDead() bool { return c.ReadControl()&OHCI_CTXCTRL_DEAD != 0 }

// EventCode returns the event code field of ContextControl.
func (c *ContextBase) EventCode() uint8 {
	return uint8(c.ReadControl() & OHCI_CTXCTRL_EVENT_MASK)
}

// WriteCommandPtr points the context at a descriptor block. The address must
// be 16-byte aligned and z at most 15. Descriptor memory is fenced before
// the register write so the controller never fetches a half-written block.
func (c *ContextBase) WriteCommandPtr(pa uint32, z uint8) error {
	ptr, err := EncodeCommandPtr(pa, z)
	if err != nil {
		return errors.Wrapf(err, "%s CommandPtr", c.name)
	}
	publishFence()
	c.regs.Write32(c.base+OHCI_CTX_CMD_PTR_OFFSET, ptr)
	return nil
}

// Start sets the run bit on an idle context. The CommandPtr is cleared
// first; callers arm it afterwards via WriteCommandPtr or rely on the
// enqueue path to do so.
func (c *ContextBase) Start() error {
	ctrl := c.ReadControl()
	if ctrl&OHCI_CTXCTRL_DEAD != 0 {
		return errors.Wrapf(ErrDead, "%s start", c.name)
	}
	if ctrl&OHCI_CTXCTRL_ACTIVE != 0 {
		return errors.Wrapf(ErrBusy, "%s start while active", c.name)
	}
	if err := c.WriteCommandPtr(0, 0); err != nil {
		return err
	}
	c.setControl(OHCI_CTXCTRL_RUN)
	return nil
}

// Stop clears the run bit and waits for the controller to drop out of
// active. The wait is bounded; a context that stays active past the bound
// reports ErrTimeout and should be treated as wedged.
func (c *ContextBase) Stop() error {
	c.clearControl(OHCI_CTXCTRL_RUN)

	deadline := time.Now().Add(CTX_STOP_TIMEOUT_MS * time.Millisecond)
	for {
		if c.ReadControl()&OHCI_CTXCTRL_ACTIVE == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(ErrTimeout, "%s still active %dms after run cleared",
				c.name, CTX_STOP_TIMEOUT_MS)
		}
		time.Sleep(CTX_STOP_POLL_INTERVAL_MS * time.Millisecond)
	}
}

// Wake tells a running context to re-fetch the branch of its current
// descriptor block. Descriptor memory is fenced first.
func (c *ContextBase) Wake() {
	publishFence()
	c.setControl(OHCI_CTXCTRL_WAKE)
}

// RecoverDead clears the run and dead bits of a dead context so it can be
// restarted with a fresh program.
func (c *ContextBase) RecoverDead() error {
	if !c.IsDead() {
		return errors.Wrapf(ErrNotReady, "%s not dead", c.name)
	}
	evt := c.EventCode()
	Log(LOG_WARN, "%s: recovering dead context, event code 0x%02x", c.name, evt)
	c.clearControl(OHCI_CTXCTRL_RUN | OHCI_CTXCTRL_DEAD)
	return nil
}

// OnBusResetBegin quiesces the context while the bus reconfigures. Errors
// are logged, not returned; a reset cannot be refused.
func (c *ContextBase) OnBusResetBegin() {
	if err := c.Stop(); err != nil {
		Log(LOG_WARN, "%s: stop on bus reset: %v", c.name, err)
	}
}

// OnBusResetEnd is a hook for context types that re-arm after a reset. The
// base implementation does nothing.
func (c *ContextBase) OnBusResetEnd() {
}
