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
// Isochronous transmit context. One of up to 32 contexts at 0x0200+16n.
// Keeps a bounded window of in-flight cycle programs and supports
// cycle-match armed starts.

package goohci1394

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// two bus cycles of 125us each must pass after a cycle inconsistency before
// the cycle timer is trustworthy again
const itInconsistencyHoldoff = 250 * time.Microsecond

// ITPolicy configures cycle-matched transmission. CycleMatch is the 13-bit
// bus cycle number on which the context starts sending; it wraps at 8000.
type ITPolicy struct {
	CycleMatchEnable bool
	CycleMatch       uint16
}

// ITCompletionFunc receives retired transmit cycle programs.
type ITCompletionFunc func(prog *DMAProgram, evt uint8)

// ITContext drives one isochronous transmit DMA context.
type ITContext struct {
	ContextBase

	index int
	pool  *DescriptorPool

	mutex      sync.Mutex
	inflight   []*DMAProgram
	onComplete ITCompletionFunc

	// end of the holdoff window after a cycle inconsistency
	holdoffUntil time.Time
}

// NewITContext creates isochronous transmit context n.
func NewITContext(regs RegisterSpace, pool *DescriptorPool, index int) (*ITContext, error) {
	if pool == nil {
		return nil, errors.Wrap(ErrBadArgument, "nil descriptor pool")
	}
	if index < 0 || index >= OHCI_ISO_CTX_MAX {
		return nil, errors.Wrapf(ErrBadArgument, "IT context index %d", index)
	}

	ctx := &ITContext{index: index, pool: pool}
	base := uint32(OHCI_CTX_IT_BASE + index*OHCI_CTX_IT_STRIDE)
	if err := ctx.initContext(regs, itName(index), base); err != nil {
		return nil, err
	}
	return ctx, nil
}

func itName(index int) string {
	return fmt.Sprintf("IT-%d", index)
}

// Index returns the context number.
func (c *ITContext) Index() int { return c.index }

// SetCompletionHandler installs the retirement callback.
func (c *ITContext) SetCompletionHandler(fn ITCompletionFunc) {
	c.mutex.Lock()
	c.onComplete = fn
	c.mutex.Unlock()
}

// ApplyPolicy programs the cycle match fields. The context must be stopped;
// the controller latches the match configuration when run is set.
func (c *ITContext) ApplyPolicy(p ITPolicy) error {
	if c.IsActive() {
		return errors.Wrapf(ErrBusy, "%s policy change while active", c.name)
	}

	// clear the old match value before setting the new one, the register is
	// set/clear based
	c.clearControl(OHCI_IT_CYCLE_MATCH_ENABLE | OHCI_IT_CYCLE_MATCH_MASK)
	if p.CycleMatchEnable {
		cycle := uint32(p.CycleMatch) % ISO_CYCLES_PER_SECOND
		c.setControl(OHCI_IT_CYCLE_MATCH_ENABLE | cycle<<OHCI_IT_CYCLE_MATCH_SHIFT)
	}
	return nil
}

// InFlight returns the number of unretired cycle programs.
func (c *ITContext) InFlight() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.inflight)
}

// Enqueue pushes a finalized cycle program into the transmit window and
// arms the context if it is idle.
func (c *ITContext) Enqueue(prog *DMAProgram) error {
	if prog == nil || prog.Count == 0 {
		return errors.Wrap(ErrBadArgument, "empty program")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if hold := time.Until(c.holdoffUntil); hold > 0 {
		return errors.Wrapf(ErrNotReady, "%s cycle timer settling for %v", c.name, hold)
	}

	ctrl := c.ReadControl()
	if ctrl&OHCI_CTXCTRL_DEAD != 0 {
		return errors.Wrapf(ErrDead, "%s enqueue", c.name)
	}
	if len(c.inflight) >= IT_INFLIGHT_MAX {
		return errors.Wrapf(ErrNoSpace, "%s window of %d in flight", c.name, IT_INFLIGHT_MAX)
	}

	if ctrl&OHCI_CTXCTRL_ACTIVE != 0 {
		c.Wake()
		time.Sleep(CTX_WAKE_SETTLE_MS * time.Millisecond)

		ctrl = c.ReadControl()
		if ctrl&OHCI_CTXCTRL_ACTIVE != 0 {
			return errors.Wrapf(ErrBusy, "%s active, retry after completion", c.name)
		}
	}

	if err := c.WriteCommandPtr(prog.HeadPA, prog.Z); err != nil {
		return err
	}
	if ctrl&OHCI_CTXCTRL_RUN != 0 {
		c.Wake()
	} else {
		c.setControl(OHCI_CTXCTRL_RUN)
	}

	c.inflight = append(c.inflight, prog)
	return nil
}

// RetireOne retires the oldest completed cycle program. Returns false when
// the oldest program has not completed yet.
func (c *ITContext) RetireOne() bool {
	c.mutex.Lock()
	if len(c.inflight) == 0 {
		c.mutex.Unlock()
		return false
	}
	prog := c.inflight[0]
	status := prog.LastDescriptor().XferStatus()
	if status == 0 {
		c.mutex.Unlock()
		return false
	}
	consumeFence()
	c.inflight = c.inflight[1:]
	c.pool.FreeBlock(prog.Block)
	fn := c.onComplete
	c.mutex.Unlock()

	evt := EventCode(status)
	metricTxRetired.WithLabelValues(c.name, txResultLabel(evt)).Inc()
	if fn != nil {
		fn(prog, evt)
	}
	return true
}

// HandleInterrupt drains all completed cycle programs.
func (c *ITContext) HandleInterrupt() {
	for c.RetireOne() {
	}
	if c.IsDead() {
		if err := c.RecoverDead(); err != nil {
			Log(LOG_WARN, "%s: %v", c.name, err)
		}
	}
}

// OnCycleInconsistent stops the context after the cycle timer lost
// consistency. The context refuses new programs for two bus cycles; the
// caller decides when and with which cycle match to restart.
func (c *ITContext) OnCycleInconsistent() {
	Log(LOG_WARN, "%s: cycle inconsistency, stopping", c.name)
	if err := c.Stop(); err != nil {
		Log(LOG_WARN, "%s: %v", c.name, err)
	}

	c.mutex.Lock()
	c.holdoffUntil = time.Now().Add(itInconsistencyHoldoff)
	c.mutex.Unlock()
}

// OnBusResetBegin stops the context and flushes the transmit window.
func (c *ITContext) OnBusResetBegin() {
	c.ContextBase.OnBusResetBegin()

	c.mutex.Lock()
	flushed := c.inflight
	c.inflight = nil
	fn := c.onComplete
	c.mutex.Unlock()

	for _, prog := range flushed {
		c.pool.FreeBlock(prog.Block)
		if fn != nil {
			fn(prog, EVT_FLUSHED)
		}
	}
}
