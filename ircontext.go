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
// Isochronous receive context. One of up to 32 contexts at 0x0400+32n, each
// with a ContextMatch register at base+0x10. Supports the three receive
// modes (buffer-fill, packet-per-buffer, dual-buffer) and channel filtering,
// including the multi-channel mask on context 0.

package goohci1394

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// IRMode selects how the controller distributes received packets over the
// program's buffers.
type IRMode int

const (
	IRBufferFill IRMode = iota
	IRPacketPerBuffer
	IRDualBuffer
)

// IRChannelFilter selects which isochronous packets the context receives.
type IRChannelFilter struct {
	Channel uint8
	Tag     uint8
	Sync    uint8

	// MultiChannelMode listens on the ChannelMask instead of a single
	// channel. Only context 0 supports it.
	MultiChannelMode bool
	ChannelMask      uint64
}

// IRStats counts per-context receive activity.
type IRStats struct {
	Programs  uint64
	Completed uint64
	Overruns  uint64
	Dropped   uint64
}

// IRCompletionFunc receives retired receive programs.
type IRCompletionFunc func(prog *DMAProgram, evt uint8)

// IRContext drives one isochronous receive DMA context.
type IRContext struct {
	ContextBase

	index int
	pool  *DescriptorPool

	mutex      sync.Mutex
	pending    []*DMAProgram
	maxPending int
	mode       IRMode
	onComplete IRCompletionFunc

	// dropOnOverrun silently recycles programs that completed with an
	// overrun instead of surfacing them
	dropOnOverrun bool

	stats IRStats
}

// NewIRContext creates isochronous receive context n.
func NewIRContext(regs RegisterSpace, pool *DescriptorPool, index int) (*IRContext, error) {
	if pool == nil {
		return nil, errors.Wrap(ErrBadArgument, "nil descriptor pool")
	}
	if index < 0 || index >= OHCI_ISO_CTX_MAX {
		return nil, errors.Wrapf(ErrBadArgument, "IR context index %d", index)
	}

	ctx := &IRContext{
		index:      index,
		pool:       pool,
		maxPending: IT_INFLIGHT_MAX,
	}
	base := uint32(OHCI_CTX_IR_BASE + index*OHCI_CTX_IR_STRIDE)
	if err := ctx.initContext(regs, fmt.Sprintf("IR-%d", index), base); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Index returns the context number.
func (c *IRContext) Index() int { return c.index }

// SetCompletionHandler installs the retirement callback. The handler is not
// durable across bus resets; re-register from the reset notification.
func (c *IRContext) SetCompletionHandler(fn IRCompletionFunc) {
	c.mutex.Lock()
	c.onComplete = fn
	c.mutex.Unlock()
}

// SetDropOnOverrun selects whether overrun completions are silently dropped
// and recycled or surfaced to the completion handler.
func (c *IRContext) SetDropOnOverrun(drop bool) {
	c.mutex.Lock()
	c.dropOnOverrun = drop
	c.mutex.Unlock()
}

// Stats returns a snapshot of the context's counters.
func (c *IRContext) Stats() IRStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stats
}

// ApplyChannelFilter programs the ContextMatch register, or the global
// multi-channel mask when the filter requests it on context 0.
func (c *IRContext) ApplyChannelFilter(f IRChannelFilter) error {
	if f.MultiChannelMode {
		if c.index != 0 {
			return errors.Wrapf(ErrUnsupported, "IR-%d multi-channel (context 0 only)", c.index)
		}
		c.setControl(OHCI_IR_MULTI_CHANNEL)

		// clear then set both mask halves
		c.regs.Write32(OHCI_REG_IR_MC_HI_C, 0xFFFFFFFF)
		c.regs.Write32(OHCI_REG_IR_MC_LO_C, 0xFFFFFFFF)
		c.regs.Write32(OHCI_REG_IR_MC_HI_S, uint32(f.ChannelMask>>32))
		c.regs.Write32(OHCI_REG_IR_MC_LO_S, uint32(f.ChannelMask))
		return nil
	}

	if f.Channel >= 64 {
		return errors.Wrapf(ErrBadArgument, "channel %d", f.Channel)
	}
	c.clearControl(OHCI_IR_MULTI_CHANNEL)

	match := uint32(f.Sync&0xF)<<8 | uint32(f.Tag&0x3)<<6 | uint32(f.Channel&0x3F)
	c.regs.Write32(c.base+OHCI_CTX_IR_MATCH_OFFSET, match)
	return nil
}

// Enqueue hands a receive program to the context. The receive mode is
// latched with the first program and may only change while the context is
// stopped.
func (c *IRContext) Enqueue(prog *DMAProgram, mode IRMode) error {
	if prog == nil || prog.Count == 0 {
		return errors.Wrap(ErrBadArgument, "empty program")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	ctrl := c.ReadControl()
	if ctrl&OHCI_CTXCTRL_DEAD != 0 {
		return errors.Wrapf(ErrDead, "%s enqueue", c.name)
	}
	if len(c.pending) >= c.maxPending {
		return errors.Wrapf(ErrNoSpace, "%s window of %d queued", c.name, c.maxPending)
	}

	if ctrl&OHCI_CTXCTRL_RUN != 0 && mode != c.mode {
		return errors.Wrapf(ErrBusy, "%s mode change while running", c.name)
	}

	if ctrl&OHCI_CTXCTRL_RUN == 0 {
		// latch the receive mode bits before the first start
		switch mode {
		case IRBufferFill:
			c.clearControl(OHCI_IR_DUAL_BUFFER)
			c.setControl(OHCI_IR_BUFFER_FILL)
		case IRDualBuffer:
			c.clearControl(OHCI_IR_BUFFER_FILL)
			c.setControl(OHCI_IR_DUAL_BUFFER)
		default:
			c.clearControl(OHCI_IR_BUFFER_FILL | OHCI_IR_DUAL_BUFFER)
		}
		c.mode = mode
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

	c.pending = append(c.pending, prog)
	c.stats.Programs++
	return nil
}

// NeedsRefill reports whether less than a quarter of the program window is
// still queued for the hardware.
func (c *IRContext) NeedsRefill() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.pending)*100 < c.maxPending*IR_REFILL_THRESHOLD_PCT
}

// programCompleted checks the status of a receive program's last descriptor.
func (c *IRContext) programCompleted(prog *DMAProgram) (uint8, bool) {
	if c.mode == IRDualBuffer {
		d := DualBufferDescriptor(prog.Block.Mem[prog.LastIndex*DESC_SIZE : prog.LastIndex*DESC_SIZE+DUAL_BUF_SIZE])
		// the controller decrements the residual counts as it fills the
		// buffers; full consumption of the second buffer retires the program
		if d.SecondResCount() == 0 {
			return EVT_NO_STATUS, true
		}
		return 0, false
	}

	d := prog.LastDescriptor()
	status := d.XferStatus()
	if status == 0 {
		return 0, false
	}
	return EventCode(status), true
}

// HandleInterrupt retires completed receive programs in order.
func (c *IRContext) HandleInterrupt() {
	for {
		c.mutex.Lock()
		if len(c.pending) == 0 {
			c.mutex.Unlock()
			break
		}
		prog := c.pending[0]
		evt, done := c.programCompleted(prog)
		if !done {
			c.mutex.Unlock()
			break
		}
		consumeFence()
		c.pending = c.pending[1:]
		c.stats.Completed++

		drop := false
		if evt == EVT_OVERRUN {
			c.stats.Overruns++
			metricIROverruns.WithLabelValues(c.name).Inc()
			if c.dropOnOverrun {
				c.stats.Dropped++
				drop = true
			}
		}
		fn := c.onComplete
		c.pool.FreeBlock(prog.Block)
		c.mutex.Unlock()

		if drop {
			Log(LOG_DEBUG, "%s: dropped overrun program", c.name)
			continue
		}
		if fn != nil {
			fn(prog, evt)
		}
	}

	if c.IsDead() {
		if err := c.RecoverDead(); err != nil {
			Log(LOG_WARN, "%s: %v", c.name, err)
		}
	}
}

// OnBusResetBegin stops the context, flushes queued programs and drops the
// completion handler. Receive state is bound to the old bus generation;
// consumers re-register and re-queue after the reset.
func (c *IRContext) OnBusResetBegin() {
	c.ContextBase.OnBusResetBegin()

	c.mutex.Lock()
	flushed := c.pending
	c.pending = nil
	c.onComplete = nil
	c.mutex.Unlock()

	for _, prog := range flushed {
		c.pool.FreeBlock(prog.Block)
	}
	if len(flushed) > 0 {
		Log(LOG_INFO, "%s: flushed %d program(s) on bus reset", c.name, len(flushed))
	}
}
