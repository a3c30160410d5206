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
// Asynchronous transmit context. Owns the AT request or response register
// block, enqueues finalized transmit programs one block at a time and drains
// their completion statuses on interrupt.

package goohci1394

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ATKind selects the request or response transmit context.
type ATKind int

const (
	ATRequest ATKind = iota
	ATResponse
)

// ATPolicy configures transmit behavior. RetryLimit is written to the
// context's nibble of the ATRetries register. PriorityRequests is the
// pri_req budget of the FairnessControl register; fairness only applies to
// the request context, responses follow the IEEE 1394a response rules and
// ignore it. With Pipelining disabled the context keeps at most one packet
// in flight.
type ATPolicy struct {
	RetryLimit       uint8
	PriorityRequests uint8
	Pipelining       bool
	MaxOutstanding   int
}

// ATCompletionFunc receives the event code and completion timestamp of a
// retired transmit program.
type ATCompletionFunc func(prog *DMAProgram, evt uint8, timestamp uint16)

// ATContext drives one asynchronous transmit DMA context.
type ATContext struct {
	ContextBase

	kind ATKind
	pool *DescriptorPool

	mutex          sync.Mutex
	pending        []*DMAProgram
	maxOutstanding int
	onComplete     ATCompletionFunc
}

// NewATContext creates the transmit context of the given kind over the
// shared transmit descriptor pool.
func NewATContext(regs RegisterSpace, pool *DescriptorPool, kind ATKind) (*ATContext, error) {
	if pool == nil {
		return nil, errors.Wrap(ErrBadArgument, "nil descriptor pool")
	}

	base := uint32(OHCI_CTX_AT_REQUEST)
	name := "AT-request"
	if kind == ATResponse {
		base = OHCI_CTX_AT_RESPONSE
		name = "AT-response"
	}

	ctx := &ATContext{
		kind:           kind,
		pool:           pool,
		maxOutstanding: AT_MAX_OUTSTANDING_DEFAULT,
	}
	if err := ctx.initContext(regs, name, base); err != nil {
		return nil, err
	}
	return ctx, nil
}

// SetCompletionHandler installs the retirement callback. It runs on the
// interrupt drain path with the context lock dropped.
func (c *ATContext) SetCompletionHandler(fn ATCompletionFunc) {
	c.mutex.Lock()
	c.onComplete = fn
	c.mutex.Unlock()
}

// ApplyPolicy programs the retry limit and the pipelining window. The
// ATRetries register is shared between the request and response contexts, so
// only this context's nibble is rewritten.
func (c *ATContext) ApplyPolicy(p ATPolicy) error {
	if p.RetryLimit > 0xF {
		return errors.Wrapf(ErrBadArgument, "retry limit %d exceeds 15", p.RetryLimit)
	}

	retries := c.regs.Read32(OHCI_REG_AT_RETRIES)
	if c.kind == ATRequest {
		retries = retries&^uint32(0x0000000F) | uint32(p.RetryLimit)
	} else {
		retries = retries&^uint32(0x000000F0) | uint32(p.RetryLimit)<<4
	}
	c.regs.Write32(OHCI_REG_AT_RETRIES, retries)

	if c.kind == ATRequest {
		fairness := c.regs.Read32(OHCI_REG_FAIRNESS)
		fairness = fairness&^uint32(0x000000FF) | uint32(p.PriorityRequests)
		c.regs.Write32(OHCI_REG_FAIRNESS, fairness)
	}

	c.mutex.Lock()
	if !p.Pipelining {
		c.maxOutstanding = 1
	} else if p.MaxOutstanding > 0 {
		c.maxOutstanding = p.MaxOutstanding
	} else {
		c.maxOutstanding = AT_MAX_OUTSTANDING_DEFAULT
	}
	c.mutex.Unlock()
	return nil
}

// Outstanding returns the number of programs handed to hardware and not yet
// retired.
func (c *ATContext) Outstanding() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.pending)
}

// Enqueue hands a finalized program to the context. An idle context is armed
// directly through CommandPtr; a running context is woken and, if it refuses
// to go idle within one settle interval, the caller gets ErrBusy and retries
// after the next completion interrupt.
func (c *ATContext) Enqueue(prog *DMAProgram) error {
	if prog == nil || prog.Count == 0 {
		return errors.Wrap(ErrBadArgument, "empty program")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	ctrl := c.ReadControl()
	if ctrl&OHCI_CTXCTRL_DEAD != 0 {
		return errors.Wrapf(ErrDead, "%s enqueue", c.name)
	}
	if len(c.pending) >= c.maxOutstanding {
		return errors.Wrapf(ErrNoSpace, "%s window of %d in flight", c.name, c.maxOutstanding)
	}

	if ctrl&OHCI_CTXCTRL_ACTIVE != 0 {
		// the context is walking a program right now. Nudge it and
		// re-query once; without branch patching the only safe arm point
		// is an idle context.
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
	return nil
}

// AppendInFlight would link a program onto the branch of the in-flight tail
// block. The engine arms programs only at idle, so this capability is
// reported as unsupported rather than silently serialized.
func (c *ATContext) AppendInFlight(prog *DMAProgram) error {
	return errors.Wrapf(ErrUnsupported, "%s in-flight append", c.name)
}

// OnInterruptTxComplete drains completed programs. At most a fixed batch is
// retired per invocation so a flood of completions cannot monopolize the
// interrupt path. A context found dead is recovered after its completed
// programs are retired.
func (c *ATContext) OnInterruptTxComplete() {
	type retired struct {
		prog *DMAProgram
		evt  uint8
		ts   uint16
	}
	var done []retired

	c.mutex.Lock()
	for len(done) < AT_DRAIN_LIMIT && len(c.pending) > 0 {
		prog := c.pending[0]
		status := prog.LastDescriptor().XferStatus()
		if status == 0 {
			break
		}
		evt := EventCode(status)
		if !transmitEventCompleted(evt) {
			break
		}
		consumeFence()
		done = append(done, retired{prog, evt, prog.LastDescriptor().TimeStamp()})
		c.pending = c.pending[1:]
		c.pool.FreeBlock(prog.Block)
	}
	dead := c.IsDead()
	fn := c.onComplete
	c.mutex.Unlock()

	for _, r := range done {
		metricTxRetired.WithLabelValues(c.name, txResultLabel(r.evt)).Inc()
		if fn != nil {
			fn(r.prog, r.evt, r.ts)
		}
	}

	if dead {
		if err := c.RecoverDead(); err != nil {
			Log(LOG_WARN, "%s: %v", c.name, err)
		}
	}
}

// OnBusResetBegin stops the context and flushes every in-flight program.
// Transmit state does not survive a reset; callers re-submit under the new
// generation.
func (c *ATContext) OnBusResetBegin() {
	c.ContextBase.OnBusResetBegin()

	c.mutex.Lock()
	flushed := c.pending
	c.pending = nil
	fn := c.onComplete
	c.mutex.Unlock()

	for _, prog := range flushed {
		c.pool.FreeBlock(prog.Block)
		metricTxRetired.WithLabelValues(c.name, txResultLabel(EVT_FLUSHED)).Inc()
		if fn != nil {
			fn(prog, EVT_FLUSHED, 0)
		}
	}
	if len(flushed) > 0 {
		Log(LOG_INFO, "%s: flushed %d program(s) on bus reset", c.name, len(flushed))
	}
}
