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

package goohci1394

import (
	"testing"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

func buildTestReceive(t *testing.T, pool *DescriptorPool) *DMAProgram {
	t.Helper()
	var b IRProgramBuilder
	if err := b.Begin(pool, 2); err != nil {
		t.Fatal(err)
	}
	prog, err := b.BuildBufferFillProgram(0x20000000, 2048, IRQueueOptions{InterruptPolicy: InterruptAlways})
	if err != nil {
		t.Fatal(err)
	}
	return &prog
}

// completeReceive marks a buffer-fill program done with the given event code.
func completeReceive(prog *DMAProgram, evt uint8, resCount uint16) {
	status := uint16(OHCI_CTXCTRL_RUN | OHCI_CTXCTRL_ACTIVE | uint32(evt))
	prog.LastDescriptor().SetStatus(status, resCount)
}

func TestIRApplyChannelFilterMatch(t *testing.T) {
	g := NewWithT(t)
	regs := newFakeRegs()
	pool := newTestPool(t)

	ctx, err := NewIRContext(regs, pool, 1)
	g.Expect(err).NotTo(HaveOccurred())
	base := uint32(OHCI_CTX_IR_BASE + 1*OHCI_CTX_IR_STRIDE)

	g.Expect(ctx.ApplyChannelFilter(IRChannelFilter{Channel: 13, Tag: 1, Sync: 5})).To(Succeed())

	match := regs.Read32(base + OHCI_CTX_IR_MATCH_OFFSET)
	g.Expect(match).To(Equal(uint32(5)<<8 | uint32(1)<<6 | uint32(13)))
	g.Expect(regs.Read32(base) & OHCI_IR_MULTI_CHANNEL).To(BeZero())

	g.Expect(errors.Cause(ctx.ApplyChannelFilter(IRChannelFilter{Channel: 64}))).To(Equal(ErrBadArgument))
}

func TestIRMultiChannelOnlyOnContextZero(t *testing.T) {
	g := NewWithT(t)
	regs := newFakeRegs()
	pool := newTestPool(t)

	ctx1, err := NewIRContext(regs, pool, 1)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(errors.Cause(ctx1.ApplyChannelFilter(IRChannelFilter{MultiChannelMode: true}))).
		To(Equal(ErrUnsupported))

	ctx0, err := NewIRContext(regs, pool, 0)
	g.Expect(err).NotTo(HaveOccurred())
	mask := uint64(1)<<63 | uint64(1)<<5
	g.Expect(ctx0.ApplyChannelFilter(IRChannelFilter{MultiChannelMode: true, ChannelMask: mask})).
		To(Succeed())

	g.Expect(regs.Read32(OHCI_CTX_IR_BASE) & OHCI_IR_MULTI_CHANNEL).NotTo(BeZero())
	g.Expect(regs.Read32(OHCI_REG_IR_MC_HI_S)).To(Equal(uint32(mask >> 32)))
	g.Expect(regs.Read32(OHCI_REG_IR_MC_LO_S)).To(Equal(uint32(mask)))
}

func TestIREnqueueLatchesMode(t *testing.T) {
	g := NewWithT(t)
	regs := newFakeRegs()
	pool := newTestPool(t)

	ctx, err := NewIRContext(regs, pool, 0)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(ctx.Enqueue(buildTestReceive(t, pool), IRBufferFill)).To(Succeed())

	ctrl := regs.Read32(OHCI_CTX_IR_BASE)
	g.Expect(ctrl & OHCI_IR_BUFFER_FILL).NotTo(BeZero())
	g.Expect(ctrl & OHCI_CTXCTRL_RUN).NotTo(BeZero())

	// the mode is latched while run is set
	g.Expect(errors.Cause(ctx.Enqueue(buildTestReceive(t, pool), IRPacketPerBuffer))).
		To(Equal(ErrBusy))
	g.Expect(ctx.Enqueue(buildTestReceive(t, pool), IRBufferFill)).To(Succeed())
}

func TestIRCompletionAndOverrunStats(t *testing.T) {
	g := NewWithT(t)
	regs := newFakeRegs()
	pool := newTestPool(t)

	ctx, err := NewIRContext(regs, pool, 0)
	g.Expect(err).NotTo(HaveOccurred())

	var events []uint8
	ctx.SetCompletionHandler(func(prog *DMAProgram, evt uint8) {
		events = append(events, evt)
	})

	p1 := buildTestReceive(t, pool)
	p2 := buildTestReceive(t, pool)
	g.Expect(ctx.Enqueue(p1, IRBufferFill)).To(Succeed())
	g.Expect(ctx.Enqueue(p2, IRBufferFill)).To(Succeed())

	completeReceive(p1, ACK_COMPLETE, 0)
	completeReceive(p2, EVT_OVERRUN, 512)
	ctx.HandleInterrupt()

	g.Expect(events).To(Equal([]uint8{ACK_COMPLETE, EVT_OVERRUN}))

	stats := ctx.Stats()
	g.Expect(stats.Programs).To(Equal(uint64(2)))
	g.Expect(stats.Completed).To(Equal(uint64(2)))
	g.Expect(stats.Overruns).To(Equal(uint64(1)))
	g.Expect(stats.Dropped).To(Equal(uint64(0)))
}

func TestIRDropOnOverrun(t *testing.T) {
	g := NewWithT(t)
	regs := newFakeRegs()
	pool := newTestPool(t)

	ctx, err := NewIRContext(regs, pool, 0)
	g.Expect(err).NotTo(HaveOccurred())
	ctx.SetDropOnOverrun(true)

	var events []uint8
	ctx.SetCompletionHandler(func(prog *DMAProgram, evt uint8) {
		events = append(events, evt)
	})

	p := buildTestReceive(t, pool)
	g.Expect(ctx.Enqueue(p, IRBufferFill)).To(Succeed())
	completeReceive(p, EVT_OVERRUN, 512)
	ctx.HandleInterrupt()

	g.Expect(events).To(BeEmpty())
	g.Expect(ctx.Stats().Dropped).To(Equal(uint64(1)))
}

func TestIRDualBufferCompletion(t *testing.T) {
	g := NewWithT(t)
	regs := newFakeRegs()
	pool := newTestPool(t)

	ctx, err := NewIRContext(regs, pool, 0)
	g.Expect(err).NotTo(HaveOccurred())

	var b IRProgramBuilder
	g.Expect(b.Begin(pool, 2)).To(Succeed())
	prog, err := b.BuildDualBufferProgram([]IRDualBufferSegment{
		{FirstPA: 0x20000000, SecondPA: 0x20001000, FirstSize: 8, FirstReq: 8, SecondReq: 512},
	}, IRQueueOptions{InterruptPolicy: InterruptAlways})
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(ctx.Enqueue(&prog, IRDualBuffer)).To(Succeed())
	g.Expect(regs.Read32(OHCI_CTX_IR_BASE) & OHCI_IR_DUAL_BUFFER).NotTo(BeZero())

	// still receiving: second buffer not exhausted
	ctx.HandleInterrupt()
	g.Expect(ctx.Stats().Completed).To(Equal(uint64(0)))

	// controller consumed the second buffer completely
	d := DualBufferDescriptor(prog.Block.Mem[prog.LastIndex*DESC_SIZE : prog.LastIndex*DESC_SIZE+DUAL_BUF_SIZE])
	d.setQuad(3, 0)
	ctx.HandleInterrupt()
	g.Expect(ctx.Stats().Completed).To(Equal(uint64(1)))
}

func TestIRNeedsRefill(t *testing.T) {
	g := NewWithT(t)
	regs := newFakeRegs()
	pool := newTestPool(t)

	ctx, err := NewIRContext(regs, pool, 0)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(ctx.NeedsRefill()).To(BeTrue())

	for i := 0; i < IT_INFLIGHT_MAX/2; i++ {
		g.Expect(ctx.Enqueue(buildTestReceive(t, pool), IRBufferFill)).To(Succeed())
	}
	g.Expect(ctx.NeedsRefill()).To(BeFalse())
}

func TestIRBusResetDropsHandlerAndPrograms(t *testing.T) {
	g := NewWithT(t)
	regs := newFakeRegs()
	pool := newTestPool(t)

	ctx, err := NewIRContext(regs, pool, 0)
	g.Expect(err).NotTo(HaveOccurred())

	called := false
	ctx.SetCompletionHandler(func(prog *DMAProgram, evt uint8) { called = true })

	p := buildTestReceive(t, pool)
	g.Expect(ctx.Enqueue(p, IRBufferFill)).To(Succeed())

	ctx.OnBusResetBegin()
	g.Expect(called).To(BeFalse())

	// handler gone: a post-reset completion goes nowhere
	completeReceive(p, ACK_COMPLETE, 0)
	ctx.HandleInterrupt()
	g.Expect(called).To(BeFalse())
}
