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

func newTestPool(t *testing.T) *DescriptorPool {
	t.Helper()
	pool, err := NewDescriptorPool(NewHostDMAAllocator(0))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestATBuilderHeaderAndPayload(t *testing.T) {
	g := NewWithT(t)
	pool := newTestPool(t)

	header := []byte{0x00, 0x0C, 0xFF, 0xC0, 0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF0}

	var b ATProgramBuilder
	g.Expect(b.Begin(pool, 4)).To(Succeed())
	g.Expect(b.AddHeaderImmediate(header, InterruptAlways)).To(Succeed())
	g.Expect(b.AddPayloadFragment(0x20000000, 512)).To(Succeed())

	prog, err := b.Finalize()
	g.Expect(err).NotTo(HaveOccurred())

	// immediate pair plus one fragment
	g.Expect(prog.Count).To(Equal(3))
	g.Expect(prog.Z).To(Equal(uint8(3)))
	g.Expect(prog.HeadPA).To(Equal(prog.Block.PhysAddr))
	g.Expect(prog.LastIndex).To(Equal(2))

	head := prog.Block.Descriptor(0)
	g.Expect(head.Cmd()).To(Equal(uint32(DESC_CMD_OUTPUT_MORE)))
	g.Expect(head.Key()).To(Equal(uint32(DESC_KEY_IMMEDIATE)))
	g.Expect(head.ReqCount()).To(Equal(uint16(len(header))))

	// header bytes travel in the trailing immediate slot
	g.Expect(prog.Block.Mem[DESC_SIZE : DESC_SIZE+len(header)]).To(Equal(header))

	last := prog.LastDescriptor()
	g.Expect(last.Cmd()).To(Equal(uint32(DESC_CMD_OUTPUT_LAST)))
	g.Expect(last.Key()).To(Equal(uint32(DESC_KEY_STANDARD)))
	g.Expect(last.IntControl()).To(Equal(uint32(DESC_INT_ALWAYS)))
	g.Expect(last.BranchControl()).To(Equal(uint32(DESC_BRANCH_ALWAYS)))
	g.Expect(last.BranchAddress()).To(Equal(uint32(0)))
	g.Expect(last.BranchZ()).To(Equal(uint8(0)))
	g.Expect(last.DataAddress()).To(Equal(uint32(0x20000000)))
	g.Expect(last.ReqCount()).To(Equal(uint16(512)))
}

func TestATBuilderHeaderOnlyPacket(t *testing.T) {
	g := NewWithT(t)
	pool := newTestPool(t)

	header := make([]byte, 16)

	var b ATProgramBuilder
	g.Expect(b.Begin(pool, 2)).To(Succeed())
	g.Expect(b.AddHeaderImmediate(header, InterruptOnError)).To(Succeed())

	prog, err := b.Finalize()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(prog.Count).To(Equal(2))
	g.Expect(prog.LastIndex).To(Equal(0))

	// the immediate descriptor itself becomes OUTPUT_LAST and keeps its key
	last := prog.LastDescriptor()
	g.Expect(last.Cmd()).To(Equal(uint32(DESC_CMD_OUTPUT_LAST)))
	g.Expect(last.Key()).To(Equal(uint32(DESC_KEY_IMMEDIATE)))
	g.Expect(last.IntControl()).To(Equal(uint32(DESC_INT_ERROR)))
	g.Expect(last.ReqCount()).To(Equal(uint16(16)))
}

func TestATBuilderCallOrder(t *testing.T) {
	g := NewWithT(t)
	pool := newTestPool(t)

	var b ATProgramBuilder
	g.Expect(errors.Cause(b.AddHeaderImmediate(make([]byte, 8), InterruptNever))).To(Equal(ErrNotReady))
	_, err := b.Finalize()
	g.Expect(errors.Cause(err)).To(Equal(ErrNotReady))

	g.Expect(b.Begin(pool, 4)).To(Succeed())
	g.Expect(errors.Cause(b.AddPayloadFragment(0x20000000, 64))).To(Equal(ErrBadArgument))

	g.Expect(errors.Cause(b.AddHeaderImmediate(make([]byte, 10), InterruptNever))).To(Equal(ErrBadArgument))
	g.Expect(b.AddHeaderImmediate(make([]byte, 8), InterruptNever)).To(Succeed())
	g.Expect(errors.Cause(b.AddHeaderImmediate(make([]byte, 8), InterruptNever))).To(Equal(ErrBadArgument))

	// another Begin while a program is open
	g.Expect(errors.Cause(b.Begin(pool, 4))).To(Equal(ErrBusy))
	b.Cancel()
	g.Expect(b.Begin(pool, 4)).To(Succeed())
	b.Cancel()
}

func TestATBuilderBlockFull(t *testing.T) {
	g := NewWithT(t)
	pool := newTestPool(t)

	var b ATProgramBuilder
	g.Expect(b.Begin(pool, 3)).To(Succeed())
	g.Expect(b.AddHeaderImmediate(make([]byte, 8), InterruptNever)).To(Succeed())
	g.Expect(b.AddPayloadFragment(0x20000000, 64)).To(Succeed())
	g.Expect(errors.Cause(b.AddPayloadFragment(0x20001000, 64))).To(Equal(ErrNoSpace))
	b.Cancel()
}

func TestATBuilderFragmentBounds(t *testing.T) {
	g := NewWithT(t)
	pool := newTestPool(t)

	var b ATProgramBuilder
	g.Expect(b.Begin(pool, 4)).To(Succeed())
	g.Expect(b.AddHeaderImmediate(make([]byte, 8), InterruptNever)).To(Succeed())
	g.Expect(errors.Cause(b.AddPayloadFragment(0x20000000, 0))).To(Equal(ErrBadArgument))
	g.Expect(errors.Cause(b.AddPayloadFragment(0x20000000, 0x10000))).To(Equal(ErrBadArgument))
	b.Cancel()
}
