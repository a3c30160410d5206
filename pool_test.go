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

func TestPoolAllocateBlock(t *testing.T) {
	g := NewWithT(t)

	pool, err := NewDescriptorPool(NewHostDMAAllocator(0))
	g.Expect(err).NotTo(HaveOccurred())
	defer pool.Close()

	b, err := pool.AllocateBlock(4)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(b.Count).To(Equal(4))
	g.Expect(b.Z).To(Equal(uint8(4)))
	g.Expect(b.Mem).To(HaveLen(4 * DESC_SIZE))
	g.Expect(b.PhysAddr % DESC_ALIGN).To(Equal(uint32(0)))

	// slot addresses are contiguous
	g.Expect(b.DescriptorPA(3)).To(Equal(b.PhysAddr + 3*DESC_SIZE))
}

func TestPoolBlockSizeBounds(t *testing.T) {
	g := NewWithT(t)

	pool, err := NewDescriptorPool(NewHostDMAAllocator(0))
	g.Expect(err).NotTo(HaveOccurred())
	defer pool.Close()

	_, err = pool.AllocateBlock(DESC_BLOCK_MIN - 1)
	g.Expect(errors.Cause(err)).To(Equal(ErrBadArgument))

	_, err = pool.AllocateBlock(DESC_BLOCK_MAX + 1)
	g.Expect(errors.Cause(err)).To(Equal(ErrBadArgument))
}

func TestPoolHandsOutZeroedSlots(t *testing.T) {
	g := NewWithT(t)

	pool, err := NewDescriptorPool(NewHostDMAAllocator(0))
	g.Expect(err).NotTo(HaveOccurred())
	defer pool.Close()

	b, err := pool.AllocateBlock(2)
	g.Expect(err).NotTo(HaveOccurred())
	b.Descriptor(0).SetStatus(0x8011, 42)
	pool.FreeBlock(b)

	// the arena is grow-only, but any block handed out must read as
	// not-completed even if its memory was used before
	for i := 0; i < 100; i++ {
		nb, err := pool.AllocateBlock(2)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(nb.Descriptor(0).XferStatus()).To(Equal(uint16(0)))
		g.Expect(nb.Descriptor(1).XferStatus()).To(Equal(uint16(0)))
	}
}

func TestPoolGrowsAcrossRegions(t *testing.T) {
	g := NewWithT(t)

	pool, err := NewDescriptorPool(NewHostDMAAllocator(0))
	g.Expect(err).NotTo(HaveOccurred())
	defer pool.Close()

	// a region holds 4096/16 = 256 slots; 40 blocks of 8 spill into a second
	// region
	var blocks []DescriptorBlock
	for i := 0; i < 40; i++ {
		b, err := pool.AllocateBlock(8)
		g.Expect(err).NotTo(HaveOccurred())
		blocks = append(blocks, b)
	}
	g.Expect(pool.BytesAllocated()).To(Equal(2 * POOL_REGION_SIZE))

	// no block straddles a region boundary
	for _, b := range blocks {
		first := b.PhysAddr / POOL_REGION_SIZE
		last := (b.PhysAddr + uint32(len(b.Mem)) - 1) / POOL_REGION_SIZE
		g.Expect(first).To(Equal(last))
	}
}

func TestPoolDualBufferView(t *testing.T) {
	g := NewWithT(t)

	pool, err := NewDescriptorPool(NewHostDMAAllocator(0))
	g.Expect(err).NotTo(HaveOccurred())
	defer pool.Close()

	b, err := pool.AllocateBlock(4)
	g.Expect(err).NotTo(HaveOccurred())

	d := b.DualBuffer(1)
	g.Expect(d).To(HaveLen(DUAL_BUF_SIZE))
	g.Expect(b.DualBufferPA(1)).To(Equal(b.PhysAddr + DUAL_BUF_SIZE))
}
