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
// Descriptor pool. Hands out contiguous 16-byte aligned descriptor blocks
// from page-sized DMA regions, growing the arena on demand up to a fixed cap.

package goohci1394

import (
	"sync"

	"github.com/pkg/errors"
)

// DescriptorBlock is a contiguous run of descriptor slots handed to exactly
// one DMA program. Z is the block's descriptor count as encoded into the
// referencing branch or CommandPtr.
type DescriptorBlock struct {
	PhysAddr uint32
	Mem      []byte
	Count    int
	Z        uint8
}

// Descriptor returns slot i of the block.
func (b DescriptorBlock) Descriptor(i int) Descriptor {
	return descriptorAt(b.Mem, i)
}

// DescriptorPA returns the bus address of slot i.
func (b DescriptorBlock) DescriptorPA(i int) uint32 {
	return b.PhysAddr + uint32(i*DESC_SIZE)
}

// DualBuffer returns slot pair i of the block viewed as a 32-byte
// dual-buffer descriptor. The block must hold 2*i+2 slots.
func (b DescriptorBlock) DualBuffer(i int) DualBufferDescriptor {
	return DualBufferDescriptor(b.Mem[i*DUAL_BUF_SIZE : (i+1)*DUAL_BUF_SIZE])
}

// DualBufferPA returns the bus address of dual-buffer slot pair i.
func (b DescriptorBlock) DualBufferPA(i int) uint32 {
	return b.PhysAddr + uint32(i*DUAL_BUF_SIZE)
}

// DescriptorPool is a grow-only arena of descriptor memory. Blocks are not
// returned individually; the arena is reclaimed as a whole when the owning
// context tears down. This trades memory for never having to synchronize a
// free list with in-flight hardware reads.
type DescriptorPool struct {
	mutex sync.Mutex

	alloc   DMAAllocator
	regions []DMARegion

	cur    DMARegion
	curOff int
	total  int
}

// NewDescriptorPool creates a pool over the given allocator and maps its
// first region.
func NewDescriptorPool(alloc DMAAllocator) (*DescriptorPool, error) {
	if alloc == nil {
		return nil, errors.Wrap(ErrBadArgument, "nil DMA allocator")
	}
	p := &DescriptorPool{alloc: alloc}
	if err := p.grow(); err != nil {
		return nil, err
	}
	return p, nil
}

// AllocateBlock hands out a block of n descriptor slots. n must lie in
// [2,8]; the returned block never straddles a region boundary, so its slots
// are physically contiguous.
func (p *DescriptorPool) AllocateBlock(n int) (DescriptorBlock, error) {
	if n < DESC_BLOCK_MIN || n > DESC_BLOCK_MAX {
		return DescriptorBlock{}, errors.Wrapf(ErrBadArgument, "block size %d outside [%d,%d]",
			n, DESC_BLOCK_MIN, DESC_BLOCK_MAX)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	size := n * DESC_SIZE
	if p.curOff+size > len(p.cur.Bytes) {
		if err := p.grow(); err != nil {
			return DescriptorBlock{}, err
		}
	}

	b := DescriptorBlock{
		PhysAddr: p.cur.PhysAddr + uint32(p.curOff),
		Mem:      p.cur.Bytes[p.curOff : p.curOff+size : p.curOff+size],
		Count:    n,
		Z:        uint8(n),
	}
	p.curOff += size

	// hand out zeroed slots; a stale status quadlet would read as completed
	for i := range b.Mem {
		b.Mem[i] = 0
	}
	return b, nil
}

// FreeBlock returns a block to the pool. The arena is coarse: the slots are
// only actually reclaimed when the pool is closed, so this is a no-op that
// exists to mark ownership hand-back at call sites.
func (p *DescriptorPool) FreeBlock(b DescriptorBlock) {
}

// BytesAllocated returns the total arena size mapped so far.
func (p *DescriptorPool) BytesAllocated() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.total
}

// Close releases all arena regions. No descriptor block handed out by this
// pool may be referenced by running hardware when Close is called.
func (p *DescriptorPool) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, r := range p.regions {
		if err := p.alloc.FreeRegion(r); err != nil {
			Log(LOG_WARN, "descriptor pool: freeing region 0x%08x: %v", r.PhysAddr, err)
		}
	}
	p.regions = nil
	p.cur = DMARegion{}
	p.curOff = 0
}

// grow maps one more page-sized region. Caller holds the mutex (or is the
// constructor).
func (p *DescriptorPool) grow() error {
	if p.total+POOL_REGION_SIZE > POOL_SIZE_MAX {
		return errors.Wrapf(ErrNoSpace, "descriptor arena cap %d reached", POOL_SIZE_MAX)
	}

	r, err := p.alloc.AllocRegion(POOL_REGION_SIZE)
	if err != nil {
		return errors.Wrap(err, "descriptor pool grow")
	}
	if r.PhysAddr%DESC_ALIGN != 0 {
		p.alloc.FreeRegion(r)
		return errors.Wrapf(ErrBadArgument, "region 0x%08x not 16-byte aligned", r.PhysAddr)
	}

	p.regions = append(p.regions, r)
	p.cur = r
	p.curOff = 0
	p.total += POOL_REGION_SIZE
	return nil
}
