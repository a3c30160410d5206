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
// Isochronous receive program builders, one per receive mode: buffer-fill
// (packets concatenated into one buffer), packet-per-buffer (one packet per
// descriptor chain element) and dual-buffer (per-packet split across two
// buffer streams using 32-byte descriptors).

package goohci1394

import (
	"github.com/pkg/errors"
)

// dual-buffer branch Z values
const (
	irDualBufferContinue = 0x2
	irDualBufferEnd      = 0x0
)

// IRQueueOptions configures a receive program.
type IRQueueOptions struct {
	InterruptPolicy InterruptPolicy
	// SyncWait makes the descriptors wait for a sync field match before
	// accepting packets.
	SyncWait bool
}

func (o IRQueueOptions) waitControl() uint32 {
	if o.SyncWait {
		return 0x3
	}
	return 0x0
}

// IRDualBufferSegment describes one dual-buffer descriptor: the leading
// FirstSize bytes of each packet land in the first buffer, the remainder in
// the second.
type IRDualBufferSegment struct {
	FirstPA   uint32
	SecondPA  uint32
	FirstSize uint16
	FirstReq  uint16
	SecondReq uint16
}

// IRProgramBuilder assembles receive programs out of one descriptor block.
// Multiple programs may be carved from the same block until its slots are
// exhausted.
type IRProgramBuilder struct {
	pool  *DescriptorPool
	block DescriptorBlock

	active bool
	used   int
}

// Begin reserves a descriptor block of maxSlots slots.
func (b *IRProgramBuilder) Begin(pool *DescriptorPool, maxSlots int) error {
	if b.active {
		return errors.Wrap(ErrBusy, "builder already has an open block")
	}
	if pool == nil {
		return errors.Wrap(ErrBadArgument, "nil pool")
	}
	if maxSlots < DESC_BLOCK_MIN || maxSlots > DESC_BLOCK_MAX {
		return errors.Wrapf(ErrBadArgument, "block size %d outside [%d,%d]",
			maxSlots, DESC_BLOCK_MIN, DESC_BLOCK_MAX)
	}

	block, err := pool.AllocateBlock(maxSlots)
	if err != nil {
		return err
	}
	b.pool = pool
	b.block = block
	b.active = true
	b.used = 0
	return nil
}

// BuildBufferFillProgram emits a single INPUT_LAST descriptor covering one
// large receive buffer. The owning context must run with the buffer-fill
// mode bit set.
func (b *IRProgramBuilder) BuildBufferFillProgram(bufPA uint32, bufSize int, opts IRQueueOptions) (DMAProgram, error) {
	if !b.active {
		return DMAProgram{}, errors.Wrap(ErrNotReady, "no open block")
	}
	if bufSize <= 0 || bufSize%4 != 0 || bufSize > 0xFFFF {
		return DMAProgram{}, errors.Wrapf(ErrBadArgument, "buffer size %d", bufSize)
	}
	if b.used+1 > b.block.Count {
		return DMAProgram{}, errors.Wrap(ErrNoSpace, "block full")
	}

	slot := b.used
	d := b.block.Descriptor(slot)
	d.SetControlWait(DESC_CMD_INPUT_LAST, DESC_KEY_STANDARD,
		opts.InterruptPolicy.descIntControl(), DESC_BRANCH_ALWAYS, opts.waitControl(),
		uint16(bufSize))
	d.SetDataAddress(bufPA)
	d.SetBranch(0, 0)
	d.SetStatus(0, uint16(bufSize))
	b.used++

	return DMAProgram{
		Block:     b.block,
		HeadPA:    b.block.DescriptorPA(slot),
		Z:         1,
		Count:     1,
		LastIndex: slot,
	}, nil
}

// BuildPacketPerBufferProgram emits an INPUT_MORE chain ending in an
// INPUT_LAST, one buffer per expected packet.
func (b *IRProgramBuilder) BuildPacketPerBufferProgram(bufPAs []uint32, bufSizes []int, opts IRQueueOptions) (DMAProgram, error) {
	if !b.active {
		return DMAProgram{}, errors.Wrap(ErrNotReady, "no open block")
	}
	n := len(bufPAs)
	if n == 0 || n != len(bufSizes) {
		return DMAProgram{}, errors.Wrapf(ErrBadArgument, "%d buffers, %d sizes", n, len(bufSizes))
	}
	if b.used+n > b.block.Count {
		return DMAProgram{}, errors.Wrap(ErrNoSpace, "block full")
	}

	start := b.used
	for i := 0; i < n; i++ {
		size := bufSizes[i]
		if size <= 0 || size%4 != 0 || size > 0xFFFF {
			return DMAProgram{}, errors.Wrapf(ErrBadArgument, "buffer %d size %d", i, size)
		}

		slot := start + i
		d := b.block.Descriptor(slot)
		if i < n-1 {
			d.SetControlWait(DESC_CMD_INPUT_MORE, DESC_KEY_STANDARD,
				DESC_INT_NEVER, DESC_BRANCH_NEVER, opts.waitControl(), uint16(size))
			d.SetBranch(b.block.DescriptorPA(slot+1), uint8(n-i-1))
		} else {
			d.SetControlWait(DESC_CMD_INPUT_LAST, DESC_KEY_STANDARD,
				opts.InterruptPolicy.descIntControl(), DESC_BRANCH_ALWAYS, opts.waitControl(),
				uint16(size))
			d.SetBranch(0, 0)
		}
		d.SetDataAddress(bufPAs[i])
		d.SetStatus(0, uint16(size))
	}
	b.used += n

	return DMAProgram{
		Block:     b.block,
		HeadPA:    b.block.DescriptorPA(start),
		Z:         uint8(n),
		Count:     n,
		LastIndex: start + n - 1,
	}, nil
}

// BuildDualBufferProgram emits a chain of 32-byte dual-buffer descriptors.
// The owning context must run with the dual-buffer mode bit set. The
// returned program's Z is 2, the slot-pair size of the head descriptor.
func (b *IRProgramBuilder) BuildDualBufferProgram(segs []IRDualBufferSegment, opts IRQueueOptions) (DMAProgram, error) {
	if !b.active {
		return DMAProgram{}, errors.Wrap(ErrNotReady, "no open block")
	}
	n := len(segs)
	if n == 0 {
		return DMAProgram{}, errors.Wrap(ErrBadArgument, "no segments")
	}
	// dual-buffer descriptors occupy two 16-byte slots each and must start
	// on an even slot
	if b.used%2 != 0 {
		b.used++
	}
	if b.used+2*n > b.block.Count {
		return DMAProgram{}, errors.Wrap(ErrNoSpace, "block full")
	}

	start := b.used
	for i, seg := range segs {
		pair := (start + 2*i) / 2
		d := b.block.DualBuffer(pair)

		policy := InterruptNever
		if i == n-1 {
			policy = opts.InterruptPolicy
		}
		d.SetControl(true, policy.descIntControl(), DESC_BRANCH_ALWAYS, opts.waitControl(),
			seg.FirstSize)
		d.SetCounts(seg.FirstReq, seg.SecondReq)
		if i < n-1 {
			d.SetBranch(b.block.DualBufferPA(pair+1), irDualBufferContinue)
		} else {
			d.SetBranch(0, irDualBufferEnd)
		}
		d.SetBuffers(seg.FirstPA, seg.SecondPA)
	}
	b.used += 2 * n

	return DMAProgram{
		Block:     b.block,
		HeadPA:    b.block.DescriptorPA(start),
		Z:         2,
		Count:     n,
		LastIndex: start + 2*(n-1),
	}, nil
}

// SlotsLeft returns the unconsumed descriptor slots of the open block.
func (b *IRProgramBuilder) SlotsLeft() int {
	if !b.active {
		return 0
	}
	return b.block.Count - b.used
}

// Cancel abandons the open block.
func (b *IRProgramBuilder) Cancel() {
	if !b.active {
		return
	}
	b.pool.FreeBlock(b.block)
	b.active = false
	b.block = DescriptorBlock{}
	b.used = 0
}
