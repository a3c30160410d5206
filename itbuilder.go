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
// Isochronous transmit program builder. One program per bus cycle: an
// immediate descriptor pair carrying the two isochronous header quadlets,
// followed by payload fragments. The skip address of the header pair decides
// where the controller continues when it misses the cycle.

package goohci1394

import (
	"github.com/pkg/errors"
)

// itHeaderQuadlets builds the two header quadlets of an isochronous packet.
func itHeaderQuadlets(speed, tag, channel, sy uint8, dataLength uint16) (uint32, uint32) {
	hdr0 := uint32(sy&0xF)<<12 |
		0xA<<8 | // isochronous data block tcode
		uint32(channel&0x3F)<<2 |
		uint32(tag&0x3)
	hdr1 := uint32(speed&0x7)<<29 | uint32(dataLength)
	return hdr0, hdr1
}

// ITProgramBuilder assembles one isochronous transmit program.
type ITProgramBuilder struct {
	pool  *DescriptorPool
	block DescriptorBlock

	active    bool
	hasHeader bool
	next      int
	last      int

	policy InterruptPolicy
	skipPA uint32
	skipZ  uint8
}

// Begin starts a new program with room for maxSlots descriptor slots.
func (b *ITProgramBuilder) Begin(pool *DescriptorPool, maxSlots int) error {
	if b.active {
		return errors.Wrap(ErrBusy, "builder already has an open program")
	}
	if pool == nil {
		return errors.Wrap(ErrBadArgument, "nil pool")
	}
	if maxSlots < DESC_BLOCK_MIN || maxSlots > DESC_BLOCK_MAX {
		return errors.Wrapf(ErrBadArgument, "program size %d outside [%d,%d]",
			maxSlots, DESC_BLOCK_MIN, DESC_BLOCK_MAX)
	}

	block, err := pool.AllocateBlock(maxSlots)
	if err != nil {
		return err
	}

	b.pool = pool
	b.block = block
	b.active = true
	b.hasHeader = false
	b.next = 0
	b.last = 0
	b.policy = InterruptNever
	b.skipPA = 0
	b.skipZ = 0
	return nil
}

// AddHeaderImmediate writes the isochronous header descriptor pair. Must be
// called exactly once, before any payload fragment.
func (b *ITProgramBuilder) AddHeaderImmediate(speed, tag, channel, sy uint8, dataLength uint16, policy InterruptPolicy) error {
	if !b.active {
		return errors.Wrap(ErrNotReady, "no open program")
	}
	if b.hasHeader {
		return errors.Wrap(ErrBadArgument, "program already has a header")
	}
	if b.next != 0 {
		return errors.Wrap(ErrBadArgument, "header must precede payload fragments")
	}
	if channel >= 64 {
		return errors.Wrapf(ErrBadArgument, "channel %d", channel)
	}
	if b.next+2 > b.block.Count {
		return errors.Wrap(ErrNoSpace, "program block full")
	}

	d := b.block.Descriptor(b.next)
	// two header quadlets travel immediately after the command quadlets
	d.SetControl(DESC_CMD_OUTPUT_MORE, DESC_KEY_IMMEDIATE, DESC_INT_NEVER, DESC_BRANCH_NEVER, 8)
	d.SetDataAddress(0)
	d.SetBranch(0, 0)
	d.SetStatus(0, 0)

	hdr0, hdr1 := itHeaderQuadlets(speed, tag, channel, sy, dataLength)
	imm := b.block.Descriptor(b.next + 1)
	imm.setQuad(0, 0) // skip address, patched during Finalize
	imm.setQuad(1, hdr0)
	imm.setQuad(2, hdr1)
	imm.setQuad(3, 0)

	b.last = b.next
	b.next += 2
	b.hasHeader = true
	b.policy = policy
	return nil
}

// AddPayloadFragment appends one payload buffer reference.
func (b *ITProgramBuilder) AddPayloadFragment(pa uint32, length int) error {
	if !b.active {
		return errors.Wrap(ErrNotReady, "no open program")
	}
	if !b.hasHeader {
		return errors.Wrap(ErrBadArgument, "payload before header")
	}
	if length <= 0 || length > 0xFFFF {
		return errors.Wrapf(ErrBadArgument, "fragment length %d", length)
	}
	if b.next+1 > b.block.Count {
		return errors.Wrap(ErrNoSpace, "program block full")
	}

	d := b.block.Descriptor(b.next)
	d.SetControl(DESC_CMD_OUTPUT_MORE, DESC_KEY_STANDARD, DESC_INT_NEVER, DESC_BRANCH_NEVER,
		uint16(length))
	d.SetDataAddress(pa)
	d.SetBranch(0, 0)
	d.SetStatus(0, 0)

	b.last = b.next
	b.next++
	return nil
}

// SetSkipTarget sets where the controller branches when the cycle is
// missed. Zero keeps the default of stalling on the current program.
func (b *ITProgramBuilder) SetSkipTarget(pa uint32, z uint8) error {
	if pa%DESC_ALIGN != 0 {
		return errors.Wrapf(ErrBadArgument, "skip address 0x%08x not 16-byte aligned", pa)
	}
	if z > DESC_Z_MAX {
		return errors.Wrapf(ErrBadArgument, "skip Z %d", z)
	}
	b.skipPA = pa
	b.skipZ = z
	return nil
}

// Finalize terminates the program and patches the skip address quadlet.
func (b *ITProgramBuilder) Finalize() (DMAProgram, error) {
	if !b.active {
		return DMAProgram{}, errors.Wrap(ErrNotReady, "no open program")
	}
	if !b.hasHeader {
		return DMAProgram{}, errors.Wrap(ErrBadArgument, "program has no header")
	}

	d := b.block.Descriptor(b.last)
	key := uint32(DESC_KEY_STANDARD)
	if b.last == 0 {
		key = DESC_KEY_IMMEDIATE
	}
	d.SetControl(DESC_CMD_OUTPUT_LAST, key, b.policy.descIntControl(), DESC_BRANCH_ALWAYS,
		d.ReqCount())
	d.SetBranch(0, 0)

	// skip address lives in the quadlet following the header command pair
	b.block.Descriptor(1).setQuad(0, b.skipPA&0xFFFFFFF0|uint32(b.skipZ))

	prog := DMAProgram{
		Block:     b.block,
		HeadPA:    b.block.PhysAddr,
		Z:         uint8(b.next),
		Count:     b.next,
		LastIndex: b.last,
	}

	b.active = false
	b.block = DescriptorBlock{}
	return prog, nil
}

// Cancel abandons the open program.
func (b *ITProgramBuilder) Cancel() {
	if !b.active {
		return
	}
	b.pool.FreeBlock(b.block)
	b.active = false
	b.block = DescriptorBlock{}
	b.hasHeader = false
	b.next = 0
	b.last = 0
}
