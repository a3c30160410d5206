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
// Asynchronous transmit program builder. Assembles one descriptor block per
// packet: an immediate header descriptor pair followed by zero or more
// payload fragment descriptors, terminated by an OUTPUT_LAST with the
// requested interrupt policy.

package goohci1394

import (
	"github.com/pkg/errors"
)

// InterruptPolicy selects when the controller raises a completion interrupt
// for a transmit program.
type InterruptPolicy int

const (
	InterruptNever InterruptPolicy = iota
	InterruptOnError
	InterruptAlways
)

// descIntControl maps an InterruptPolicy to the descriptor i field.
func (p InterruptPolicy) descIntControl() uint32 {
	switch p {
	case InterruptAlways:
		return DESC_INT_ALWAYS
	case InterruptOnError:
		return DESC_INT_ERROR
	}
	return DESC_INT_NEVER
}

// DMAProgram is a finalized descriptor block ready to be linked into a
// context. HeadPA/Z seed the CommandPtr or the branch of a preceding block;
// LastIndex addresses the descriptor carrying the completion status.
type DMAProgram struct {
	Block     DescriptorBlock
	HeadPA    uint32
	Z         uint8
	Count     int
	LastIndex int
}

// LastDescriptor returns the status-carrying descriptor of the program.
func (p *DMAProgram) LastDescriptor() Descriptor {
	return p.Block.Descriptor(p.LastIndex)
}

// ATProgramBuilder assembles a single transmit packet program. The call
// sequence is Begin, AddHeaderImmediate once, AddPayloadFragment any number
// of times, then Finalize or Cancel.
type ATProgramBuilder struct {
	pool  *DescriptorPool
	block DescriptorBlock

	active    bool
	hasHeader bool
	next      int // next free slot
	last      int // slot of the descriptor that will become OUTPUT_LAST

	policy InterruptPolicy
}

// Begin starts a new program with room for maxSlots descriptor slots.
func (b *ATProgramBuilder) Begin(pool *DescriptorPool, maxSlots int) error {
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
	return nil
}

// AddHeaderImmediate stores the packet header as an immediate descriptor
// pair. The header must be 8, 12 or 16 bytes and must be the first element
// of the program. The interrupt policy is applied to the final descriptor
// during Finalize.
func (b *ATProgramBuilder) AddHeaderImmediate(header []byte, policy InterruptPolicy) error {
	if !b.active {
		return errors.Wrap(ErrNotReady, "no open program")
	}
	if b.hasHeader {
		return errors.Wrap(ErrBadArgument, "program already has a header")
	}
	if b.next != 0 {
		return errors.Wrap(ErrBadArgument, "header must precede payload fragments")
	}
	switch len(header) {
	case 8, 12, 16:
	default:
		return errors.Wrapf(ErrBadArgument, "header length %d (want 8, 12 or 16)", len(header))
	}
	// immediate descriptors occupy two slots: command quadlets plus the
	// header bytes in the trailing slot
	if b.next+2 > b.block.Count {
		return errors.Wrap(ErrNoSpace, "program block full")
	}

	d := b.block.Descriptor(b.next)
	d.SetControl(DESC_CMD_OUTPUT_MORE, DESC_KEY_IMMEDIATE, DESC_INT_NEVER, DESC_BRANCH_NEVER,
		uint16(len(header)))
	d.SetDataAddress(0)
	d.SetBranch(0, 0)
	d.SetStatus(0, 0)
	copy(b.block.Mem[(b.next+1)*DESC_SIZE:(b.next+2)*DESC_SIZE], header)

	b.last = b.next
	b.next += 2
	b.hasHeader = true
	b.policy = policy
	return nil
}

// AddPayloadFragment appends one payload buffer reference. The buffer must
// already sit in DMA-visible memory.
func (b *ATProgramBuilder) AddPayloadFragment(pa uint32, length int) error {
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

// Finalize converts the last descriptor into an OUTPUT_LAST carrying the
// program's interrupt policy and a terminating branch, and returns the
// finished program.
func (b *ATProgramBuilder) Finalize() (DMAProgram, error) {
	if !b.active {
		return DMAProgram{}, errors.Wrap(ErrNotReady, "no open program")
	}
	if !b.hasHeader {
		return DMAProgram{}, errors.Wrap(ErrBadArgument, "program has no header")
	}

	d := b.block.Descriptor(b.last)
	key := uint32(DESC_KEY_STANDARD)
	if b.last == 0 {
		// header-only packet: the immediate descriptor itself becomes last
		key = DESC_KEY_IMMEDIATE
	}
	d.SetControl(DESC_CMD_OUTPUT_LAST, key, b.policy.descIntControl(), DESC_BRANCH_ALWAYS,
		d.ReqCount())
	d.SetBranch(0, 0)

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

// Cancel abandons the open program and returns its block to the pool.
func (b *ATProgramBuilder) Cancel() {
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
