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
// Asynchronous receive descriptor ring. A fixed set of receive buffers, each
// bound to one INPUT_MORE descriptor, linked circularly with Z=1 so the
// controller rotates through them in buffer-fill mode. Slot ownership moves
// hardware -> software when the residual count drops below the request count
// and back on Recycle.

package goohci1394

import (
	"sync"

	"github.com/pkg/errors"
)

// ARPacketView is a zero-copy window into a completed receive slot. The
// bytes belong to the ring and are valid until the slot is recycled.
// Timestamp is always zero; buffer-fill receive descriptors carry a residual
// count where transmit descriptors store a timestamp.
type ARPacketView struct {
	Index      int
	Data       []byte
	XferStatus uint16
	Timestamp  uint16
}

// ARRing owns the receive buffers and descriptors of one AR context.
type ARRing struct {
	mutex sync.Mutex

	alloc      DMAAllocator
	descRegion DMARegion
	buffers    []DMARegion

	count      int
	bufSize    int
	consumeIdx int
	popped     []bool
}

// NewARRing allocates count receive buffers of bufSize bytes each and links
// their descriptors into a circle. count must be at least 2 and bufSize a
// positive multiple of 4 no larger than a descriptor's 16-bit request field.
func NewARRing(alloc DMAAllocator, count, bufSize int) (*ARRing, error) {
	if alloc == nil {
		return nil, errors.Wrap(ErrBadArgument, "nil DMA allocator")
	}
	if count < 2 {
		return nil, errors.Wrapf(ErrBadArgument, "ring of %d buffers (want >= 2)", count)
	}
	if bufSize <= 0 || bufSize%4 != 0 || bufSize > 0xFFFF {
		return nil, errors.Wrapf(ErrBadArgument, "buffer size %d", bufSize)
	}

	r := &ARRing{
		alloc:   alloc,
		count:   count,
		bufSize: bufSize,
		popped:  make([]bool, count),
	}

	descRegion, err := alloc.AllocRegion(count * DESC_SIZE)
	if err != nil {
		return nil, errors.Wrap(err, "AR descriptor region")
	}
	r.descRegion = descRegion

	r.buffers = make([]DMARegion, count)
	for i := 0; i < count; i++ {
		buf, err := alloc.AllocRegion(bufSize)
		if err != nil {
			r.Close()
			return nil, errors.Wrapf(err, "AR buffer %d", i)
		}
		r.buffers[i] = buf
	}

	for i := 0; i < count; i++ {
		r.initSlot(i)
	}
	return r, nil
}

// initSlot writes the descriptor of slot i, branching to slot i+1 mod count.
func (r *ARRing) initSlot(i int) {
	d := r.descriptor(i)
	d.SetControl(DESC_CMD_INPUT_MORE, DESC_KEY_STANDARD, DESC_INT_ALWAYS, DESC_BRANCH_ALWAYS,
		uint16(r.bufSize))
	d.SetDataAddress(r.buffers[i].PhysAddr)
	next := (i + 1) % r.count
	d.SetBranch(r.descRegion.PhysAddr+uint32(next*DESC_SIZE), 1)
	d.SetStatus(0, uint16(r.bufSize))
}

// descriptor returns the descriptor of slot i.
func (r *ARRing) descriptor(i int) Descriptor {
	return descriptorAt(r.descRegion.Bytes, i)
}

// Count returns the number of slots.
func (r *ARRing) Count() int { return r.count }

// GetCommandPtrSeed returns the CommandPtr block address and Z for arming
// the context at the current consume position.
func (r *ARRing) GetCommandPtrSeed() (uint32, uint8) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.descRegion.PhysAddr + uint32(r.consumeIdx*DESC_SIZE), 1
}

// TryPopCompleted returns a view of the oldest completed slot not yet handed
// out. Untouched slots are skipped, so a completion behind a gap is still
// reported. A popped slot is never reported again until it is recycled; the
// bytes stay valid until then.
func (r *ARRing) TryPopCompleted() (ARPacketView, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for off := 0; off < r.count; off++ {
		i := (r.consumeIdx + off) % r.count
		if r.popped[i] {
			continue
		}
		d := r.descriptor(i)
		res := d.ResCount()
		if res >= uint16(r.bufSize) {
			continue
		}
		consumeFence()
		r.popped[i] = true
		filled := r.bufSize - int(res)
		return ARPacketView{
			Index:      i,
			Data:       r.buffers[i].Bytes[:filled],
			XferStatus: d.XferStatus(),
		}, true
	}
	return ARPacketView{}, false
}

// Recycle hands slot index back to the hardware. Recycling an incomplete
// slot is a no-op. The consume cursor only advances while the oldest slot is
// being recycled, so out-of-order recycling is remembered but not exposed to
// the hardware until the gap closes.
func (r *ARRing) Recycle(index int) error {
	if index < 0 || index >= r.count {
		return errors.Wrapf(ErrBadArgument, "slot %d of %d", index, r.count)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	d := r.descriptor(index)
	if d.ResCount() >= uint16(r.bufSize) {
		return nil
	}

	d.SetStatus(0, uint16(r.bufSize))
	r.popped[index] = false

	if index == r.consumeIdx {
		r.consumeIdx = (r.consumeIdx + 1) % r.count
	}
	return nil
}

// ReArmAfterBusReset resets every slot and rewinds the consume cursor so the
// context can be re-seeded from slot zero. Data still sitting in the ring
// belongs to the old bus generation and is dropped.
func (r *ARRing) ReArmAfterBusReset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for i := 0; i < r.count; i++ {
		r.initSlot(i)
		r.popped[i] = false
	}
	r.consumeIdx = 0
}

// Close releases the ring's DMA memory.
func (r *ARRing) Close() {
	if r.descRegion.Bytes != nil {
		r.alloc.FreeRegion(r.descRegion)
		r.descRegion = DMARegion{}
	}
	for _, b := range r.buffers {
		if b.Bytes != nil {
			r.alloc.FreeRegion(b)
		}
	}
	r.buffers = nil
}
