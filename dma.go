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
// DMA-visible memory abstraction. The OHCI controller addresses host memory
// with 32-bit bus addresses, so every region handed to the hardware must
// carry the bus address alongside the CPU mapping.

package goohci1394

import (
	"github.com/pkg/errors"
)

// DMARegion is a chunk of host memory visible to the controller. PhysAddr is
// the 32-bit bus address of Bytes[0].
type DMARegion struct {
	PhysAddr uint32
	Bytes    []byte
}

// DMAAllocator hands out DMA-visible memory regions. Regions are contiguous
// in bus address space and at least 16-byte aligned.
type DMAAllocator interface {
	AllocRegion(size int) (DMARegion, error)
	FreeRegion(r DMARegion) error
}

// HostDMAAllocator is a process-memory allocator that assigns synthetic bus
// addresses from a private page table. It backs software emulation and tests;
// on real hardware use NewPhysDMAAllocator instead.
type HostDMAAllocator struct {
	next    uint32
	regions map[uint32][]byte
}

// NewHostDMAAllocator creates a host memory allocator whose synthetic bus
// addresses start at the given base.
func NewHostDMAAllocator(base uint32) *HostDMAAllocator {
	if base == 0 {
		base = 0x10000000
	}
	return &HostDMAAllocator{
		next:    base &^ (DESC_ALIGN - 1),
		regions: make(map[uint32][]byte),
	}
}

// AllocRegion allocates a region of the requested size.
func (a *HostDMAAllocator) AllocRegion(size int) (DMARegion, error) {
	if size <= 0 {
		return DMARegion{}, errors.Wrapf(ErrBadArgument, "region size %d", size)
	}

	// keep the synthetic address space 32-bit addressable
	if uint64(a.next)+uint64(size) > 0xFFFFFFFF {
		return DMARegion{}, errors.Wrap(ErrNoSpace, "32-bit bus address space exhausted")
	}

	r := DMARegion{
		PhysAddr: a.next,
		Bytes:    make([]byte, size),
	}
	a.regions[r.PhysAddr] = r.Bytes

	// bump pointer, keep 16-byte alignment for descriptor blocks
	a.next += uint32(size)
	if rem := a.next % DESC_ALIGN; rem != 0 {
		a.next += DESC_ALIGN - rem
	}
	return r, nil
}

// FreeRegion releases a region previously handed out by AllocRegion.
func (a *HostDMAAllocator) FreeRegion(r DMARegion) error {
	if _, ok := a.regions[r.PhysAddr]; !ok {
		return errors.Wrapf(ErrBadArgument, "unknown region 0x%08x", r.PhysAddr)
	}
	delete(a.regions, r.PhysAddr)
	return nil
}

// Resolve returns the backing slice of a synthetic bus address, or nil if the
// address does not fall into any live region. Used by register-space fakes
// that emulate controller DMA.
func (a *HostDMAAllocator) Resolve(phys uint32) []byte {
	for base, b := range a.regions {
		if phys >= base && phys < base+uint32(len(b)) {
			return b[phys-base:]
		}
	}
	return nil
}
