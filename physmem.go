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
// Physical DMA memory allocator for Linux. Memory is mmap'ed page-wise,
// locked, and its bus address resolved through /proc/self/pagemap. Regions
// never span a page boundary, so one pagemap lookup per region suffices.

//go:build linux

package goohci1394

import (
	"encoding/binary"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const pagemapEntrySize = 8

// PhysDMAAllocator allocates page-locked host memory and reports real bus
// addresses. It requires CAP_SYS_ADMIN (pagemap PFN access) and an IOMMU-less
// or identity-mapped setup, which is the usual situation for the OHCI
// controllers this package drives.
type PhysDMAAllocator struct {
	pageSize int
	pagemap  *os.File

	// current partially used page
	page     []byte
	pagePhys uint64
	pageOff  int

	pages [][]byte
}

// NewPhysDMAAllocator opens the pagemap interface and returns an allocator.
func NewPhysDMAAllocator() (*PhysDMAAllocator, error) {
	pm, err := os.Open("/proc/self/pagemap")
	if err != nil {
		return nil, errors.Wrap(err, "open pagemap")
	}
	return &PhysDMAAllocator{
		pageSize: os.Getpagesize(),
		pagemap:  pm,
	}, nil
}

// AllocRegion allocates a DMA region. Regions larger than a page are not
// supported since their pages would not be physically contiguous.
func (a *PhysDMAAllocator) AllocRegion(size int) (DMARegion, error) {
	if size <= 0 || size > a.pageSize {
		return DMARegion{}, errors.Wrapf(ErrBadArgument, "region size %d (page size %d)", size, a.pageSize)
	}

	// pad to descriptor alignment
	alloc := size
	if rem := alloc % DESC_ALIGN; rem != 0 {
		alloc += DESC_ALIGN - rem
	}

	if a.page == nil || a.pageOff+alloc > a.pageSize {
		if err := a.growPage(); err != nil {
			return DMARegion{}, err
		}
	}

	phys := a.pagePhys + uint64(a.pageOff)
	if phys+uint64(size) > 0xFFFFFFFF {
		return DMARegion{}, errors.Wrapf(ErrNoSpace, "bus address 0x%x not 32-bit addressable", phys)
	}

	r := DMARegion{
		PhysAddr: uint32(phys),
		Bytes:    a.page[a.pageOff : a.pageOff+size : a.pageOff+size],
	}
	a.pageOff += alloc
	return r, nil
}

// FreeRegion is a no-op; pages are unmapped in Close.
func (a *PhysDMAAllocator) FreeRegion(r DMARegion) error {
	return nil
}

// Close unmaps all pages and closes the pagemap handle.
func (a *PhysDMAAllocator) Close() error {
	for _, p := range a.pages {
		unix.Munmap(p)
	}
	a.pages = nil
	a.page = nil
	return a.pagemap.Close()
}

// growPage maps and locks a fresh page and resolves its bus address.
func (a *PhysDMAAllocator) growPage() error {
	p, err := unix.Mmap(-1, 0, a.pageSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_LOCKED)
	if err != nil {
		return errors.Wrap(err, "mmap dma page")
	}

	// touch the page so the kernel assigns a frame before the lookup
	p[0] = 0

	phys, err := a.physAddress(uintptr(unsafe.Pointer(&p[0])))
	if err != nil {
		unix.Munmap(p)
		return err
	}

	a.pages = append(a.pages, p)
	a.page = p
	a.pagePhys = phys
	a.pageOff = 0
	return nil
}

// physAddress resolves a virtual address to a bus address via pagemap.
func (a *PhysDMAAllocator) physAddress(va uintptr) (uint64, error) {
	vpn := uint64(va) / uint64(a.pageSize)

	var entry [pagemapEntrySize]byte
	if _, err := a.pagemap.ReadAt(entry[:], int64(vpn*pagemapEntrySize)); err != nil {
		return 0, errors.Wrap(err, "read pagemap")
	}

	e := binary.LittleEndian.Uint64(entry[:])
	if e&(1<<63) == 0 {
		return 0, errors.Wrap(ErrNotReady, "page not present")
	}

	pfn := e & ((1 << 55) - 1)
	if pfn == 0 {
		return 0, errors.Wrap(ErrNotReady, "pagemap PFN hidden (need CAP_SYS_ADMIN)")
	}

	return pfn*uint64(a.pageSize) + uint64(va)%uint64(a.pageSize), nil
}
