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
// Test fakes. fakeRegs emulates the OHCI register file semantics the package
// relies on: ContextControl set at the context base, clear at base+0x04, and
// the global set/clear register pairs.

package goohci1394

import (
	"sync"
)

type fakeRegs struct {
	mu  sync.Mutex
	mem map[uint32]uint32

	setAt   map[uint32]uint32
	clearAt map[uint32]uint32

	// implemented isochronous contexts per direction, as a mask bit per
	// context, reflected by the IT/IR mask registers
	isoImplemented uint32
}

func newFakeRegs() *fakeRegs {
	f := &fakeRegs{
		mem:            make(map[uint32]uint32),
		setAt:          make(map[uint32]uint32),
		clearAt:        make(map[uint32]uint32),
		isoImplemented: 0xF,
	}
	f.mem[OHCI_REG_VERSION] = 0x00010010 // OHCI 1.10

	pair := func(set, clear uint32) {
		f.setAt[set] = set
		f.clearAt[clear] = set
	}
	pair(OHCI_REG_HCCTRL_SET, OHCI_REG_HCCTRL_CLR)
	pair(OHCI_REG_INT_MASK_S, OHCI_REG_INT_MASK_C)
	pair(OHCI_REG_IT_EVENT_S, OHCI_REG_IT_EVENT_C)
	pair(OHCI_REG_IT_MASK_S, OHCI_REG_IT_MASK_C)
	pair(OHCI_REG_IR_EVENT_S, OHCI_REG_IR_EVENT_C)
	pair(OHCI_REG_IR_MASK_S, OHCI_REG_IR_MASK_C)
	pair(OHCI_REG_LINKCTRL_S, OHCI_REG_LINKCTRL_C)
	pair(OHCI_REG_IR_MC_HI_S, OHCI_REG_IR_MC_HI_C)
	pair(OHCI_REG_IR_MC_LO_S, OHCI_REG_IR_MC_LO_C)
	f.clearAt[OHCI_REG_INT_CLEAR] = OHCI_REG_INT_EVENT

	ctx := func(base uint32) {
		f.setAt[base] = base
		f.clearAt[base+OHCI_CTX_CTRL_CLEAR_OFFSET] = base
	}
	ctx(OHCI_CTX_AT_REQUEST)
	ctx(OHCI_CTX_AT_RESPONSE)
	ctx(OHCI_CTX_AR_REQUEST)
	ctx(OHCI_CTX_AR_RESPONSE)
	for i := 0; i < OHCI_ISO_CTX_MAX; i++ {
		ctx(uint32(OHCI_CTX_IT_BASE + i*OHCI_CTX_IT_STRIDE))
		ctx(uint32(OHCI_CTX_IR_BASE + i*OHCI_CTX_IR_STRIDE))
	}
	return f
}

func (f *fakeRegs) Read32(offset uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem[offset]
}

func (f *fakeRegs) Write32(offset uint32, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if target, ok := f.setAt[offset]; ok {
		if target == OHCI_REG_IT_MASK_S || target == OHCI_REG_IR_MASK_S {
			value &= f.isoImplemented
		}
		f.mem[target] |= value
		return
	}
	if target, ok := f.clearAt[offset]; ok {
		f.mem[target] &^= value
		return
	}
	f.mem[offset] = value
}

// force overwrites a register, bypassing the set/clear semantics. Used by
// tests to plant hardware-written state like the active or dead bit.
func (f *fakeRegs) force(offset, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem[offset] = value
}

// setBits ORs bits into a register the way the controller would.
func (f *fakeRegs) setBits(offset, bits uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem[offset] |= bits
}

// clearBits removes bits from a register.
func (f *fakeRegs) clearBits(offset, bits uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem[offset] &^= bits
}

// completeTransmit marks a transmit program done the way the controller
// would: xferStatus snapshot with the event code, plus the timestamp.
func completeTransmit(prog *DMAProgram, evt uint8, timestamp uint16) {
	status := uint16(OHCI_CTXCTRL_RUN | OHCI_CTXCTRL_ACTIVE | uint32(evt))
	prog.LastDescriptor().SetStatus(status, timestamp)
}
