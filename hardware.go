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
// Hardware register access abstraction.

package goohci1394

import (
	"github.com/aoeldemann/gopcie"
)

// RegisterSpace is the MMIO view of the OHCI register file. Offsets are byte
// offsets from the start of the BAR. Implementations must not buffer or
// reorder accesses.
type RegisterSpace interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
}

// pcieRegisterSpace adapts a gopcie BAR to the RegisterSpace interface.
type pcieRegisterSpace struct {
	bar *gopcie.PCIeBAR
}

// OpenPCIeRegisterSpace opens the memory-mapped BAR of a PCIe OHCI function
// and returns it as a RegisterSpace together with a close function.
func OpenPCIeRegisterSpace(funcID, vendorID, deviceID, barID int) (RegisterSpace, func(), error) {
	bar, err := gopcie.PCIeBAROpen(uint(funcID), uint(vendorID), uint(deviceID), uint(barID))
	if err != nil {
		return nil, nil, err
	}
	return &pcieRegisterSpace{bar: bar}, func() { bar.Close() }, nil
}

// Read32 reads a register.
func (rs *pcieRegisterSpace) Read32(offset uint32) uint32 {
	return rs.bar.Read(offset)
}

// Write32 writes a register.
func (rs *pcieRegisterSpace) Write32(offset uint32, value uint32) {
	rs.bar.Write(offset, value)
}
