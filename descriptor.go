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
// DMA descriptor field encoding. The controller interprets 16-byte
// descriptors (32-byte for IR dual-buffer mode) laid out as little-endian
// quadlets in host memory. All accessors below operate directly on the
// DMA-visible byte slice, so a descriptor value is just a window into a
// descriptor pool region.

package goohci1394

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Descriptor is a 16-byte descriptor slot in DMA memory.
type Descriptor []byte

// quad returns quadlet i of the descriptor.
func (d Descriptor) quad(i int) uint32 {
	return binary.LittleEndian.Uint32(d[i*4 : i*4+4])
}

// setQuad writes quadlet i of the descriptor.
func (d Descriptor) setQuad(i int, v uint32) {
	binary.LittleEndian.PutUint32(d[i*4:i*4+4], v)
}

// encodeDescControl packs the command quadlet fields. reqCount occupies the
// low 16 bits; cmd [31:28], key [27:25], branch [24:23] and interrupt [22:21]
// sit in the high half.
func encodeDescControl(cmd, key, intCtrl, branchCtrl uint32, reqCount uint16) uint32 {
	return (cmd&0xF)<<28 |
		(key&0x7)<<25 |
		(branchCtrl&0x3)<<23 |
		(intCtrl&0x3)<<21 |
		uint32(reqCount)
}

// SetControl writes the command quadlet.
func (d Descriptor) SetControl(cmd, key, intCtrl, branchCtrl uint32, reqCount uint16) {
	d.setQuad(0, encodeDescControl(cmd, key, intCtrl, branchCtrl, reqCount))
}

// SetControlWait writes the command quadlet including the wait control field
// used by isochronous receive descriptors.
func (d Descriptor) SetControlWait(cmd, key, intCtrl, branchCtrl, waitCtrl uint32, reqCount uint16) {
	d.setQuad(0, encodeDescControl(cmd, key, intCtrl, branchCtrl, reqCount)|(waitCtrl&0x3)<<19)
}

// WaitControl returns the wait control code of a receive descriptor.
func (d Descriptor) WaitControl() uint32 { return d.quad(0) >> 19 & 0x3 }

// Cmd returns the descriptor command code.
func (d Descriptor) Cmd() uint32 { return d.quad(0) >> 28 & 0xF }

// Key returns the descriptor key code.
func (d Descriptor) Key() uint32 { return d.quad(0) >> 25 & 0x7 }

// IntControl returns the interrupt control code.
func (d Descriptor) IntControl() uint32 { return d.quad(0) >> 21 & 0x3 }

// BranchControl returns the branch control code.
func (d Descriptor) BranchControl() uint32 { return d.quad(0) >> 23 & 0x3 }

// ReqCount returns the requested byte count.
func (d Descriptor) ReqCount() uint16 { return uint16(d.quad(0)) }

// SetDataAddress writes the buffer bus address quadlet.
func (d Descriptor) SetDataAddress(pa uint32) { d.setQuad(1, pa) }

// DataAddress returns the buffer bus address quadlet.
func (d Descriptor) DataAddress() uint32 { return d.quad(1) }

// SetBranch writes the branch quadlet. The branch target must be 16-byte
// aligned; z is the descriptor count of the next block (0 terminates).
func (d Descriptor) SetBranch(pa uint32, z uint8) {
	d.setQuad(2, pa&0xFFFFFFF0|uint32(z&0xF))
}

// BranchAddress returns the 16-byte aligned branch target.
func (d Descriptor) BranchAddress() uint32 { return d.quad(2) &^ 0xF }

// BranchZ returns the Z nibble of the branch quadlet.
func (d Descriptor) BranchZ() uint8 { return uint8(d.quad(2) & 0xF) }

// SetStatus writes the status quadlet. For transmit descriptors count is the
// completion timestamp, for receive descriptors the residual byte count.
func (d Descriptor) SetStatus(xferStatus uint16, count uint16) {
	d.setQuad(3, uint32(xferStatus)<<16|uint32(count))
}

// XferStatus returns the ContextControl snapshot the controller stored on
// completion. Zero means the descriptor has not completed.
func (d Descriptor) XferStatus() uint16 { return uint16(d.quad(3) >> 16) }

// ResCount returns the residual byte count of a receive descriptor.
func (d Descriptor) ResCount() uint16 { return uint16(d.quad(3)) }

// TimeStamp returns the completion timestamp of a transmit descriptor.
func (d Descriptor) TimeStamp() uint16 { return uint16(d.quad(3)) }

// EventCode extracts the event code from an xferStatus snapshot.
func EventCode(xferStatus uint16) uint8 { return uint8(xferStatus & OHCI_CTXCTRL_EVENT_MASK) }

// descriptorAt returns descriptor slot idx of a block's memory.
func descriptorAt(mem []byte, idx int) Descriptor {
	return Descriptor(mem[idx*DESC_SIZE : (idx+1)*DESC_SIZE])
}

// EncodeCommandPtr packs a descriptor block address and its Z value into the
// CommandPtr register format.
func EncodeCommandPtr(pa uint32, z uint8) (uint32, error) {
	if pa%DESC_ALIGN != 0 {
		return 0, errors.Wrapf(ErrBadArgument, "CommandPtr address 0x%08x not 16-byte aligned", pa)
	}
	if z > DESC_Z_MAX {
		return 0, errors.Wrapf(ErrBadArgument, "CommandPtr Z %d exceeds %d", z, DESC_Z_MAX)
	}
	return pa | uint32(z), nil
}

// transmitEventCompleted reports whether an AT event code describes a packet
// that left the pipeline, successfully or with a terminal error, as opposed
// to a descriptor the controller has not reached.
func transmitEventCompleted(evt uint8) bool {
	switch evt {
	case ACK_COMPLETE, ACK_PENDING,
		ACK_BUSY_X, ACK_BUSY_A, ACK_BUSY_B,
		ACK_TARDY, ACK_DATA_ERROR, ACK_TYPE_ERROR,
		EVT_MISSING_ACK, EVT_UNDERRUN, EVT_TIMEOUT, EVT_FLUSHED:
		return true
	}
	return false
}

// DualBufferDescriptor is a 32-byte IR dual-buffer descriptor slot.
type DualBufferDescriptor []byte

func (d DualBufferDescriptor) quad(i int) uint32 {
	return binary.LittleEndian.Uint32(d[i*4 : i*4+4])
}

func (d DualBufferDescriptor) setQuad(i int, v uint32) {
	binary.LittleEndian.PutUint32(d[i*4:i*4+4], v)
}

// SetControl writes the dual-buffer command quadlet. firstSize is the number
// of leading bytes of each packet steered into the first buffer.
func (d DualBufferDescriptor) SetControl(statusEnable bool, intCtrl, branchCtrl, waitCtrl uint32, firstSize uint16) {
	var s uint32
	if statusEnable {
		s = 1 << 31
	}
	d.setQuad(0, s|
		(intCtrl&0x3)<<26|
		(branchCtrl&0x3)<<24|
		(waitCtrl&0x3)<<22|
		uint32(firstSize))
}

// SetCounts writes the request counts of both buffers and primes the residual
// counts to match.
func (d DualBufferDescriptor) SetCounts(firstReq, secondReq uint16) {
	v := uint32(firstReq)<<16 | uint32(secondReq)
	d.setQuad(1, v)
	d.setQuad(3, v)
}

// SetBranch writes the branch quadlet. Z is 2 to continue to another
// dual-buffer descriptor, 0 to end the program.
func (d DualBufferDescriptor) SetBranch(pa uint32, z uint8) {
	d.setQuad(2, pa&0xFFFFFFF0|uint32(z&0xF))
}

// SetBuffers writes both buffer bus addresses and zeroes the reserved
// quadlets.
func (d DualBufferDescriptor) SetBuffers(firstPA, secondPA uint32) {
	d.setQuad(4, firstPA)
	d.setQuad(5, secondPA)
	d.setQuad(6, 0)
	d.setQuad(7, 0)
}

// FirstResCount returns the residual count of the first buffer.
func (d DualBufferDescriptor) FirstResCount() uint16 { return uint16(d.quad(3) >> 16) }

// SecondResCount returns the residual count of the second buffer.
func (d DualBufferDescriptor) SecondResCount() uint16 { return uint16(d.quad(3)) }
