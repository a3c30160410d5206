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

package goohci1394

import (
	"encoding/binary"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

func TestDescriptorControlFields(t *testing.T) {
	g := NewWithT(t)

	d := Descriptor(make([]byte, DESC_SIZE))
	d.SetControl(DESC_CMD_OUTPUT_LAST, DESC_KEY_IMMEDIATE, DESC_INT_ALWAYS, DESC_BRANCH_ALWAYS, 16)

	g.Expect(d.Cmd()).To(Equal(uint32(DESC_CMD_OUTPUT_LAST)))
	g.Expect(d.Key()).To(Equal(uint32(DESC_KEY_IMMEDIATE)))
	g.Expect(d.IntControl()).To(Equal(uint32(DESC_INT_ALWAYS)))
	g.Expect(d.BranchControl()).To(Equal(uint32(DESC_BRANCH_ALWAYS)))
	g.Expect(d.ReqCount()).To(Equal(uint16(16)))
	g.Expect(d.WaitControl()).To(Equal(uint32(0)))
}

func TestDescriptorWaitControl(t *testing.T) {
	g := NewWithT(t)

	d := Descriptor(make([]byte, DESC_SIZE))
	d.SetControlWait(DESC_CMD_INPUT_LAST, DESC_KEY_STANDARD, DESC_INT_NEVER, DESC_BRANCH_ALWAYS, 0x3, 2048)

	g.Expect(d.Cmd()).To(Equal(uint32(DESC_CMD_INPUT_LAST)))
	g.Expect(d.WaitControl()).To(Equal(uint32(0x3)))
	g.Expect(d.ReqCount()).To(Equal(uint16(2048)))
}

func TestDescriptorControlWireFormat(t *testing.T) {
	g := NewWithT(t)

	// branch sits at [24:23] and interrupt at [22:21] of the command quadlet
	d := Descriptor(make([]byte, DESC_SIZE))
	d.SetControl(DESC_CMD_OUTPUT_LAST, DESC_KEY_IMMEDIATE, DESC_INT_ALWAYS, DESC_BRANCH_ALWAYS, 8)

	q0 := binary.LittleEndian.Uint32(d[0:4])
	g.Expect(q0).To(Equal(uint32(0x15E00008)))
	g.Expect(q0 & 0x01800000 >> 23).To(Equal(uint32(DESC_BRANCH_ALWAYS)))
	g.Expect(q0 & 0x00600000 >> 21).To(Equal(uint32(DESC_INT_ALWAYS)))

	// wait occupies [20:19], below the interrupt field
	d.SetControlWait(DESC_CMD_INPUT_LAST, DESC_KEY_STANDARD, DESC_INT_NEVER, DESC_BRANCH_ALWAYS, 0x3, 2048)
	q0 = binary.LittleEndian.Uint32(d[0:4])
	g.Expect(q0).To(Equal(uint32(0x31980800)))
}

func TestDescriptorQuadletsAreLittleEndian(t *testing.T) {
	g := NewWithT(t)

	d := Descriptor(make([]byte, DESC_SIZE))
	d.SetDataAddress(0x12345678)

	g.Expect(binary.LittleEndian.Uint32(d[4:8])).To(Equal(uint32(0x12345678)))
	g.Expect(d[4]).To(Equal(byte(0x78)))
}

func TestDescriptorBranchEncoding(t *testing.T) {
	g := NewWithT(t)

	d := Descriptor(make([]byte, DESC_SIZE))
	d.SetBranch(0x00ABCD40, 3)

	g.Expect(d.BranchAddress()).To(Equal(uint32(0x00ABCD40)))
	g.Expect(d.BranchZ()).To(Equal(uint8(3)))

	// the low nibble of the address never leaks into the branch quadlet
	d.SetBranch(0x00ABCD4F, 1)
	g.Expect(d.BranchAddress()).To(Equal(uint32(0x00ABCD40)))
	g.Expect(d.BranchZ()).To(Equal(uint8(1)))
}

func TestDescriptorStatusFields(t *testing.T) {
	g := NewWithT(t)

	d := Descriptor(make([]byte, DESC_SIZE))
	g.Expect(d.XferStatus()).To(Equal(uint16(0)))

	d.SetStatus(0x8211, 0x1234)
	g.Expect(d.XferStatus()).To(Equal(uint16(0x8211)))
	g.Expect(d.TimeStamp()).To(Equal(uint16(0x1234)))
	g.Expect(d.ResCount()).To(Equal(uint16(0x1234)))
	g.Expect(EventCode(d.XferStatus())).To(Equal(uint8(ACK_COMPLETE)))
}

func TestEncodeCommandPtr(t *testing.T) {
	g := NewWithT(t)

	ptr, err := EncodeCommandPtr(0x10000040, 4)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ptr).To(Equal(uint32(0x10000044)))

	_, err = EncodeCommandPtr(0x10000004, 1)
	g.Expect(errors.Cause(err)).To(Equal(ErrBadArgument))

	_, err = EncodeCommandPtr(0x10000000, DESC_Z_MAX+1)
	g.Expect(errors.Cause(err)).To(Equal(ErrBadArgument))
}

func TestTransmitEventCompleted(t *testing.T) {
	g := NewWithT(t)

	completed := []uint8{
		ACK_COMPLETE, ACK_PENDING, ACK_BUSY_X, ACK_BUSY_A, ACK_BUSY_B,
		ACK_TARDY, ACK_DATA_ERROR, ACK_TYPE_ERROR,
		EVT_MISSING_ACK, EVT_UNDERRUN, EVT_TIMEOUT, EVT_FLUSHED,
	}
	for _, evt := range completed {
		g.Expect(transmitEventCompleted(evt)).To(BeTrue(), "event 0x%02x", evt)
	}

	g.Expect(transmitEventCompleted(EVT_NO_STATUS)).To(BeFalse())
	g.Expect(transmitEventCompleted(EVT_DESCRIPTOR_READ)).To(BeFalse())
	g.Expect(transmitEventCompleted(EVT_BUS_RESET)).To(BeFalse())
}

func TestDualBufferDescriptorEncoding(t *testing.T) {
	g := NewWithT(t)

	d := DualBufferDescriptor(make([]byte, DUAL_BUF_SIZE))
	d.SetControl(true, DESC_INT_ALWAYS, DESC_BRANCH_ALWAYS, 0, 8)
	d.SetCounts(8, 2040)
	d.SetBranch(0x20000020, irDualBufferContinue)
	d.SetBuffers(0x30000000, 0x30001000)

	q0 := binary.LittleEndian.Uint32(d[0:4])
	g.Expect(q0 >> 31).To(Equal(uint32(1)))
	g.Expect(q0 >> 26 & 0x3).To(Equal(uint32(DESC_INT_ALWAYS)))
	g.Expect(q0 >> 24 & 0x3).To(Equal(uint32(DESC_BRANCH_ALWAYS)))
	g.Expect(uint16(q0)).To(Equal(uint16(8)))

	// residual counts prime to the request counts
	g.Expect(d.FirstResCount()).To(Equal(uint16(8)))
	g.Expect(d.SecondResCount()).To(Equal(uint16(2040)))

	g.Expect(binary.LittleEndian.Uint32(d[8:12])).To(Equal(uint32(0x20000022)))
	g.Expect(binary.LittleEndian.Uint32(d[16:20])).To(Equal(uint32(0x30000000)))
	g.Expect(binary.LittleEndian.Uint32(d[20:24])).To(Equal(uint32(0x30001000)))
}
