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
// Global definitions: OHCI 1.1 register map, register bit fields and DMA
// descriptor field encodings.

package goohci1394

const (
	// PCIExpress Base Address Register IDs (TI XIO2213 default)
	PCIE_BAR_FUNCTION_ID = 0x0
	PCIE_BAR_VENDOR_ID   = 0x104c
	PCIE_BAR_DEVICE_ID   = 0x8024
	PCIE_BAR_ID          = 0x0
)

// Global OHCI register offsets.
const (
	OHCI_REG_VERSION     = 0x000
	OHCI_REG_GUID_HI     = 0x024
	OHCI_REG_GUID_LO     = 0x028
	OHCI_REG_HCCTRL_SET  = 0x050
	OHCI_REG_HCCTRL_CLR  = 0x054
	OHCI_REG_SELFID_BUF  = 0x064
	OHCI_REG_SELFID_CNT  = 0x068
	OHCI_REG_AT_RETRIES  = 0x06C
	OHCI_REG_IR_MC_HI_S  = 0x070
	OHCI_REG_IR_MC_HI_C  = 0x074
	OHCI_REG_IR_MC_LO_S  = 0x078
	OHCI_REG_IR_MC_LO_C  = 0x07C
	OHCI_REG_INT_EVENT   = 0x080
	OHCI_REG_INT_CLEAR   = 0x084
	OHCI_REG_INT_MASK_S  = 0x088
	OHCI_REG_INT_MASK_C  = 0x08C
	OHCI_REG_IT_EVENT_S  = 0x090
	OHCI_REG_IT_EVENT_C  = 0x094
	OHCI_REG_IT_MASK_S   = 0x098
	OHCI_REG_IT_MASK_C   = 0x09C
	OHCI_REG_IR_EVENT_S  = 0x0A0
	OHCI_REG_IR_EVENT_C  = 0x0A4
	OHCI_REG_IR_MASK_S   = 0x0A8
	OHCI_REG_IR_MASK_C   = 0x0AC
	OHCI_REG_FAIRNESS    = 0x0DC
	OHCI_REG_LINKCTRL_S  = 0x0E0
	OHCI_REG_LINKCTRL_C  = 0x0E4
	OHCI_REG_NODE_ID     = 0x0E8
	OHCI_REG_PHY_CONTROL = 0x0EC
	OHCI_REG_CYCLE_TIMER = 0x0F0
)

// DMA context register bases. Within each context block the ContextControl
// register is read at the base address, set bits are written to the base
// address, clear bits are written to base+0x04 and the CommandPtr register
// sits at base+0x0C.
const (
	OHCI_CTX_AT_REQUEST  = 0x0180
	OHCI_CTX_AT_RESPONSE = 0x01A0
	OHCI_CTX_AR_REQUEST  = 0x01C0
	OHCI_CTX_AR_RESPONSE = 0x01E0

	OHCI_CTX_IT_BASE   = 0x0200
	OHCI_CTX_IT_STRIDE = 0x0010
	OHCI_CTX_IR_BASE   = 0x0400
	OHCI_CTX_IR_STRIDE = 0x0020

	// ContextMatch register of IR context n sits at its base+0x10
	OHCI_CTX_IR_MATCH_OFFSET = 0x0010

	OHCI_CTX_CTRL_CLEAR_OFFSET = 0x0004
	OHCI_CTX_CMD_PTR_OFFSET    = 0x000C
)

// number of isochronous contexts the register map can address per direction
const OHCI_ISO_CTX_MAX = 32

// ContextControl register bits, common to all DMA contexts.
const (
	OHCI_CTXCTRL_RUN    = 0x00008000
	OHCI_CTXCTRL_DEAD   = 0x00000800
	OHCI_CTXCTRL_WAKE   = 0x00000400
	OHCI_CTXCTRL_ACTIVE = 0x00000200

	OHCI_CTXCTRL_EVENT_MASK = 0x0000001F
	OHCI_CTXCTRL_SPEED_MASK = 0x000000E0
)

// IT ContextControl cycle match fields.
const (
	OHCI_IT_CYCLE_MATCH_ENABLE = 1 << 29
	OHCI_IT_CYCLE_MATCH_SHIFT  = 16
	OHCI_IT_CYCLE_MATCH_MASK   = 0x1FFF0000
)

// IR ContextControl mode bits.
const (
	OHCI_IR_BUFFER_FILL   = 1 << 31
	OHCI_IR_ISOCH_HEADER  = 1 << 30
	OHCI_IR_CYCLE_MATCH   = 1 << 29
	OHCI_IR_MULTI_CHANNEL = 1 << 28
	OHCI_IR_DUAL_BUFFER   = 1 << 27
)

// IntEvent/IntMask register bits.
const (
	OHCI_INT_REQ_TX_COMPLETE    = 0x00000001
	OHCI_INT_RESP_TX_COMPLETE   = 0x00000002
	OHCI_INT_ARRQ               = 0x00000004
	OHCI_INT_ARRS               = 0x00000008
	OHCI_INT_RQ_PKT             = 0x00000010
	OHCI_INT_RS_PKT             = 0x00000020
	OHCI_INT_ISOCH_TX           = 0x00000040
	OHCI_INT_ISOCH_RX           = 0x00000080
	OHCI_INT_POSTED_WRITE_ERR   = 0x00000100
	OHCI_INT_SELFID_COMPLETE    = 0x00010000
	OHCI_INT_BUS_RESET          = 0x00020000
	OHCI_INT_CYCLE_SYNCH        = 0x00100000
	OHCI_INT_CYCLE_64_SECONDS   = 0x00200000
	OHCI_INT_CYCLE_LOST         = 0x00400000
	OHCI_INT_CYCLE_INCONSISTENT = 0x00800000
	OHCI_INT_UNRECOVERABLE_ERR  = 0x01000000
	OHCI_INT_CYCLE_TOO_LONG     = 0x02000000
	OHCI_INT_MASTER_ENABLE      = 0x80000000
)

// HCControl register bits.
const (
	OHCI_HCCTRL_SOFT_RESET      = 0x00010000
	OHCI_HCCTRL_LINK_ENABLE     = 0x00020000
	OHCI_HCCTRL_POSTED_WRITE_EN = 0x00040000
	OHCI_HCCTRL_LPS             = 0x00080000
)

// LinkControl register bits.
const (
	OHCI_LINKCTRL_RCV_SELFID   = 1 << 9
	OHCI_LINKCTRL_RCV_PHY_PKT  = 1 << 10
	OHCI_LINKCTRL_CYCLE_TIMER  = 1 << 20
	OHCI_LINKCTRL_CYCLE_MASTER = 1 << 21
)

// NodeID register fields.
const (
	OHCI_NODE_ID_VALID     = 0x80000000
	OHCI_NODE_ID_ROOT      = 0x40000000
	OHCI_NODE_ID_BUS_MASK  = 0x0000FFC0
	OHCI_NODE_ID_NODE_MASK = 0x0000003F
)

// SelfIDCount register fields.
const (
	OHCI_SELFID_CNT_ERROR      = 0x80000000
	OHCI_SELFID_CNT_GEN_MASK   = 0x00FF0000
	OHCI_SELFID_CNT_GEN_SHIFT  = 16
	OHCI_SELFID_CNT_SIZE_MASK  = 0x000007FC
	OHCI_SELFID_CNT_SIZE_SHIFT = 2
)

// Descriptor command codes (quadlet 0 bits 31:28).
const (
	DESC_CMD_OUTPUT_MORE = 0x0
	DESC_CMD_OUTPUT_LAST = 0x1
	DESC_CMD_INPUT_MORE  = 0x2
	DESC_CMD_INPUT_LAST  = 0x3
)

// Descriptor key codes (quadlet 0 bits 27:25).
const (
	DESC_KEY_STANDARD  = 0x0
	DESC_KEY_IMMEDIATE = 0x2
)

// Descriptor interrupt control codes (quadlet 0 bits 23:22).
const (
	DESC_INT_NEVER  = 0x0
	DESC_INT_ERROR  = 0x1
	DESC_INT_ALWAYS = 0x3
)

// Descriptor branch control codes (quadlet 0 bits 21:20).
const (
	DESC_BRANCH_NEVER  = 0x0
	DESC_BRANCH_ALWAYS = 0x3
)

// Context event codes (ContextControl / xferStatus bits 4:0).
const (
	EVT_NO_STATUS       = 0x00
	EVT_MISSING_ACK     = 0x03
	EVT_UNDERRUN        = 0x04
	EVT_OVERRUN         = 0x05
	EVT_DESCRIPTOR_READ = 0x06
	EVT_DATA_READ       = 0x07
	EVT_DATA_WRITE      = 0x08
	EVT_BUS_RESET       = 0x09
	EVT_TIMEOUT         = 0x0A
	EVT_TCODE_ERR       = 0x0B
	EVT_UNKNOWN         = 0x0E
	EVT_FLUSHED         = 0x0F
	ACK_COMPLETE        = 0x11
	ACK_PENDING         = 0x12
	ACK_BUSY_X          = 0x14
	ACK_BUSY_A          = 0x15
	ACK_BUSY_B          = 0x16
	ACK_TARDY           = 0x1B
	ACK_DATA_ERROR      = 0x1D
	ACK_TYPE_ERROR      = 0x1E
)

// Descriptor geometry.
const (
	DESC_SIZE      = 16 // bytes per descriptor slot
	DESC_ALIGN     = 16
	DESC_BLOCK_MIN = 2  // smallest hardware block (immediate header)
	DESC_BLOCK_MAX = 8  // largest Z-encodable transmit block
	DESC_Z_MAX     = 15 // CommandPtr Z field width
	DUAL_BUF_SIZE  = 32 // bytes per IR dual-buffer descriptor

	AT_HEADER_SIZE_MIN = 8  // quadlet read request header
	AT_HEADER_SIZE_MAX = 16 // block write header
)

// Descriptor pool geometry.
const (
	POOL_REGION_SIZE = 4096             // one page per grow step
	POOL_SIZE_MAX    = 16 * 1024 * 1024 // total arena cap
)

// Self-ID quadlet fields (IEEE 1394-2008 alpha format).
const (
	SELFID_TAG_MASK       = 0xC0000000
	SELFID_TAG_SELFID     = 0x80000000
	SELFID_PHY_MASK       = 0x3F000000
	SELFID_PHY_SHIFT      = 24
	SELFID_EXTENDED       = 0x00800000
	SELFID_LINK_ACTIVE    = 0x00400000
	SELFID_GAP_MASK       = 0x003F8000
	SELFID_GAP_SHIFT      = 16
	SELFID_SPEED_MASK     = 0x0000C000
	SELFID_SPEED_SHIFT    = 14
	SELFID_DELAY          = 0x00001000
	SELFID_CONTENDER      = 0x00000800
	SELFID_POWER_MASK     = 0x00000700
	SELFID_POWER_SHIFT    = 8
	SELFID_P0_MASK        = 0x000000C0
	SELFID_P0_SHIFT       = 6
	SELFID_P1_MASK        = 0x00000030
	SELFID_P1_SHIFT       = 4
	SELFID_P2_MASK        = 0x0000000C
	SELFID_P2_SHIFT       = 2
	SELFID_INITIATED      = 0x00000002
	SELFID_MORE           = 0x00000001
	SELFID_EXT_PORT_CODES = 10 // port codes carried per extended quadlet
	SELFID_PORTS_MAX      = 16
	SELFID_GEN_MASK       = 0x00FF0000
	SELFID_GEN_SHIFT      = 16
)

// Self-ID port codes (2-bit pX fields).
const (
	SELFID_PORT_NOT_PRESENT = 0
	SELFID_PORT_NOT_ACTIVE  = 1
	SELFID_PORT_PARENT      = 2
	SELFID_PORT_CHILD       = 3
)

// isochronous cycle numbering wraps at 8000 cycles (one bus second)
const ISO_CYCLES_PER_SECOND = 8000

// Timing bounds of the context register protocol.
const (
	CTX_STOP_POLL_INTERVAL_MS = 1
	CTX_STOP_TIMEOUT_MS       = 100
	CTX_WAKE_SETTLE_MS        = 1
)

// Policy defaults.
const (
	AT_MAX_OUTSTANDING_DEFAULT = 8
	AT_DRAIN_LIMIT             = 16
	IT_INFLIGHT_MAX            = 16
	IR_REFILL_THRESHOLD_PCT    = 25
)
