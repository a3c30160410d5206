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
// Self-ID buffer decoder. After a bus reset the controller DMAs the self-ID
// packets of every PHY into the self-ID buffer: a header quadlet carrying
// the generation, then per packet a data quadlet followed by its bitwise
// inverse. Decoding is pure and deterministic; damaged buffers degrade to
// integrityOk=false rather than failing.

package goohci1394

import "fmt"

// SelfIDNode is the decoded self-ID information of one PHY.
type SelfIDNode struct {
	PhyID      uint8
	LinkActive bool
	GapCount   uint8
	Speed      uint8
	Delay      bool
	Contender  bool
	PowerClass uint8
	Initiated  bool
	More       bool

	// Ports holds one 2-bit code per port in PHY port order, base packet
	// ports first, then extended packet ports, capped at 16.
	Ports []uint8
}

// ParentPorts counts the node's ports connected toward the root.
func (n *SelfIDNode) ParentPorts() int {
	c := 0
	for _, p := range n.Ports {
		if p == SELFID_PORT_PARENT {
			c++
		}
	}
	return c
}

// ChildPorts counts the node's ports connected away from the root.
func (n *SelfIDNode) ChildPorts() int {
	c := 0
	for _, p := range n.Ports {
		if p == SELFID_PORT_CHILD {
			c++
		}
	}
	return c
}

// SelfIDResult is the outcome of decoding one self-ID buffer snapshot.
type SelfIDResult struct {
	Generation uint8
	Nodes      []SelfIDNode

	// IntegrityOK clears when an inverse-check quadlet did not match. The
	// decoded nodes are still returned; the caller decides whether to trust
	// them.
	IntegrityOK bool
	Warnings    []string
}

// DecodeSelfIDs decodes a self-ID buffer snapshot. quadlets[0] is the header
// quadlet written by the controller; the packets follow.
func DecodeSelfIDs(quadlets []uint32) SelfIDResult {
	res := SelfIDResult{IntegrityOK: true}
	if len(quadlets) == 0 {
		res.IntegrityOK = false
		res.Warnings = append(res.Warnings, "empty self-ID buffer")
		return res
	}

	res.Generation = uint8(quadlets[0] >> SELFID_GEN_SHIFT)

	i := 1
	for i < len(quadlets) {
		q := quadlets[i]
		if q&SELFID_TAG_MASK != SELFID_TAG_SELFID {
			// not a self-ID quadlet; the controller pads the tail
			i++
			continue
		}

		// every data quadlet is followed by its bitwise inverse. When the
		// inverse is damaged or missing, only the data quadlet is consumed so
		// that the quadlet after it is still examined by tag.
		if i+1 < len(quadlets) && quadlets[i+1] == ^q {
			i += 2
		} else {
			res.IntegrityOK = false
			if i+1 < len(quadlets) {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("quadlet %d: inverse check failed (0x%08x / 0x%08x)", i, q, quadlets[i+1]))
			} else {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("quadlet %d: missing inverse quadlet", i))
			}
			i++
		}

		if q&SELFID_EXTENDED == 0 {
			res.Nodes = append(res.Nodes, decodeBasePacket(q))
			continue
		}

		phy := uint8(q & SELFID_PHY_MASK >> SELFID_PHY_SHIFT)
		if n := findNodeByPhy(res.Nodes, phy); n != nil {
			appendExtendedPorts(n, q)
		} else {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("extended packet for phy %d without base packet", phy))
		}
	}
	return res
}

// findNodeByPhy returns the most recent decoded node with the given phy id.
func findNodeByPhy(nodes []SelfIDNode, phy uint8) *SelfIDNode {
	for i := len(nodes) - 1; i >= 0; i-- {
		if nodes[i].PhyID == phy {
			return &nodes[i]
		}
	}
	return nil
}

// decodeBasePacket decodes a self-ID packet #0.
func decodeBasePacket(q uint32) SelfIDNode {
	n := SelfIDNode{
		PhyID:      uint8(q & SELFID_PHY_MASK >> SELFID_PHY_SHIFT),
		LinkActive: q&SELFID_LINK_ACTIVE != 0,
		GapCount:   uint8(q & SELFID_GAP_MASK >> SELFID_GAP_SHIFT),
		Speed:      uint8(q & SELFID_SPEED_MASK >> SELFID_SPEED_SHIFT),
		Delay:      q&SELFID_DELAY != 0,
		Contender:  q&SELFID_CONTENDER != 0,
		PowerClass: uint8(q & SELFID_POWER_MASK >> SELFID_POWER_SHIFT),
		Initiated:  q&SELFID_INITIATED != 0,
		More:       q&SELFID_MORE != 0,
	}
	n.Ports = []uint8{
		uint8(q & SELFID_P0_MASK >> SELFID_P0_SHIFT),
		uint8(q & SELFID_P1_MASK >> SELFID_P1_SHIFT),
		uint8(q & SELFID_P2_MASK >> SELFID_P2_SHIFT),
	}
	return n
}

// appendExtendedPorts adds the ten 2-bit port codes of an extended packet to
// the node, up to the port cap.
func appendExtendedPorts(n *SelfIDNode, q uint32) {
	payload := q & 0xFFFFF
	for i := 0; i < SELFID_EXT_PORT_CODES; i++ {
		if len(n.Ports) >= SELFID_PORTS_MAX {
			return
		}
		shift := uint(2 * (SELFID_EXT_PORT_CODES - 1 - i))
		n.Ports = append(n.Ports, uint8(payload>>shift&0x3))
	}
}
