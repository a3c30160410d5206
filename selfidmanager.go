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
// Self-ID capture manager. Owns the DMA buffer the controller fills after
// every bus reset, snapshots it on the self-ID-complete interrupt and defers
// decoding and topology building to a worker goroutine so the interrupt
// path stays short. Snapshots whose generation changed mid-copy are
// discarded; the next reset delivers a fresh one.

package goohci1394

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// self-ID DMA buffer size, enough for 63 PHYs with extended packets
const selfIDBufferSize = 2048

// TopologyFunc receives the freshly built topology of a completed self-ID
// phase together with the raw decode result.
type TopologyFunc func(topo *Topology, decoded SelfIDResult)

type selfIDSnapshot struct {
	generation uint8
	quadlets   []uint32
}

// SelfIDManager captures and decodes self-ID phases.
type SelfIDManager struct {
	regs   RegisterSpace
	alloc  DMAAllocator
	buffer DMARegion

	topo       Topology
	onTopology TopologyFunc

	snapshots chan selfIDSnapshot
	stop      chan bool
	syncWork  sync.WaitGroup
}

// NewSelfIDManager allocates the self-ID buffer and points the controller
// at it.
func NewSelfIDManager(regs RegisterSpace, alloc DMAAllocator) (*SelfIDManager, error) {
	if regs == nil || alloc == nil {
		return nil, errors.Wrap(ErrBadArgument, "nil register space or allocator")
	}

	buf, err := alloc.AllocRegion(selfIDBufferSize)
	if err != nil {
		return nil, errors.Wrap(err, "self-ID buffer")
	}

	m := &SelfIDManager{
		regs:      regs,
		alloc:     alloc,
		buffer:    buf,
		snapshots: make(chan selfIDSnapshot, 4),
	}
	regs.Write32(OHCI_REG_SELFID_BUF, buf.PhysAddr)
	return m, nil
}

// SetTopologyHandler installs the callback invoked from the worker after a
// snapshot has been decoded.
func (m *SelfIDManager) SetTopologyHandler(fn TopologyFunc) {
	m.onTopology = fn
}

// Topology returns the manager's topology instance.
func (m *SelfIDManager) Topology() *Topology { return &m.topo }

// Start launches the decode worker.
func (m *SelfIDManager) Start() {
	if m.stop != nil {
		return
	}
	m.stop = make(chan bool)
	m.syncWork.Add(1)
	go m.work()
}

// Stop terminates the decode worker and waits for it to drain.
func (m *SelfIDManager) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	m.syncWork.Wait()
	m.stop = nil
}

// Close stops the worker and releases the DMA buffer.
func (m *SelfIDManager) Close() {
	m.Stop()
	if m.buffer.Bytes != nil {
		m.alloc.FreeRegion(m.buffer)
		m.buffer = DMARegion{}
	}
}

// OnSelfIDComplete snapshots the buffer. Runs on the interrupt path and
// never blocks: a full snapshot queue drops the oldest pending snapshot.
func (m *SelfIDManager) OnSelfIDComplete() {
	count := m.regs.Read32(OHCI_REG_SELFID_CNT)
	if count&OHCI_SELFID_CNT_ERROR != 0 {
		Log(LOG_WARN, "self-ID: controller flagged a receive error, discarding phase")
		return
	}

	generation := uint8(count & OHCI_SELFID_CNT_GEN_MASK >> OHCI_SELFID_CNT_GEN_SHIFT)
	size := int(count & OHCI_SELFID_CNT_SIZE_MASK >> OHCI_SELFID_CNT_SIZE_SHIFT)
	if size == 0 || size*4 > len(m.buffer.Bytes) {
		Log(LOG_WARN, "self-ID: implausible size %d quadlet(s), discarding phase", size)
		return
	}

	consumeFence()
	quads := make([]uint32, size)
	for i := range quads {
		quads[i] = binary.LittleEndian.Uint32(m.buffer.Bytes[i*4 : i*4+4])
	}

	// a reset storm can overwrite the buffer mid-copy; the generation field
	// tells us whether the copy is from a single phase
	after := m.regs.Read32(OHCI_REG_SELFID_CNT)
	if g := uint8(after & OHCI_SELFID_CNT_GEN_MASK >> OHCI_SELFID_CNT_GEN_SHIFT); g != generation {
		Log(LOG_WARN, "self-ID: generation moved %d -> %d during snapshot, discarding", generation, g)
		return
	}

	snap := selfIDSnapshot{generation: generation, quadlets: quads}
	for {
		select {
		case m.snapshots <- snap:
			return
		default:
			// queue full, drop the oldest snapshot; only the newest
			// generation matters
			select {
			case <-m.snapshots:
			default:
			}
		}
	}
}

// work decodes snapshots until stopped.
func (m *SelfIDManager) work() {
	defer m.syncWork.Done()
	for {
		select {
		case <-m.stop:
			return
		case snap := <-m.snapshots:
			m.process(snap)
		}
	}
}

// process decodes one snapshot and rebuilds the topology.
func (m *SelfIDManager) process(snap selfIDSnapshot) {
	decoded := DecodeSelfIDs(snap.quadlets)
	if !decoded.IntegrityOK {
		Log(LOG_WARN, "self-ID: integrity check failed (%d warning(s))", len(decoded.Warnings))
	}
	for _, w := range decoded.Warnings {
		Log(LOG_DEBUG, "self-ID: %s", w)
	}

	m.topo.BeginCycle(decoded.Generation)
	for _, n := range decoded.Nodes {
		m.topo.AddOrUpdateNode(n)
	}
	m.topo.Finalize()

	Log(LOG_INFO, "self-ID: generation %d, %d node(s), consistent=%v",
		decoded.Generation, m.topo.NodeCount(), m.topo.IsConsistent())

	if m.onTopology != nil {
		m.onTopology(&m.topo, decoded)
	}
}
