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
// Controller toplevel. Creates and owns the DMA contexts over one OHCI
// register space, demultiplexes interrupt events to them and orchestrates
// the bus reset sequence. A new controller struct is created by calling the
// ControllerCreate() function.

package goohci1394

import (
	"math/bits"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Config carries the controller's tunables. Zero values select defaults.
type Config struct {
	ARRingBuffers int // receive buffers per AR context (default 8)
	ARBufferSize  int // bytes per AR receive buffer (default 2048)
	MaxITContexts int // cap on isochronous transmit contexts, 0 probes the hardware
	MaxIRContexts int // cap on isochronous receive contexts, 0 probes the hardware
	CycleMaster   bool
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.ARRingBuffers == 0 {
		c.ARRingBuffers = 8
	}
	if c.ARBufferSize == 0 {
		c.ARBufferSize = 2048
	}
}

// Controller is the toplevel struct owning all DMA contexts of one OHCI
// host controller function.
type Controller struct {
	regs  RegisterSpace
	alloc DMAAllocator

	txPool  *DescriptorPool
	isoPool *DescriptorPool

	atRequest  *ATContext
	atResponse *ATContext
	arRequest  *ARContext
	arResponse *ARContext
	its        []*ITContext
	irs        []*IRContext

	selfID *SelfIDManager

	// true between the bus reset interrupt and self-ID completion
	inReset bool

	syncPoll sync.WaitGroup
	stopPoll chan bool
}

// ControllerCreate creates a controller over an already opened register
// space and DMA allocator. The hardware must implement OHCI 1.x.
func ControllerCreate(regs RegisterSpace, alloc DMAAllocator, cfg Config) (*Controller, error) {
	if regs == nil || alloc == nil {
		return nil, errors.Wrap(ErrBadArgument, "nil register space or allocator")
	}
	cfg.applyDefaults()

	c := &Controller{regs: regs, alloc: alloc}

	// make sure we are talking to an OHCI 1.x register file
	version := regs.Read32(OHCI_REG_VERSION)
	if major := version >> 16 & 0xFF; major != 1 {
		return nil, errors.Wrapf(ErrUnsupported, "OHCI version %d.%d", major, version&0xFF)
	}
	Log(LOG_INFO, "controller: OHCI version %d.%d", version>>16&0xFF, version&0xFF)

	var err error
	if c.txPool, err = NewDescriptorPool(alloc); err != nil {
		return nil, err
	}
	if c.isoPool, err = NewDescriptorPool(alloc); err != nil {
		return nil, err
	}

	if c.atRequest, err = NewATContext(regs, c.txPool, ATRequest); err != nil {
		return nil, err
	}
	if c.atResponse, err = NewATContext(regs, c.txPool, ATResponse); err != nil {
		return nil, err
	}

	reqRing, err := NewARRing(alloc, cfg.ARRingBuffers, cfg.ARBufferSize)
	if err != nil {
		return nil, err
	}
	if c.arRequest, err = NewARContext(regs, reqRing, ATRequest); err != nil {
		return nil, err
	}
	rspRing, err := NewARRing(alloc, cfg.ARRingBuffers, cfg.ARBufferSize)
	if err != nil {
		return nil, err
	}
	if c.arResponse, err = NewARContext(regs, rspRing, ATResponse); err != nil {
		return nil, err
	}

	// probe how many isochronous contexts the implementation carries
	nIT := c.probeIsoContexts(OHCI_REG_IT_MASK_S, OHCI_REG_IT_MASK_C)
	nIR := c.probeIsoContexts(OHCI_REG_IR_MASK_S, OHCI_REG_IR_MASK_C)
	if cfg.MaxITContexts > 0 && cfg.MaxITContexts < nIT {
		nIT = cfg.MaxITContexts
	}
	if cfg.MaxIRContexts > 0 && cfg.MaxIRContexts < nIR {
		nIR = cfg.MaxIRContexts
	}
	Log(LOG_INFO, "controller: %d IT / %d IR context(s)", nIT, nIR)

	for i := 0; i < nIT; i++ {
		itc, err := NewITContext(regs, c.isoPool, i)
		if err != nil {
			return nil, err
		}
		c.its = append(c.its, itc)
	}
	for i := 0; i < nIR; i++ {
		irc, err := NewIRContext(regs, c.isoPool, i)
		if err != nil {
			return nil, err
		}
		c.irs = append(c.irs, irc)
	}

	if c.selfID, err = NewSelfIDManager(regs, alloc); err != nil {
		return nil, err
	}

	return c, nil
}

// probeIsoContexts counts the implemented contexts behind an iso interrupt
// mask register pair: implemented mask bits read back after writing ones.
func (c *Controller) probeIsoContexts(setOff, clearOff uint32) int {
	c.regs.Write32(setOff, 0xFFFFFFFF)
	implemented := c.regs.Read32(setOff)
	c.regs.Write32(clearOff, 0xFFFFFFFF)
	return bits.OnesCount32(implemented)
}

// ATRequestContext returns the asynchronous request transmit context.
func (c *Controller) ATRequestContext() *ATContext { return c.atRequest }

// ATResponseContext returns the asynchronous response transmit context.
func (c *Controller) ATResponseContext() *ATContext { return c.atResponse }

// ARRequestContext returns the asynchronous request receive context.
func (c *Controller) ARRequestContext() *ARContext { return c.arRequest }

// ARResponseContext returns the asynchronous response receive context.
func (c *Controller) ARResponseContext() *ARContext { return c.arResponse }

// ITContext returns isochronous transmit context i.
func (c *Controller) ITContext(i int) *ITContext {
	if i < 0 || i >= len(c.its) {
		return nil
	}
	return c.its[i]
}

// IRContext returns isochronous receive context i.
func (c *Controller) IRContext(i int) *IRContext {
	if i < 0 || i >= len(c.irs) {
		return nil
	}
	return c.irs[i]
}

// SelfIDManager returns the self-ID capture manager.
func (c *Controller) SelfIDManager() *SelfIDManager { return c.selfID }

// TransmitPool returns the descriptor pool shared by the AT contexts.
func (c *Controller) TransmitPool() *DescriptorPool { return c.txPool }

// IsoPool returns the descriptor pool shared by the IT and IR contexts.
func (c *Controller) IsoPool() *DescriptorPool { return c.isoPool }

// Start enables the link, arms the receive contexts and unmasks the
// interrupt events this controller handles.
func (c *Controller) Start(cfg Config) error {
	cfg.applyDefaults()

	link := uint32(OHCI_LINKCTRL_RCV_SELFID | OHCI_LINKCTRL_CYCLE_TIMER)
	if cfg.CycleMaster {
		link |= OHCI_LINKCTRL_CYCLE_MASTER
	}
	c.regs.Write32(OHCI_REG_LINKCTRL_S, link)
	c.regs.Write32(OHCI_REG_HCCTRL_SET, OHCI_HCCTRL_LINK_ENABLE)

	c.selfID.Start()

	var g errgroup.Group
	g.Go(c.arRequest.Start)
	g.Go(c.arResponse.Start)
	if err := g.Wait(); err != nil {
		return err
	}

	c.regs.Write32(OHCI_REG_INT_MASK_S,
		OHCI_INT_REQ_TX_COMPLETE|OHCI_INT_RESP_TX_COMPLETE|
			OHCI_INT_RQ_PKT|OHCI_INT_RS_PKT|
			OHCI_INT_ISOCH_TX|OHCI_INT_ISOCH_RX|
			OHCI_INT_SELFID_COMPLETE|OHCI_INT_BUS_RESET|
			OHCI_INT_CYCLE_LOST|OHCI_INT_CYCLE_INCONSISTENT|
			OHCI_INT_UNRECOVERABLE_ERR|
			OHCI_INT_MASTER_ENABLE)
	return nil
}

// StopAll stops every context concurrently and masks the interrupts.
func (c *Controller) StopAll() error {
	c.regs.Write32(OHCI_REG_INT_MASK_C, 0xFFFFFFFF)

	var g errgroup.Group
	g.Go(c.atRequest.Stop)
	g.Go(c.atResponse.Stop)
	g.Go(c.arRequest.Stop)
	g.Go(c.arResponse.Stop)
	for _, itc := range c.its {
		g.Go(itc.Stop)
	}
	for _, irc := range c.irs {
		g.Go(irc.Stop)
	}
	err := g.Wait()

	c.selfID.Stop()
	return err
}

// Close stops everything and releases the DMA memory. The register space is
// owned by the caller and stays open.
func (c *Controller) Close() {
	c.StopPolling()
	if err := c.StopAll(); err != nil {
		Log(LOG_WARN, "controller: stop: %v", err)
	}
	c.selfID.Close()
	c.arRequest.Ring().Close()
	c.arResponse.Ring().Close()
	c.txPool.Close()
	c.isoPool.Close()
}

// HandleInterrupt reads and clears the pending interrupt events and
// dispatches them. Call it from the platform's interrupt or polling path.
func (c *Controller) HandleInterrupt() {
	events := c.regs.Read32(OHCI_REG_INT_EVENT)
	if events == 0 {
		return
	}
	c.regs.Write32(OHCI_REG_INT_CLEAR, events&^uint32(OHCI_INT_MASTER_ENABLE))

	if events&OHCI_INT_BUS_RESET != 0 {
		c.handleBusResetBegin()
	}
	if events&OHCI_INT_SELFID_COMPLETE != 0 {
		c.handleSelfIDComplete()
	}

	if events&OHCI_INT_REQ_TX_COMPLETE != 0 {
		c.atRequest.OnInterruptTxComplete()
	}
	if events&OHCI_INT_RESP_TX_COMPLETE != 0 {
		c.atResponse.OnInterruptTxComplete()
	}
	if events&(OHCI_INT_RQ_PKT|OHCI_INT_ARRQ) != 0 {
		c.arRequest.HandleInterrupt()
	}
	if events&(OHCI_INT_RS_PKT|OHCI_INT_ARRS) != 0 {
		c.arResponse.HandleInterrupt()
	}

	if events&OHCI_INT_ISOCH_TX != 0 {
		c.dispatchIsoTx()
	}
	if events&OHCI_INT_ISOCH_RX != 0 {
		c.dispatchIsoRx()
	}

	if events&(OHCI_INT_CYCLE_INCONSISTENT|OHCI_INT_CYCLE_LOST) != 0 {
		for _, itc := range c.its {
			itc.OnCycleInconsistent()
		}
	}
	if events&OHCI_INT_UNRECOVERABLE_ERR != 0 {
		c.recoverDeadContexts()
	}
}

// dispatchIsoTx fans the per-context iso transmit events out.
func (c *Controller) dispatchIsoTx() {
	pending := c.regs.Read32(OHCI_REG_IT_EVENT_S)
	c.regs.Write32(OHCI_REG_IT_EVENT_C, pending)
	for i := 0; i < len(c.its) && pending != 0; i++ {
		if pending&(1<<uint(i)) != 0 {
			c.its[i].HandleInterrupt()
		}
	}
}

// dispatchIsoRx fans the per-context iso receive events out.
func (c *Controller) dispatchIsoRx() {
	pending := c.regs.Read32(OHCI_REG_IR_EVENT_S)
	c.regs.Write32(OHCI_REG_IR_EVENT_C, pending)
	for i := 0; i < len(c.irs) && pending != 0; i++ {
		if pending&(1<<uint(i)) != 0 {
			c.irs[i].HandleInterrupt()
		}
	}
}

// handleBusResetBegin quiesces every context at the start of a bus reset.
func (c *Controller) handleBusResetBegin() {
	if c.inReset {
		return
	}
	c.inReset = true
	metricBusResets.Inc()
	Log(LOG_INFO, "controller: bus reset")

	c.atRequest.OnBusResetBegin()
	c.atResponse.OnBusResetBegin()
	c.arRequest.OnBusResetBegin()
	c.arResponse.OnBusResetBegin()
	for _, itc := range c.its {
		itc.OnBusResetBegin()
	}
	for _, irc := range c.irs {
		irc.OnBusResetBegin()
	}
}

// handleSelfIDComplete finishes the reset phase: the self-ID snapshot is
// queued for decoding and the receive paths re-arm for the new generation.
func (c *Controller) handleSelfIDComplete() {
	metricSelfIDPhases.Inc()
	c.selfID.OnSelfIDComplete()

	if !c.inReset {
		return
	}
	c.inReset = false

	c.arRequest.OnBusResetEnd()
	c.arResponse.OnBusResetEnd()
	for _, itc := range c.its {
		itc.OnBusResetEnd()
	}
	for _, irc := range c.irs {
		irc.OnBusResetEnd()
	}
}

// recoverDeadContexts walks all contexts and recovers the ones whose dead
// bit is set.
func (c *Controller) recoverDeadContexts() {
	tryRecover := func(cb interface {
		IsDead() bool
		RecoverDead() error
		Name() string
	}) {
		if !cb.IsDead() {
			return
		}
		if err := cb.RecoverDead(); err != nil {
			Log(LOG_WARN, "controller: %s: %v", cb.Name(), err)
		}
	}

	tryRecover(c.atRequest)
	tryRecover(c.atResponse)
	tryRecover(c.arRequest)
	tryRecover(c.arResponse)
	for _, itc := range c.its {
		tryRecover(itc)
	}
	for _, irc := range c.irs {
		tryRecover(irc)
	}
}

// StartPolling runs HandleInterrupt periodically from a background
// goroutine, for platforms without interrupt delivery to user space.
func (c *Controller) StartPolling(period time.Duration) {
	if c.stopPoll != nil {
		return
	}
	c.stopPoll = make(chan bool)
	c.syncPoll.Add(1)

	go func() {
		defer c.syncPoll.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopPoll:
				return
			case <-ticker.C:
				c.HandleInterrupt()
			}
		}
	}()
}

// StopPolling terminates the polling goroutine.
func (c *Controller) StopPolling() {
	if c.stopPoll == nil {
		return
	}
	close(c.stopPoll)
	c.syncPoll.Wait()
	c.stopPoll = nil
}
