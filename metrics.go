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
// Prometheus instrumentation. Registration is optional; the counters work
// unregistered for applications that do not scrape.

package goohci1394

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricTxRetired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ohci1394_tx_programs_retired_total",
		Help: "Transmit programs retired, by context and event code class.",
	}, []string{"context", "result"})

	metricRxPackets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ohci1394_rx_packets_total",
		Help: "Asynchronous receive slots delivered, by context.",
	}, []string{"context"})

	metricRxBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ohci1394_rx_bytes_total",
		Help: "Asynchronous receive bytes delivered, by context.",
	}, []string{"context"})

	metricIROverruns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ohci1394_ir_overruns_total",
		Help: "Isochronous receive programs completed with an overrun.",
	}, []string{"context"})

	metricBusResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ohci1394_bus_resets_total",
		Help: "Bus reset interrupts handled.",
	})

	metricSelfIDPhases = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ohci1394_selfid_phases_total",
		Help: "Self-ID phases captured and decoded.",
	})
)

// RegisterMetrics registers all collectors of this package with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		metricTxRetired, metricRxPackets, metricRxBytes,
		metricIROverruns, metricBusResets, metricSelfIDPhases,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// txResultLabel buckets a transmit event code for the retired counter.
func txResultLabel(evt uint8) string {
	switch evt {
	case ACK_COMPLETE, ACK_PENDING:
		return "ok"
	case EVT_FLUSHED:
		return "flushed"
	default:
		return "error"
	}
}
