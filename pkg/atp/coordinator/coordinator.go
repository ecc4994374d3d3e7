// Package coordinator implements the server side of the protocol: it
// terminates the stream of aggregated packets forwarded by the switch,
// always ACKs (so the aggregator can free the completed slot), and tracks
// per-job delivery order.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/atptransport/atp/pkg/atp/seqnum"
	"github.com/atptransport/atp/pkg/atp/substrate"
	"github.com/atptransport/atp/pkg/atp/trace"
	"github.com/atptransport/atp/pkg/atp/wire"
)

// Config parameterizes an Assembler.
type Config struct {
	StatsInterval time.Duration
}

// jobState is the per-job bookkeeping the assembler owns.
type jobState struct {
	nextExpected seqnum.Num
	outOfOrder   map[seqnum.Num]struct{}
	delivered    uint64
}

// Assembler reconstructs the logical gradient stream in sequence order
// from the (possibly reordered) aggregated replies the switch forwards.
type Assembler struct {
	cfg            Config
	transport      substrate.Transport
	scheduler      substrate.Scheduler
	aggregatorAddr substrate.Addr
	sink           trace.Sink

	mu           sync.Mutex
	jobs         map[uint32]*jobState
	rxBytes      uint64
	statsRxBytes uint64
	statsTimer   substrate.Timer
}

// New returns an Assembler bound to transport, sending its always-ACK
// replies to aggregatorAddr.
func New(cfg Config, transport substrate.Transport, scheduler substrate.Scheduler, aggregatorAddr substrate.Addr, sink trace.Sink) *Assembler {
	if sink == nil {
		sink = trace.Discard
	}
	return &Assembler{
		cfg:            cfg,
		transport:      transport,
		scheduler:      scheduler,
		aggregatorAddr: aggregatorAddr,
		sink:           sink,
		jobs:           make(map[uint32]*jobState),
	}
}

// Run wires the receive callback and the throughput stats loop, and blocks
// until ctx is cancelled.
func (a *Assembler) Run(ctx context.Context) error {
	ctx = dgroup.WithGoroutineName(ctx, "/coordinator")
	a.transport.OnReceive(func(dg substrate.Datagram) {
		a.handleDatagram(ctx, dg)
	})
	if a.cfg.StatsInterval > 0 {
		a.armStats(ctx)
	}
	<-ctx.Done()
	a.mu.Lock()
	if a.statsTimer != nil {
		a.statsTimer.Cancel()
	}
	a.mu.Unlock()
	return nil
}

// handleDatagram processes one packet forwarded by the switch. Only a
// completed aggregation (isAck set) or an overflow-bypassed packet is a
// deliverable unit the coordinator advances its cursor and ACKs for; a
// plain forwarded packet (first arrival still awaiting fan-in, or a
// collision-flagged retry) reaches the coordinator as ordinary forwarded
// traffic but is not yet a delivery and gets no reply, so the switch never
// frees a slot before its epoch is actually done.
func (a *Assembler) handleDatagram(ctx context.Context, dg substrate.Datagram) {
	h := dg.Packet.Header
	if !h.IsAck && !h.Overflow {
		dlog.Debugf(ctx, "coordinator: received non-deliverable forward from %s, seq=%d", dg.Peer, h.SeqNum)
		return
	}

	a.mu.Lock()
	a.rxBytes += uint64(wire.HeaderSize) + uint64(len(dg.Packet.Payload))
	job := a.jobs[h.JobID]
	if job == nil {
		job = &jobState{outOfOrder: make(map[seqnum.Num]struct{})}
		a.jobs[h.JobID] = job
	}
	seq := seqnum.Num(h.SeqNum)
	switch {
	case seq == job.nextExpected:
		job.delivered++
		job.nextExpected = seqnum.Add(job.nextExpected, 1)
		for {
			if _, pending := job.outOfOrder[job.nextExpected]; !pending {
				break
			}
			delete(job.outOfOrder, job.nextExpected)
			job.delivered++
			job.nextExpected = seqnum.Add(job.nextExpected, 1)
		}
	case seqnum.Less(job.nextExpected, seq):
		job.outOfOrder[seq] = struct{}{}
	default:
		// behind nextExpected: duplicate, no state change.
	}
	a.mu.Unlock()

	ackHeader := h
	ackHeader.IsAck = true
	ack := wire.Packet{Header: ackHeader, Payload: nil}
	if err := a.transport.Send(ctx, a.aggregatorAddr, ack); err != nil {
		dlog.Errorf(ctx, "coordinator: ack send for job=%d seq=%d: %v", h.JobID, h.SeqNum, err)
	}
}

// Delivered reports the count of in-order-delivered fragments for a job,
// used by scenario tests to assert on P3/P5/P6-adjacent behavior.
func (a *Assembler) Delivered(jobID uint32) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	job := a.jobs[jobID]
	if job == nil {
		return 0
	}
	return job.delivered
}
