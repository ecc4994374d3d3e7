// Package aggregator implements the switch-resident aggregation engine: a
// bounded array of slots, the first-matching-row decision table that
// governs first-arrival, accumulation, completion, collision and overflow,
// and ACK reflection/multicast back to the registered workers.
package aggregator

import (
	"context"
	"fmt"
	"sync"

	"github.com/datawire/dlib/dlog"

	"github.com/atptransport/atp/pkg/atp/substrate"
	"github.com/atptransport/atp/pkg/atp/wire"
)

// Outcome classifies what the engine decided to do with an ingress packet.
type Outcome int

const (
	// Forward means the (possibly bit-rewritten) packet should continue
	// upstream toward the coordinator unchanged in aggregation state.
	Forward Outcome = iota
	// Drop means the packet carried no new information and should be
	// discarded.
	Drop
	// Complete means the packet returned is the single aggregated
	// reply for a just-finished epoch, bound for the coordinator.
	Complete
)

// Config configures an Engine.
type Config struct {
	Capacity       uint16
	MaxSlotRetries uint8
}

// Engine is the switch-resident aggregation table. It is the sole
// cross-worker shared state in the protocol; every packet addressing a
// given slot is processed under that slot's own lock, so it is safe for
// concurrent ingress from many worker-facing goroutines without a single
// global lock serializing unrelated slots (the striped-locking alternative
// the protocol's concurrency model calls for in a parallel-threaded
// implementation).
type Engine struct {
	cfg   Config
	locks []sync.Mutex
	slots []Slot

	mu        sync.Mutex
	workerIPs []substrate.Addr
}

// NewEngine returns an Engine with the given slot capacity and collision
// retry budget.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:   cfg,
		locks: make([]sync.Mutex, cfg.Capacity),
		slots: make([]Slot, cfg.Capacity),
	}
}

// AddWorkerIP registers a participant address for ACK multicast.
func (e *Engine) AddWorkerIP(addr substrate.Addr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workerIPs = append(e.workerIPs, addr)
}

// Ingress applies the decision table to a non-ACK data packet addressed at
// pkt.Header.AggregatorIndex and returns the (possibly rewritten) packet
// along with the decided Outcome.
func (e *Engine) Ingress(ctx context.Context, pkt wire.Packet) (wire.Packet, Outcome, error) {
	idx := pkt.Header.AggregatorIndex
	if int(idx) >= len(e.slots) {
		return pkt, Drop, fmt.Errorf("aggregator: index %d out of range [0,%d)", idx, len(e.slots))
	}
	e.locks[idx].Lock()
	defer e.locks[idx].Unlock()
	slot := &e.slots[idx]
	h := pkt.Header

	switch {
	case !slot.Occupied:
		*slot = Slot{
			Occupied:    true,
			Bitmap:      h.Bitmap,
			SeqNum:      h.SeqNum,
			JobID:       h.JobID,
			FanInDegree: h.FanInDegree,
			Retries:     0,
		}
		dlog.Debugf(ctx, "[Occupy] slot=%d job=%d seq=%d fanIn=%d", idx, h.JobID, h.SeqNum, h.FanInDegree)
		if slot.Complete() {
			// The single-worker degenerate case: fanInDegree == 1 means
			// first arrival already satisfies the epoch, so it completes
			// immediately instead of waiting on a row-3 accumulation that
			// will never come.
			ack := pkt
			ack.Header.IsAck = true
			ack.Header.Bitmap = slot.Bitmap
			ack.Header.SeqNum = slot.SeqNum
			dlog.Debugf(ctx, "[Complete] slot=%d job=%d seq=%d bitmap=%#x (first arrival)", idx, h.JobID, h.SeqNum, slot.Bitmap)
			return ack, Complete, nil
		}
		return pkt, Forward, nil

	case slot.sameEpoch(h.JobID, h.SeqNum) && slot.Bitmap&h.Bitmap != 0:
		dlog.Debugf(ctx, "[DupContribution] slot=%d job=%d seq=%d", idx, h.JobID, h.SeqNum)
		return pkt, Drop, nil

	case slot.sameEpoch(h.JobID, h.SeqNum) && slot.Bitmap&h.Bitmap == 0:
		slot.Bitmap |= h.Bitmap
		if slot.Complete() {
			ack := pkt
			ack.Header.IsAck = true
			ack.Header.Bitmap = slot.Bitmap
			ack.Header.SeqNum = slot.SeqNum
			dlog.Debugf(ctx, "[Complete] slot=%d job=%d seq=%d bitmap=%#x", idx, h.JobID, h.SeqNum, slot.Bitmap)
			return ack, Complete, nil
		}
		return pkt, Drop, nil

	case slot.Retries < e.cfg.MaxSlotRetries:
		slot.Retries++
		out := pkt
		out.Header.Collision = true
		dlog.Debugf(ctx, "[Collision] slot=%d occupiedJob=%d occupiedSeq=%d pktJob=%d pktSeq=%d retries=%d",
			idx, slot.JobID, slot.SeqNum, h.JobID, h.SeqNum, slot.Retries)
		return out, Forward, nil

	default:
		*slot = Slot{}
		out := pkt
		out.Header.Overflow = true
		dlog.Debugf(ctx, "[Overflow] slot=%d evicted, pkt job=%d seq=%d bypasses aggregation", idx, h.JobID, h.SeqNum)
		return out, Forward, nil
	}
}

// ReflectAck handles an ACK travelling back from the coordinator through
// the switch: it multicasts the ACK to every registered worker address and
// frees the slot. recipients is empty if the ACK did not match an occupied
// slot (stale or duplicate ACK), in which case nothing is freed.
func (e *Engine) ReflectAck(ctx context.Context, pkt wire.Packet) []substrate.Addr {
	idx := pkt.Header.AggregatorIndex
	if int(idx) >= len(e.slots) {
		return nil
	}
	e.locks[idx].Lock()
	slot := &e.slots[idx]
	matched := slot.Occupied && slot.sameEpoch(pkt.Header.JobID, pkt.Header.SeqNum)
	if matched {
		*slot = Slot{}
	}
	e.locks[idx].Unlock()
	if !matched {
		dlog.Debugf(ctx, "[StaleAck] slot=%d job=%d seq=%d ignored", idx, pkt.Header.JobID, pkt.Header.SeqNum)
		return nil
	}

	e.mu.Lock()
	recipients := make([]substrate.Addr, len(e.workerIPs))
	copy(recipients, e.workerIPs)
	e.mu.Unlock()
	dlog.Debugf(ctx, "[AckMulticast] slot=%d job=%d seq=%d recipients=%d", idx, pkt.Header.JobID, pkt.Header.SeqNum, len(recipients))
	return recipients
}

// Capacity returns the slot table size.
func (e *Engine) Capacity() uint16 {
	return e.cfg.Capacity
}
