package worker

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"github.com/atptransport/atp/pkg/atp/seqnum"
	"github.com/atptransport/atp/pkg/atp/substrate"
	"github.com/atptransport/atp/pkg/atp/trace"
	"github.com/atptransport/atp/pkg/atp/txbuffer"
	"github.com/atptransport/atp/pkg/atp/wire"
)

// handleDatagram is the Transport receive callback: every inbound datagram
// at a worker is an ACK.
func (w *Worker) handleDatagram(ctx context.Context, dg substrate.Datagram) {
	h := dg.Packet.Header
	if !h.IsAck {
		dlog.Warnf(ctx, "worker %d: ignoring non-ACK datagram from %s", w.cfg.WorkerID, dg.Peer)
		return
	}

	w.mu.Lock()
	w.rxBytes += uint64(wire.HeaderSize) + uint64(len(dg.Packet.Payload))
	seq := seqnum.Num(h.SeqNum)
	result, _ := w.buf.RecordAck(seq)
	if result == txbuffer.AckDuplicate {
		w.mu.Unlock()
		dlog.Debugf(ctx, "worker %d: duplicate/stale ACK seq=%d", w.cfg.WorkerID, seq)
		return
	}

	var toResend *txbuffer.Entry
	switch result {
	case txbuffer.AckInOrder:
		w.consecutiveOod = 0
	case txbuffer.AckOutOfOrder:
		w.consecutiveOod++
		if w.consecutiveOod >= w.cfg.FastRetransmitThreshold {
			if front, ok := w.buf.Front(); ok && front.Retransmission < w.cfg.MaxRetransmissions {
				e := w.resendLocked(0)
				toResend = &e
				w.consecutiveOod = 0
			}
		}
	}

	newWindow := w.cc.OnAck(h.Ecn)
	inflight := w.buf.Inflight()
	available := int(newWindow) - inflight
	var fresh []txbuffer.Entry
	var posStart, posEnd uint64
	if available > 0 {
		posStart = w.buf.WindowShift() + uint64(w.buf.Len())
		fresh = w.allocateLocked(available)
		if len(fresh) > 0 {
			posEnd = posStart + uint64(len(fresh)) - 1
		}
	}
	done := w.nextFragment >= w.cfg.totalFragments() && w.buf.Empty()
	w.mu.Unlock()

	w.sink.WindowSize(trace.WindowSample{Window: newWindow, Ecn: h.Ecn})

	if toResend != nil {
		w.transmit(ctx, *toResend)
	}
	for _, e := range fresh {
		w.transmit(ctx, e)
	}
	if len(fresh) > 0 {
		w.armTimeout(ctx, posStart, posEnd)
	}
	if done {
		w.finish()
	}
}
