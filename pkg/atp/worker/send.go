package worker

import (
	"context"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/atptransport/atp/pkg/atp/atperr"
	"github.com/atptransport/atp/pkg/atp/seqnum"
	"github.com/atptransport/atp/pkg/atp/txbuffer"
	"github.com/atptransport/atp/pkg/atp/wire"
)

// start issues the initial burst and arms the first timeout. It runs once,
// before any ACKs have been received.
func (w *Worker) start(ctx context.Context) {
	w.mu.Lock()
	total := w.cfg.totalFragments()
	burst := uint64(w.cfg.InitialWindowSize)
	if burst > total {
		burst = total
	}
	posStart := w.buf.WindowShift() + uint64(w.buf.Len())
	entries := w.allocateLocked(int(burst))
	posEnd := posStart + uint64(len(entries)) - 1
	w.mu.Unlock()

	for _, e := range entries {
		w.transmit(ctx, e)
	}
	if len(entries) > 0 {
		w.armTimeout(ctx, posStart, posEnd)
	} else {
		w.finish()
	}
}

// allocateLocked assigns up to n fresh sequence numbers, pushes their
// entries onto the buffer, and returns them for transmission. Caller must
// hold w.mu.
func (w *Worker) allocateLocked(n int) []txbuffer.Entry {
	entries := make([]txbuffer.Entry, 0, n)
	for i := 0; i < n && w.nextFragment < w.cfg.totalFragments(); i++ {
		seq := w.nextSeq
		w.nextSeq = seqnum.Add(w.nextSeq, 1)
		w.nextFragment++
		e := txbuffer.Entry{
			Bitmap:          1 << w.cfg.WorkerID,
			AggregatorIndex: w.slots.Slot(uint32(seq) % w.cfg.UsedAGTRSize),
			FanInDegree:     w.cfg.FanInDegree,
			SeqNum:          seq,
			JobID:           w.cfg.JobID,
			SentAt:          time.Now(),
		}
		w.buf.PushBack(e)
		entries = append(entries, e)
	}
	return entries
}

// transmit sends an entry over the substrate, fresh or retransmitted; the
// Resend bit is set when the entry's retransmission count is non-zero.
func (w *Worker) transmit(ctx context.Context, e txbuffer.Entry) {
	pkt := wire.Packet{
		Header: wire.Header{
			Bitmap:          e.Bitmap,
			FanInDegree:     e.FanInDegree,
			Resend:          e.Retransmission > 0,
			AggregatorIndex: e.AggregatorIndex,
			JobID:           e.JobID,
			SeqNum:          uint32(e.SeqNum),
		},
		Payload: make([]byte, w.cfg.PayloadSize),
	}
	if err := w.transport.Send(ctx, w.aggregatorAddr, pkt); err != nil {
		dlog.Errorf(ctx, "worker %d: send seq %d: %v", w.cfg.WorkerID, e.SeqNum, atperr.Wrap(atperr.Transient, err, "substrate send"))
		return
	}
	w.mu.Lock()
	w.txBytes += uint64(wire.HeaderSize) + uint64(len(pkt.Payload))
	w.mu.Unlock()
}

// resendLocked marks the entry at buffer index idx as retransmitted and
// returns it for transmission. Caller must hold w.mu.
func (w *Worker) resendLocked(idx int) txbuffer.Entry {
	return w.buf.MarkEntryResent(idx, time.Now())
}
