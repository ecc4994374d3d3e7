package worker

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"github.com/atptransport/atp/pkg/atp/trace"
	"github.com/atptransport/atp/pkg/atp/txbuffer"
)

// armTimeout schedules a timeout covering absolute buffer positions
// [posStart, posEnd]. The range survives intervening retirements because
// txbuffer.Buffer.At translates absolute positions through windowShift.
func (w *Worker) armTimeout(ctx context.Context, posStart, posEnd uint64) {
	w.mu.Lock()
	if w.timeoutTimer != nil {
		w.timeoutTimer.Cancel()
	}
	w.timeoutTimer = w.scheduler.After(w.cfg.Timeout, func() {
		w.fireTimeout(ctx, posStart, posEnd)
	})
	w.mu.Unlock()
}

// fireTimeout resends every still-pending entry in [posStart, posEnd] and
// rearms itself for the same range. Entries already retired or already
// ACKed (but not yet retired, e.g. an out-of-order ACK) are skipped, so a
// range that is entirely ACKed sends zero packets. Entries that have
// already been retransmitted MaxRetransmissions times are skipped as well.
func (w *Worker) fireTimeout(ctx context.Context, posStart, posEnd uint64) {
	w.mu.Lock()
	var resent []txbuffer.Entry
	for pos := posStart; pos <= posEnd; pos++ {
		e, idx, ok := w.buf.At(pos)
		if !ok || e.IsAcked || e.Retransmission >= w.cfg.MaxRetransmissions {
			continue
		}
		resent = append(resent, w.resendLocked(idx))
	}
	done := w.nextFragment >= w.cfg.totalFragments() && w.buf.Empty()
	w.mu.Unlock()

	for _, e := range resent {
		w.transmit(ctx, e)
	}
	if len(resent) > 0 {
		dlog.Debugf(ctx, "worker %d: timeout resent %d packets in range [%d,%d]", w.cfg.WorkerID, len(resent), posStart, posEnd)
	}

	if done {
		w.finish()
		return
	}
	w.armTimeout(ctx, posStart, posEnd)
}

// armStats schedules the self-rescheduling throughput trace tick.
func (w *Worker) armStats(ctx context.Context) {
	w.mu.Lock()
	w.statsTimer = w.scheduler.After(w.cfg.StatsInterval, func() {
		w.fireStats(ctx)
	})
	w.mu.Unlock()
}

func (w *Worker) fireStats(ctx context.Context) {
	w.mu.Lock()
	txDelta := w.txBytes - w.statsTxBytes
	rxDelta := w.rxBytes - w.statsRxBytes
	w.statsTxBytes = w.txBytes
	w.statsRxBytes = w.rxBytes
	done := w.nextFragment >= w.cfg.totalFragments() && w.buf.Empty()
	w.mu.Unlock()

	intervalSeconds := w.cfg.StatsInterval.Seconds()
	var txGbps, rxGbps float64
	if intervalSeconds > 0 {
		txGbps = float64(txDelta*8) / intervalSeconds / 1e9
		rxGbps = float64(rxDelta*8) / intervalSeconds / 1e9
	}
	w.sink.Throughput(trace.ThroughputSample{TxGbps: txGbps, RxGbps: rxGbps})

	if done {
		return
	}
	w.armStats(ctx)
}
