package coordinator

import (
	"context"

	"github.com/atptransport/atp/pkg/atp/trace"
)

// armStats schedules the self-rescheduling throughput trace tick, cancelled
// once on Run's ctx.Done (see Run).
func (a *Assembler) armStats(ctx context.Context) {
	a.mu.Lock()
	a.statsTimer = a.scheduler.After(a.cfg.StatsInterval, func() {
		a.fireStats(ctx)
	})
	a.mu.Unlock()
}

func (a *Assembler) fireStats(ctx context.Context) {
	a.mu.Lock()
	delta := a.rxBytes - a.statsRxBytes
	a.statsRxBytes = a.rxBytes
	a.mu.Unlock()

	intervalSeconds := a.cfg.StatsInterval.Seconds()
	var rxGbps float64
	if intervalSeconds > 0 {
		rxGbps = float64(delta*8) / intervalSeconds / 1e9
	}
	a.sink.Throughput(trace.ThroughputSample{RxGbps: rxGbps})

	if ctx.Err() != nil {
		return
	}
	a.armStats(ctx)
}
