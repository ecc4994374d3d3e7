package substrate

import (
	"context"
	"sync"
	"time"
)

// WallClockScheduler schedules callbacks against the real system clock. It
// is the substrate used by cmd/atp-sim's "run" subcommand, as opposed to the
// SimNet scheduler used by tests and "bench".
type WallClockScheduler struct {
	ctx context.Context
}

// NewWallClockScheduler returns a Scheduler whose timers are cancelled
// automatically when ctx is done, mirroring the way the protocol's
// application-stop procedure atomically cancels sendEvent, timeoutEvent and
// statsEvent.
func NewWallClockScheduler(ctx context.Context) *WallClockScheduler {
	return &WallClockScheduler{ctx: ctx}
}

type wallTimer struct {
	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
}

func (t *wallTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.cancel != nil {
		t.cancel()
	}
}

func (s *WallClockScheduler) After(d time.Duration, fn func()) Timer {
	ctx, cancel := context.WithCancel(s.ctx)
	wt := &wallTimer{cancel: cancel}
	wt.timer = time.AfterFunc(d, func() {
		if ctx.Err() != nil {
			return
		}
		fn()
	})
	go func() {
		<-ctx.Done()
		wt.mu.Lock()
		if wt.timer != nil {
			wt.timer.Stop()
		}
		wt.mu.Unlock()
	}()
	return wt
}
