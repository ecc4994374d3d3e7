// Package worker implements the sender side of the protocol: a sliding
// window reliable datagram transport with AIMD congestion control, fast
// retransmit on consecutive out-of-order ACKs, and timeout-driven
// retransmission.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/atptransport/atp/pkg/atp/atperr"
	"github.com/atptransport/atp/pkg/atp/congestion"
	"github.com/atptransport/atp/pkg/atp/seqnum"
	"github.com/atptransport/atp/pkg/atp/slotmap"
	"github.com/atptransport/atp/pkg/atp/substrate"
	"github.com/atptransport/atp/pkg/atp/trace"
	"github.com/atptransport/atp/pkg/atp/txbuffer"
	"github.com/atptransport/atp/pkg/atp/wire"
)

// Config parameterizes a Worker. The enumerated effects mirror the
// protocol's worker-transport parameter table.
type Config struct {
	WorkerID uint8  // this worker's bit position in the contribution bitmap
	AppID    uint16 // identity used to build the slot-selection hash table
	JobID    uint32

	TotalSize   uint64 // payload bytes to deliver
	PayloadSize uint32 // P4ML_DATA_SIZE: fixed fragment size

	UsedAGTRSize       uint32 // number of slots this application cycles through
	AggregatorCapacity uint16 // CAPACITY: physical slot table size at the switch
	FanInDegree        uint8  // participating workers for this job

	InitialWindowSize       uint32
	Timeout                 time.Duration
	FastRetransmitThreshold uint16
	MaxRetransmissions      uint8
	StatsInterval           time.Duration

	Congestion congestion.Params
}

// totalFragments returns ceil(TotalSize / PayloadSize).
func (c Config) totalFragments() uint64 {
	if c.PayloadSize == 0 {
		atperr.Fatalf("worker: PayloadSize must be > 0")
	}
	return (c.TotalSize + uint64(c.PayloadSize) - 1) / uint64(c.PayloadSize)
}

// Worker is one sender participating in a single job's all-reduce.
type Worker struct {
	cfg            Config
	transport      substrate.Transport
	scheduler      substrate.Scheduler
	aggregatorAddr substrate.Addr
	slots          *slotmap.Map
	sink           trace.Sink

	mu             sync.Mutex
	cc             *congestion.Controller
	buf            *txbuffer.Buffer
	nextSeq        seqnum.Num
	nextFragment   uint64 // index of the next fragment not yet assigned a sequence number
	consecutiveOod uint16
	timeoutTimer   substrate.Timer
	statsTimer     substrate.Timer
	txBytes        uint64
	rxBytes        uint64
	statsTxBytes   uint64 // byte counts as of the previous stats tick
	statsRxBytes   uint64

	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Worker and its immutable slot-selection table. It does not
// start sending; call Run to begin the startup procedure and block until
// the transfer completes or ctx is cancelled.
func New(cfg Config, transport substrate.Transport, scheduler substrate.Scheduler, aggregatorAddr substrate.Addr, sink trace.Sink) (*Worker, error) {
	slots, err := slotmap.Build(cfg.AppID, cfg.UsedAGTRSize, cfg.AggregatorCapacity)
	if err != nil {
		return nil, fmt.Errorf("worker: building slot map: %w", err)
	}
	if sink == nil {
		sink = trace.Discard
	}
	return &Worker{
		cfg:            cfg,
		transport:      transport,
		scheduler:      scheduler,
		aggregatorAddr: aggregatorAddr,
		slots:          slots,
		sink:           sink,
		cc:             congestion.New(cfg.Congestion, cfg.InitialWindowSize),
		buf:            txbuffer.New(),
		done:           make(chan struct{}),
	}, nil
}

// Run executes the startup procedure, wires the receive callback, and
// blocks until the transfer finishes or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ctx = dgroup.WithGoroutineName(ctx, fmt.Sprintf("/worker-%d", w.cfg.WorkerID))
	w.transport.OnReceive(func(dg substrate.Datagram) {
		w.handleDatagram(ctx, dg)
	})

	wg := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	wg.Go("startup", func(ctx context.Context) error {
		w.start(ctx)
		return nil
	})
	wg.Go("lifecycle", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			tx, rx := w.Stats()
			dlog.Infof(ctx, "worker %d done: tx=%d bytes rx=%d bytes", w.cfg.WorkerID, tx, rx)
			return nil
		}
	})
	if w.cfg.StatsInterval > 0 {
		w.armStats(ctx)
	}
	err := wg.Wait()
	w.stop()
	return err
}

// stop cancels outstanding timers. It is idempotent.
func (w *Worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeoutTimer != nil {
		w.timeoutTimer.Cancel()
		w.timeoutTimer = nil
	}
	if w.statsTimer != nil {
		w.statsTimer.Cancel()
		w.statsTimer = nil
	}
}

// finish signals Run to return once the transfer is complete. Safe to call
// more than once.
func (w *Worker) finish() {
	w.closeOnce.Do(func() { close(w.done) })
}

// Stats returns the cumulative bytes sent and received so far, the Go
// analogue of the original application's totalTx/totalRx counters logged
// at StopApplication.
func (w *Worker) Stats() (txBytes, rxBytes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.txBytes, w.rxBytes
}
