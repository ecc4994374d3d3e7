package substrate

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/datawire/dlib/dlog"

	"github.com/atptransport/atp/pkg/atp/wire"
)

// SimNet is an in-memory, deterministic-given-a-seed network used by tests
// and by "atp-sim bench" to drive the end-to-end scenarios without needing
// real sockets. It models the same two knobs the original ns-3 simulation
// exercised: a uniform per-packet loss rate on the link, and a fixed
// propagation latency. math/rand is used for the loss model because the
// ecosystem stack in this retrieval pack offers no deterministic-PRNG
// library and this is exactly the standard library's job.
type SimNet struct {
	mu       sync.Mutex
	peers    map[Addr]*SimTransport
	lossRate float64
	latency  time.Duration
	rng      *rand.Rand
	dropped  uint64
	ctx      context.Context
	runID    string
}

// NewSimNet returns a SimNet with the given uniform loss rate (0..1),
// fixed latency, and PRNG seed. It is tagged with a fresh run id so that
// trace output and logs from the same "atp-sim bench" invocation can be
// correlated across the switch, coordinator, and every worker transport it
// creates.
func NewSimNet(ctx context.Context, lossRate float64, latency time.Duration, seed int64) *SimNet {
	runID := uuid.NewString()
	dlog.Infof(ctx, "substrate: starting SimNet run_id=%s lossRate=%v latency=%v seed=%d", runID, lossRate, latency, seed)
	return &SimNet{
		ctx:      ctx,
		peers:    make(map[Addr]*SimTransport),
		lossRate: lossRate,
		latency:  latency,
		rng:      rand.New(rand.NewSource(seed)),
		runID:    runID,
	}
}

// RunID returns the correlation id generated for this SimNet instance.
func (n *SimNet) RunID() string {
	return n.runID
}

// Dropped returns the count of packets the loss model has discarded so
// far, the SimNet analogue of the original simulation's total_dropped
// counter.
func (n *SimNet) Dropped() uint64 {
	return atomic.LoadUint64(&n.dropped)
}

// NewTransport registers and returns a Transport bound to addr.
func (n *SimNet) NewTransport(addr Addr) *SimTransport {
	t := &SimTransport{net: n, addr: addr}
	n.mu.Lock()
	n.peers[addr] = t
	n.mu.Unlock()
	return t
}

func (n *SimNet) shouldDrop() bool {
	if n.lossRate <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rng.Float64() < n.lossRate
}

// SimTransport is one peer's handle on a SimNet.
type SimTransport struct {
	net  *SimNet
	addr Addr
	recv ReceiveFunc
}

func (t *SimTransport) LocalAddr() Addr {
	return t.addr
}

func (t *SimTransport) OnReceive(fn ReceiveFunc) {
	t.recv = fn
}

func (t *SimTransport) Close() error {
	t.net.mu.Lock()
	delete(t.net.peers, t.addr)
	t.net.mu.Unlock()
	return nil
}

func (t *SimTransport) Send(ctx context.Context, dst Addr, pkt wire.Packet) error {
	if t.net.shouldDrop() {
		atomic.AddUint64(&t.net.dropped, 1)
		return nil
	}
	t.net.mu.Lock()
	peer, ok := t.net.peers[dst]
	t.net.mu.Unlock()
	if !ok {
		return nil
	}
	dg := Datagram{Peer: t.addr, Packet: pkt}
	time.AfterFunc(t.net.latency, func() {
		if t.net.ctx.Err() != nil {
			return
		}
		if peer.recv != nil {
			peer.recv(dg)
		}
	})
	return nil
}

// Scheduler returns a Scheduler sharing this SimNet's lifetime context, for
// components that need the substrate's timer primitive alongside its
// datagram primitive.
func (n *SimNet) Scheduler() Scheduler {
	return NewWallClockScheduler(n.ctx)
}
