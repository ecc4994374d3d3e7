package switchd

import (
	"context"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atptransport/atp/pkg/atp/aggregator"
	"github.com/atptransport/atp/pkg/atp/substrate"
	"github.com/atptransport/atp/pkg/atp/wire"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return dlog.WithLogger(ctx, dlog.WrapTB(t, false))
}

func TestSwitchForwardsFirstArrivalToCoordinator(t *testing.T) {
	ctx := testContext(t)
	net := substrate.NewSimNet(ctx, 0, time.Millisecond, 1)

	switchTransport := net.NewTransport("switch")
	coordinatorTransport := net.NewTransport("coordinator")
	workerTransport := net.NewTransport("worker-0")

	engine := aggregator.NewEngine(aggregator.Config{Capacity: 4, MaxSlotRetries: 2})
	engine.AddWorkerIP(workerTransport.LocalAddr())
	sw := New(Config{CoordinatorAddr: coordinatorTransport.LocalAddr()}, engine, switchTransport, nil)

	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go sw.Run(runCtx)

	delivered := make(chan wire.Packet, 1)
	coordinatorTransport.OnReceive(func(dg substrate.Datagram) {
		delivered <- dg.Packet
	})

	pkt := wire.Packet{Header: wire.Header{
		Bitmap: 1, FanInDegree: 1, JobID: 7, SeqNum: 1, AggregatorIndex: 0,
	}}
	require.NoError(t, workerTransport.Send(ctx, switchTransport.LocalAddr(), pkt))

	select {
	case got := <-delivered:
		assert.True(t, got.Header.IsAck, "single-worker epoch completes and is forwarded as an ACK")
		assert.Equal(t, uint32(7), got.Header.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the coordinator to receive the completed epoch")
	}
}

func TestSwitchReflectsAckToRegisteredWorkers(t *testing.T) {
	ctx := testContext(t)
	net := substrate.NewSimNet(ctx, 0, time.Millisecond, 1)

	switchTransport := net.NewTransport("switch")
	coordinatorTransport := net.NewTransport("coordinator")
	workerTransport := net.NewTransport("worker-0")

	engine := aggregator.NewEngine(aggregator.Config{Capacity: 4, MaxSlotRetries: 2})
	engine.AddWorkerIP(workerTransport.LocalAddr())
	sw := New(Config{CoordinatorAddr: coordinatorTransport.LocalAddr()}, engine, switchTransport, nil)

	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go sw.Run(runCtx)

	// Occupy the slot directly via the engine so ReflectAck has a match.
	_, _, err := engine.Ingress(ctx, wire.Packet{Header: wire.Header{
		Bitmap: 1, FanInDegree: 2, JobID: 9, SeqNum: 3, AggregatorIndex: 1,
	}})
	require.NoError(t, err)

	received := make(chan wire.Packet, 1)
	workerTransport.OnReceive(func(dg substrate.Datagram) {
		received <- dg.Packet
	})

	ack := wire.Packet{Header: wire.Header{
		IsAck: true, JobID: 9, SeqNum: 3, AggregatorIndex: 1,
	}}
	require.NoError(t, coordinatorTransport.Send(ctx, switchTransport.LocalAddr(), ack))

	select {
	case got := <-received:
		assert.True(t, got.Header.IsAck)
		assert.Equal(t, uint32(9), got.Header.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the worker to receive the reflected ack")
	}
}
