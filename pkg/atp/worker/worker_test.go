package worker

import (
	"context"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atptransport/atp/pkg/atp/aggregator"
	"github.com/atptransport/atp/pkg/atp/congestion"
	"github.com/atptransport/atp/pkg/atp/coordinator"
	"github.com/atptransport/atp/pkg/atp/substrate"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return dlog.WithLogger(ctx, dlog.WrapTB(t, false))
}

// wireSwitch attaches a relay on aggregatorTransport that drives engine and
// forwards every non-dropped outcome to coordinatorAddr, and routes
// returning coordinator ACKs through engine.ReflectAck for multicast.
func wireSwitch(ctx context.Context, engine *aggregator.Engine, aggregatorTransport substrate.Transport, coordinatorAddr substrate.Addr) {
	aggregatorTransport.OnReceive(func(dg substrate.Datagram) {
		if dg.Packet.Header.IsAck {
			for _, recipient := range engine.ReflectAck(ctx, dg.Packet) {
				_ = aggregatorTransport.Send(ctx, recipient, dg.Packet)
			}
			return
		}
		out, outcome, err := engine.Ingress(ctx, dg.Packet)
		if err != nil || outcome == aggregator.Drop {
			return
		}
		_ = aggregatorTransport.Send(ctx, coordinatorAddr, out)
	})
}

func defaultConfig(workerID uint8, totalSize uint64) Config {
	return Config{
		WorkerID:                workerID,
		AppID:                   1,
		JobID:                   42,
		TotalSize:               totalSize,
		PayloadSize:             256,
		UsedAGTRSize:            8,
		AggregatorCapacity:      16,
		FanInDegree:             1,
		InitialWindowSize:       4,
		Timeout:                 200 * time.Millisecond,
		FastRetransmitThreshold: 3,
		MaxRetransmissions:      5,
		StatsInterval:           0,
		Congestion:              congestion.DefaultParams,
	}
}

func TestWorkerSingleWorkerLosslessDelivery(t *testing.T) {
	ctx := testContext(t)
	net := substrate.NewSimNet(ctx, 0, time.Millisecond, 1)

	workerTransport := net.NewTransport(substrate.Addr("worker:0"))
	aggregatorTransport := net.NewTransport(substrate.Addr("aggregator:0"))
	coordinatorTransport := net.NewTransport(substrate.Addr("coordinator:0"))

	engine := aggregator.NewEngine(aggregator.Config{Capacity: 16, MaxSlotRetries: 3})
	engine.AddWorkerIP(workerTransport.LocalAddr())
	wireSwitch(ctx, engine, aggregatorTransport, coordinatorTransport.LocalAddr())

	asm := coordinator.New(coordinator.Config{}, coordinatorTransport, net.Scheduler(), aggregatorTransport.LocalAddr(), nil)
	go asm.Run(ctx)

	cfg := defaultConfig(0, 1024) // 4 fragments of 256 bytes
	w, err := New(cfg, workerTransport, net.Scheduler(), aggregatorTransport.LocalAddr(), nil)
	require.NoError(t, err)

	err = w.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), asm.Delivered(42))
	assert.Equal(t, uint64(0), net.Dropped())
}

func TestWorkerSmallWindowRequiresMultipleRounds(t *testing.T) {
	ctx := testContext(t)
	net := substrate.NewSimNet(ctx, 0, time.Millisecond, 2)

	workerTransport := net.NewTransport(substrate.Addr("worker:0"))
	aggregatorTransport := net.NewTransport(substrate.Addr("aggregator:0"))
	coordinatorTransport := net.NewTransport(substrate.Addr("coordinator:0"))

	engine := aggregator.NewEngine(aggregator.Config{Capacity: 16, MaxSlotRetries: 3})
	engine.AddWorkerIP(workerTransport.LocalAddr())
	wireSwitch(ctx, engine, aggregatorTransport, coordinatorTransport.LocalAddr())

	asm := coordinator.New(coordinator.Config{}, coordinatorTransport, net.Scheduler(), aggregatorTransport.LocalAddr(), nil)
	go asm.Run(ctx)

	cfg := defaultConfig(0, 2048) // 8 fragments
	cfg.InitialWindowSize = 1
	cfg.Congestion = congestion.Params{Alpha: 4, Beta: 0.5, Min: 1, Max: 64}
	w, err := New(cfg, workerTransport, net.Scheduler(), aggregatorTransport.LocalAddr(), nil)
	require.NoError(t, err)

	require.NoError(t, w.Run(ctx))
	assert.Equal(t, uint64(8), asm.Delivered(42))
}

func TestWorkerRecoversFromLossViaTimeout(t *testing.T) {
	ctx := testContext(t)
	net := substrate.NewSimNet(ctx, 0.3, time.Millisecond, 3)

	workerTransport := net.NewTransport(substrate.Addr("worker:0"))
	aggregatorTransport := net.NewTransport(substrate.Addr("aggregator:0"))
	coordinatorTransport := net.NewTransport(substrate.Addr("coordinator:0"))

	engine := aggregator.NewEngine(aggregator.Config{Capacity: 16, MaxSlotRetries: 3})
	engine.AddWorkerIP(workerTransport.LocalAddr())
	wireSwitch(ctx, engine, aggregatorTransport, coordinatorTransport.LocalAddr())

	asm := coordinator.New(coordinator.Config{}, coordinatorTransport, net.Scheduler(), aggregatorTransport.LocalAddr(), nil)
	go asm.Run(ctx)

	cfg := defaultConfig(0, 1536) // 6 fragments
	cfg.InitialWindowSize = 6
	cfg.Timeout = 30 * time.Millisecond
	w, err := New(cfg, workerTransport, net.Scheduler(), aggregatorTransport.LocalAddr(), nil)
	require.NoError(t, err)

	require.NoError(t, w.Run(ctx))
	assert.Equal(t, uint64(6), asm.Delivered(42))
}
