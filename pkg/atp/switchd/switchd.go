// Package switchd wires an aggregator.Engine to a substrate.Transport: it
// is the switch process's receive loop, promoted out of what started as a
// test-only helper once the same wiring was needed by cmd/atp-sim.
package switchd

import (
	"context"
	"sync"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/atptransport/atp/pkg/atp/aggregator"
	"github.com/atptransport/atp/pkg/atp/substrate"
	"github.com/atptransport/atp/pkg/atp/trace"
)

// Config parameterizes a Switch.
type Config struct {
	CoordinatorAddr substrate.Addr
}

// Switch relays packets between workers and the coordinator through an
// aggregator.Engine, reflecting the coordinator's ACKs back out to every
// registered worker.
type Switch struct {
	cfg       Config
	engine    *aggregator.Engine
	transport substrate.Transport
	sink      trace.Sink

	mu      sync.Mutex
	rxBytes uint64
}

// New returns a Switch relaying through engine over transport.
func New(cfg Config, engine *aggregator.Engine, transport substrate.Transport, sink trace.Sink) *Switch {
	if sink == nil {
		sink = trace.Discard
	}
	return &Switch{cfg: cfg, engine: engine, transport: transport, sink: sink}
}

// Run wires the receive callback and blocks until ctx is cancelled.
func (s *Switch) Run(ctx context.Context) error {
	ctx = dgroup.WithGoroutineName(ctx, "/switch")
	s.transport.OnReceive(func(dg substrate.Datagram) {
		s.handleDatagram(ctx, dg)
	})
	<-ctx.Done()
	return nil
}

func (s *Switch) handleDatagram(ctx context.Context, dg substrate.Datagram) {
	s.mu.Lock()
	s.rxBytes += uint64(len(dg.Packet.Payload))
	s.mu.Unlock()

	if dg.Packet.Header.IsAck {
		recipients := s.engine.ReflectAck(ctx, dg.Packet)
		for _, recipient := range recipients {
			if err := s.transport.Send(ctx, recipient, dg.Packet); err != nil {
				dlog.Errorf(ctx, "switch: ack reflect to %s: %v", recipient, err)
			}
		}
		return
	}

	out, outcome, err := s.engine.Ingress(ctx, dg.Packet)
	if err != nil {
		dlog.Warnf(ctx, "switch: ingress from %s: %v", dg.Peer, err)
		return
	}
	if outcome == aggregator.Drop {
		return
	}
	if err := s.transport.Send(ctx, s.cfg.CoordinatorAddr, out); err != nil {
		dlog.Errorf(ctx, "switch: forward to coordinator: %v", err)
	}
}
