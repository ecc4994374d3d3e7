package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"

	"github.com/atptransport/atp/pkg/atp/substrate"
	"github.com/atptransport/atp/pkg/atp/wire"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return dlog.WithLogger(context.Background(), dlog.WrapTB(t, false))
}

func ackPkt(job, seq uint32, overflow bool) wire.Packet {
	return wire.Packet{Header: wire.Header{
		JobID:    job,
		SeqNum:   seq,
		IsAck:    !overflow,
		Overflow: overflow,
		Bitmap:   0x1,
	}}
}

func newTestAssembler(ctx context.Context) (*Assembler, *substrate.SimNet, substrate.Addr) {
	net := substrate.NewSimNet(ctx, 0, time.Millisecond, 7)
	coordinatorTransport := net.NewTransport(substrate.Addr("coordinator:0"))
	switchAddr := substrate.Addr("switch:0")
	asm := New(Config{}, coordinatorTransport, net.Scheduler(), switchAddr, nil)
	return asm, net, switchAddr
}

func TestAssemblerInOrderAdvancesCursor(t *testing.T) {
	ctx := testContext(t)
	asm, _, switchAddr := newTestAssembler(ctx)

	asm.handleDatagram(ctx, substrate.Datagram{Peer: switchAddr, Packet: ackPkt(1, 0, false)})
	asm.handleDatagram(ctx, substrate.Datagram{Peer: switchAddr, Packet: ackPkt(1, 1, false)})

	assert.Equal(t, uint64(2), asm.Delivered(1))
	assert.Equal(t, uint32(2), uint32(asm.jobs[1].nextExpected))
}

func TestAssemblerOutOfOrderThenFillsGap(t *testing.T) {
	ctx := testContext(t)
	asm, _, switchAddr := newTestAssembler(ctx)

	asm.handleDatagram(ctx, substrate.Datagram{Peer: switchAddr, Packet: ackPkt(1, 2, false)})
	assert.Equal(t, uint64(0), asm.Delivered(1))

	asm.handleDatagram(ctx, substrate.Datagram{Peer: switchAddr, Packet: ackPkt(1, 0, false)})
	asm.handleDatagram(ctx, substrate.Datagram{Peer: switchAddr, Packet: ackPkt(1, 1, false)})

	assert.Equal(t, uint64(3), asm.Delivered(1))
}

func TestAssemblerBehindCursorIsDuplicateNoOp(t *testing.T) {
	ctx := testContext(t)
	asm, _, switchAddr := newTestAssembler(ctx)

	asm.handleDatagram(ctx, substrate.Datagram{Peer: switchAddr, Packet: ackPkt(1, 0, false)})
	asm.handleDatagram(ctx, substrate.Datagram{Peer: switchAddr, Packet: ackPkt(1, 0, false)})

	assert.Equal(t, uint64(1), asm.Delivered(1))
}

func TestAssemblerOverflowPacketIsDeliveredAndAcked(t *testing.T) {
	ctx := testContext(t)
	asm, net, switchAddr := newTestAssembler(ctx)

	switchTransport := net.NewTransport(switchAddr)
	received := make(chan wire.Packet, 1)
	switchTransport.OnReceive(func(dg substrate.Datagram) {
		received <- dg.Packet
	})

	asm.handleDatagram(ctx, substrate.Datagram{Peer: switchAddr, Packet: ackPkt(1, 0, true)})
	assert.Equal(t, uint64(1), asm.Delivered(1))

	select {
	case pkt := <-received:
		assert.True(t, pkt.Header.IsAck)
	case <-time.After(time.Second):
		t.Fatal("expected an ACK reply for the overflow packet")
	}
}

func TestAssemblerPlainForwardIsNotDelivered(t *testing.T) {
	ctx := testContext(t)
	asm, _, switchAddr := newTestAssembler(ctx)

	pkt := wire.Packet{Header: wire.Header{JobID: 1, SeqNum: 0, Bitmap: 0x1}}
	asm.handleDatagram(ctx, substrate.Datagram{Peer: switchAddr, Packet: pkt})

	assert.Equal(t, uint64(0), asm.Delivered(1))
}
