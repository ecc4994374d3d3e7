package substrate

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/net/ipv4"

	"github.com/atptransport/atp/pkg/atp/wire"
)

// UDPTransport carries ATP datagrams over real loopback or LAN UDP sockets,
// setting the IP_TOS byte so the ECN codepoint the original ns-3 simulation
// modeled over point-to-point links survives end to end over a real kernel
// network stack.
type UDPTransport struct {
	conn    *net.UDPConn
	ipv4pc  *ipv4.PacketConn
	tos     int
	recv    ReceiveFunc
	localID Addr
	runID   string
}

// ListenUDP opens a UDP socket on addr ("host:port", or ":0" for an
// ephemeral port) and returns a Transport bound to it. tos is the IP_TOS
// value applied to every outbound packet (its low two bits are the ECN
// codepoint). Each transport gets its own correlation id, logged once at
// startup, so a log aggregator can tie a worker's or the switch's lines
// back to a single "atp-sim run" process without parsing addresses.
func ListenUDP(ctx context.Context, addr string, tos int) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("substrate: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("substrate: listen %q: %w", addr, err)
	}
	pc := ipv4.NewPacketConn(conn)
	if tos != 0 {
		if err := pc.SetTOS(tos); err != nil {
			dlog.Warnf(ctx, "substrate: SetTOS(%d) failed, continuing without ECN passthrough: %v", tos, err)
		}
	}
	runID := uuid.NewString()
	t := &UDPTransport{
		conn:    conn,
		ipv4pc:  pc,
		tos:     tos,
		localID: Addr(conn.LocalAddr().String()),
		runID:   runID,
	}
	dlog.Infof(ctx, "substrate: listening on %s run_id=%s tos=%d", t.localID, runID, tos)
	go t.readLoop(ctx)
	return t, nil
}

// RunID returns the correlation id generated for this transport.
func (t *UDPTransport) RunID() string {
	return t.runID
}

func (t *UDPTransport) LocalAddr() Addr {
	return t.localID
}

func (t *UDPTransport) OnReceive(fn ReceiveFunc) {
	t.recv = fn
}

func (t *UDPTransport) Send(ctx context.Context, dst Addr, pkt wire.Packet) error {
	buf, err := pkt.Encode()
	if err != nil {
		return err
	}
	dstAddr, err := net.ResolveUDPAddr("udp4", string(dst))
	if err != nil {
		return fmt.Errorf("substrate: resolve dst %q: %w", dst, err)
	}
	_, err = t.conn.WriteToUDP(buf, dstAddr)
	return err
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func (t *UDPTransport) readLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			dlog.Errorf(ctx, "substrate: read failed: %v", err)
			return
		}
		pkt, err := wire.DecodePacket(buf[:n])
		if err != nil {
			dlog.Warnf(ctx, "substrate: dropping malformed datagram from %s: %v", src, err)
			continue
		}
		if t.recv != nil {
			t.recv(Datagram{Peer: Addr(src.String()), Packet: pkt})
		}
	}
}
