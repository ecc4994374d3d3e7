// Package substrate provides the external collaborators the protocol
// consumes but does not implement itself: a "send datagram" primitive, a
// "schedule event after delay" timer primitive, and a receive callback. The
// protocol treats an Addr as an opaque byte string produced and consumed
// only by the substrate, so the core packages never need to know whether
// they are running over real UDP/IP or an in-memory test network.
package substrate

import (
	"context"
	"time"

	"github.com/atptransport/atp/pkg/atp/wire"
)

// Addr is an opaque, substrate-defined address. The core protocol never
// inspects its contents.
type Addr string

// Datagram is one packet observed on the wire, tagged with the address it
// arrived from or is destined to.
type Datagram struct {
	Peer   Addr
	Packet wire.Packet
}

// ReceiveFunc is invoked by a Transport for every inbound datagram.
type ReceiveFunc func(Datagram)

// Transport is the substrate's datagram primitive.
type Transport interface {
	// LocalAddr returns this transport's own address.
	LocalAddr() Addr
	// Send transmits pkt to dst. Errors are substrate-layer failures
	// (e.g. a closed socket); packet loss is invisible at this
	// interface and is instead modeled by the substrate silently
	// dropping a datagram before delivery.
	Send(ctx context.Context, dst Addr, pkt wire.Packet) error
	// OnReceive registers the callback invoked for every inbound
	// datagram. Only one callback may be registered at a time.
	OnReceive(fn ReceiveFunc)
	// Close releases substrate resources.
	Close() error
}

// Timer is a handle to a scheduled event, returned by Scheduler.After.
type Timer interface {
	// Cancel stops the timer if it has not already fired. Cancelling a
	// timer that already fired, or cancelling twice, is a no-op.
	Cancel()
}

// Scheduler is the substrate's "schedule event after delay D" primitive.
type Scheduler interface {
	After(d time.Duration, fn func()) Timer
}
