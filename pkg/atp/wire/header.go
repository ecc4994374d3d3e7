// Package wire implements the fixed fragment header carried on every ATP
// datagram, network-byte-order, exactly as described in the protocol's data
// model.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the wire size of a Header once encoded. The control bits
// (Overflow, Resend, Collision, Ecn, IsAck) are packed into a single flags
// byte, so the encoded form is 18 bytes rather than the 20 a naive
// one-bit-per-byte layout would need.
const HeaderSize = 18

// Header is the fixed fragment header carried in every data or ACK packet.
type Header struct {
	Bitmap           uint32
	FanInDegree      uint8
	Overflow         bool
	Resend           bool
	Collision        bool
	Ecn              bool
	IsAck            bool
	AggregatorIndex  uint16
	JobID            uint32
	SeqNum           uint32
}

const (
	flagOverflow  = 1 << 0
	flagResend    = 1 << 1
	flagCollision = 1 << 2
	flagEcn       = 1 << 3
	flagIsAck     = 1 << 4
)

// Encode writes the header into buf, which must be at least HeaderSize
// bytes, and returns the number of bytes written.
func (h Header) Encode(buf []byte) (int, error) {
	if len(buf) < HeaderSize {
		return 0, fmt.Errorf("wire: buffer too small for header: have %d, need %d", len(buf), HeaderSize)
	}
	binary.BigEndian.PutUint32(buf[0:4], h.Bitmap)
	buf[4] = h.FanInDegree
	var flags byte
	if h.Overflow {
		flags |= flagOverflow
	}
	if h.Resend {
		flags |= flagResend
	}
	if h.Collision {
		flags |= flagCollision
	}
	if h.Ecn {
		flags |= flagEcn
	}
	if h.IsAck {
		flags |= flagIsAck
	}
	buf[5] = flags
	binary.BigEndian.PutUint16(buf[6:8], h.AggregatorIndex)
	binary.BigEndian.PutUint32(buf[8:12], h.JobID)
	binary.BigEndian.PutUint32(buf[12:16], h.SeqNum)
	// bytes 16-17 reserved, zeroed for forward compatibility.
	buf[16] = 0
	buf[17] = 0
	return HeaderSize, nil
}

// Decode reads a Header from the front of buf and returns the number of
// bytes consumed.
func Decode(buf []byte) (Header, int, error) {
	if len(buf) < HeaderSize {
		return Header{}, 0, fmt.Errorf("wire: buffer too small to decode header: have %d, need %d", len(buf), HeaderSize)
	}
	flags := buf[5]
	h := Header{
		Bitmap:          binary.BigEndian.Uint32(buf[0:4]),
		FanInDegree:     buf[4],
		Overflow:        flags&flagOverflow != 0,
		Resend:          flags&flagResend != 0,
		Collision:       flags&flagCollision != 0,
		Ecn:             flags&flagEcn != 0,
		IsAck:           flags&flagIsAck != 0,
		AggregatorIndex: binary.BigEndian.Uint16(buf[6:8]),
		JobID:           binary.BigEndian.Uint32(buf[8:12]),
		SeqNum:          binary.BigEndian.Uint32(buf[12:16]),
	}
	return h, HeaderSize, nil
}

// PopCount returns the number of contributing workers folded into Bitmap.
func (h Header) PopCount() int {
	return popcount(h.Bitmap)
}

func popcount(bm uint32) int {
	count := 0
	for bm != 0 {
		bm &= bm - 1
		count++
	}
	return count
}

// String renders a compact representation suitable for log lines.
func (h Header) String() string {
	return fmt.Sprintf("seq=%d job=%d agtr=%d bitmap=%#x fanIn=%d ack=%t ecn=%t coll=%t ovf=%t resend=%t",
		h.SeqNum, h.JobID, h.AggregatorIndex, h.Bitmap, h.FanInDegree, h.IsAck, h.Ecn, h.Collision, h.Overflow, h.Resend)
}
