// Package seqnum implements 16-bit wrap-safe sequence-number arithmetic for
// the worker transport's TxRx buffer and the coordinator's delivery cursor.
package seqnum

// Num is a sequence number that wraps modulo 2^16. It is carried widened to
// 32 bits on the wire (wire.Header.SeqNum) but all comparisons are done
// modulo 2^16.
type Num uint16

// Distance returns the signed distance (a-b) mod 2^16, re-centered on
// [-2^15, 2^15). A positive result means a is ahead of b.
func Distance(a, b Num) int32 {
	d := int32(a) - int32(b)
	switch {
	case d < -(1 << 15):
		d += 1 << 16
	case d >= 1<<15:
		d -= 1 << 16
	}
	return d
}

// Less reports whether a precedes b modulo 2^16.
func Less(a, b Num) bool {
	return Distance(a, b) < 0
}

// LessEq reports whether a precedes or equals b modulo 2^16.
func LessEq(a, b Num) bool {
	return Distance(a, b) <= 0
}

// Add returns a+delta, wrapping modulo 2^16.
func Add(a Num, delta uint16) Num {
	return Num(uint16(a) + delta)
}
