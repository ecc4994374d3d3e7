// Package txbuffer implements the worker's TxRx buffer: an ordered sequence
// of in-flight packets keyed by sequence number, invariant B (strict
// ascending sequence order, front never already-acked while non-empty).
package txbuffer

import (
	"fmt"
	"time"

	"github.com/atptransport/atp/pkg/atp/seqnum"
)

// Entry mirrors the original PacketBuffer record.
type Entry struct {
	Bitmap          uint32
	AggregatorIndex uint16
	FanInDegree     uint8
	SeqNum          seqnum.Num
	JobID           uint32
	Retransmission  uint8
	IsAcked         bool
	SentAt          time.Time
	Ecn             bool
}

// AckResult classifies the outcome of recording an ACK.
type AckResult int

const (
	// AckDuplicate means the sequence number did not match any pending entry.
	AckDuplicate AckResult = iota
	// AckInOrder means the ACK matched the current front and advanced it.
	AckInOrder
	// AckOutOfOrder means the ACK matched a pending, non-front entry.
	AckOutOfOrder
)

// Buffer is a ring of pending entries. It keeps entries strictly ascending
// in sequence order (invariant B) and tracks windowShift, the monotonic
// count of entries ever retired from the head, so timers captured against a
// position range remain valid after intervening retirements.
type Buffer struct {
	entries     []Entry
	windowShift uint64
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Len returns the number of entries currently pending (not yet retired).
func (b *Buffer) Len() int {
	return len(b.entries)
}

// WindowShift returns the monotonic count of entries retired from the head.
func (b *Buffer) WindowShift() uint64 {
	return b.windowShift
}

// Front returns the first pending entry. ok is false if the buffer is
// empty.
func (b *Buffer) Front() (Entry, bool) {
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	return b.entries[0], true
}

// PushBack appends a new entry. The caller must assign strictly increasing
// sequence numbers (invariant B); PushBack panics if that is violated, since
// a violation here is a programmer error (Fatal per the protocol's error
// taxonomy), not an operational condition.
func (b *Buffer) PushBack(e Entry) {
	if n := len(b.entries); n > 0 {
		last := b.entries[n-1]
		if !seqnum.Less(last.SeqNum, e.SeqNum) {
			panic(fmt.Sprintf("txbuffer: sequence numbers must be strictly increasing: last=%d new=%d", last.SeqNum, e.SeqNum))
		}
	}
	b.entries = append(b.entries, e)
}

// Inflight returns the number of entries not yet acked.
func (b *Buffer) Inflight() int {
	n := 0
	for _, e := range b.entries {
		if !e.IsAcked {
			n++
		}
	}
	return n
}

// RecordAck marks the entry with the given sequence number, if any, as
// acked and reports how it related to the buffer's current shape. On
// AckInOrder, all now-acked entries are retired from the front and the
// window shift advances by the number retired; retired is the count.
func (b *Buffer) RecordAck(seq seqnum.Num) (result AckResult, retired int) {
	idx := -1
	for i, e := range b.entries {
		if e.SeqNum == seq {
			idx = i
			break
		}
	}
	if idx == -1 {
		return AckDuplicate, 0
	}
	if b.entries[idx].IsAcked {
		return AckDuplicate, 0
	}
	b.entries[idx].IsAcked = true
	if idx != 0 {
		return AckOutOfOrder, 0
	}
	n := 0
	for n < len(b.entries) && b.entries[n].IsAcked {
		n++
	}
	b.entries = b.entries[n:]
	b.windowShift += uint64(n)
	return AckInOrder, n
}

// MarkEntryResent records a retransmission of the entry at buffer position
// pos (0 = front), setting SentAt to now and bumping its retry counter.
// It returns the updated entry.
func (b *Buffer) MarkEntryResent(pos int, now time.Time) Entry {
	b.entries[pos].Retransmission++
	b.entries[pos].SentAt = now
	return b.entries[pos]
}

// At returns the entry at absolute position pos, where pos is measured from
// the very first entry ever pushed (i.e. pos - WindowShift() is the current
// index). ok is false if pos has already been retired or is beyond the end
// of the buffer.
func (b *Buffer) At(pos uint64) (Entry, int, bool) {
	if pos < b.windowShift {
		return Entry{}, -1, false
	}
	idx := int(pos - b.windowShift)
	if idx >= len(b.entries) {
		return Entry{}, -1, false
	}
	return b.entries[idx], idx, true
}

// Set overwrites the entry at current index idx, used after MarkEntryResent
// style updates computed off a copy.
func (b *Buffer) Set(idx int, e Entry) {
	b.entries[idx] = e
}

// Empty reports whether there are no pending entries.
func (b *Buffer) Empty() bool {
	return len(b.entries) == 0
}
