// Package atperr implements the protocol's three-tier error taxonomy:
// Transient (recovered locally), Bounded (escalated but still delivered),
// and Fatal (a programmer error, not an operational condition).
package atperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Category classifies an error by how the protocol expects it to be
// handled.
type Category int

const (
	// Transient errors (loss, ECN, out-of-order, slot collision) are
	// recovered locally by retransmission, congestion response, or the
	// collision-retry bit; they are never returned to the caller.
	Transient Category = iota
	// Bounded errors (slot retry budget exhausted) are escalated by
	// setting the overflow bit so the packet still reaches the
	// coordinator unaggregated; correctness is preserved, throughput
	// degrades.
	Bounded
	// Fatal errors are invariant violations or substrate failures that
	// indicate a programmer error. They are not meant to be recovered
	// from.
	Fatal
)

func (c Category) String() string {
	switch c {
	case Transient:
		return "transient"
	case Bounded:
		return "bounded"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// categorized wraps an error with its Category.
type categorized struct {
	category Category
	err      error
}

func (c *categorized) Error() string {
	return fmt.Sprintf("%s: %v", c.category, c.err)
}

func (c *categorized) Unwrap() error {
	return c.err
}

// New returns a categorized error built from format and args, the way
// fmt.Errorf does.
func New(category Category, format string, args ...interface{}) error {
	return &categorized{category: category, err: errors.Errorf(format, args...)}
}

// Wrap attaches category to an existing error, preserving it for
// errors.Is/As and %w-style unwrapping.
func Wrap(category Category, err error, message string) error {
	if err == nil {
		return nil
	}
	return &categorized{category: category, err: errors.Wrap(err, message)}
}

// CategoryOf reports the Category of err, defaulting to Transient for
// errors that were never categorized (the safest default: retry rather
// than abort).
func CategoryOf(err error) Category {
	var c *categorized
	if errors.As(err, &c) {
		return c.category
	}
	return Transient
}

// Fatalf builds a Fatal-categorized error and panics with it immediately,
// mirroring the original implementation's NS_ASSERT_MSG/NS_FATAL_ERROR:
// a sequence-number invariant violation or buffer corruption terminates
// the run rather than being swallowed.
func Fatalf(format string, args ...interface{}) {
	panic(New(Fatal, format, args...))
}
