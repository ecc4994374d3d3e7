package congestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindowStaysWithinBounds(t *testing.T) {
	c := New(Params{Alpha: 1, Beta: 0.5, Min: 2, Max: 64}, 4)
	for i := 0; i < 1000; i++ {
		w := c.OnAck(false)
		assert.GreaterOrEqual(t, w, uint32(2))
		assert.LessOrEqual(t, w, uint32(64))
	}
	for i := 0; i < 1000; i++ {
		w := c.OnAck(true)
		assert.GreaterOrEqual(t, w, uint32(2))
	}
}

func TestEcnShrinksWindow(t *testing.T) {
	c := New(Params{Alpha: 1, Beta: 0.5, Min: 1, Max: 1000}, 100)
	before := c.Window()
	after := c.OnAck(true)
	assert.Less(t, after, before)
}

func TestNoEcnGrowsWindow(t *testing.T) {
	c := New(Params{Alpha: 1, Beta: 0.5, Min: 1, Max: 1000}, 10)
	before := c.Window()
	after := c.OnAck(false)
	assert.GreaterOrEqual(t, after, before)
}
