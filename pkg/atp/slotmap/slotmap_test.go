package slotmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInjective(t *testing.T) {
	m, err := Build(7, 100, 256)
	require.NoError(t, err)
	seen := make(map[uint16]bool)
	for i := uint32(0); i < m.UsedSize(); i++ {
		s := m.Slot(i)
		assert.False(t, seen[s], "slot %d assigned twice", s)
		seen[s] = true
		assert.Less(t, s, m.Capacity())
	}
}

func TestBuildRejectsOversizedRequest(t *testing.T) {
	_, err := Build(1, 10, 4)
	assert.Error(t, err)
}

func TestSlotWrapsOnUsedSize(t *testing.T) {
	m, err := Build(2, 5, 16)
	require.NoError(t, err)
	for seq := uint32(0); seq < 20; seq++ {
		assert.Equal(t, m.Slot(seq%m.UsedSize()), m.Slot(seq))
	}
}

func TestDifferentAppsCanDiverge(t *testing.T) {
	a, err := Build(1, 50, 64)
	require.NoError(t, err)
	b, err := Build(2, 50, 64)
	require.NoError(t, err)
	diff := 0
	for i := uint32(0); i < 50; i++ {
		if a.Slot(i) != b.Slot(i) {
			diff++
		}
	}
	assert.Greater(t, diff, 0)
}
