package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenarioYAMLOverridesOnlyMentionedFields(t *testing.T) {
	defaults := GetDefaultScenario()

	yamlDoc := []byte(`
worker:
  count: 4
  totalSize: 2048
network:
  lossRate: 0.01
`)
	scenario, err := ParseScenarioYAML(yamlDoc)
	require.NoError(t, err)

	assert.Equal(t, 4, scenario.Worker().Count)
	assert.Equal(t, uint64(2048), scenario.Worker().TotalSize)
	// Untouched fields keep their default value.
	assert.Equal(t, defaults.Worker().PayloadSize, scenario.Worker().PayloadSize)
	assert.Equal(t, defaults.Aggregator().Capacity, scenario.Aggregator().Capacity)

	assert.InDelta(t, 0.01, scenario.Network().LossRate, 1e-9)
}

func TestParseScenarioYAMLRejectsMalformedDocument(t *testing.T) {
	_, err := ParseScenarioYAML([]byte("worker: [this is not a mapping"))
	assert.Error(t, err)
}

func TestDefaultScenarioMatchesScenarioOneParameters(t *testing.T) {
	s := GetDefaultScenario()
	assert.Equal(t, 2, s.Worker().Count)
	assert.Equal(t, uint64(1024*1024), s.Worker().TotalSize)
	assert.Equal(t, uint32(1024), s.Worker().PayloadSize)
	assert.Equal(t, uint32(1200), s.Worker().UsedAGTRSize)
	assert.Equal(t, float64(0), s.Network().LossRate)
	assert.Equal(t, time.Microsecond, s.Worker().StatsInterval)
}
