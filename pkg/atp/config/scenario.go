package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is the run configuration surface, following the same
// interface-plus-accessor shape as the client's BaseConfig: a thin
// interface lets callers depend on Scenario without knowing whether it
// came from defaults, a YAML file, or an override layered in tests.
type Scenario interface {
	Base() *BaseScenario
	Worker() *WorkerParams
	Aggregator() *AggregatorParams
	Network() *NetworkParams
	Congestion() *CongestionParams
}

// BaseScenario is the concrete, YAML-unmarshalable Scenario.
type BaseScenario struct {
	WorkerV     WorkerParams     `yaml:"worker,omitempty"`
	AggregatorV AggregatorParams `yaml:"aggregator,omitempty"`
	NetworkV    NetworkParams    `yaml:"network,omitempty"`
	CongestionV CongestionParams `yaml:"congestion,omitempty"`
}

func (b *BaseScenario) Base() *BaseScenario           { return b }
func (b *BaseScenario) Worker() *WorkerParams         { return &b.WorkerV }
func (b *BaseScenario) Aggregator() *AggregatorParams { return &b.AggregatorV }
func (b *BaseScenario) Network() *NetworkParams       { return &b.NetworkV }
func (b *BaseScenario) Congestion() *CongestionParams { return &b.CongestionV }

// WorkerParams configures every worker participating in the run.
type WorkerParams struct {
	Count                   int           `yaml:"count,omitempty"`
	TotalSize               uint64        `yaml:"totalSize,omitempty"`
	PayloadSize             uint32        `yaml:"payloadSize,omitempty"`
	UsedAGTRSize            uint32        `yaml:"usedAgtrSize,omitempty"`
	InitialWindowSize       uint32        `yaml:"initialWindowSize,omitempty"`
	Timeout                 time.Duration `yaml:"timeout,omitempty"`
	FastRetransmitThreshold uint16        `yaml:"fastRetransmitThreshold,omitempty"`
	MaxRetransmissions      uint8         `yaml:"maxRetransmissions,omitempty"`
	StatsInterval           time.Duration `yaml:"statsInterval,omitempty"`
}

// AggregatorParams configures the switch-resident engine.
type AggregatorParams struct {
	Capacity       uint16 `yaml:"capacity,omitempty"`
	MaxSlotRetries uint8  `yaml:"maxSlotRetries,omitempty"`
}

// NetworkParams configures the "bench" subcommand's SimNet substrate. It has
// no effect on "run", which always uses real UDP sockets.
type NetworkParams struct {
	LossRate float64       `yaml:"lossRate,omitempty"`
	Latency  time.Duration `yaml:"latency,omitempty"`
	Seed     int64         `yaml:"seed,omitempty"`
}

// CongestionParams mirrors congestion.Params for YAML round-tripping.
type CongestionParams struct {
	Alpha float64 `yaml:"alpha,omitempty"`
	Beta  float64 `yaml:"beta,omitempty"`
	Min   uint32  `yaml:"min,omitempty"`
	Max   uint32  `yaml:"max,omitempty"`
}

// GetDefaultScenario returns the baseline scenario used when no YAML file
// overrides it: scenario 1 from the protocol's end-to-end test suite
// (lossless two-worker all-reduce).
func GetDefaultScenario() Scenario {
	return &BaseScenario{
		WorkerV: WorkerParams{
			Count:                   2,
			TotalSize:               1024 * 1024,
			PayloadSize:             1024,
			UsedAGTRSize:            1200,
			InitialWindowSize:       64,
			Timeout:                 50 * time.Millisecond,
			FastRetransmitThreshold: 3,
			MaxRetransmissions:      8,
			StatsInterval:           time.Microsecond,
		},
		AggregatorV: AggregatorParams{Capacity: 1200, MaxSlotRetries: 3},
		NetworkV:    NetworkParams{LossRate: 0, Latency: time.Millisecond, Seed: 1},
		CongestionV: CongestionParams{Alpha: 1.0, Beta: 0.5, Min: 1, Max: 1 << 16},
	}
}

// ParseScenarioYAML unmarshals data over a copy of the default scenario, so
// a partial YAML document only overrides the fields it mentions.
func ParseScenarioYAML(data []byte) (Scenario, error) {
	s := GetDefaultScenario().(*BaseScenario)
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("config: parsing scenario: %w", err)
	}
	return s, nil
}
