package trace

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"
)

// CSVSink reproduces the original ns-3 simulation's
// WindowSizeTraced.csv / W*Throughput.csv trace files, written through an
// afero.Fs so it is testable against an in-memory filesystem.
type CSVSink struct {
	mu           sync.Mutex
	windowFile   afero.File
	throughFile  afero.File
	now          func() int64 // nanoseconds, injectable for tests
}

// NewCSVSink creates (or truncates) windowPath and throughputPath on fs and
// writes their CSV headers.
func NewCSVSink(fs afero.Fs, windowPath, throughputPath string, now func() int64) (*CSVSink, error) {
	wf, err := fs.Create(windowPath)
	if err != nil {
		return nil, fmt.Errorf("trace: create %q: %w", windowPath, err)
	}
	if _, err := wf.WriteString("Time,WindowSize,Ecn\n"); err != nil {
		return nil, err
	}
	tf, err := fs.Create(throughputPath)
	if err != nil {
		return nil, fmt.Errorf("trace: create %q: %w", throughputPath, err)
	}
	if _, err := tf.WriteString("Time,Tx(Gbps),Rx(Gbps)\n"); err != nil {
		return nil, err
	}
	return &CSVSink{windowFile: wf, throughFile: tf, now: now}, nil
}

func (c *CSVSink) WindowSize(s WindowSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.windowFile, "%d,%d,%t\n", c.now(), s.Window, s.Ecn)
}

func (c *CSVSink) Throughput(s ThroughputSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.throughFile, "%d,%f,%f\n", c.now(), s.TxGbps, s.RxGbps)
}

// Close closes the underlying files.
func (c *CSVSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	werr := c.windowFile.Close()
	terr := c.throughFile.Close()
	if werr != nil {
		return werr
	}
	return terr
}
