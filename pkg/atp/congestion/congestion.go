// Package congestion implements the worker's AIMD window, driven solely by
// the ECN bit echoed on ACKs: multiplicative decrease when ECN is set,
// additive increase otherwise.
package congestion

// Params configures the AIMD controller. Alpha and Beta follow the
// conventional TCP-like naming: Beta is the multiplicative-decrease factor
// applied to the window on an ECN-marked ACK, Alpha is the per-ACK additive
// increase divided by the current window.
type Params struct {
	Alpha float64
	Beta  float64
	Min   uint32
	Max   uint32
}

// DefaultParams mirrors a conservative DCTCP-style configuration: halve on
// congestion, grow by one segment per RTT's worth of ACKs otherwise.
var DefaultParams = Params{Alpha: 1.0, Beta: 0.5, Min: 1, Max: 1 << 16}

// Controller tracks the current congestion window.
type Controller struct {
	params Params
	window float64
}

// New creates a Controller starting at the given initial window, clamped to
// [params.Min, params.Max].
func New(params Params, initialWindow uint32) *Controller {
	w := clamp(float64(initialWindow), params)
	return &Controller{params: params, window: w}
}

// OnAck updates the window in response to one ACK and returns the new
// window size. ecn reports whether that ACK had the congestion bit set.
func (c *Controller) OnAck(ecn bool) uint32 {
	if ecn {
		c.window = clamp(c.window*c.params.Beta, c.params)
	} else {
		c.window = clamp(c.window+c.params.Alpha/c.window, c.params)
	}
	return c.Window()
}

// Window returns the current window size, rounded down to a whole packet.
func (c *Controller) Window() uint32 {
	return uint32(c.window)
}

func clamp(w float64, p Params) float64 {
	if w < float64(p.Min) {
		w = float64(p.Min)
	}
	if w > float64(p.Max) {
		w = float64(p.Max)
	}
	return w
}
