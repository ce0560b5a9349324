// Package stats keeps delivery statistics for a run.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/samaelod/scpsim/types"
)

type Counts struct {
	Submitted int
	Delivered int
	Failed    int
	Losses    int // forward and ack legs
	Timeouts  int
	Ignored   int // acks that arrived for an untracked message
}

func (c *Counts) add(kind types.EventKind) {
	switch kind {
	case types.EventSubmitted:
		c.Submitted++
	case types.EventAckReceived:
		c.Delivered++
	case types.EventRetryExhausted:
		c.Failed++
	case types.EventForwardLost, types.EventAckLost:
		c.Losses++
	case types.EventTimeout:
		c.Timeouts++
	case types.EventAckIgnored:
		c.Ignored++
	}
}

// InFlight is the number of submitted messages without an outcome yet.
func (c Counts) InFlight() int {
	return c.Submitted - c.Delivered - c.Failed
}

type Summary struct {
	Counts
	ByRole map[types.Role]Counts

	// Attempts-to-resolution over every delivered or failed message.
	MeanAttempts   float64
	StdDevAttempts float64
	MedianAttempts float64

	// DeliveryRatio is delivered / (delivered + failed); NaN before any outcome.
	DeliveryRatio float64
}

func (s Summary) String() string {
	line := fmt.Sprintf("sent=%d delivered=%d failed=%d in-flight=%d lost=%d timeouts=%d ignored=%d",
		s.Submitted, s.Delivered, s.Failed, s.InFlight(), s.Losses, s.Timeouts, s.Ignored)
	if math.IsNaN(s.DeliveryRatio) {
		return line
	}
	return line + fmt.Sprintf(" ratio=%.1f%% attempts mean=%.2f sd=%.2f median=%g",
		s.DeliveryRatio*100, s.MeanAttempts, s.StdDevAttempts, s.MedianAttempts)
}

// Collector is a reporter that tallies events. A cleared event starts over.
type Collector struct {
	mu       sync.Mutex
	byRole   map[types.Role]*Counts
	attempts []float64
}

func NewCollector() *Collector {
	c := &Collector{}
	c.reset()
	return c
}

func (c *Collector) reset() {
	c.byRole = map[types.Role]*Counts{
		types.RoleClient: {},
		types.RoleServer: {},
	}
	c.attempts = nil
}

func (c *Collector) Report(ev types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Kind == types.EventCleared {
		c.reset()
		return
	}

	counts, ok := c.byRole[ev.Role]
	if !ok {
		return
	}
	counts.add(ev.Kind)

	if ev.Kind.Terminal() {
		c.attempts = append(c.attempts, float64(ev.Attempt))
	}
}

func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		ByRole:         make(map[types.Role]Counts, len(c.byRole)),
		MeanAttempts:   math.NaN(),
		StdDevAttempts: math.NaN(),
		MedianAttempts: math.NaN(),
		DeliveryRatio:  math.NaN(),
	}
	for role, counts := range c.byRole {
		s.ByRole[role] = *counts
		s.Submitted += counts.Submitted
		s.Delivered += counts.Delivered
		s.Failed += counts.Failed
		s.Losses += counts.Losses
		s.Timeouts += counts.Timeouts
		s.Ignored += counts.Ignored
	}

	if n := len(c.attempts); n > 0 {
		sorted := make([]float64, n)
		copy(sorted, c.attempts)
		sort.Float64s(sorted)

		s.MeanAttempts = stat.Mean(sorted, nil)
		s.MedianAttempts = stat.Quantile(0.5, stat.Empirical, sorted, nil)
		s.StdDevAttempts = 0
		if n > 1 {
			s.StdDevAttempts = stat.StdDev(sorted, nil)
		}
	}
	if outcomes := s.Delivered + s.Failed; outcomes > 0 {
		s.DeliveryRatio = float64(s.Delivered) / float64(outcomes)
	}

	return s
}
