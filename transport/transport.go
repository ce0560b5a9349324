// Package transport decides the fate of each simulated frame.
package transport

import (
	"math/rand/v2"
	"sync"

	"github.com/samaelod/scpsim/types"
)

type Verdict int

const (
	Delivered Verdict = iota
	Dropped
)

func (v Verdict) String() string {
	if v == Dropped {
		return "dropped"
	}
	return "delivered"
}

// Source yields uniform samples in [0,1).
type Source interface {
	Float64() float64
}

// Simulator draws one sample per frame. Forward frames and acknowledgments
// are separate calls, so their fates are independent.
type Simulator struct {
	mu  sync.Mutex
	src Source
}

func NewSimulator(src Source) *Simulator {
	if src == nil {
		src = NewRandSource(0)
	}
	return &Simulator{src: src}
}

// AttemptDeliver reports Dropped iff loss is enabled and the sample, scaled
// to [0,100), falls below lossPercent. A sample is drawn even when loss is
// disabled so scripted sources stay aligned with frames.
func (s *Simulator) AttemptDeliver(lossEnabled bool, lossPercent int) Verdict {
	s.mu.Lock()
	sample := s.src.Float64() * 100
	s.mu.Unlock()

	if lossEnabled && sample < float64(lossPercent) {
		return Dropped
	}
	return Delivered
}

// NewRandSource returns a PCG-backed source. Seed 0 picks a random seed.
func NewRandSource(seed uint64) Source {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// neverDrops is the largest sample below 1; it only loses at 100%.
const neverDrops = 0.999999

// Script replays fixed samples, then returns neverDrops forever.
type Script struct {
	mu      sync.Mutex
	samples []float64
	next    int
}

func NewScript(samples ...float64) *Script {
	return &Script{samples: samples}
}

func (s *Script) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.samples) {
		return neverDrops
	}
	v := s.samples[s.next]
	s.next++
	return v
}

// Remaining is the number of scripted samples not yet drawn.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples) - s.next
}

// Pattern turns drop/keep decisions into samples: true draws 0 (lost at
// any loss percent above zero), false draws neverDrops.
func Pattern(drops ...bool) *Script {
	samples := make([]float64, len(drops))
	for i, d := range drops {
		if d {
			samples[i] = 0
		} else {
			samples[i] = neverDrops
		}
	}
	return NewScript(samples...)
}

// ForScenario picks the source a scenario asks for: its drop pattern
// when one is given, a seeded generator otherwise.
func ForScenario(sc *types.Scenario) Source {
	if len(sc.Drops) > 0 {
		return Pattern(sc.Drops...)
	}
	return NewRandSource(sc.Seed)
}
