package config

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalid is returned for knob values the engine cannot run with.
var ErrInvalid = errors.New("invalid network config")

const minAckTimeoutMs = 1

// Network holds the link knobs read by the engine at the start of every attempt.
type Network struct {
	ForwardDelayMs int  `json:"forward_delay_ms"`
	LossEnabled    bool `json:"loss_enabled"`
	LossPercent    int  `json:"loss_percent"` // 0..100
	AckTimeoutMs   int  `json:"ack_timeout_ms"`
	MaxRetries     int  `json:"max_retries"`
}

// DefaultNetwork mirrors the control defaults of the browser simulator.
func DefaultNetwork() Network {
	return Network{
		ForwardDelayMs: 800,
		LossEnabled:    true,
		LossPercent:    20,
		AckTimeoutMs:   2000,
		MaxRetries:     3,
	}
}

func (n Network) Validate() error {
	if n.ForwardDelayMs < 0 {
		return fmt.Errorf("%w: forward delay %dms", ErrInvalid, n.ForwardDelayMs)
	}
	if n.LossPercent < 0 || n.LossPercent > 100 {
		return fmt.Errorf("%w: loss percent %d not in 0..100", ErrInvalid, n.LossPercent)
	}
	if n.AckTimeoutMs < 0 {
		return fmt.Errorf("%w: ack timeout %dms", ErrInvalid, n.AckTimeoutMs)
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries %d", ErrInvalid, n.MaxRetries)
	}
	return nil
}

func (n Network) ForwardDelay() time.Duration {
	return time.Duration(n.ForwardDelayMs) * time.Millisecond
}

// AckTimeout is never shorter than 1ms so a zero setting cannot spin.
func (n Network) AckTimeout() time.Duration {
	ms := n.AckTimeoutMs
	if ms < minAckTimeoutMs {
		ms = minAckTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Holder is the shared, mutable knob set. The engine only reads it.
type Holder struct {
	mu  sync.RWMutex
	net Network
}

func NewHolder(n Network) (*Holder, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &Holder{net: n}, nil
}

// Get returns a snapshot of the current knobs.
func (h *Holder) Get() Network {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.net
}

func (h *Holder) Set(n Network) error {
	if err := n.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.net = n
	h.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the knobs and keeps the result only if it validates.
func (h *Holder) Update(fn func(*Network)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.net
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	h.net = next
	return nil
}
