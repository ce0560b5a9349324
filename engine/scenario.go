package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/types"
)

// NetworkOf converts scenario knobs into engine configuration.
func NetworkOf(sc *types.Scenario) config.Network {
	return config.Network{
		ForwardDelayMs: sc.Network.ForwardDelayMs,
		LossEnabled:    sc.Network.LossEnabled,
		LossPercent:    sc.Network.LossPercent,
		AckTimeoutMs:   sc.Network.AckTimeoutMs,
		MaxRetries:     sc.Network.MaxRetries,
	}
}

// Load applies the scenario's knobs now and schedules its messages and knob
// changes at their offsets on the engine's scheduler.
func (e *Engine) Load(sc *types.Scenario) error {
	for i, m := range sc.Messages {
		if !types.Role(m.Role).Valid() {
			return fmt.Errorf("scenario %q: message %d: invalid role %q", sc.Name, i, m.Role)
		}
	}
	if err := e.cfg.Set(NetworkOf(sc)); err != nil {
		return fmt.Errorf("scenario %q: %w", sc.Name, err)
	}

	e.mu.Lock()
	session := e.session
	e.mu.Unlock()

	for _, m := range sc.Messages {
		role, payload := types.Role(m.Role), m.Payload
		e.sched.Schedule(time.Duration(m.AtMs)*time.Millisecond, func() {
			e.submitIn(session, role, payload)
		})
	}

	for _, ch := range sc.Changes {
		change := ch
		e.sched.Schedule(time.Duration(ch.AtMs)*time.Millisecond, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.session != session {
				return
			}
			if err := e.cfg.Update(func(n *config.Network) { applyChange(n, change) }); err != nil {
				log.Printf("scenario %q: change at %dms rejected: %v", sc.Name, change.AtMs, err)
			}
		})
	}

	return nil
}

func applyChange(n *config.Network, ch types.ScenarioChange) {
	if ch.ForwardDelayMs != nil {
		n.ForwardDelayMs = *ch.ForwardDelayMs
	}
	if ch.LossEnabled != nil {
		n.LossEnabled = *ch.LossEnabled
	}
	if ch.LossPercent != nil {
		n.LossPercent = *ch.LossPercent
	}
	if ch.AckTimeoutMs != nil {
		n.AckTimeoutMs = *ch.AckTimeoutMs
	}
	if ch.MaxRetries != nil {
		n.MaxRetries = *ch.MaxRetries
	}
}
