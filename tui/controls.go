package tui

import (
	"fmt"

	"github.com/samaelod/scpsim/config"
)

const (
	delayStepMs   = 50
	maxDelayMs    = 5000
	lossStep      = 5
	timeoutStepMs = 250
	maxTimeoutMs  = 10000
	maxRetries    = 10
)

// control is one adjustable knob of the controls panel.
type control struct {
	label  string
	value  func(n config.Network) string
	adjust func(n *config.Network, dir int)
}

const controlLoss = 1

var controls = []control{
	{
		label: "Delay",
		value: func(n config.Network) string { return fmt.Sprintf("%d ms", n.ForwardDelayMs) },
		adjust: func(n *config.Network, dir int) {
			n.ForwardDelayMs = clamp(n.ForwardDelayMs+dir*delayStepMs, 0, maxDelayMs)
		},
	},
	{
		label: "Loss",
		value: func(n config.Network) string {
			if n.LossEnabled {
				return "on"
			}
			return "off"
		},
		adjust: func(n *config.Network, _ int) { n.LossEnabled = !n.LossEnabled },
	},
	{
		label: "Loss %",
		value: func(n config.Network) string { return fmt.Sprintf("%d%%", n.LossPercent) },
		adjust: func(n *config.Network, dir int) {
			n.LossPercent = clamp(n.LossPercent+dir*lossStep, 0, 100)
		},
	},
	{
		label: "Timeout",
		value: func(n config.Network) string { return fmt.Sprintf("%d ms", n.AckTimeoutMs) },
		adjust: func(n *config.Network, dir int) {
			n.AckTimeoutMs = clamp(n.AckTimeoutMs+dir*timeoutStepMs, 0, maxTimeoutMs)
		},
	},
	{
		label: "Retries",
		value: func(n config.Network) string { return fmt.Sprintf("%d", n.MaxRetries) },
		adjust: func(n *config.Network, dir int) {
			n.MaxRetries = clamp(n.MaxRetries+dir, 0, maxRetries)
		},
	},
}

// adjustControl moves knob idx one step in dir (-1 or +1). The change is
// picked up by the next attempt of every message.
func adjustControl(h *config.Holder, idx, dir int) error {
	if idx < 0 || idx >= len(controls) {
		return fmt.Errorf("no control %d", idx)
	}
	return h.Update(func(n *config.Network) {
		controls[idx].adjust(n, dir)
	})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
