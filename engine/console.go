package engine

import (
	"sync"

	"github.com/samaelod/scpsim/types"
)

const lossMarker = "-- packet loss occurred --"

// Console keeps what each side of the link would print: the sender sees its
// attempts, timeouts and acks, the receiver sees arrivals and the acks it sends.
type Console struct {
	mu    sync.Mutex
	sides map[types.Role]*ring
}

func NewConsole(capacity int) *Console {
	client := newRing(capacity)
	server := newRing(capacity)
	return &Console{sides: map[types.Role]*ring{
		types.RoleClient: &client,
		types.RoleServer: &server,
	}}
}

func (c *Console) Report(ev types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Kind == types.EventCleared {
		for _, r := range c.sides {
			r.reset()
		}
		return
	}

	side, line := consoleLine(ev)
	if line == "" {
		return
	}
	if r, ok := c.sides[side]; ok {
		r.add(line)
	}
}

// Lines returns the console of one side, oldest first.
func (c *Console) Lines(side types.Role) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.sides[side]; ok {
		return r.all()
	}
	return nil
}

func consoleLine(ev types.Event) (types.Role, string) {
	sender, receiver := ev.Role, ev.Role.Peer()

	switch ev.Kind {
	case types.EventSubmitted, types.EventAttempt, types.EventTimeout,
		types.EventRetryExhausted, types.EventAckIgnored:
		return sender, ev.Frame
	case types.EventAckReceived:
		return sender, ev.Frame + "  (ack received)"
	case types.EventForwardLost:
		return receiver, lossMarker
	case types.EventForwardDelivered:
		return receiver, ev.Frame + "  (received)"
	case types.EventAckSent:
		return receiver, ev.Frame + "  (ack sent)"
	case types.EventAckLost:
		return receiver, ev.Frame + "  (ack lost)"
	}
	return sender, ""
}
