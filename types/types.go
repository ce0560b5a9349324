package types

import (
	"fmt"
	"time"
)

// Role is the side of the simulated link that originated a message.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Peer returns the opposite side of the link.
func (r Role) Peer() Role {
	if r == RoleServer {
		return RoleClient
	}
	return RoleServer
}

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleServer
}

// Title is used for console headers and log lines.
func (r Role) Title() string {
	switch r {
	case RoleClient:
		return "Client"
	case RoleServer:
		return "Server"
	}
	return "Session"
}

// Key identifies a message; ids are only unique per originating role.
type Key struct {
	Role Role
	ID   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Role, k.ID)
}

type Message struct {
	ID           int
	Role         Role
	Payload      string
	Attempt      int    // transmissions made so far
	Acknowledged bool   // set once, on the matching ack
	Timer        uint64 // live ack-deadline handle, 0 when none
	Created      time.Time
}

func (m *Message) Key() Key {
	return Key{Role: m.Role, ID: m.ID}
}

type EventKind int

const (
	EventSubmitted EventKind = iota
	EventAttempt
	EventForwardDelivered
	EventForwardLost
	EventAckSent
	EventAckLost
	EventAckReceived
	EventAckIgnored
	EventTimeout
	EventRetryExhausted
	EventCleared
)

var eventKindNames = [...]string{
	EventSubmitted:        "submitted",
	EventAttempt:          "attempt",
	EventForwardDelivered: "forward-delivered",
	EventForwardLost:      "forward-lost",
	EventAckSent:          "ack-sent",
	EventAckLost:          "ack-lost",
	EventAckReceived:      "ack-received",
	EventAckIgnored:       "ack-ignored",
	EventTimeout:          "timeout",
	EventRetryExhausted:   "retry-exhausted",
	EventCleared:          "cleared",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventKindNames[k]
}

// Terminal reports whether the kind ends a message's lifecycle.
func (k EventKind) Terminal() bool {
	return k == EventAckReceived || k == EventRetryExhausted
}

// Event is one lifecycle transition reported by the engine.
type Event struct {
	Seq     uint64 // total order within one engine
	Time    time.Time
	ID      int
	Role    Role // originating role of the message
	Kind    EventKind
	Attempt int
	Detail  string
	Frame   string // SCP line for the transition, if any
}

func (e Event) Key() Key {
	return Key{Role: e.Role, ID: e.ID}
}

// Scenario is a scripted run: network knobs, messages and knob changes
// placed at offsets from the start of the run.
type Scenario struct {
	Name     string
	Seed     uint64
	Network  ScenarioNetwork
	Drops    []bool
	Messages []ScenarioMessage
	Changes  []ScenarioChange
}

type ScenarioNetwork struct {
	ForwardDelayMs int
	LossEnabled    bool
	LossPercent    int
	AckTimeoutMs   int
	MaxRetries     int
}

type ScenarioMessage struct {
	Role    string // "client" | "server"
	Payload string
	AtMs    int
}

// ScenarioChange overrides the knobs that are set; nil fields are kept.
type ScenarioChange struct {
	AtMs           int
	ForwardDelayMs *int
	LossEnabled    *bool
	LossPercent    *int
	AckTimeoutMs   *int
	MaxRetries     *int
}
