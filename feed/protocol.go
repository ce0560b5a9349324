package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/types"
)

const (
	MsgHello = "hello"
	MsgEvent = "event"
)

type Envelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p"` // raw payload bytes
}

// Hello is the first envelope every subscriber receives.
type Hello struct {
	Version string          `json:"version"`
	Network *config.Network `json:"network,omitempty"`
}

type Event struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Role    string    `json:"role,omitempty"`
	ID      int       `json:"id,omitempty"`
	Kind    string    `json:"kind"`
	Attempt int       `json:"attempt,omitempty"`
	Detail  string    `json:"detail"`
	Frame   string    `json:"frame,omitempty"`
}

func EventFrom(ev types.Event) Event {
	return Event{
		Seq:     ev.Seq,
		Time:    ev.Time,
		Role:    string(ev.Role),
		ID:      ev.ID,
		Kind:    ev.Kind.String(),
		Attempt: ev.Attempt,
		Detail:  ev.Detail,
		Frame:   ev.Frame,
	}
}

func Encode(t string, payload any) ([]byte, error) {
	if t == "" {
		return nil, fmt.Errorf("trying to encode envelope with empty type")
	}
	if payload == nil {
		return nil, fmt.Errorf("trying to encode nil payload")
	}
	pb, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Envelope{T: t, P: pb})
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, fmt.Errorf("decode envelope: empty message")
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.P) == 0 {
		return out, fmt.Errorf("empty payload for type %q", env.T)
	}
	err := json.Unmarshal(env.P, &out)
	return out, err
}
