// Package scp formats and parses Simple Chat Protocol frame lines:
//
//	SCP/1.0 | <TYPE> | id=<integer> | <payload>
//
// The engine never parses frames; lines exist for consoles, logs and captures.
package scp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const Version = "SCP/1.0"

// AckPayload is the fixed payload of every ACK frame.
const AckPayload = "MSG_RECEIVED"

const sep = " | "

var ErrMalformed = errors.New("malformed scp frame")

type Type string

const (
	TypeMsg         Type = "MSG"
	TypeAck         Type = "ACK"
	TypeSendAttempt Type = "SEND_ATTEMPT"
	TypeTimeout     Type = "TIMEOUT"
	TypeError       Type = "ERROR"
	TypeAckIgnored  Type = "ACK_IGNORED"
	TypeHello       Type = "HELLO"
	TypeBye         Type = "BYE"
)

var knownTypes = map[Type]bool{
	TypeMsg:         true,
	TypeAck:         true,
	TypeSendAttempt: true,
	TypeTimeout:     true,
	TypeError:       true,
	TypeAckIgnored:  true,
	TypeHello:       true,
	TypeBye:         true,
}

type Frame struct {
	Type    Type
	ID      int
	Payload string
}

func (f Frame) String() string {
	return Format(f)
}

func Format(f Frame) string {
	return fmt.Sprintf("%s%s%s%sid=%d%s%s", Version, sep, f.Type, sep, f.ID, sep, f.Payload)
}

// Parse reads one frame line. The payload is everything after the third
// separator, so payloads may themselves contain pipes.
func Parse(line string) (Frame, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, "|", 4)
	if len(parts) < 3 {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	if v := strings.TrimSpace(parts[0]); v != Version {
		return Frame{}, fmt.Errorf("%w: version %q", ErrMalformed, v)
	}

	typ := Type(strings.TrimSpace(parts[1]))
	if !knownTypes[typ] {
		return Frame{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, typ)
	}

	idField := strings.TrimSpace(parts[2])
	if !strings.HasPrefix(idField, "id=") {
		return Frame{}, fmt.Errorf("%w: missing id in %q", ErrMalformed, idField)
	}
	id, err := strconv.Atoi(strings.TrimPrefix(idField, "id="))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: id: %v", ErrMalformed, err)
	}
	// Peers that number from zero send their HELLO as id=0.
	if id < 0 {
		return Frame{}, fmt.Errorf("%w: negative id %d", ErrMalformed, id)
	}

	var payload string
	if len(parts) == 4 {
		// Only the single space written by Format is stripped.
		payload = strings.TrimPrefix(parts[3], " ")
	}

	f := Frame{Type: typ, ID: id, Payload: payload}
	if typ == TypeAck && payload != AckPayload {
		return Frame{}, fmt.Errorf("%w: ack payload %q", ErrMalformed, payload)
	}
	return f, nil
}

func Msg(id int, payload string) Frame {
	return Frame{Type: TypeMsg, ID: id, Payload: payload}
}

func Ack(id int) Frame {
	return Frame{Type: TypeAck, ID: id, Payload: AckPayload}
}

func SendAttempt(id, try int) Frame {
	return Frame{Type: TypeSendAttempt, ID: id, Payload: fmt.Sprintf("try=%d", try)}
}

func Timeout(id int) Frame {
	return Frame{Type: TypeTimeout, ID: id, Payload: "retrying..."}
}

func MaxRetriesExceeded(id int) Frame {
	return Frame{Type: TypeError, ID: id, Payload: "MAX_RETRIES_EXCEEDED"}
}

func AckIgnored(id int) Frame {
	return Frame{Type: TypeAckIgnored, ID: id, Payload: "no active message"}
}
