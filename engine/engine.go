package engine

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/scp"
	"github.com/samaelod/scpsim/timer"
	"github.com/samaelod/scpsim/transport"
	"github.com/samaelod/scpsim/types"
)

// Engine runs the message lifecycle for both roles of one simulated link.
//
// Every entry point and every scheduler callback takes mu, so transitions are
// serialised even when the scheduler fires from its own goroutine. Reporters
// are called with mu held and must not call back into the engine.
type Engine struct {
	mu sync.Mutex

	cfg       *config.Holder
	transport *transport.Simulator
	sched     timer.Scheduler

	tracked map[types.Key]*types.Message
	nextID  map[types.Role]int

	// session changes on ClearAll; callbacks armed in an older session are dropped.
	session uint64
	seq     uint64

	reporters   map[int]Reporter
	reporterIDs []int
	nextRep     int
}

func New(cfg *config.Holder, tr *transport.Simulator, sched timer.Scheduler) *Engine {
	return &Engine{
		cfg:       cfg,
		transport: tr,
		sched:     sched,
		tracked:   make(map[types.Key]*types.Message),
		nextID:    make(map[types.Role]int),
		reporters: make(map[int]Reporter),
	}
}

// Config is the knob holder the engine reads at the start of each attempt.
func (e *Engine) Config() *config.Holder {
	return e.cfg
}

func (e *Engine) Scheduler() timer.Scheduler {
	return e.sched
}

// Subscribe attaches a reporter. The returned func detaches it.
func (e *Engine) Subscribe(r Reporter) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextRep++
	id := e.nextRep
	e.reporters[id] = r
	e.reporterIDs = append(e.reporterIDs, id)

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.reporters, id)
		for i, rid := range e.reporterIDs {
			if rid == id {
				e.reporterIDs = append(e.reporterIDs[:i], e.reporterIDs[i+1:]...)
				break
			}
		}
	}
}

// Submit creates a message for role and makes its first attempt. The
// outcome is only ever reported through events.
func (e *Engine) Submit(role types.Role, payload string) int {
	if !role.Valid() {
		role = types.RoleClient
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.submitLocked(role, payload)
}

// submitIn submits only while the engine is still in session. Scheduled
// scenario messages use it so ClearAll also cancels the rest of a script.
func (e *Engine) submitIn(session uint64, role types.Role, payload string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != session {
		log.Printf("scenario message %q dropped: session cleared", payload)
		return
	}
	e.submitLocked(role, payload)
}

func (e *Engine) submitLocked(role types.Role, payload string) int {
	e.nextID[role]++
	msg := &types.Message{
		ID:      e.nextID[role],
		Role:    role,
		Payload: payload,
		Created: e.sched.Now(),
	}
	e.tracked[msg.Key()] = msg

	e.emit(msg, types.EventSubmitted,
		fmt.Sprintf("%s -> %q (id=%d)", role.Title(), payload, msg.ID),
		scp.Msg(msg.ID, payload).String())

	e.attemptSend(msg.Key())
	return msg.ID
}

// ClearAll cancels every pending deadline, forgets all tracked messages and
// restarts both id sequences.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, msg := range e.tracked {
		if msg.Timer != 0 {
			e.sched.Cancel(timer.Handle(msg.Timer))
			msg.Timer = 0
		}
		delete(e.tracked, key)
	}
	e.nextID = make(map[types.Role]int)
	e.session++

	e.report(types.Event{
		Kind:   types.EventCleared,
		Detail: "Logs cleared.",
	})
}

// Tracked returns copies of the in-flight messages ordered by role and id.
func (e *Engine) Tracked() []types.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.Message, 0, len(e.tracked))
	for _, m := range e.tracked {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// attemptSend makes one transmission of the message, or fails it once the
// retry ceiling is reached. Caller holds mu.
func (e *Engine) attemptSend(key types.Key) {
	msg, ok := e.tracked[key]
	if !ok {
		log.Printf("attemptSend: %s is not tracked", key)
		return
	}

	net := e.cfg.Get()

	if msg.Attempt > net.MaxRetries {
		e.cancelTimer(msg)
		delete(e.tracked, key)
		e.emit(msg, types.EventRetryExhausted,
			fmt.Sprintf("Message id=%d failed after %d attempts.", msg.ID, msg.Attempt),
			scp.MaxRetriesExceeded(msg.ID).String())
		return
	}

	msg.Attempt++
	attempt := msg.Attempt
	e.emit(msg, types.EventAttempt,
		fmt.Sprintf("Attempting send id=%d (try %d)", msg.ID, attempt),
		scp.SendAttempt(msg.ID, attempt).String())

	// Arm the deadline before the forward leg so a loss leaves exactly one
	// path forward.
	e.cancelTimer(msg)
	session := e.session
	msg.Timer = uint64(e.sched.Schedule(net.AckTimeout(), func() {
		e.onDeadline(key, session, attempt)
	}))

	if e.transport.AttemptDeliver(net.LossEnabled, net.LossPercent) == transport.Dropped {
		e.emit(msg, types.EventForwardLost,
			fmt.Sprintf("Message id=%d was lost in transit (simulated).", msg.ID), "")
		return
	}

	e.sched.Schedule(net.ForwardDelay(), func() {
		e.onForwardArrive(key, session, attempt, net)
	})
}

// onForwardArrive is the receiving peer processing one copy of the message.
func (e *Engine) onForwardArrive(key types.Key, session uint64, attempt int, net config.Network) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if session != e.session {
		return
	}
	msg, ok := e.tracked[key]
	if !ok {
		return
	}

	e.emitAttempt(msg, attempt, types.EventForwardDelivered,
		fmt.Sprintf("%s received message id=%d.", key.Role.Peer().Title(), msg.ID),
		scp.Msg(msg.ID, msg.Payload).String())

	if e.transport.AttemptDeliver(net.LossEnabled, net.LossPercent) == transport.Dropped {
		e.emitAttempt(msg, attempt, types.EventAckLost,
			fmt.Sprintf("ACK for id=%d was lost in transit (simulated).", msg.ID),
			scp.Ack(msg.ID).String())
		return
	}

	e.emitAttempt(msg, attempt, types.EventAckSent,
		fmt.Sprintf("%s sent ACK for id=%d.", key.Role.Peer().Title(), msg.ID),
		scp.Ack(msg.ID).String())

	e.sched.Schedule(net.ForwardDelay(), func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if session != e.session {
			return
		}
		e.handleAck(key, attempt)
	})
}

// onDeadline is the ack-wait expiry for one attempt.
func (e *Engine) onDeadline(key types.Key, session uint64, attempt int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if session != e.session {
		return
	}
	msg, ok := e.tracked[key]
	if !ok || msg.Acknowledged || msg.Attempt != attempt {
		return
	}
	msg.Timer = 0

	e.emit(msg, types.EventTimeout,
		fmt.Sprintf("ACK timeout for id=%d (try %d).", msg.ID, attempt),
		scp.Timeout(msg.ID).String())
	e.attemptSend(key)
}

// handleAck resolves a message on its acknowledgment. Acks for messages that
// are no longer tracked are reported and otherwise ignored. Caller holds mu.
func (e *Engine) handleAck(key types.Key, attempt int) {
	msg, ok := e.tracked[key]
	if !ok {
		e.report(types.Event{
			ID:      key.ID,
			Role:    key.Role,
			Kind:    types.EventAckIgnored,
			Attempt: attempt,
			Detail:  fmt.Sprintf("ACK for id=%d ignored: no active message.", key.ID),
			Frame:   scp.AckIgnored(key.ID).String(),
		})
		return
	}

	msg.Acknowledged = true
	e.cancelTimer(msg)
	delete(e.tracked, key)
	e.emit(msg, types.EventAckReceived,
		fmt.Sprintf("%s received ACK for id=%d.", key.Role.Title(), msg.ID),
		scp.Ack(msg.ID).String())
}

func (e *Engine) cancelTimer(msg *types.Message) {
	if msg.Timer == 0 {
		return
	}
	e.sched.Cancel(timer.Handle(msg.Timer))
	msg.Timer = 0
}

// emit reports an event for msg at its current attempt.
func (e *Engine) emit(msg *types.Message, kind types.EventKind, detail, frame string) {
	e.emitAttempt(msg, msg.Attempt, kind, detail, frame)
}

func (e *Engine) emitAttempt(msg *types.Message, attempt int, kind types.EventKind, detail, frame string) {
	e.report(types.Event{
		ID:      msg.ID,
		Role:    msg.Role,
		Kind:    kind,
		Attempt: attempt,
		Detail:  detail,
		Frame:   frame,
	})
}

// report stamps and fans out one event. Caller holds mu.
func (e *Engine) report(ev types.Event) {
	e.seq++
	ev.Seq = e.seq
	ev.Time = e.sched.Now()
	for _, id := range e.reporterIDs {
		e.reporters[id].Report(ev)
	}
}
