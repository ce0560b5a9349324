package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/timer"
	"github.com/samaelod/scpsim/transport"
	"github.com/samaelod/scpsim/types"
)

func newTestEngine(t *testing.T, net config.Network, src transport.Source) (*Engine, *timer.Virtual, *Recorder) {
	t.Helper()
	h, err := config.NewHolder(net)
	require.NoError(t, err)

	v := timer.NewVirtual(time.Time{})
	e := New(h, transport.NewSimulator(src), v)
	rec := &Recorder{}
	e.Subscribe(rec)
	return e, v, rec
}

func clientKey(id int) types.Key { return types.Key{Role: types.RoleClient, ID: id} }

func terminalEvents(rec *Recorder, key types.Key) []types.Event {
	var out []types.Event
	for _, ev := range rec.For(key) {
		if ev.Kind.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}

func countKind(rec *Recorder, key types.Key, kind types.EventKind) int {
	n := 0
	for _, k := range rec.Kinds(key) {
		if k == kind {
			n++
		}
	}
	return n
}

func TestScenarioA_NoLossSingleAttempt(t *testing.T) {
	e, v, rec := newTestEngine(t, config.Network{
		ForwardDelayMs: 100, LossEnabled: false, AckTimeoutMs: 1000, MaxRetries: 3,
	}, transport.NewRandSource(1))

	id := e.Submit(types.RoleClient, "hi")
	require.Equal(t, 1, id)
	v.RunUntilIdle(0)

	assert.Equal(t, []types.EventKind{
		types.EventSubmitted,
		types.EventAttempt,
		types.EventForwardDelivered,
		types.EventAckSent,
		types.EventAckReceived,
	}, rec.Kinds(clientKey(1)))

	term := terminalEvents(rec, clientKey(1))
	require.Len(t, term, 1)
	assert.Equal(t, types.EventAckReceived, term[0].Kind)
	assert.Equal(t, 1, term[0].Attempt)
	assert.Equal(t, timer.Epoch.Add(200*time.Millisecond), term[0].Time)
	assert.Equal(t, "SCP/1.0 | ACK | id=1 | MSG_RECEIVED", term[0].Frame)

	assert.Empty(t, e.Tracked())
	assert.Zero(t, v.Pending(), "deadline must be cancelled on ack")
}

func TestScenarioB_FullLossExhaustsRetries(t *testing.T) {
	e, v, rec := newTestEngine(t, config.Network{
		ForwardDelayMs: 100, LossEnabled: true, LossPercent: 100, AckTimeoutMs: 500, MaxRetries: 2,
	}, transport.NewRandSource(1))

	e.Submit(types.RoleClient, "x")
	v.RunUntilIdle(0)

	assert.Equal(t, []types.EventKind{
		types.EventSubmitted,
		types.EventAttempt, types.EventForwardLost, types.EventTimeout,
		types.EventAttempt, types.EventForwardLost, types.EventTimeout,
		types.EventAttempt, types.EventForwardLost, types.EventTimeout,
		types.EventRetryExhausted,
	}, rec.Kinds(clientKey(1)))

	term := terminalEvents(rec, clientKey(1))
	require.Len(t, term, 1)
	assert.Equal(t, types.EventRetryExhausted, term[0].Kind)
	assert.Equal(t, 3, term[0].Attempt)
	assert.Equal(t, "SCP/1.0 | ERROR | id=1 | MAX_RETRIES_EXCEEDED", term[0].Frame)
	assert.Empty(t, e.Tracked())
}

func TestScenarioC_AckLostTwiceThenDelivered(t *testing.T) {
	// forward keep, ack drop, forward keep, ack drop, forward keep, ack keep
	src := transport.Pattern(false, true, false, true, false, false)
	e, v, rec := newTestEngine(t, config.Network{
		ForwardDelayMs: 100, LossEnabled: true, LossPercent: 50, AckTimeoutMs: 500, MaxRetries: 3,
	}, src)

	e.Submit(types.RoleClient, "c")
	v.RunUntilIdle(0)

	assert.Equal(t, []types.EventKind{
		types.EventSubmitted,
		types.EventAttempt, types.EventForwardDelivered, types.EventAckLost, types.EventTimeout,
		types.EventAttempt, types.EventForwardDelivered, types.EventAckLost, types.EventTimeout,
		types.EventAttempt, types.EventForwardDelivered, types.EventAckSent, types.EventAckReceived,
	}, rec.Kinds(clientKey(1)))

	term := terminalEvents(rec, clientKey(1))
	require.Len(t, term, 1)
	assert.Equal(t, 3, term[0].Attempt)
	assert.Equal(t, 2, countKind(rec, clientKey(1), types.EventTimeout))
	assert.Zero(t, src.Remaining())
}

func TestScenarioD_ClearAllSilencesMessage(t *testing.T) {
	e, v, rec := newTestEngine(t, config.Network{
		ForwardDelayMs: 100, AckTimeoutMs: 500, MaxRetries: 3,
	}, transport.NewRandSource(1))

	e.Submit(types.RoleClient, "gone")
	v.Advance(50 * time.Millisecond)
	before := len(rec.For(clientKey(1)))

	e.ClearAll()
	v.Advance(10 * time.Second)

	assert.Len(t, rec.For(clientKey(1)), before, "no events after clear")
	assert.Empty(t, e.Tracked())
	assert.Zero(t, v.Pending())

	last := rec.Events()[len(rec.Events())-1]
	assert.Equal(t, types.EventCleared, last.Kind)

	// Ids restart in the new session and stale callbacks cannot touch the new message.
	id := e.Submit(types.RoleClient, "fresh")
	assert.Equal(t, 1, id)
	v.RunUntilIdle(0)
	term := terminalEvents(rec, clientKey(1))
	require.Len(t, term, 1)
	assert.Equal(t, types.EventAckReceived, term[0].Kind)
}

func TestClearAllWithAckInFlight(t *testing.T) {
	e, v, rec := newTestEngine(t, config.Network{
		ForwardDelayMs: 100, AckTimeoutMs: 500, MaxRetries: 3,
	}, transport.NewRandSource(1))

	e.Submit(types.RoleClient, "a")
	v.Advance(150 * time.Millisecond) // ack sent, not yet arrived
	require.Equal(t, types.EventAckSent, rec.Events()[len(rec.Events())-1].Kind)

	e.ClearAll()
	v.RunUntilIdle(0)

	for _, ev := range rec.For(clientKey(1)) {
		assert.NotEqual(t, types.EventAckIgnored, ev.Kind)
		assert.NotEqual(t, types.EventAckReceived, ev.Kind)
	}
}

func TestLateAckAfterFailureIsIgnored(t *testing.T) {
	e, v, rec := newTestEngine(t, config.Network{
		ForwardDelayMs: 100, AckTimeoutMs: 150, MaxRetries: 0,
	}, transport.NewRandSource(1))

	e.Submit(types.RoleClient, "slow")
	v.RunUntilIdle(0)

	assert.Equal(t, []types.EventKind{
		types.EventSubmitted,
		types.EventAttempt,
		types.EventForwardDelivered,
		types.EventAckSent,
		types.EventTimeout,
		types.EventRetryExhausted,
		types.EventAckIgnored,
	}, rec.Kinds(clientKey(1)))

	term := terminalEvents(rec, clientKey(1))
	require.Len(t, term, 1)
	assert.Equal(t, types.EventRetryExhausted, term[0].Kind)
	assert.Empty(t, e.Tracked(), "late ack must not resurrect the message")

	ignored := rec.For(clientKey(1))[6]
	assert.Equal(t, "SCP/1.0 | ACK_IGNORED | id=1 | no active message", ignored.Frame)
}

func TestAckFromEarlierAttemptCompletesMessage(t *testing.T) {
	e, v, rec := newTestEngine(t, config.Network{
		ForwardDelayMs: 100, AckTimeoutMs: 150, MaxRetries: 3,
	}, transport.NewRandSource(1))

	e.Submit(types.RoleClient, "race")
	v.RunUntilIdle(0)

	// try 1 times out at 150ms, its ack lands at 200ms while try 2 is in flight.
	assert.Equal(t, []types.EventKind{
		types.EventSubmitted,
		types.EventAttempt,
		types.EventForwardDelivered,
		types.EventAckSent,
		types.EventTimeout,
		types.EventAttempt,
		types.EventAckReceived,
	}, rec.Kinds(clientKey(1)))

	term := terminalEvents(rec, clientKey(1))
	require.Len(t, term, 1)
	assert.Equal(t, 2, term[0].Attempt)
	assert.Zero(t, v.Pending())
}

func TestConfigSnapshotPerAttempt(t *testing.T) {
	t.Run("change during attempt does not affect it", func(t *testing.T) {
		e, v, rec := newTestEngine(t, config.Network{
			ForwardDelayMs: 100, LossEnabled: true, LossPercent: 0, AckTimeoutMs: 500, MaxRetries: 3,
		}, transport.NewScript(0.5, 0.5, 0.5, 0.5))

		e.Submit(types.RoleClient, "m")
		v.Advance(10 * time.Millisecond)
		require.NoError(t, e.Config().Update(func(n *config.Network) { n.LossPercent = 100 }))
		v.RunUntilIdle(0)

		term := terminalEvents(rec, clientKey(1))
		require.Len(t, term, 1)
		assert.Equal(t, types.EventAckReceived, term[0].Kind)
		assert.Equal(t, 1, term[0].Attempt)
	})

	t.Run("change between attempts affects the next one", func(t *testing.T) {
		e, v, rec := newTestEngine(t, config.Network{
			ForwardDelayMs: 100, LossEnabled: true, LossPercent: 100, AckTimeoutMs: 500, MaxRetries: 3,
		}, transport.NewScript(0.5, 0.5, 0.5, 0.5))

		e.Submit(types.RoleClient, "m")
		v.Advance(10 * time.Millisecond)
		require.Equal(t, types.EventForwardLost, rec.Events()[len(rec.Events())-1].Kind)

		require.NoError(t, e.Config().Update(func(n *config.Network) { n.LossPercent = 0 }))
		v.RunUntilIdle(0)

		assert.Equal(t, 1, countKind(rec, clientKey(1), types.EventForwardLost))
		term := terminalEvents(rec, clientKey(1))
		require.Len(t, term, 1)
		assert.Equal(t, types.EventAckReceived, term[0].Kind)
		assert.Equal(t, 2, term[0].Attempt)
	})

	t.Run("retry ceiling is read per attempt", func(t *testing.T) {
		e, v, rec := newTestEngine(t, config.Network{
			ForwardDelayMs: 100, LossEnabled: true, LossPercent: 100, AckTimeoutMs: 500, MaxRetries: 5,
		}, transport.NewRandSource(3))

		e.Submit(types.RoleClient, "m")
		v.Advance(10 * time.Millisecond)
		require.NoError(t, e.Config().Update(func(n *config.Network) { n.MaxRetries = 0 }))
		v.RunUntilIdle(0)

		term := terminalEvents(rec, clientKey(1))
		require.Len(t, term, 1)
		assert.Equal(t, types.EventRetryExhausted, term[0].Kind)
		assert.Equal(t, 1, term[0].Attempt)
	})
}

func TestZeroTimeoutIsClamped(t *testing.T) {
	e, v, rec := newTestEngine(t, config.Network{
		ForwardDelayMs: 0, LossEnabled: true, LossPercent: 100, AckTimeoutMs: 0, MaxRetries: 1,
	}, transport.NewRandSource(1))

	e.Submit(types.RoleClient, "z")
	v.RunUntilIdle(0)

	term := terminalEvents(rec, clientKey(1))
	require.Len(t, term, 1)
	assert.Equal(t, timer.Epoch.Add(2*time.Millisecond), term[0].Time)
}

func TestRoleIDSequencesAreIndependent(t *testing.T) {
	e, v, rec := newTestEngine(t, config.Network{
		ForwardDelayMs: 10, AckTimeoutMs: 100, MaxRetries: 1,
	}, transport.NewRandSource(1))

	assert.Equal(t, 1, e.Submit(types.RoleClient, "c1"))
	assert.Equal(t, 1, e.Submit(types.RoleServer, "s1"))
	assert.Equal(t, 2, e.Submit(types.RoleClient, "c2"))
	assert.Len(t, e.Tracked(), 3)

	v.RunUntilIdle(0)

	for _, key := range []types.Key{clientKey(1), clientKey(2), {Role: types.RoleServer, ID: 1}} {
		term := terminalEvents(rec, key)
		require.Len(t, term, 1, key.String())
		assert.Equal(t, types.EventAckReceived, term[0].Kind)
	}
	serverRecv := rec.For(types.Key{Role: types.RoleServer, ID: 1})[2]
	assert.Equal(t, "Client received message id=1.", serverRecv.Detail)
}

func TestLossyRunProperties(t *testing.T) {
	const maxRetries = 3
	e, v, rec := newTestEngine(t, config.Network{
		ForwardDelayMs: 40, LossEnabled: true, LossPercent: 45, AckTimeoutMs: 90, MaxRetries: maxRetries,
	}, transport.NewRandSource(20240601))

	const n = 200
	for i := 0; i < n; i++ {
		role := types.RoleClient
		if i%3 == 0 {
			role = types.RoleServer
		}
		e.Submit(role, fmt.Sprintf("m%d", i))
		v.Advance(7 * time.Millisecond)
	}
	v.RunUntilIdle(0)

	var lastSeq uint64
	for _, ev := range rec.Events() {
		require.Greater(t, ev.Seq, lastSeq)
		lastSeq = ev.Seq
	}

	keys := map[types.Key]bool{}
	for _, ev := range rec.Events() {
		keys[ev.Key()] = true
	}
	require.Len(t, keys, n)

	for key := range keys {
		assert.Len(t, terminalEvents(rec, key), 1, "exactly one terminal event for %s", key)
		assert.LessOrEqual(t, countKind(rec, key, types.EventAttempt), maxRetries+1, key.String())

		// Nothing but ignored acks may follow the terminal event.
		evs := rec.For(key)
		seenTerminal := false
		for _, ev := range evs {
			if seenTerminal {
				assert.Equal(t, types.EventAckIgnored, ev.Kind, key.String())
			}
			if ev.Kind.Terminal() {
				seenTerminal = true
			}
		}
	}
	assert.Empty(t, e.Tracked())
	assert.Zero(t, v.Pending())
}

// spyScheduler tracks which ack deadlines are live per message.
type spyScheduler struct {
	*timer.Virtual
	deadline time.Duration
	live     map[timer.Handle]bool
	maxLive  int
}

func (s *spyScheduler) Schedule(d time.Duration, fn func()) timer.Handle {
	var h timer.Handle
	h = s.Virtual.Schedule(d, func() {
		delete(s.live, h)
		fn()
	})
	if d == s.deadline {
		s.live[h] = true
		if len(s.live) > s.maxLive {
			s.maxLive = len(s.live)
		}
	}
	return h
}

func (s *spyScheduler) Cancel(h timer.Handle) bool {
	delete(s.live, h)
	return s.Virtual.Cancel(h)
}

func TestAtMostOneLiveDeadline(t *testing.T) {
	spy := &spyScheduler{
		Virtual:  timer.NewVirtual(time.Time{}),
		deadline: 333 * time.Millisecond,
		live:     make(map[timer.Handle]bool),
	}
	h, err := config.NewHolder(config.Network{
		ForwardDelayMs: 100, LossEnabled: true, LossPercent: 60, AckTimeoutMs: 333, MaxRetries: 6,
	})
	require.NoError(t, err)
	e := New(h, transport.NewSimulator(transport.NewRandSource(5)), spy)
	rec := &Recorder{}
	e.Subscribe(rec)

	e.Submit(types.RoleClient, "one")
	for spy.Step() {
		assert.LessOrEqual(t, len(spy.live), len(e.Tracked()))
	}
	assert.Equal(t, 1, spy.maxLive)
	assert.Len(t, terminalEvents(rec, clientKey(1)), 1)
}

func TestSubscribeCancel(t *testing.T) {
	e, v, rec := newTestEngine(t, config.Network{AckTimeoutMs: 10}, transport.NewRandSource(1))

	other := &Recorder{}
	cancel := e.Subscribe(other)
	e.Submit(types.RoleClient, "one")
	cancel()
	v.RunUntilIdle(0)

	assert.Len(t, other.Events(), 2, "submitted + attempt before unsubscribe")
	assert.Greater(t, len(rec.Events()), 2)
}

func TestUnknownRoleDefaultsToClient(t *testing.T) {
	e, _, rec := newTestEngine(t, config.Network{AckTimeoutMs: 10}, transport.NewRandSource(1))
	e.Submit(types.Role("bogus"), "x")
	assert.Equal(t, types.RoleClient, rec.Events()[0].Role)
}
