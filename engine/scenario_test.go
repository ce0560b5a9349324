package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/timer"
	"github.com/samaelod/scpsim/transport"
	"github.com/samaelod/scpsim/types"
)

func intp(v int) *int { return &v }

func TestLoadSchedulesMessagesAndChanges(t *testing.T) {
	sc := &types.Scenario{
		Name: "lossy-then-clean",
		Network: types.ScenarioNetwork{
			ForwardDelayMs: 50, LossEnabled: true, LossPercent: 100, AckTimeoutMs: 200, MaxRetries: 4,
		},
		Messages: []types.ScenarioMessage{
			{Role: "client", Payload: "first", AtMs: 0},
			{Role: "server", Payload: "reply", AtMs: 600},
		},
		Changes: []types.ScenarioChange{
			{AtMs: 300, LossPercent: intp(0)},
		},
	}

	h, err := config.NewHolder(config.DefaultNetwork())
	require.NoError(t, err)
	v := timer.NewVirtual(time.Time{})
	e := New(h, transport.NewSimulator(transport.ForScenario(sc)), v)
	rec := &Recorder{}
	e.Subscribe(rec)

	require.NoError(t, e.Load(sc))
	assert.Equal(t, 100, h.Get().LossPercent)

	v.RunUntilIdle(0)

	// lost at 0ms, retried at 200ms (still lossy), retried at 400ms after the change.
	first := terminalEvents(rec, clientKey(1))
	require.Len(t, first, 1)
	assert.Equal(t, types.EventAckReceived, first[0].Kind)
	assert.Equal(t, 3, first[0].Attempt)

	reply := terminalEvents(rec, types.Key{Role: types.RoleServer, ID: 1})
	require.Len(t, reply, 1)
	assert.Equal(t, types.EventAckReceived, reply[0].Kind)
	assert.Equal(t, 1, reply[0].Attempt)
	assert.Equal(t, 0, h.Get().LossPercent)
}

func TestLoadRejectsBadScenario(t *testing.T) {
	h, err := config.NewHolder(config.DefaultNetwork())
	require.NoError(t, err)
	v := timer.NewVirtual(time.Time{})
	e := New(h, transport.NewSimulator(nil), v)

	err = e.Load(&types.Scenario{
		Network:  types.ScenarioNetwork{AckTimeoutMs: 10},
		Messages: []types.ScenarioMessage{{Role: "router", Payload: "x"}},
	})
	require.Error(t, err)
	assert.Zero(t, v.Pending())
	assert.Equal(t, config.DefaultNetwork(), h.Get())

	err = e.Load(&types.Scenario{Network: types.ScenarioNetwork{MaxRetries: -1}})
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestClearAllStopsLoadedScenario(t *testing.T) {
	sc := &types.Scenario{
		Name:    "cleared-midway",
		Network: types.ScenarioNetwork{ForwardDelayMs: 10, AckTimeoutMs: 100, MaxRetries: 1},
		Messages: []types.ScenarioMessage{
			{Role: "client", Payload: "early", AtMs: 0},
			{Role: "client", Payload: "late", AtMs: 500},
		},
		Changes: []types.ScenarioChange{{AtMs: 300, ForwardDelayMs: intp(70)}},
	}

	h, err := config.NewHolder(config.DefaultNetwork())
	require.NoError(t, err)
	v := timer.NewVirtual(time.Time{})
	e := New(h, transport.NewSimulator(transport.ForScenario(sc)), v)
	rec := &Recorder{}
	e.Subscribe(rec)

	require.NoError(t, e.Load(sc))
	v.Advance(100 * time.Millisecond)
	e.ClearAll()
	v.RunUntilIdle(0)

	events := rec.Events()
	last := events[len(events)-1]
	assert.Equal(t, types.EventCleared, last.Kind, "nothing from the script may follow a clear")
	submitted := 0
	for _, ev := range events {
		if ev.Kind == types.EventSubmitted {
			submitted++
			assert.Contains(t, ev.Frame, "early")
		}
	}
	assert.Equal(t, 1, submitted)
	assert.Equal(t, 10, h.Get().ForwardDelayMs)
	assert.Empty(t, e.Tracked())
}
