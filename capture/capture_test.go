package capture

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/engine"
	"github.com/samaelod/scpsim/scp"
	"github.com/samaelod/scpsim/timer"
	"github.com/samaelod/scpsim/transport"
	"github.com/samaelod/scpsim/types"
)

// runLossyFirstTry sends one client message whose first copy is lost.
func runLossyFirstTry(t *testing.T, r engine.Reporter) {
	t.Helper()

	h, err := config.NewHolder(config.Network{
		ForwardDelayMs: 100, LossEnabled: true, LossPercent: 50, AckTimeoutMs: 300, MaxRetries: 3,
	})
	require.NoError(t, err)

	v := timer.NewVirtual(timer.Epoch)
	e := engine.New(h, transport.NewSimulator(transport.Pattern(true, false, false)), v)
	e.Subscribe(r)

	e.Submit(types.RoleClient, "hello | world")
	v.RunUntilIdle(0)
}

func TestWriterRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatPcap, FormatPcapNG} {
		var buf bytes.Buffer
		w, err := NewWriter(&buf, format)
		require.NoError(t, err)

		runLossyFirstTry(t, w)
		assert.Equal(t, 3, w.Packets())
		require.NoError(t, w.Close())

		packets, err := ReadFrom(&buf)
		require.NoError(t, err)
		require.Len(t, packets, 3)

		want := []Packet{
			{Time: timer.Epoch, From: types.RoleClient, To: types.RoleServer, Frame: scp.Msg(1, "hello | world")},
			{Time: timer.Epoch.Add(300 * time.Millisecond), From: types.RoleClient, To: types.RoleServer, Frame: scp.Msg(1, "hello | world")},
			{Time: timer.Epoch.Add(400 * time.Millisecond), From: types.RoleServer, To: types.RoleClient, Frame: scp.Ack(1)},
		}
		for i := range want {
			assert.Equal(t, want[i].From, packets[i].From, "packet %d", i)
			assert.Equal(t, want[i].To, packets[i].To, "packet %d", i)
			assert.Equal(t, want[i].Frame, packets[i].Frame, "packet %d", i)
			assert.True(t, want[i].Time.Equal(packets[i].Time), "packet %d at %s", i, packets[i].Time)
		}
	}
}

func TestCreateAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.pcapng")
	assert.Equal(t, FormatPcapNG, FormatFor(path))
	assert.Equal(t, FormatPcap, FormatFor("run.pcap"))

	w, err := Create(path)
	require.NoError(t, err)
	runLossyFirstTry(t, w)
	require.NoError(t, w.Close())

	packets, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, packets, 3)
}

func TestWriterForgetsClearedPayloads(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, FormatPcap)
	require.NoError(t, err)

	w.Report(types.Event{Kind: types.EventSubmitted, ID: 1, Role: types.RoleServer, Frame: scp.Msg(1, "kept").String()})
	w.Report(types.Event{Kind: types.EventCleared})
	w.Report(types.Event{Kind: types.EventAttempt, ID: 1, Role: types.RoleServer, Attempt: 1, Time: timer.Epoch})
	require.NoError(t, w.Close())

	packets, err := ReadFrom(&buf)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, types.RoleServer, packets[0].From)
	assert.Equal(t, scp.Msg(1, ""), packets[0].Frame)
}

func TestReadEmpty(t *testing.T) {
	_, err := ReadFrom(bytes.NewReader(nil))
	assert.Error(t, err)
}
