package feed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/scp"
	"github.com/samaelod/scpsim/timer"
	"github.com/samaelod/scpsim/types"
)

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := DecodeEnvelope(b)
	require.NoError(t, err)
	return env
}

func TestHubBroadcastsEvents(t *testing.T) {
	h, err := config.NewHolder(config.DefaultNetwork())
	require.NoError(t, err)

	hub := NewHub(h)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	env := readEnvelope(t, conn)
	assert.Equal(t, MsgHello, env.T)
	hello, err := DecodePayload[Hello](env)
	require.NoError(t, err)
	assert.Equal(t, scp.Version, hello.Version)
	require.NotNil(t, hello.Network)
	assert.Equal(t, config.DefaultNetwork(), *hello.Network)
	assert.Equal(t, 1, hub.Clients())

	hub.Report(types.Event{
		Seq:     7,
		Time:    timer.Epoch,
		ID:      3,
		Role:    types.RoleServer,
		Kind:    types.EventAckLost,
		Attempt: 2,
		Detail:  "ACK for id=3 was lost in transit (simulated).",
		Frame:   scp.Ack(3).String(),
	})

	env = readEnvelope(t, conn)
	assert.Equal(t, MsgEvent, env.T)
	got, err := DecodePayload[Event](env)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, "server", got.Role)
	assert.Equal(t, "ack-lost", got.Kind)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, "SCP/1.0 | ACK | id=3 | MSG_RECEIVED", got.Frame)
	assert.True(t, timer.Epoch.Equal(got.Time))
	assert.Equal(t, uint64(1), hub.Sent())
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	slow := &client{send: make(chan []byte, 1), done: make(chan struct{})}
	hub.register(slow)

	hub.Report(types.Event{Kind: types.EventCleared, Detail: "Logs cleared."})
	hub.Report(types.Event{Kind: types.EventCleared, Detail: "Logs cleared."})

	assert.Equal(t, uint64(1), hub.Sent())
	assert.Equal(t, uint64(1), hub.Dropped())

	hub.unregister(slow)
	assert.Zero(t, hub.Clients())
	select {
	case <-slow.done:
	default:
		t.Fatal("unregister did not stop the client")
	}
}

func TestEncodeRejectsEmpty(t *testing.T) {
	_, err := Encode("", Event{})
	assert.Error(t, err)
	_, err = Encode(MsgEvent, nil)
	assert.Error(t, err)
	_, err = DecodeEnvelope(nil)
	assert.Error(t, err)
}
