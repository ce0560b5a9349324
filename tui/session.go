package tui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samaelod/scpsim/capture"
	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/engine"
	"github.com/samaelod/scpsim/feed"
	"github.com/samaelod/scpsim/stats"
	"github.com/samaelod/scpsim/timer"
	"github.com/samaelod/scpsim/transport"
	"github.com/samaelod/scpsim/types"
)

// session is one running simulation: the engine on a wall-clock loop plus
// every reporter attached to it.
type session struct {
	name    string
	path    string // scenario file, empty for live sessions
	started time.Time

	cfg     *config.Holder
	loop    *timer.Loop
	engine  *engine.Engine
	log     *engine.Logger
	console *engine.Console
	stats   *stats.Collector
	capture *capture.Writer
	hub     *feed.Hub
	server  *http.Server

	cancel   context.CancelFunc
	loopDone chan struct{}

	// messages typed in this session, kept for saving as a scenario
	sent []types.ScenarioMessage
}

func sessionName(path string) string {
	if path == "" {
		return "live-" + time.Now().Format("20060102-150405")
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// startSession builds and starts a session. sc may be nil for a live
// session driven only by typed messages.
func startSession(app *config.Config, sc *types.Scenario, path string) (*session, error) {
	network := app.Network
	var src transport.Source
	if sc != nil {
		network = engine.NetworkOf(sc)
		src = transport.ForScenario(sc)
	}

	holder, err := config.NewHolder(network)
	if err != nil {
		return nil, err
	}

	loop := timer.NewLoop()
	s := &session{
		name:     sessionName(path),
		path:     path,
		started:  loop.Now(),
		cfg:      holder,
		loop:     loop,
		engine:   engine.New(holder, transport.NewSimulator(src), loop),
		console:  engine.NewConsole(app.LogLines),
		stats:    stats.NewCollector(),
		loopDone: make(chan struct{}),
	}

	s.log = engine.NewLogger(filepath.Join(app.LogsDir, s.name+".log"), app.LogLines)
	s.engine.Subscribe(s.log)
	s.engine.Subscribe(s.console)
	s.engine.Subscribe(s.stats)

	if app.CaptureDir != "" {
		if err := os.MkdirAll(app.CaptureDir, 0755); err != nil {
			log.Printf("capture disabled: %v", err)
		} else if w, err := capture.Create(filepath.Join(app.CaptureDir, s.name+".pcapng")); err != nil {
			log.Printf("capture disabled: %v", err)
		} else {
			s.capture = w
			s.engine.Subscribe(w)
		}
	}

	if app.FeedAddr != "" {
		s.hub = feed.NewHub(holder)
		s.engine.Subscribe(s.hub)

		mux := http.NewServeMux()
		mux.Handle("/ws", s.hub)
		s.server = &http.Server{Addr: app.FeedAddr, Handler: mux}
		go func() {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("feed server: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.loopDone)
		loop.Run(ctx)
	}()

	if sc != nil {
		if err := s.engine.Load(sc); err != nil {
			s.Close()
			return nil, fmt.Errorf("load scenario: %w", err)
		}
	}

	log.Printf("session %s started", s.name)
	return s, nil
}

// Send submits a typed message and remembers it for Save.
func (s *session) Send(role types.Role, payload string) int {
	s.sent = append(s.sent, types.ScenarioMessage{
		Role:    string(role),
		Payload: payload,
		AtMs:    int(s.loop.Now().Sub(s.started) / time.Millisecond),
	})
	return s.engine.Submit(role, payload)
}

// Clear runs ClearAll and restarts the recording of typed messages.
func (s *session) Clear() {
	s.engine.ClearAll()
	s.sent = nil
	s.started = s.loop.Now()
}

// Scenario describes the session as it stands: current knobs and the
// messages typed so far at their offsets.
func (s *session) Scenario() *types.Scenario {
	n := s.cfg.Get()
	sent := make([]types.ScenarioMessage, len(s.sent))
	copy(sent, s.sent)
	return &types.Scenario{
		Name: s.name,
		Network: types.ScenarioNetwork{
			ForwardDelayMs: n.ForwardDelayMs,
			LossEnabled:    n.LossEnabled,
			LossPercent:    n.LossPercent,
			AckTimeoutMs:   n.AckTimeoutMs,
			MaxRetries:     n.MaxRetries,
		},
		Messages: sent,
	}
}

// Close stops the loop first so no callback reports into a closed sink.
func (s *session) Close() {
	if s == nil {
		return
	}
	s.cancel()
	<-s.loopDone

	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			log.Printf("capture close: %v", err)
		}
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	}
	s.log.Close()
}
