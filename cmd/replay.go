package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/samaelod/scpsim/capture"
	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/engine"
	"github.com/samaelod/scpsim/feed"
	"github.com/samaelod/scpsim/lua"
	"github.com/samaelod/scpsim/stats"
	"github.com/samaelod/scpsim/timer"
	"github.com/samaelod/scpsim/transport"
)

type replayOptions struct {
	scenario string
	capture  string
	feedAddr string
	realtime bool
}

// replayLimit bounds a virtual replay; a scenario needs far fewer steps.
const replayLimit = 1_000_000

const idlePoll = 50 * time.Millisecond

// replay runs a scenario to completion and prints every event followed by
// the statistics summary.
func replay(ctx context.Context, opts replayOptions, out io.Writer) error {
	sc, err := lua.ReadScenario(opts.scenario)
	if err != nil {
		return err
	}

	holder, err := config.NewHolder(engine.NetworkOf(sc))
	if err != nil {
		return err
	}

	var (
		virtual *timer.Virtual
		loop    *timer.Loop
		sched   timer.Scheduler
	)
	if opts.realtime {
		loop = timer.NewLoop()
		sched = loop
	} else {
		virtual = timer.NewVirtual(timer.Epoch)
		sched = virtual
	}

	e := engine.New(holder, transport.NewSimulator(transport.ForScenario(sc)), sched)
	e.Subscribe(engine.NewWriterReporter(out))
	collector := stats.NewCollector()
	e.Subscribe(collector)

	if opts.capture != "" {
		w, err := capture.Create(opts.capture)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.Printf("capture close: %v", err)
			}
			fmt.Fprintf(out, "captured %d packets to %s\n", w.Packets(), opts.capture)
		}()
		e.Subscribe(w)
	}

	if opts.feedAddr != "" {
		hub := feed.NewHub(holder)
		e.Subscribe(hub)

		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		srv := &http.Server{Addr: opts.feedAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("feed server: %v", err)
			}
		}()
		defer func() {
			hub.Close()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if err := e.Load(sc); err != nil {
		return err
	}

	if opts.realtime {
		lctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			loop.Run(lctx)
		}()
		err = waitIdle(lctx, loop)
		cancel()
		<-done
		if err != nil {
			return err
		}
	} else {
		if n := virtual.RunUntilIdle(replayLimit); n >= replayLimit && virtual.Pending() > 0 {
			return fmt.Errorf("scenario %q did not settle after %d steps", sc.Name, n)
		}
	}

	fmt.Fprintln(out, collector.Summary())
	return nil
}

// waitIdle returns once the loop has nothing scheduled. The check runs on
// the loop itself so no callback is half way through.
func waitIdle(ctx context.Context, loop *timer.Loop) error {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		idle := make(chan bool, 1)
		loop.Post(func() { idle <- loop.Pending() == 0 })
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ok := <-idle:
			if ok {
				return nil
			}
		}
	}
}
