package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/samaelod/scpsim/config"
	"github.com/samaelod/scpsim/tui"
)

var version = "dev"

func main() {
	var (
		configPath   = flag.String("config", "", "config file (default: scpsim.json, .scpsim.json, ~/.config/scpsim/config.json)")
		scenarioPath = flag.String("scenario", "", "replay a Lua scenario without the UI")
		capturePath  = flag.String("capture", "", "write the replayed frames to a .pcap or .pcapng file")
		feedAddr     = flag.String("feed", "", "serve replay events on ws://ADDR/ws (implies -realtime)")
		realtime     = flag.Bool("realtime", false, "replay on the wall clock instead of the virtual clock")
	)
	flag.Parse()

	// Only create debug log in dev builds
	if version == "dev" {
		f, err := os.OpenFile("debug.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			log.SetOutput(f)
		}
	}

	var (
		app *config.Config
		err error
	)
	if *configPath == "" {
		app, err = config.LoadDefault()
	} else {
		app, err = config.Load(*configPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	if *scenarioPath == "" {
		if err := tui.Run(version, app); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := replayOptions{
		scenario: *scenarioPath,
		capture:  *capturePath,
		feedAddr: *feedAddr,
		realtime: *realtime || *feedAddr != "",
	}
	if err := replay(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}
