package main

import (
	"context"
	"os"
	"time"

	"github.com/camtap/camtap/internal/api"
	"github.com/camtap/camtap/internal/api/ws"
	"github.com/camtap/camtap/internal/app"
	"github.com/camtap/camtap/internal/capture"
	"github.com/camtap/camtap/internal/discovery"
	"github.com/camtap/camtap/pkg/shell"
)

func main() {
	app.Init() // init config and logs

	ctx, stop := shell.SignalContext(context.Background())
	defer stop()

	if app.DiscoverOnly {
		discovery.Init()

		if err := discovery.RunAndPrint(ctx, os.Stdout); err != nil {
			app.Logger.Error().Err(err).Msg("[discovery] run")
			os.Exit(1)
		}
		return
	}

	api.Init() // init HTTP API server
	ws.Init()  // init WS API endpoint

	discovery.Init()
	capture.Init() // load cameras, may ask passwords

	capture.Run(ctx)

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := api.Shutdown(shutdown); err != nil {
		app.Logger.Warn().Err(err).Msg("[api] shutdown")
	}
}
