// Package main is the entry point for the feedcache service: the background
// data layer of the LED-matrix display. It owns the cache store, the
// background fetch scheduler and the operational HTTP API; display managers
// in the same process read data through per-domain consumption clients.
package main

import (
	"github.com/openmatrix/feedcache/config"
	"github.com/openmatrix/feedcache/internal/app"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()

	a, err := app.InitializeApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Initialization failed")
	}

	server := app.NewServer(a.Router, cfg.Server.Port)
	err = server.Run()

	// Drain background work and flush the cache mirror before exit.
	a.Shutdown()

	if err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}
