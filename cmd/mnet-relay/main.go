// mnet-relay runs a wsrelay hub: a WebSocket endpoint emulating a shared
// broadcast segment for mnet hosts scattered across the WAN.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/meshnet-io/mnet/pkg/medium/wsrelay"
)

func main() {
	listen := flag.String("listen", ":8473", "address to listen on")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)

	hub := wsrelay.NewHub(handler)
	logger.Info("relay listening", "addr", *listen)
	if err := http.ListenAndServe(*listen, hub); err != nil {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}
