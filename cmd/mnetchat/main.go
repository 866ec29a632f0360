// mnetchat is a line-oriented chat demo for mnet. Every participant joins
// the same medium — a wsrelay hub or a UDP broadcast segment — and messages
// are exchanged with reliable delivery, or broadcast unreliably to everyone.
//
// Usage:
//
//	mnetchat -host alice -relay ws://relay.example.org:8473/
//	mnetchat -host bob -udp 8474
//
// Then type `peer some message` to send, or `* some message` to broadcast.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/meshnet-io/mnet"
	"github.com/meshnet-io/mnet/pkg/medium/udpcast"
	"github.com/meshnet-io/mnet/pkg/medium/wsrelay"
)

// pollInterval is the Receive timeout of the pump loop: short enough to keep
// retransmission timely, long enough not to spin.
const pollInterval = 250 * time.Millisecond

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.String("config", "", "path to a TOML config file")
	host := flag.String("host", "", "host name on the mesh (overrides config)")
	relayURL := flag.String("relay", "", "wsrelay hub URL (overrides config)")
	udpPort := flag.Int("udp", 0, "UDP broadcast port (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		pterm.Error.Printfln("cannot load config: %s", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Hostname = *host
	}
	if *relayURL != "" {
		cfg.Relay.URL = *relayURL
	}
	if *udpPort != 0 {
		cfg.UDP.Port = *udpPort
	}

	var medium mnet.Medium
	switch {
	case cfg.Relay.URL != "":
		medium, err = wsrelay.Dial(ctx, cfg.Relay.URL, logHandler)
	case cfg.UDP.Port != 0:
		medium, err = udpcast.New(&udpcast.Config{
			Port:          cfg.UDP.Port,
			BroadcastAddr: cfg.UDP.BroadcastAddr,
			LogHandler:    logHandler,
		})
	default:
		pterm.Error.Println("no medium: set -relay or -udp (or the config equivalents)")
		os.Exit(1)
	}
	if err != nil {
		pterm.Error.Printfln("cannot join medium: %s", err)
		os.Exit(1)
	}

	tr, err := mnet.Create(
		mnet.WithHostname(cfg.Hostname),
		mnet.WithMedium(medium),
		mnet.WithChannel(cfg.Channel),
		mnet.WithMTU(cfg.MTU),
		mnet.WithMaxSequence(cfg.MaxSequence),
		mnet.WithRetransmitInterval(cfg.RetransmitInterval.Duration),
		mnet.WithDropTimeout(cfg.DropTimeout.Duration),
		mnet.WithLog(logHandler),
		mnet.WithMetricSink(nil),
		mnet.WithLossHandler(func(host string, seq uint32, port uint16, payload []byte) {
			pterm.Warning.Printfln("message to %s was lost: %q", host, payload)
		}),
	)
	if err != nil {
		pterm.Error.Printfln("cannot start transport: %s", err)
		os.Exit(1)
	}
	defer tr.Close()

	pterm.Info.Printfln("on the mesh as %s — type `peer message` or `* message`", cfg.Hostname)

	// The pump: nothing in the protocol happens unless Receive is polled.
	go func() {
		for {
			msg, err := tr.Receive(pollInterval)
			if err != nil {
				return
			}
			if msg != nil {
				pterm.Println(pterm.Cyan(msg.From) + ": " + string(msg.Payload))
			}
		}
	}()

	go readLines(ctx, tr, cfg.Port)

	<-ctx.Done()
	pterm.Info.Println("bye")
}

func readLines(ctx context.Context, tr *mnet.Transport, port uint16) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		peer, text, ok := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if !ok || text == "" {
			pterm.Warning.Println("usage: `peer message` or `* message`")
			continue
		}

		if peer == mnet.Broadcast {
			if _, err := tr.Send(peer, port, []byte(text), false); err != nil {
				pterm.Error.Printfln("broadcast failed: %s", err)
			}
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, err := tr.SendWait(sendCtx, peer, port, []byte(text))
		cancel()
		if err != nil {
			pterm.Error.Printfln("send to %s failed: %s", peer, err)
		} else {
			pterm.Success.Printfln("delivered to %s", peer)
		}
	}
	if err := scanner.Err(); err != nil {
		pterm.Error.Printfln("stdin: %s", err)
	}
}
