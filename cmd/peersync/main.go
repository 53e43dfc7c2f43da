// Peersync CLI entry point.
//
// Two peers meet through a small WebSocket relay, negotiate a direct WebRTC
// session, and keep their playback position and play/pause state in sync
// over a DataChannel. The relay only carries signaling.
//
// It can be launched interactively (no --role) or non-interactively via
// flags or a YAML config file (--config).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/peersync/internal/app"
	"github.com/1ureka/peersync/internal/config"
	"github.com/1ureka/peersync/internal/transport"
	"github.com/1ureka/peersync/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Parse(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(2)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peersync — v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		askRole(cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	switch cfg.Role {
	case config.RoleRelay:
		if err := app.RunRelay(ctx, cfg); err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}

	case config.RoleStreamer, config.RoleViewer:
		runPeer(ctx, cfg)
	}

	util.LogInfo("successfully shut down")
}

// runPeer runs a streamer or viewer until Ctrl+C.
func runPeer(ctx context.Context, cfg *config.Config) {
	peer := app.NewPeer(cfg, transport.Factory(cfg.Transport()))

	util.StartStatsReporter(ctx)
	go peer.ReadCommands(ctx, os.Stdin)

	pterm.Info.Println("commands: play | pause | seek <sec> | start [file] | stop | status | help")
	peer.Run(ctx)
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askRole fills in the role (and whatever that role still needs) when no
// --role flag was given.
func askRole(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Viewer   — Watch a file from a streamer",
			"Streamer — Serve files to a viewer",
			"Relay    — Run the signaling relay",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Relay"):
		cfg.Role = config.RoleRelay
	case strings.HasPrefix(role, "Streamer"):
		cfg.Role = config.RoleStreamer
		if cfg.RelayURL == "" {
			cfg.RelayURL = askURL()
		}
	default:
		cfg.Role = config.RoleViewer
		if cfg.RelayURL == "" {
			cfg.RelayURL = askURL()
		}
		if cfg.File == "" {
			cfg.File = askFile()
		}
	}
}

// normalizeWSURL validates and normalizes a raw relay URL.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askURL prompts the user for a valid relay URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. ws://192.168.1.10:8080/ws)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askFile prompts for the file to request. Empty means "decide later".
func askFile() string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("File to play on the streamer (empty to choose later)").
		Show()
	pterm.Println()
	return strings.TrimSpace(raw)
}
