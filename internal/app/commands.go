package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/peersync/internal/util"
)

var (
	errNoFile         = errors.New("no file: pass one to `start` or use --file")
	errUnknownCommand = errors.New("unknown command")
)

// Exec runs one interactive command line.
func (p *Peer) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch cmd, args := fields[0], fields[1:]; cmd {
	case "play":
		p.player.Play()

	case "pause":
		p.player.Pause()

	case "seek":
		if len(args) != 1 {
			return fmt.Errorf("usage: seek <seconds>")
		}
		pos, err := strconv.ParseFloat(args[0], 64)
		if err != nil || pos < 0 {
			return fmt.Errorf("invalid position %q", args[0])
		}
		p.player.Seek(pos)

	case "status":
		p.printStatus()

	case "start":
		return p.Start(strings.Join(args, " "))

	case "stop":
		p.Stop()

	case "help":
		printHelp()

	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, cmd)
	}

	return nil
}

// ReadCommands executes newline-separated commands from r until EOF or
// ctx is cancelled.
func (p *Peer) ReadCommands(ctx context.Context, r io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := p.Exec(line); err != nil {
				util.LogWarning("%v", err)
			}
		}
	}
}

func (p *Peer) printStatus() {
	link := "disconnected"
	if p.LinkConnected() {
		link = "connected"
	}
	playing := "paused"
	if p.player.Playing() {
		playing = "playing"
	}

	file := p.File()
	if file == "" {
		file = "-"
	}

	pterm.DefaultTable.WithData(pterm.TableData{
		{"Peer", p.cfg.PeerID},
		{"Relay", link},
		{"Session", p.State().String()},
		{"File", file},
		{"Playback", fmt.Sprintf("%s @ %.2fs", playing, p.player.Position())},
	}).Render()
}

func printHelp() {
	pterm.DefaultTable.WithData(pterm.TableData{
		{"play", "resume playback"},
		{"pause", "pause playback"},
		{"seek <sec>", "jump to a position"},
		{"start [file]", "ask the peer to stream a file"},
		{"stop", "end the session"},
		{"status", "show connection and playback state"},
	}).Render()
}
