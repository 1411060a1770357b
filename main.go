// ABOUTME: Entry point for the chime audio player
// ABOUTME: Parses CLI flags, wires the engine, TUI and playlist advance
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chime-player/chime-go/internal/engine"
	"github.com/chime-player/chime-go/internal/ui"
	"github.com/chime-player/chime-go/internal/version"
	"github.com/chime-player/chime-go/pkg/audio/decode"
	"github.com/chime-player/chime-go/pkg/audio/output"
	"github.com/chime-player/chime-go/pkg/track"
)

var (
	backend    = flag.String("output", defaultBackend(), "Output backend ("+strings.Join(output.Backends(), ", ")+")")
	device     = flag.String("device", "", "Output device name (backend default when empty)")
	volume     = flag.Float64("volume", 1.0, "Playback volume (0.0-1.0)")
	logFile    = flag.String("log-file", "chime.log", "Log file path")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	listDev    = flag.Bool("list-devices", false, "List output devices and exit")
	streamLogs = flag.Bool("stream-logs", false, "Alias for -no-tui")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func defaultBackend() string {
	if runtime.GOOS == "linux" {
		return "alsa"
	}
	return "oto"
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	if *listDev {
		listDevices(*backend)
		return
	}

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "usage: chime [flags] file...\nsupported formats: %s\n",
			strings.Join(decode.Extensions(), ", "))
		os.Exit(2)
	}

	useTUI := !(*noTUI || *streamLogs)

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	playlist := make([]track.Track, 0, len(paths))
	for _, p := range paths {
		playlist = append(playlist, track.New(p))
	}

	eng := engine.New(engine.Config{
		Backend: *backend,
		Device:  *device,
		Volume:  *volume,
	})
	go eng.Run()

	pl := &player{engine: eng, playlist: playlist}

	var tuiProg *tea.Program
	if useTUI {
		tuiProg = ui.Run(ui.Controls{
			Play:      eng.Play,
			Pause:     eng.Pause,
			Stop:      eng.Stop,
			Seek:      eng.Seek,
			SetVolume: eng.SetVolume,
			Next:      pl.next,
			Prev:      pl.prev,
		}, *volume)
	} else {
		log.Printf("Starting %s %s: %d track(s), backend %s",
			version.Product, version.Version, len(playlist), *backend)
	}

	tuiDone := make(chan struct{})
	if tuiProg != nil {
		go func() {
			defer close(tuiDone)
			if _, err := tuiProg.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go pl.pumpEvents(tuiProg, done)

	pl.current = 0
	eng.Load(playlist[0])
	eng.Play()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if tuiProg != nil {
		select {
		case <-tuiDone:
			log.Printf("TUI closed")
		case <-sigChan:
			log.Printf("Shutdown signal received")
			tuiProg.Quit()
		case <-done:
			log.Printf("Playlist finished")
			tuiProg.Quit()
		}
	} else {
		select {
		case <-sigChan:
			log.Printf("Shutdown signal received")
		case <-done:
			log.Printf("Playlist finished")
		}
	}

	eng.Close()
	log.Printf("Player stopped")
}

// player tracks the playlist cursor around the engine.
type player struct {
	engine   *engine.Engine
	playlist []track.Track
	current  int
}

func (p *player) next() {
	if p.current+1 >= len(p.playlist) {
		return
	}
	p.current++
	p.engine.Load(p.playlist[p.current])
}

func (p *player) prev() {
	if p.current == 0 {
		p.engine.Seek(0)
		return
	}
	p.current--
	p.engine.Load(p.playlist[p.current])
}

// pumpEvents forwards engine notifications to the TUI and advances the
// playlist. done is closed when the last track finishes.
func (p *player) pumpEvents(tuiProg *tea.Program, done chan struct{}) {
	send := func(msg tea.Msg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	for ev := range p.engine.Events() {
		switch ev.Kind {
		case engine.EventTrackStatusChanged:
			if ev.Err != nil {
				log.Printf("Track failed: %s: %v", ev.Track.Path, ev.Err)
				if !p.advance() {
					close(done)
					return
				}
				continue
			}
			send(ui.TrackMsg{Path: ev.Track.Path})

		case engine.EventStateChanged:
			send(ui.StateMsg(ev.Status))

		case engine.EventPositionChanged:
			send(ui.PositionMsg(ev.Position))

		case engine.EventTrackAboutToFinish:
			log.Printf("Track about to finish: %s (lead %v)", ev.Track.Path, ev.Position)

		case engine.EventTrackFinished:
			log.Printf("Track finished: %s", ev.Track.Path)
			if !p.advance() {
				close(done)
				return
			}

		case engine.EventDeviceDisconnected:
			log.Printf("Output device lost: %v", ev.Err)
			send(ui.DeviceLostMsg{Err: ev.Err})
		}
	}
}

// advance moves to the next playlist entry, reporting false at the end.
func (p *player) advance() bool {
	if p.current+1 >= len(p.playlist) {
		return false
	}
	p.current++
	p.engine.Load(p.playlist[p.current])
	p.engine.Play()
	return true
}

// listDevices prints the endpoints the chosen backend can open.
func listDevices(name string) {
	out, err := output.New(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unknown backend %q (available: %s)\n",
			name, strings.Join(output.Backends(), ", "))
		os.Exit(2)
	}
	devices := out.Devices()
	if len(devices) == 0 {
		fmt.Println("no output devices found")
		return
	}
	for _, d := range devices {
		fmt.Printf("%-24s %s\n", d.Name, d.Description)
	}
}
