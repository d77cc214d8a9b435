package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/1ureka.net.call/internal/app"
	"github.com/1ureka/1ureka.net.call/internal/config"
	"github.com/1ureka/1ureka.net.call/internal/media"
	"github.com/1ureka/1ureka.net.call/internal/util"
)

type role int

const (
	roleDial role = iota
	roleListen
)

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive asks for the role (and the peer when dialing) when no
// subcommand is given.
func runInteractive(cmd *cobra.Command) error {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Dial   — Call a peer", "Listen — Wait for a call"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(choice, "Dial") {
		if flagPeer == "" {
			flagPeer = askPeer()
		}
		return runCall(cmd, roleDial)
	}
	return runCall(cmd, roleListen)
}

// runCall runs one call until either side hangs up, the relay gives up or
// the user interrupts.
func runCall(cmd *cobra.Command, r role) error {
	ctx := cmd.Context()

	// ── 1. Configuration ───────────────────────────────────────────────
	opts := config.Options{
		RelayURL:              flagRelay,
		ClientID:              flagClientID,
		PeerID:                flagPeer,
		ReconnectBaseInterval: flagReconnectBase,
		AnswerTimeout:         flagAnswerTimeout,
		RecordingDir:          flagRecordDir,
	}
	if cmd.Flags().Changed("stun") {
		opts.STUNServer = &flagSTUN
	}
	if cmd.Flags().Changed("reconnect-max") {
		opts.ReconnectMaxAttempts = &flagReconnectMax
	}
	if cmd.Flags().Changed("volume") {
		opts.Volume = &flagVolume
	}
	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}

	// ── 2. Audio collaborators ─────────────────────────────────────────
	out, closeOut, err := openOutput(flagOut)
	if err != nil {
		return err
	}
	defer closeOut()

	var source media.Source = media.GeneratorSource{ToneHz: flagTone}
	if flagIn != "" {
		source = media.FileSource{Path: flagIn}
	}

	sink := media.NewPCMSink(out, cfg.Volume)
	session := app.NewSession(cfg, app.Deps{
		Source: source,
		Sink:   sink,
	})
	defer session.Close()

	util.StartStatsReporter(ctx)

	// ── 3. Dial or listen ──────────────────────────────────────────────
	switch r {
	case roleDial:
		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("failed to start call: %w", err)
		}
	case roleListen:
		if err := session.Listen(ctx); err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
	}

	hangUp := make(chan struct{})
	go readCommands(os.Stdin, session, hangUp)

	// ── 4. Block until the call ends ───────────────────────────────────
	ended := session.Ended()
	connected := session.Connected()
	for done := false; !done; {
		select {
		case <-connected:
			util.LogSuccess("audio connected, type 'help' for in-call commands")
			connected = nil
		case <-ctx.Done():
			done = true
		case <-ended:
			done = true
		case <-hangUp:
			done = true
		case <-session.Unavailable():
			done = true
		}
	}

	session.End()
	sink.Wait()
	util.LogInfo("call closed")
	return nil
}

// ---------------------------------------------------------------------------
// In-call commands
// ---------------------------------------------------------------------------

// readCommands reads line commands from r until EOF or hang-up.
func readCommands(r io.Reader, session *app.Session, hangUp chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch strings.ToLower(fields[0]) {
		case "mute":
			session.SetMute(true)
			util.LogInfo("microphone muted")
		case "unmute":
			session.SetMute(false)
			util.LogInfo("microphone live")
		case "vol", "volume":
			if len(fields) != 2 {
				util.LogWarning("usage: vol <0..1>")
				continue
			}
			level, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				util.LogWarning("invalid volume %q", fields[1])
				continue
			}
			session.SetVolume(level)
			util.LogInfo("volume set to %.2f", media.ClampVolume(level))
		case "hold":
			if err := session.Hold(); err != nil {
				util.LogWarning("cannot hold: %v", err)
			}
		case "resume":
			if err := session.Resume(); err != nil {
				util.LogWarning("cannot resume: %v", err)
			}
		case "record":
			if _, err := session.StartRecording(); err != nil {
				util.LogWarning("cannot record: %v", err)
			}
		case "stop-record":
			path, err := session.StopRecording()
			if err != nil {
				util.LogWarning("cannot stop recording: %v", err)
				continue
			}
			util.LogInfo("recording saved to %s", path)
		case "status":
			state := session.State().String()
			if session.OnHold() {
				state += " (on hold)"
			}
			util.LogInfo("state %s, peer %s, duration %s", state, session.PeerState(), session.Duration().Round(time.Second))
		case "hangup", "bye", "quit":
			close(hangUp)
			return
		case "help":
			util.LogInfo("commands: mute, unmute, vol <0..1>, hold, resume, record, stop-record, status, hangup")
		default:
			util.LogWarning("unknown command %q", fields[0])
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// openOutput opens the PCM destination. Empty discards audio; "-" is
// stdout.
func openOutput(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return io.Discard, func() {}, nil
	case "-":
		return os.Stdout, func() {}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audio output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// askPeer prompts for the remote client id until one is entered.
func askPeer() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Peer client id").
			Show()

		pterm.Println()
		if id := strings.TrimSpace(raw); id != "" {
			return id
		}
		util.LogWarning("peer id must not be empty")
	}
}
