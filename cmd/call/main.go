// Command call places and answers peer-to-peer audio calls.
//
// Offers, answers and ICE candidates are exchanged through a WebSocket
// relay; audio flows directly between the peers once connected.
//
// Without a subcommand it asks interactively whether to dial or listen.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/1ureka.net.call/internal/config"
	"github.com/1ureka/1ureka.net.call/internal/util"
)

var version = "dev"

var (
	flagRelay         string
	flagPeer          string
	flagClientID      string
	flagSTUN          string
	flagReconnectBase time.Duration
	flagReconnectMax  int
	flagAnswerTimeout time.Duration
	flagVolume        float64
	flagTone          float64
	flagIn            string
	flagOut           string
	flagRecordDir     string
	flagDebug         bool
	flagTrace         bool
)

var rootCmd = &cobra.Command{
	Use:     "call",
	Short:   "Peer-to-peer audio calls over WebRTC with relay signaling",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case flagTrace:
			util.EnableTrace()
		case flagDebug:
			util.EnableDebug()
		}
		if flagOut == "-" {
			util.LogToStderr()
		}
		pterm.Info.Printfln("call v%s", version)
		pterm.Println()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd)
	},
}

var dialCmd = &cobra.Command{
	Use:   "dial [peer-id]",
	Short: "Call a peer",
	Long: `Call a peer through the relay and stay on the line until either side hangs up.

Examples:
  call dial bob
  call dial --relay wss://relay.example.com/ws --tone 440 bob`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			flagPeer = args[0]
		}
		return runCall(cmd, roleDial)
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Wait for an incoming call and answer it",
	Long: `Register with the relay and answer the first incoming offer.

Examples:
  call listen --client-id bob
  call listen --out - | aplay -f S16_LE -r 8000 -c 1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd, roleListen)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagRelay, "relay", "", "relay WebSocket URL (env CALL_RELAY_URL)")
	pf.StringVar(&flagPeer, "peer", "", "remote client id to address (env CALL_PEER_ID)")
	pf.StringVar(&flagClientID, "client-id", "", "client id to register (env CALL_CLIENT_ID, default random)")
	pf.StringVar(&flagSTUN, "stun", "", "STUN server URL (env STUN_SERVER)")
	pf.DurationVar(&flagReconnectBase, "reconnect-base", 0, "first relay reconnect delay, doubled per attempt (env CALL_RECONNECT_BASE)")
	pf.IntVar(&flagReconnectMax, "reconnect-max", 0, "relay reconnect attempts before giving up (env CALL_RECONNECT_MAX)")
	pf.DurationVar(&flagAnswerTimeout, "answer-timeout", 0, "hang up an unanswered call after this long (env CALL_ANSWER_TIMEOUT)")
	pf.Float64Var(&flagVolume, "volume", config.DefaultVolume, "initial output volume, 0 to 1")
	pf.StringVar(&flagRecordDir, "record-dir", "", "directory for call recordings (env CALL_RECORDING_DIR, default recordings)")
	pf.Float64Var(&flagTone, "tone", 0, "send a sine tone of this frequency in Hz instead of silence")
	pf.StringVar(&flagIn, "in", "", "send raw 8 kHz mono s16le audio from this file")
	pf.StringVar(&flagOut, "out", "", "write received audio as raw 8 kHz mono s16le to this file (- for stdout)")
	pf.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	pf.BoolVar(&flagTrace, "trace", false, "enable trace logging (pion internals, RTP reordering)")

	rootCmd.AddCommand(dialCmd, listenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}
