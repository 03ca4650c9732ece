// Package cli is the headless peer: it joins rooms, places calls and lists
// rooms against a meshcall relay.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "peer",
	Short: "Headless meshcall peer",
	Long: `peer connects to a meshcall relay and negotiates WebRTC sessions with
other peers: a full mesh per room, or a single call.

Examples:
  peer join standup --name Ada
  peer join standup --host --waiting-room
  peer call bob --id alice
  peer wait --id bob
  peer rooms --url https://relay.example.com`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("url", "", "relay URL (ws, wss, http or https)")
	pf.String("id", "", "peer id (random when empty)")
	pf.String("name", "", "display name")
	pf.String("log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringSlice("stun", nil, "STUN server URLs")

	rootCmd.AddCommand(joinCmd, callCmd, waitCmd, roomsCmd)
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}
