// Package cli implements the npcforge command-line interface using Cobra.
// It is a thin client over internal/daemon: serve runs the control-plane
// daemon in the foreground, bots {list,spawn,despawn} talk to the admin
// HTTP API of a running daemon.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "npcforge",
	Short: "npcforge — fleet control plane for autonomous NPC bots",
	Long: `npcforge supervises a fleet of autonomous NPC bots in a sandbox
game world: spawning and despawning them against a game server, running
their per-tick sense/decide/act loop, and recording what they learn.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var apiBaseURL string
var apiKeyFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api", "http://127.0.0.1:8745", "Admin API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", os.Getenv("NPCFORGE_API_KEY"), "Admin API key (defaults to $NPCFORGE_API_KEY)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
