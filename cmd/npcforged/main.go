// Package main is the single-binary entrypoint for npcforge: the bot-fleet
// control-plane daemon and its admin CLI.
package main

import "github.com/npcforge/npcforge/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
