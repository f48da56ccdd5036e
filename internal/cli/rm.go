package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	botsCmd.AddCommand(despawnCmd)
}

var despawnCmd = &cobra.Command{
	Use:     "despawn BOT_ID",
	Aliases: []string{"rm"},
	Short:   "Despawn a bot and mark it inactive",
	Args:    cobra.ExactArgs(1),
	RunE:    runDespawn,
}

func runDespawn(cmd *cobra.Command, args []string) error {
	id := args[0]
	if err := newAPIClient().do("DELETE", "/api/bots/"+id, nil, nil); err != nil {
		return err
	}
	fmt.Printf("Despawned %s\n", id)
	return nil
}
