package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/npcforge/npcforge/internal/domain"
)

func init() {
	botsCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List known bots",
	RunE:    runList,
}

func runList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Bots []domain.BotIdentity `json:"bots"`
	}
	if err := newAPIClient().do("GET", "/api/bots", nil, &resp); err != nil {
		return err
	}

	if len(resp.Bots) == 0 {
		fmt.Println("No bots registered. Run 'npcforge bots spawn' to create one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tSTATUS\tSPAWNS")
	for _, b := range resp.Bots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", b.ID, b.Name, b.Role, b.Status, b.SpawnCount)
	}
	return w.Flush()
}
