package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/npcforge/npcforge/internal/domain"
)

func init() {
	spawnCmd.Flags().StringVar(&spawnRole, "role", "", "Bot role (miner, builder, explorer, combat, farmer, generalist)")
	spawnCmd.Flags().StringVar(&spawnEntityType, "entity-type", "villager", "Game-world entity type to spawn as")
	spawnCmd.Flags().StringVar(&spawnDescription, "description", "", "Freeform description stored with the bot")
	spawnCmd.Flags().BoolVar(&spawnMergeLearning, "merge-learning", false, "Seed the new bot from an existing learning profile of the same name")
	botsCmd.AddCommand(spawnCmd)
}

var (
	spawnRole          string
	spawnEntityType    string
	spawnDescription   string
	spawnMergeLearning bool
)

var spawnCmd = &cobra.Command{
	Use:   "spawn NAME",
	Short: "Spawn a new bot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpawn,
}

func runSpawn(cmd *cobra.Command, args []string) error {
	name := args[0]
	role := domain.BotRole(spawnRole)
	if !role.IsValid() {
		return fmt.Errorf("invalid role %q, want one of %v", spawnRole, domain.AllRoles())
	}

	req := map[string]any{
		"name":          name,
		"role":          role,
		"entityType":    spawnEntityType,
		"description":   spawnDescription,
		"mergeLearning": spawnMergeLearning,
	}

	var profile domain.BotIdentity
	if err := newAPIClient().do("POST", "/api/bots", req, &profile); err != nil {
		return err
	}

	fmt.Printf("Spawned bot %s (%s) id=%s\n", profile.Name, profile.Role, profile.ID)
	return nil
}
