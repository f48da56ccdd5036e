package supervisor

import (
	"context"
	"fmt"

	"github.com/npcforge/npcforge/internal/domain"
)

// TeamPreset expands to a fixed list of roles, indexed by bot number
// within the team (1-based) for naming purposes.
type TeamPreset string

const (
	PresetMining      TeamPreset = "mining"
	PresetBuilding    TeamPreset = "building"
	PresetExploration TeamPreset = "exploration"
	PresetCombat      TeamPreset = "combat"
	PresetFarming     TeamPreset = "farming"
	PresetBalanced    TeamPreset = "balanced"
)

// teamRoster is the fixed named preset → role list expansion, per spec
// §4.G. Each preset is a small worker squad themed around its name, with
// "balanced" mixing one of each specialist plus a generalist.
var teamRoster = map[TeamPreset][]domain.BotRole{
	PresetMining:      {domain.RoleMiner, domain.RoleMiner, domain.RoleMiner},
	PresetBuilding:    {domain.RoleBuilder, domain.RoleBuilder, domain.RoleMiner},
	PresetExploration: {domain.RoleExplorer, domain.RoleExplorer},
	PresetCombat:      {domain.RoleCombat, domain.RoleCombat, domain.RoleCombat},
	PresetFarming:     {domain.RoleFarmer, domain.RoleFarmer},
	PresetBalanced:    {domain.RoleMiner, domain.RoleBuilder, domain.RoleExplorer, domain.RoleCombat, domain.RoleFarmer, domain.RoleGeneralist},
}

// TeamOptions is the input to SpawnTeam.
type TeamOptions struct {
	Position   domain.Vector3
	NamePrefix string
}

// SpawnTeam expands preset into its role list and delegates to SpawnBatch,
// naming each member "<namePrefix>-<n>".
func (s *Supervisor) SpawnTeam(ctx context.Context, preset TeamPreset, opts TeamOptions) ([]SpawnResult, error) {
	roles, ok := teamRoster[preset]
	if !ok {
		return nil, fmt.Errorf("team preset %q: %w", preset, domain.ErrUnknownTeamPreset)
	}
	prefix := opts.NamePrefix
	if prefix == "" {
		prefix = string(preset)
	}

	list := make([]SpawnOptions, 0, len(roles))
	for i, role := range roles {
		list = append(list, SpawnOptions{
			Name:          fmt.Sprintf("%s-%d", prefix, i+1),
			Role:          role,
			EntityType:    "villager",
			SpawnPosition: opts.Position,
		})
	}
	return s.SpawnBatch(ctx, list)
}
