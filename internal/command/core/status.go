package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/discord/respond"
	"github.com/keshon/warden/internal/version"
)

// StatusCommand shows the pending timed actions in this guild and the build.
type StatusCommand struct{}

func (c *StatusCommand) Name() string             { return "status" }
func (c *StatusCommand) Description() string      { return "Show pending moderation actions" }
func (c *StatusCommand) Category() string         { return config.CategoryInformation }
func (c *StatusCommand) UserPermissions() []int64 { return []int64{discordgo.PermissionModerateMembers} }

func (c *StatusCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{Name: c.Name(), Description: c.Description()}
}

func (c *StatusCommand) Run(_ context.Context, sc *command.SlashInteractionContext) error {
	var users []string
	for _, k := range sc.Services.Actions.Keys() {
		if k.GuildID == sc.Event.GuildID {
			users = append(users, "<@"+k.UserID+">")
		}
	}
	sort.Strings(users)

	pending := "None"
	if len(users) > 0 {
		pending = strings.Join(users, ", ")
	}
	return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Fields(version.AppName+" Status",
		[2]string{"Pending actions", pending},
		[2]string{"Storage", sc.Services.Config.StorageDriver},
		[2]string{"Build", fmt.Sprintf("`%s`", version.Revision())},
	))
}

func init() {
	register(&StatusCommand{})
}
