// Package core holds the informational commands.
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
	"github.com/keshon/warden/internal/middleware"
	"github.com/keshon/warden/internal/version"
	"github.com/keshon/warden/pkg/cmd"
)

type HelpCommand struct{}

func (c *HelpCommand) Name() string             { return "help" }
func (c *HelpCommand) Description() string      { return "Get a list of available commands" }
func (c *HelpCommand) Category() string         { return config.CategoryInformation }
func (c *HelpCommand) UserPermissions() []int64 { return nil }

func (c *HelpCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{Name: c.Name(), Description: c.Description()}
}

func (c *HelpCommand) Run(_ context.Context, sc *command.SlashInteractionContext) error {
	e := respond.Info(buildHelpByCategory(sc.Services.Registry))
	e.Title = version.AppName + " Help"
	return respond.EmbedEphemeral(sc.Session, sc.Event, e)
}

// buildHelpByCategory lists commands grouped by category, categories ordered by weight.
func buildHelpByCategory(reg *cmd.Registry) string {
	byCategory := make(map[string][]string)
	for _, c := range reg.GetAll() {
		meta, ok := cmd.Root(c).(command.DiscordMeta)
		if !ok {
			continue
		}
		cat := meta.Category()
		byCategory[cat] = append(byCategory[cat], fmt.Sprintf("`/%s` - %s", c.Name(), c.Description()))
	}

	cats := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool {
		wi, wj := config.CategoryWeights[cats[i]], config.CategoryWeights[cats[j]]
		if wi != wj {
			return wi < wj
		}
		return cats[i] < cats[j]
	})

	var b strings.Builder
	for _, cat := range cats {
		fmt.Fprintf(&b, "**%s**\n%s\n\n", cat, strings.Join(byCategory[cat], "\n"))
	}
	return strings.TrimSpace(b.String())
}

func register(c command.DiscordCommand) {
	command.RegisterCommand(c,
		middleware.WithGuildOnly(),
		middleware.WithUserPermissionCheck(),
		middleware.WithAuthorization(),
		middleware.WithCommandLogger(),
	)
}

func init() {
	register(&HelpCommand{})
}
