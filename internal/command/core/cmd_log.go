package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/command"
	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/discord/respond"
)

const (
	discordMaxMessageLength = 2000
	codeLeftBlockWrapper    = "```md"
	codeRightBlockWrapper   = "```"
)

var maxContentLength = discordMaxMessageLength - len(codeLeftBlockWrapper) - len(codeRightBlockWrapper)

type LogCommand struct{}

func (c *LogCommand) Name() string             { return "cmd-log" }
func (c *LogCommand) Description() string      { return "Review recently used commands" }
func (c *LogCommand) Category() string         { return config.CategorySettings }
func (c *LogCommand) UserPermissions() []int64 { return []int64{discordgo.PermissionViewAuditLogs} }

func (c *LogCommand) SlashDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{Name: c.Name(), Description: c.Description()}
}

func (c *LogCommand) Run(ctx context.Context, sc *command.SlashInteractionContext) error {
	records, err := sc.Services.Storage.CommandHistory(ctx, sc.Event.GuildID)
	if err != nil {
		return fmt.Errorf("read command history: %w", err)
	}
	if len(records) == 0 {
		return respond.EmbedEphemeral(sc.Session, sc.Event, respond.Info("No command logs found."))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-19s\t%-15s\t%-12s\t%s\n", "# Datetime", "# Username", "# Channel", "# Command")
	// latest first
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		line := fmt.Sprintf("%-19s\t%-15s\t#%-12s\t/%s %s\n",
			r.Datetime.Format("2006-01-02 15:04:05"), r.Username, r.ChannelName, r.Command, r.Param)
		if b.Len()+len(line) > maxContentLength {
			break
		}
		b.WriteString(line)
	}

	return respond.EmbedEphemeral(sc.Session, sc.Event,
		respond.Info(codeLeftBlockWrapper+"\n"+b.String()+codeRightBlockWrapper))
}

func init() {
	register(&LogCommand{})
}
