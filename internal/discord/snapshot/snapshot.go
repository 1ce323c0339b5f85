// Package snapshot reads live guild state and turns it into the values the engine
// works with: a guild.Context for the invocation and verify targets.
package snapshot

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/guild"
	"github.com/keshon/warden/internal/verify"
)

var ErrNotFound = errors.New("not found in guild state")

// ErrUnknownMember means the user is definitely not in the guild. Other lookup errors
// say nothing about membership.
var ErrUnknownMember = fmt.Errorf("unknown member: %w", ErrNotFound)

// State is satisfied by *discordgo.State.
type State interface {
	Guild(guildID string) (*discordgo.Guild, error)
	Role(guildID, roleID string) (*discordgo.Role, error)
	Member(guildID, userID string) (*discordgo.Member, error)
	Channel(channelID string) (*discordgo.Channel, error)
}

// MemberFetcher is used when a member is not cached. *discordgo.Session satisfies it.
type MemberFetcher interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

type Builder struct {
	State State
	Fetch MemberFetcher
	// BotID returns the bot's own user id; it is known only after the gateway is ready.
	BotID func() string
}

// Context snapshots the invocation. invoker usually comes straight from the interaction.
func (b *Builder) Context(guildID, channelID string, invoker *discordgo.Member) (guild.Context, error) {
	if invoker == nil || invoker.User == nil {
		return guild.Context{}, errors.New("invoker is not a guild member")
	}
	g, err := b.State.Guild(guildID)
	if err != nil {
		return guild.Context{}, fmt.Errorf("guild %s: %w", guildID, ErrNotFound)
	}

	roles := sortedRoles(g, invoker.Roles)
	ctx := guild.Context{
		GuildID:     guildID,
		ChannelID:   channelID,
		InvokerID:   invoker.User.ID,
		RoleIDs:     make([]string, 0, len(roles)),
		TopPosition: topPosition(roles),
		OwnerID:     g.OwnerID,
	}
	for _, r := range roles {
		ctx.RoleIDs = append(ctx.RoleIDs, r.ID)
	}

	if b.BotID != nil {
		if botID := b.BotID(); botID != "" {
			if bot, err := b.member(guildID, botID); err == nil {
				ctx.BotTopPosition = topPosition(sortedRoles(g, bot.Roles))
			}
		}
	}
	return ctx, nil
}

func (b *Builder) Role(guildID, roleID string) (*verify.Role, error) {
	r, err := b.State.Role(guildID, roleID)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", roleID, ErrNotFound)
	}
	return &verify.Role{
		RoleID:   r.ID,
		Name:     r.Name,
		Position: r.Position,
		Managed:  r.Managed,
		Everyone: r.ID == guildID,
	}, nil
}

func (b *Builder) Member(guildID, userID string) (*verify.Member, error) {
	g, err := b.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s: %w", guildID, ErrNotFound)
	}
	m, err := b.member(guildID, userID)
	if err != nil {
		return nil, err
	}
	out := &verify.Member{
		UserID:      userID,
		TopPosition: topPosition(sortedRoles(g, m.Roles)),
	}
	if m.User != nil {
		out.Username = m.User.Username
		out.Bot = m.User.Bot
	}
	return out, nil
}

func (b *Builder) Channel(channelID string) (*verify.Channel, error) {
	c, err := b.State.Channel(channelID)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	return &verify.Channel{ChannelID: c.ID, Name: c.Name, Type: ChannelType(c.Type)}, nil
}

func (b *Builder) member(guildID, userID string) (*discordgo.Member, error) {
	if m, err := b.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	if b.Fetch == nil {
		return nil, fmt.Errorf("member %s: %w", userID, ErrUnknownMember)
	}
	m, err := b.Fetch.GuildMember(guildID, userID)
	if err != nil {
		if isUnknownMember(err) {
			return nil, fmt.Errorf("member %s: %w", userID, ErrUnknownMember)
		}
		return nil, fmt.Errorf("fetch member %s: %w", userID, err)
	}
	return m, nil
}

func isUnknownMember(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return true
		}
	}
	return rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}

// ChannelType maps platform channel types; unknown types map to zero, which no
// channel check accepts.
func ChannelType(t discordgo.ChannelType) verify.ChannelType {
	switch t {
	case discordgo.ChannelTypeGuildText:
		return verify.ChannelText
	case discordgo.ChannelTypeGuildVoice:
		return verify.ChannelVoice
	case discordgo.ChannelTypeGuildStageVoice:
		return verify.ChannelStage
	case discordgo.ChannelTypeGuildCategory:
		return verify.ChannelCategory
	case discordgo.ChannelTypeGuildNews:
		return verify.ChannelAnnouncement
	case discordgo.ChannelTypeGuildNewsThread, discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread:
		return verify.ChannelThread
	case discordgo.ChannelTypeGuildForum:
		return verify.ChannelForum
	}
	return 0
}

// sortedRoles resolves ids against the guild's role list, highest position first.
// Ids that are not in the guild are skipped.
func sortedRoles(g *discordgo.Guild, ids []string) []*discordgo.Role {
	byID := make(map[string]*discordgo.Role, len(g.Roles))
	for _, r := range g.Roles {
		byID[r.ID] = r
	}
	out := make([]*discordgo.Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position > out[j].Position })
	return out
}

func topPosition(roles []*discordgo.Role) int {
	if len(roles) == 0 {
		return 0
	}
	return roles[0].Position
}
