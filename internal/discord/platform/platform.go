// Package platform performs moderation actions through the Discord REST API.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/warden/internal/enforce"
)

// session is the subset of *discordgo.Session the adapter calls.
type session interface {
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildBanDelete(guildID, userID string, options ...discordgo.RequestOption) error
	GuildBan(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.GuildBan, error)
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

// Discord implements enforce.Platform and enforce.Prober.
type Discord struct {
	s   session
	now func() time.Time
}

var (
	_ enforce.Platform = (*Discord)(nil)
	_ enforce.Prober   = (*Discord)(nil)
)

func New(s *discordgo.Session) *Discord {
	return &Discord{s: s, now: time.Now}
}

func opts(ctx context.Context, reason string) []discordgo.RequestOption {
	o := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		o = append(o, discordgo.WithAuditLogReason(reason))
	}
	return o
}

func (d *Discord) Ban(ctx context.Context, guildID, userID string, deleteMessageDays int, reason string) error {
	return mapError(d.s.GuildBanCreateWithReason(guildID, userID, reason, deleteMessageDays, discordgo.WithContext(ctx)), nil)
}

func (d *Discord) Unban(ctx context.Context, guildID, userID, reason string) error {
	return mapError(d.s.GuildBanDelete(guildID, userID, opts(ctx, reason)...), alreadyWhen(discordgo.ErrCodeUnknownBan))
}

func (d *Discord) Kick(ctx context.Context, guildID, userID, reason string) error {
	return mapError(d.s.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)), alreadyWhen(discordgo.ErrCodeUnknownMember))
}

func (d *Discord) SetMute(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	var t *time.Time
	if !until.IsZero() {
		t = &until
	}
	return mapError(d.s.GuildMemberTimeout(guildID, userID, t, opts(ctx, reason)...), nil)
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return mapError(d.s.GuildMemberRoleAdd(guildID, userID, roleID, opts(ctx, reason)...), nil)
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return mapError(d.s.GuildMemberRoleRemove(guildID, userID, roleID, opts(ctx, reason)...), nil)
}

func (d *Discord) IsBanned(ctx context.Context, guildID, userID string) (bool, error) {
	_, err := d.s.GuildBan(guildID, userID, discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	if restCode(err) == discordgo.ErrCodeUnknownBan {
		return false, nil
	}
	return false, mapError(err, nil)
}

func (d *Discord) IsMember(ctx context.Context, guildID, userID string) (bool, error) {
	_, err := d.fetchMember(ctx, guildID, userID)
	if errors.Is(err, enforce.ErrTargetGone) {
		return false, nil
	}
	return err == nil, err
}

func (d *Discord) IsMuted(ctx context.Context, guildID, userID string) (bool, error) {
	m, err := d.fetchMember(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	return m.CommunicationDisabledUntil != nil && m.CommunicationDisabledUntil.After(d.now()), nil
}

func (d *Discord) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	m, err := d.fetchMember(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(m.Roles, roleID), nil
}

func (d *Discord) fetchMember(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	m, err := d.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err, nil)
	}
	return m, nil
}

func alreadyWhen(codes ...int) func(code int) bool {
	return func(code int) bool { return slices.Contains(codes, code) }
}

func restCode(err error) int {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		return rest.Message.Code
	}
	return 0
}

// mapError turns discordgo errors into enforce sentinels. already reports which API
// error codes mean the effect is in place.
func mapError(err error, already func(code int) bool) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Errorf("%w: %v", enforce.ErrRateLimited, err)
	}

	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Response == nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// No HTTP response at all: connection trouble.
		return fmt.Errorf("%w: %v", enforce.ErrTransient, err)
	}

	code := restCode(err)
	if already != nil && already(code) {
		return fmt.Errorf("%w: %v", enforce.ErrAlreadyApplied, err)
	}

	status := rest.Response.StatusCode
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", enforce.ErrRateLimited, err)
	case status >= 500:
		return fmt.Errorf("%w: %v", enforce.ErrTransient, err)
	case status == http.StatusForbidden || code == discordgo.ErrCodeMissingPermissions:
		return fmt.Errorf("%w: %v", enforce.ErrMissingPermission, err)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %v", enforce.ErrTargetGone, err)
	}
	return fmt.Errorf("%w: %v", enforce.ErrPermanent, err)
}
