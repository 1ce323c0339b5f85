package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Options indexes slash command options by name.
type Options map[string]*discordgo.ApplicationCommandInteractionDataOption

// Subcommand returns the invoked subcommand name (empty when there is none) and the
// options that belong to it.
func (c *SlashInteractionContext) Subcommand() (string, Options) {
	data := c.Event.ApplicationCommandData()
	if len(data.Options) == 1 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		sub := data.Options[0]
		return sub.Name, index(sub.Options)
	}
	return "", index(data.Options)
}

func (c *SlashInteractionContext) Options() Options {
	_, opts := c.Subcommand()
	return opts
}

func index(opts []*discordgo.ApplicationCommandInteractionDataOption) Options {
	out := make(Options, len(opts))
	for _, o := range opts {
		out[o.Name] = o
	}
	return out
}

// ID returns a user, role, channel or mentionable option as a snowflake.
func (o Options) ID(name string) string {
	opt, ok := o[name]
	if !ok {
		return ""
	}
	s, _ := opt.Value.(string)
	return s
}

func (o Options) String(name string) string {
	opt, ok := o[name]
	if !ok {
		return ""
	}
	s, _ := opt.Value.(string)
	return s
}

func (o Options) Int(name string, def int) int {
	opt, ok := o[name]
	if !ok {
		return def
	}
	switch v := opt.Value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func (o Options) Bool(name string, def bool) bool {
	opt, ok := o[name]
	if !ok {
		return def
	}
	b, ok := opt.Value.(bool)
	if !ok {
		return def
	}
	return b
}

func (o Options) Has(name string) bool {
	_, ok := o[name]
	return ok
}

// ParseDuration accepts Go durations plus a "d" suffix for days, e.g. "90m", "1h30m", "2d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		if int64(n) > math.MaxInt64/int64(24*time.Hour) {
			return 0, fmt.Errorf("duration %q is too long", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
