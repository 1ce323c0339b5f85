// cmd/cli/main.go manages guild overrides offline, against the same storage the bot uses.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"github.com/keshon/warden/internal/config"
	"github.com/keshon/warden/internal/override"
	"github.com/keshon/warden/internal/storage"
	"github.com/keshon/warden/internal/storage/backend"
	"github.com/keshon/warden/pkg/cmd"
)

const usage = `usage: warden-cli <command> [args]

  overrides <guild>                                          list overrides
  set <guild> <command> <guild|role|channel|user> <id> <on|off> [priority]
  remove <guild> <command> <guild|role|channel|user> <id>
  history <guild>                                            recent commands
`

// cliContext is the cmd.Invocation data for CLI commands.
type cliContext struct {
	Store storage.Backend
	Out   io.Writer
}

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	store, err := backend.Open(cfg.StorageDriver, cfg.StoragePath, zerolog.Nop())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := run(context.Background(), os.Args[1:], &cliContext{Store: store, Out: os.Stdout}, os.Stderr)
	if err := store.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}

func run(ctx context.Context, args []string, cc *cliContext, stderr io.Writer) int {
	reg := registry()
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	c := reg.Get(args[0])
	if c == nil {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	if err := c.Run(ctx, &cmd.Invocation{Args: args[1:], Data: cc}); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func registry() *cmd.Registry {
	reg := cmd.NewRegistry()
	reg.MustRegister(cmd.Apply(&listCommand{}, requireArgs(1)))
	reg.MustRegister(cmd.Apply(&setCommand{}, requireArgs(5)))
	reg.MustRegister(cmd.Apply(&removeCommand{}, requireArgs(4)))
	reg.MustRegister(cmd.Apply(&historyCommand{}, requireArgs(1)))
	return reg
}

// requireArgs rejects invocations with fewer than n positional arguments.
func requireArgs(n int) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			if len(inv.Args) < n {
				return fmt.Errorf("%s: expected at least %d arguments, got %d", c.Name(), n, len(inv.Args))
			}
			return c.Run(ctx, inv)
		})
	}
}

func data(inv *cmd.Invocation) (*cliContext, error) {
	cc, ok := inv.Data.(*cliContext)
	if !ok {
		return nil, fmt.Errorf("unsupported invocation %T", inv.Data)
	}
	return cc, nil
}

type listCommand struct{}

func (c *listCommand) Name() string        { return "overrides" }
func (c *listCommand) Description() string { return "List the overrides of a guild" }

func (c *listCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	cc, err := data(inv)
	if err != nil {
		return err
	}
	rules, err := cc.Store.ListGuildOverrides(ctx, inv.Args[0])
	if err != nil {
		return err
	}
	override.SortRules(rules)
	w := tabwriter.NewWriter(cc.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMMAND\tTYPE\tTARGET\tENABLED\tPRIORITY")
	for _, r := range rules {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\n", r.CommandID, r.TargetType, r.TargetID, r.Enabled, r.Priority)
	}
	return w.Flush()
}

type setCommand struct{}

func (c *setCommand) Name() string        { return "set" }
func (c *setCommand) Description() string { return "Create or update an override" }

func (c *setCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	cc, err := data(inv)
	if err != nil {
		return err
	}
	a := inv.Args
	targetType, err := override.ParseTargetType(a[2])
	if err != nil {
		return err
	}
	enabled, err := parseSwitch(a[4])
	if err != nil {
		return err
	}
	priority := 0
	if len(a) > 5 {
		if priority, err = strconv.Atoi(a[5]); err != nil {
			return fmt.Errorf("invalid priority %q", a[5])
		}
	}
	rule := override.Rule{
		CommandID:  strings.ToLower(a[1]),
		GuildID:    a[0],
		TargetID:   a[3],
		TargetType: targetType,
		Enabled:    enabled,
		Priority:   priority,
	}
	if err := cc.Store.UpsertOverride(ctx, rule); err != nil {
		return err
	}
	fmt.Fprintf(cc.Out, "saved: %s %s:%s enabled=%t priority=%d\n", rule.CommandID, rule.TargetType, rule.TargetID, rule.Enabled, rule.Priority)
	return nil
}

type removeCommand struct{}

func (c *removeCommand) Name() string        { return "remove" }
func (c *removeCommand) Description() string { return "Remove an override" }

func (c *removeCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	cc, err := data(inv)
	if err != nil {
		return err
	}
	a := inv.Args
	targetType, err := override.ParseTargetType(a[2])
	if err != nil {
		return err
	}
	key := override.Key{CommandID: strings.ToLower(a[1]), TargetID: a[3], TargetType: targetType}
	rules, err := cc.Store.GetOverrides(ctx, key.CommandID, a[0])
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(rules, func(r override.Rule) bool { return r.Key() == key }) {
		return fmt.Errorf("guild %s has no override for %s on %s:%s", a[0], key.CommandID, targetType, key.TargetID)
	}
	if err := cc.Store.DeleteOverride(ctx, key.CommandID, key.TargetID, key.TargetType); err != nil {
		return err
	}
	fmt.Fprintln(cc.Out, "removed")
	return nil
}

type historyCommand struct{}

func (c *historyCommand) Name() string        { return "history" }
func (c *historyCommand) Description() string { return "Show recent commands of a guild" }

func (c *historyCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	cc, err := data(inv)
	if err != nil {
		return err
	}
	records, err := cc.Store.CommandHistory(ctx, inv.Args[0])
	if err != nil {
		return err
	}
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		fmt.Fprintf(cc.Out, "%s  %-15s  #%-12s  /%s %s\n",
			r.Datetime.Format("2006-01-02 15:04:05"), r.Username, r.ChannelName, r.Command, r.Param)
	}
	return nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "enable", "enabled":
		return true, nil
	case "off", "false", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
