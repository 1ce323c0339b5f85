// Package cmd is the transport-agnostic command core. A command has a name, a
// description and Run; Discord slash handling and the offline CLI are adapters on top.
package cmd

import "context"

// Invocation is what an adapter hands to a command. Data holds the adapter's own
// context (a Discord interaction context, a CLI context).
type Invocation struct {
	Args []string
	Data any
}

type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}
