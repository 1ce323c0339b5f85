// Package guild holds the per-invocation snapshot of who is running a command and where.
package guild

import "slices"

// Context is an immutable snapshot taken when a command is invoked. It is never persisted.
type Context struct {
	GuildID   string
	ChannelID string
	InvokerID string

	// RoleIDs are the invoker's roles ordered by position, highest first.
	RoleIDs []string

	// TopPosition is the position of the invoker's highest role (0 when the invoker only
	// has @everyone).
	TopPosition int

	OwnerID        string
	BotTopPosition int
}

// HasRole reports whether the invoker holds roleID.
func (c Context) HasRole(roleID string) bool {
	return slices.Contains(c.RoleIDs, roleID)
}

// InvokerIsOwner reports whether the invoker owns the guild.
func (c Context) InvokerIsOwner() bool {
	return c.OwnerID != "" && c.InvokerID == c.OwnerID
}
