package verify

// Kind identifies which variant a Target is.
type Kind int

const (
	KindRole Kind = iota + 1
	KindChannel
	KindMember
)

func (k Kind) String() string {
	switch k {
	case KindRole:
		return "role"
	case KindChannel:
		return "channel"
	case KindMember:
		return "member"
	default:
		return "unknown"
	}
}

// Target is a live platform object a command acts on. Implementations are Role, Channel
// and Member; the set is closed.
type Target interface {
	Kind() Kind
	TargetID() string
	isTarget()
}

// ChannelType is the platform-independent kind of a channel.
type ChannelType int

const (
	ChannelText ChannelType = iota + 1
	ChannelVoice
	ChannelStage
	ChannelCategory
	ChannelAnnouncement
	ChannelThread
	ChannelForum
)

// TextCapable reports whether members can post messages directly in the channel.
func (t ChannelType) TextCapable() bool {
	return t == ChannelText || t == ChannelAnnouncement || t == ChannelThread
}

// VoiceCapable reports whether members can connect to the channel.
func (t ChannelType) VoiceCapable() bool {
	return t == ChannelVoice || t == ChannelStage
}

// Role is a guild role as currently observed on the platform.
type Role struct {
	RoleID   string
	Name     string
	Position int
	Managed  bool
	Everyone bool
}

func (r *Role) Kind() Kind       { return KindRole }
func (r *Role) TargetID() string { return r.RoleID }
func (*Role) isTarget()          {}

// Channel is a guild channel as currently observed on the platform.
type Channel struct {
	ChannelID string
	Name      string
	Type      ChannelType
}

func (c *Channel) Kind() Kind       { return KindChannel }
func (c *Channel) TargetID() string { return c.ChannelID }
func (*Channel) isTarget()          {}

// Member is a guild member with the position of their highest role.
type Member struct {
	UserID      string
	Username    string
	TopPosition int
	Bot         bool
}

func (m *Member) Kind() Kind       { return KindMember }
func (m *Member) TargetID() string { return m.UserID }
func (*Member) isTarget()          {}

// position returns the hierarchy position of a role or member target.
func position(t Target) (int, bool) {
	switch v := t.(type) {
	case *Role:
		return v.Position, true
	case *Member:
		return v.TopPosition, true
	default:
		return 0, false
	}
}
