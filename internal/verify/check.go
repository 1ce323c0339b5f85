package verify

import (
	"math/bits"
	"strings"
)

// Check is one structural fact a target must satisfy. The numeric order of the constants
// is the canonical evaluation order: cheap kind and type tests run before the relational
// hierarchy comparisons.
type Check uint16

const (
	CheckIsRole Check = 1 << iota
	CheckIsChannel
	CheckIsMember
	CheckTextChannel
	CheckVoiceChannel
	CheckNotManaged
	CheckNotEveryone
	CheckNotBot
	CheckNotSelf
	CheckNotOwner
	CheckBelowInvoker
	CheckBelowBot

	checkSentinel
)

var checkNames = map[Check]string{
	CheckIsRole:       "is-role",
	CheckIsChannel:    "is-channel",
	CheckIsMember:     "is-member",
	CheckTextChannel:  "text-channel",
	CheckVoiceChannel: "voice-channel",
	CheckNotManaged:   "not-managed",
	CheckNotEveryone:  "not-everyone",
	CheckNotBot:       "not-bot",
	CheckNotSelf:      "not-self",
	CheckNotOwner:     "not-owner",
	CheckBelowInvoker: "below-invoker",
	CheckBelowBot:     "below-bot",
}

func (c Check) String() string {
	if name, ok := checkNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseCheck returns the check with the given name.
func ParseCheck(name string) (Check, bool) {
	for c, n := range checkNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// CheckSet is an unordered set of checks. Membership is what matters; evaluation always
// follows the canonical order.
type CheckSet uint16

// Checks builds a set from the given checks.
func Checks(cs ...Check) CheckSet {
	var s CheckSet
	for _, c := range cs {
		s |= CheckSet(c)
	}
	return s
}

func (s CheckSet) Has(c Check) bool { return s&CheckSet(c) != 0 }

func (s CheckSet) With(cs ...Check) CheckSet { return s | Checks(cs...) }

func (s CheckSet) Empty() bool { return s&CheckSet(checkSentinel-1) == 0 }

func (s CheckSet) Len() int { return bits.OnesCount16(uint16(s & CheckSet(checkSentinel-1))) }

// List returns the members of s in canonical order.
func (s CheckSet) List() []Check {
	out := make([]Check, 0, s.Len())
	for c := Check(1); c < checkSentinel; c <<= 1 {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s CheckSet) String() string {
	list := s.List()
	names := make([]string, len(list))
	for i, c := range list {
		names[i] = c.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}
