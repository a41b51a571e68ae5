// Package discovery finds the generated output assets of the newest chat
// turn and ranks them by how likely each is to be the real result.
package discovery

import "strings"

// NoMinTurn disables the minimum-turn bound; scope may then fall back to the
// whole document.
const NoMinTurn = -1

// DefaultRole is the conversation role whose turns hold generated output
const DefaultRole = "assistant"

// Turn is one conversation turn container as seen by the scan
type Turn struct {
	Index      int       `json:"index"`
	Role       string    `json:"role"`
	TurnType   string    `json:"turnType"`
	NestedRole string    `json:"nestedRole"`
	TestID     string    `json:"testId,omitempty"`
	Text       string    `json:"text,omitempty"`
	Elements   []Element `json:"elements,omitempty"`
}

// Attributable reports whether the turn belongs to role by any of its
// markers, compared case-insensitively. A test id mentioning the role counts
// as a turn-type marker.
func (t Turn) Attributable(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	is := func(marker string) bool {
		return strings.ToLower(strings.TrimSpace(marker)) == role
	}
	return is(t.Role) || is(t.TurnType) || is(t.NestedRole) ||
		strings.Contains(strings.ToLower(t.TestID), role)
}

// Scope is the region discovery and the download trigger operate on
type Scope struct {
	// TurnIndex is -1 when the scope is the whole document.
	TurnIndex int
	Turn      Turn
	Document  bool
}

// SelectScope walks turns newest to oldest and returns the first one at or
// after minTurnIndex attributable to role. With no qualifying turn it falls
// back to the whole document only when no minimum was requested; otherwise
// it fails closed so stale turns are never considered.
func SelectScope(turns []Turn, role string, minTurnIndex int) (Scope, bool) {
	best := -1
	for i, t := range turns {
		if minTurnIndex >= 0 && t.Index < minTurnIndex {
			continue
		}
		if !t.Attributable(role) {
			continue
		}
		if best < 0 || t.Index > turns[best].Index {
			best = i
		}
	}
	if best >= 0 {
		return Scope{TurnIndex: turns[best].Index, Turn: turns[best]}, true
	}
	if minTurnIndex < 0 {
		return Scope{TurnIndex: -1, Document: true}, true
	}
	return Scope{TurnIndex: -1}, false
}
