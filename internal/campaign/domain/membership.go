package domain

import (
	"strings"

	"github.com/louisbranch/tablesync/internal/errors"
)

// Membership state machine per identity: unknown → active → (kicked | banned).
// Banned is terminal until an explicit unban, and additionally strips the
// identity from role membership. All transitions return a new campaign value
// and leave the input untouched.

// IsBanned reports whether the identity is permanently denied re-entry.
func (c Campaign) IsBanned(userID string) bool {
	for _, banned := range c.BannedUsers {
		if banned == userID {
			return true
		}
	}
	return false
}

// IsActive reports whether the identity is currently present.
func (c Campaign) IsActive(userID string) bool {
	for _, presence := range c.ActiveUsers {
		if presence.UserID == userID {
			return true
		}
	}
	return false
}

// IsElevated resolves the elevated ("DM") role for the identity. Besides
// stored role membership, a derived rule applies at read time: while the
// stored set is empty, the earliest joined member still present is treated
// as elevated. The rule is never reconciled into DMIDs.
func (c Campaign) IsElevated(userID string) bool {
	for _, dm := range c.DMIDs {
		if dm == userID {
			return true
		}
	}
	if len(c.DMIDs) == 0 && len(c.ActiveUsers) > 0 {
		return c.ActiveUsers[0].UserID == userID
	}
	return false
}

// Join transitions an identity from unknown to active, inserting it into
// ActiveUsers with a display name. Rejoining while present refreshes the
// name without changing presence order. Banned identities are rejected.
func Join(c Campaign, userID, name string) (Campaign, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Campaign{}, errors.New(errors.CodeMembershipEmptyUserID, "user id is required")
	}
	if c.IsBanned(userID) {
		return Campaign{}, errors.Newf(errors.CodeMembershipUserBanned, "user %q is banned", userID)
	}

	out := c.Clone()
	for i, presence := range out.ActiveUsers {
		if presence.UserID == userID {
			out.ActiveUsers[i].Name = name
			return out, nil
		}
	}
	out.ActiveUsers = append(out.ActiveUsers, Presence{UserID: userID, Name: name})
	return out, nil
}

// Kick transitions an identity from active back to unknown: removed from
// ActiveUsers and Assignments. The identity may rejoin.
func Kick(c Campaign, userID string) Campaign {
	out := c.Clone()
	out.ActiveUsers = removePresence(out.ActiveUsers, userID)
	delete(out.Assignments, userID)
	return out
}

// Ban transitions an identity to the banned terminal state: removed from
// ActiveUsers, Assignments, and role membership, and added to BannedUsers,
// in one transition so no intermediate state is observable. Banning oneself
// is rejected.
func Ban(c Campaign, actorID, userID string) (Campaign, error) {
	if userID == "" {
		return Campaign{}, errors.New(errors.CodeMembershipEmptyUserID, "user id is required")
	}
	if actorID == userID {
		return Campaign{}, errors.New(errors.CodeMembershipSelfBan, "cannot ban yourself")
	}

	out := c.Clone()
	out.ActiveUsers = removePresence(out.ActiveUsers, userID)
	delete(out.Assignments, userID)
	out.DMIDs = removeString(out.DMIDs, userID)
	if !out.IsBanned(userID) {
		out.BannedUsers = append(out.BannedUsers, userID)
	}
	return out, nil
}

// Unban removes the identity from BannedUsers only; presence is not
// restored and the identity must join again.
func Unban(c Campaign, userID string) Campaign {
	out := c.Clone()
	out.BannedUsers = removeString(out.BannedUsers, userID)
	return out
}

// SetElevated promotes or demotes an identity's role membership. Demoting
// the last remaining elevated identity is rejected, and banned identities
// cannot be promoted.
func SetElevated(c Campaign, userID string, elevated bool) (Campaign, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Campaign{}, errors.New(errors.CodeMembershipEmptyUserID, "user id is required")
	}

	out := c.Clone()
	if elevated {
		if out.IsBanned(userID) {
			return Campaign{}, errors.Newf(errors.CodeMembershipUserBanned, "user %q is banned", userID)
		}
		for _, dm := range out.DMIDs {
			if dm == userID {
				return out, nil
			}
		}
		out.DMIDs = append(out.DMIDs, userID)
		return out, nil
	}

	if len(c.DMIDs) == 1 && c.DMIDs[0] == userID {
		return Campaign{}, errors.New(errors.CodeMembershipLastDM, "cannot demote the last remaining DM")
	}
	out.DMIDs = removeString(out.DMIDs, userID)
	return out, nil
}

func removePresence(presences []Presence, userID string) []Presence {
	out := presences[:0]
	for _, presence := range presences {
		if presence.UserID == userID {
			continue
		}
		out = append(out, presence)
	}
	return out
}

func removeString(values []string, value string) []string {
	out := values[:0]
	for _, v := range values {
		if v == value {
			continue
		}
		out = append(out, v)
	}
	return out
}
