package domain

import (
	"testing"

	"github.com/louisbranch/tablesync/internal/errors"
)

func joined(t *testing.T, c Campaign, userID, name string) Campaign {
	t.Helper()
	out, err := Join(c, userID, name)
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return out
}

func TestJoinOrdersPresenceByArrival(t *testing.T) {
	c := Campaign{}
	c = joined(t, c, "alice", "Alice")
	c = joined(t, c, "bob", "Bob")

	if len(c.ActiveUsers) != 2 {
		t.Fatalf("expected 2 active users, got %d", len(c.ActiveUsers))
	}
	if c.ActiveUsers[0].UserID != "alice" || c.ActiveUsers[1].UserID != "bob" {
		t.Fatalf("expected arrival order preserved, got %+v", c.ActiveUsers)
	}
}

func TestRejoinRefreshesNamePreservingOrder(t *testing.T) {
	c := Campaign{}
	c = joined(t, c, "alice", "Alice")
	c = joined(t, c, "bob", "Bob")
	c = joined(t, c, "alice", "Alicia")

	if len(c.ActiveUsers) != 2 {
		t.Fatalf("expected no duplicate presence, got %+v", c.ActiveUsers)
	}
	if c.ActiveUsers[0].UserID != "alice" || c.ActiveUsers[0].Name != "Alicia" {
		t.Fatalf("expected refreshed name in place, got %+v", c.ActiveUsers[0])
	}
}

func TestJoinRejectsBannedUser(t *testing.T) {
	c := Campaign{BannedUsers: []string{"mallory"}}

	_, err := Join(c, "mallory", "Mallory")
	if !errors.IsCode(err, errors.CodeMembershipUserBanned) {
		t.Fatalf("expected banned rejection, got %v", err)
	}
}

func TestJoinRejectsEmptyUserID(t *testing.T) {
	_, err := Join(Campaign{}, "  ", "Nobody")
	if !errors.IsCode(err, errors.CodeMembershipEmptyUserID) {
		t.Fatalf("expected empty user id rejection, got %v", err)
	}
}

func TestKickAllowsRejoin(t *testing.T) {
	c := Campaign{Assignments: map[string]string{"bob": "Fighter"}}
	c = joined(t, c, "bob", "Bob")

	c = Kick(c, "bob")
	if c.IsActive("bob") {
		t.Fatal("expected bob kicked")
	}
	if _, ok := c.Assignments["bob"]; ok {
		t.Fatal("expected assignment cleared")
	}

	c = joined(t, c, "bob", "Bob")
	if !c.IsActive("bob") {
		t.Fatal("expected kicked user able to rejoin")
	}
}

func TestBanRemovesActiveAssignmentsAndRoleAtomically(t *testing.T) {
	c := Campaign{
		DMIDs:       []string{"alice", "bob"},
		Assignments: map[string]string{"bob": "Fighter"},
	}
	c = joined(t, c, "alice", "Alice")
	c = joined(t, c, "bob", "Bob")

	out, err := Ban(c, "alice", "bob")
	if err != nil {
		t.Fatalf("ban: %v", err)
	}

	if out.IsActive("bob") {
		t.Fatal("expected bob removed from active users")
	}
	if _, ok := out.Assignments["bob"]; ok {
		t.Fatal("expected bob's assignment removed")
	}
	if out.IsElevated("bob") {
		t.Fatal("expected bob stripped of elevation")
	}
	if !out.IsBanned("bob") {
		t.Fatal("expected bob banned")
	}
	// Input untouched: no partial transition is ever observable.
	if !c.IsActive("bob") || c.IsBanned("bob") {
		t.Fatal("expected input campaign unmodified")
	}
}

func TestBanIsIdempotent(t *testing.T) {
	c := Campaign{}
	c = joined(t, c, "bob", "Bob")

	c, err := Ban(c, "alice", "bob")
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	c, err = Ban(c, "alice", "bob")
	if err != nil {
		t.Fatalf("second ban: %v", err)
	}

	if len(c.BannedUsers) != 1 {
		t.Fatalf("expected single banned entry, got %v", c.BannedUsers)
	}
}

func TestBanSelfRejected(t *testing.T) {
	_, err := Ban(Campaign{}, "alice", "alice")
	if !errors.IsCode(err, errors.CodeMembershipSelfBan) {
		t.Fatalf("expected self-ban rejection, got %v", err)
	}
}

func TestUnbanRequiresRejoin(t *testing.T) {
	c := Campaign{}
	c = joined(t, c, "bob", "Bob")
	c, err := Ban(c, "alice", "bob")
	if err != nil {
		t.Fatalf("ban: %v", err)
	}

	c = Unban(c, "bob")
	if c.IsBanned("bob") {
		t.Fatal("expected bob unbanned")
	}
	if c.IsActive("bob") {
		t.Fatal("expected presence not restored by unban")
	}

	c = joined(t, c, "bob", "Bob")
	if !c.IsActive("bob") {
		t.Fatal("expected unbanned user able to rejoin")
	}
}

func TestSetElevatedPromoteAndDemote(t *testing.T) {
	c := Campaign{DMIDs: []string{"alice"}}

	c, err := SetElevated(c, "bob", true)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !c.IsElevated("bob") {
		t.Fatal("expected bob elevated")
	}

	c, err = SetElevated(c, "bob", false)
	if err != nil {
		t.Fatalf("demote: %v", err)
	}
	if c.IsElevated("bob") {
		t.Fatal("expected bob demoted")
	}
}

func TestDemoteLastDMRejected(t *testing.T) {
	c := Campaign{DMIDs: []string{"alice"}}

	_, err := SetElevated(c, "alice", false)
	if !errors.IsCode(err, errors.CodeMembershipLastDM) {
		t.Fatalf("expected last-DM guard, got %v", err)
	}
}

func TestPromoteBannedUserRejected(t *testing.T) {
	c := Campaign{BannedUsers: []string{"mallory"}}

	_, err := SetElevated(c, "mallory", true)
	if !errors.IsCode(err, errors.CodeMembershipUserBanned) {
		t.Fatalf("expected banned promotion rejection, got %v", err)
	}
}

func TestFirstActiveMemberIsElevatedWhileRoleSetEmpty(t *testing.T) {
	c := Campaign{}
	c = joined(t, c, "alice", "Alice")

	if !c.IsElevated("alice") {
		t.Fatal("expected sole member treated as elevated")
	}

	// A later arrival does not gain the derived role; only the earliest
	// joined member holds it.
	c = joined(t, c, "bob", "Bob")
	if !c.IsElevated("alice") {
		t.Fatal("expected earliest member still elevated")
	}
	if c.IsElevated("bob") {
		t.Fatal("expected later arrival not elevated")
	}

	// Stored role membership wins once present, and the derived rule is
	// never written back.
	c, err := SetElevated(c, "bob", true)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if c.IsElevated("alice") {
		t.Fatal("expected derived rule suspended once DMIDs is non-empty")
	}
	if len(c.DMIDs) != 1 || c.DMIDs[0] != "bob" {
		t.Fatalf("expected only explicit promotion stored, got %v", c.DMIDs)
	}
}
