package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequentialIDs(prefix string) func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("%s-%d", prefix, n), nil
	}
}

func TestCreateCampaignGenesisPayload(t *testing.T) {
	campaign, err := CreateCampaign(CreateCampaignInput{
		HostID:  "u1",
		Genesis: Genesis{Name: "Sunken Vale", Tone: "grim", Premise: "a drowned kingdom"},
		Config:  SessionConfig{Edition: "2014", Strict: true},
	}, fixedClock(time.Unix(1700000000, 0)), sequentialIDs("c"))
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	if campaign.HostID != "u1" {
		t.Fatalf("expected host u1, got %q", campaign.HostID)
	}
	if len(campaign.DMIDs) != 0 {
		t.Fatalf("expected empty role membership at genesis, got %v", campaign.DMIDs)
	}
	if len(campaign.ActiveUsers) != 0 || len(campaign.BannedUsers) != 0 {
		t.Fatal("expected empty presence and ban lists at genesis")
	}
	if campaign.World.ActiveMap.GridSize != DefaultGridSize {
		t.Fatalf("expected default grid size, got %v", campaign.World.ActiveMap.GridSize)
	}
	if campaign.World.ActiveMap.View == nil || campaign.World.ActiveMap.View.Zoom != 1 {
		t.Fatalf("expected default view, got %+v", campaign.World.ActiveMap.View)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	_, err := CreateCampaign(CreateCampaignInput{Genesis: Genesis{Name: "x"}}, nil, nil)
	if !errors.Is(err, ErrEmptyHostID) {
		t.Fatalf("expected ErrEmptyHostID, got %v", err)
	}

	_, err = CreateCampaign(CreateCampaignInput{HostID: "u1"}, nil, nil)
	if !errors.Is(err, ErrEmptyCampaignName) {
		t.Fatalf("expected ErrEmptyCampaignName, got %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	campaign := Campaign{
		DMIDs:       []string{"u1"},
		ActiveUsers: []Presence{{UserID: "u1", Name: "Ana"}},
		Assignments: map[string]string{"u1": "p1"},
		World: World{
			ActiveMap: MapState{
				RevealPaths: []RevealPath{{Points: []Point{{X: 1, Y: 2}}}},
				Tokens:      []Token{{ID: "t1"}},
				View:        &MapView{Zoom: 2},
			},
			SavedMaps: []SavedMap{{ID: "m1", MapState: NewMapState("u://a")}},
		},
	}

	clone := campaign.Clone()
	clone.DMIDs[0] = "other"
	clone.Assignments["u1"] = "p9"
	clone.World.ActiveMap.RevealPaths[0].Points[0].X = 99
	clone.World.ActiveMap.View.Zoom = 9
	clone.World.SavedMaps[0].ImageURL = "u://b"

	if campaign.DMIDs[0] != "u1" {
		t.Fatal("clone shared DMIDs backing array")
	}
	if campaign.Assignments["u1"] != "p1" {
		t.Fatal("clone shared assignments map")
	}
	if campaign.World.ActiveMap.RevealPaths[0].Points[0].X != 1 {
		t.Fatal("clone shared reveal path points")
	}
	if campaign.World.ActiveMap.View.Zoom != 2 {
		t.Fatal("clone shared view pointer")
	}
	if campaign.World.SavedMaps[0].ImageURL != "u://a" {
		t.Fatal("clone shared saved maps")
	}
}

func TestEncodeDecodeCampaignRoundTrip(t *testing.T) {
	campaign, err := CreateCampaign(CreateCampaignInput{
		HostID:  "u1",
		Genesis: Genesis{Name: "Sunken Vale"},
	}, fixedClock(time.Unix(1700000000, 0)), sequentialIDs("c"))
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	campaign, err = Join(campaign, "u1", "Ana")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	fields, err := EncodeCampaign(campaign)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeCampaign(fields)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.HostID != campaign.HostID {
		t.Fatalf("host id mismatch: %q vs %q", decoded.HostID, campaign.HostID)
	}
	if len(decoded.ActiveUsers) != 1 || decoded.ActiveUsers[0].Name != "Ana" {
		t.Fatalf("presence mismatch: %+v", decoded.ActiveUsers)
	}
}

func TestChatKindVisibility(t *testing.T) {
	cases := []struct {
		kind ChatKind
		want Visibility
	}{
		{ChatKindMessage, VisibilityPublic},
		{ChatKindWhisper, VisibilityPrivate},
		{ChatKindAI, VisibilityPublic},
		{ChatKindAIWhisper, VisibilityPrivate},
		{ChatKindRoll, VisibilityPublic},
		{ChatKindPing, VisibilityPublic},
		{ChatKindEffect, VisibilityPublic},
	}
	for _, tc := range cases {
		if got := tc.kind.Visibility(); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.kind, tc.want, got)
		}
	}
}

func TestChatEntryVisibleTo(t *testing.T) {
	whisper := ChatEntry{Kind: ChatKindWhisper, SenderID: "u1", TargetID: "u2"}

	if !whisper.VisibleTo("u1") || !whisper.VisibleTo("u2") {
		t.Fatal("expected whisper visible to sender and target")
	}
	if whisper.VisibleTo("u3") {
		t.Fatal("expected whisper hidden from third parties")
	}
}

func TestJournalPageVisibleTo(t *testing.T) {
	page := JournalPage{Public: false, AllowedPlayerIDs: []string{"p1"}}

	if !page.VisibleTo("p1", false) {
		t.Fatal("expected allow-listed roster entry to read the page")
	}
	if page.VisibleTo("p2", false) {
		t.Fatal("expected other roster entries blocked")
	}
	if !page.VisibleTo("p2", true) {
		t.Fatal("expected elevated role to read everything")
	}
}
