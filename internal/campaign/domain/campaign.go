package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/louisbranch/tablesync/internal/platform/id"
)

var (
	// ErrEmptyHostID indicates a missing host identity.
	ErrEmptyHostID = errors.New("host id is required")
	// ErrEmptyCampaignName indicates a missing campaign name.
	ErrEmptyCampaignName = errors.New("campaign name is required")
)

// Presence records one currently-present member. Order matters: the first
// entry is the earliest joined member still present, which drives the
// first-active-member elevation rule.
type Presence struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// SessionConfig holds session-wide toggles.
type SessionConfig struct {
	Edition string `json:"edition"`
	Strict  bool   `json:"strict"`
}

// Genesis is the immutable-by-convention narrative seed of a campaign.
type Genesis struct {
	Name    string `json:"name"`
	Tone    string `json:"tone"`
	Premise string `json:"premise"`
}

// CombatState is the turn-order state, mutated only by the elevated role.
type CombatState struct {
	Active     bool        `json:"active"`
	Round      int         `json:"round"`
	Turn       int         `json:"turn"`
	Combatants []Combatant `json:"combatants"`
}

// Combatant is one entry in the turn order.
type Combatant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Initiative int    `json:"initiative"`
	TokenID    string `json:"tokenId,omitempty"`
}

// World groups the narrative and tactical state nested under the root
// document's world field.
type World struct {
	Genesis   Genesis     `json:"genesis"`
	ActiveMap MapState    `json:"activeMap"`
	SavedMaps []SavedMap  `json:"savedMaps"`
	Combat    CombatState `json:"combat"`
}

// Campaign is the root aggregate for one session, mutated only through the
// optimistic write coordinator.
type Campaign struct {
	HostID      string            `json:"hostId"`
	DMIDs       []string          `json:"dmIds"`
	ActiveUsers []Presence        `json:"activeUsers"`
	BannedUsers []string          `json:"bannedUsers"`
	Assignments map[string]string `json:"assignments"`
	Config      SessionConfig     `json:"config"`
	World       World             `json:"world"`
}

// CreateCampaignInput describes the metadata needed to create a campaign.
type CreateCampaignInput struct {
	HostID  string
	Genesis Genesis
	Config  SessionConfig
}

// CreateCampaign builds the canonical genesis payload for a new session:
// empty role membership, empty collections, and a default map. The host is
// not inserted into DMIDs; elevation for a lone founder is derived at read
// time by IsElevated.
func CreateCampaign(input CreateCampaignInput, now func() time.Time, idGenerator func() (string, error)) (Campaign, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateCampaignInput(input)
	if err != nil {
		return Campaign{}, err
	}

	return Campaign{
		HostID:      normalized.HostID,
		DMIDs:       []string{},
		ActiveUsers: []Presence{},
		BannedUsers: []string{},
		Assignments: map[string]string{},
		Config:      normalized.Config,
		World: World{
			Genesis:   normalized.Genesis,
			ActiveMap: NewMapState(""),
			SavedMaps: []SavedMap{},
			Combat:    CombatState{},
		},
	}, nil
}

// NormalizeCreateCampaignInput trims and validates campaign input metadata.
func NormalizeCreateCampaignInput(input CreateCampaignInput) (CreateCampaignInput, error) {
	input.HostID = strings.TrimSpace(input.HostID)
	if input.HostID == "" {
		return CreateCampaignInput{}, ErrEmptyHostID
	}
	input.Genesis.Name = strings.TrimSpace(input.Genesis.Name)
	if input.Genesis.Name == "" {
		return CreateCampaignInput{}, ErrEmptyCampaignName
	}
	return input, nil
}

// Clone returns a deep copy of the campaign, so transitions can build a new
// value without mutating the stored one.
func (c Campaign) Clone() Campaign {
	out := c
	out.DMIDs = append([]string{}, c.DMIDs...)
	out.ActiveUsers = append([]Presence{}, c.ActiveUsers...)
	out.BannedUsers = append([]string{}, c.BannedUsers...)
	out.Assignments = make(map[string]string, len(c.Assignments))
	for k, v := range c.Assignments {
		out.Assignments[k] = v
	}
	out.World.ActiveMap = c.World.ActiveMap.Clone()
	out.World.SavedMaps = cloneLibrary(c.World.SavedMaps)
	out.World.Combat.Combatants = append([]Combatant{}, c.World.Combat.Combatants...)
	return out
}
