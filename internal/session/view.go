// Package session implements the synchronization engine for one joined
// campaign session: a snapshot stream multiplexer merging the root document
// and its sibling collections into a single view, an optimistic write
// coordinator debouncing root writes, and the operation surface UI
// collaborators call.
package session

import (
	"github.com/louisbranch/tablesync/internal/campaign/domain"
)

// View is the merged in-memory state of one session: the root campaign
// document plus every sibling collection, each keyed by entry id. Only the
// multiplexer and the write coordinator replace it; consumers receive
// copies.
type View struct {
	Campaign domain.Campaign               `json:"campaign"`
	Players  map[string]domain.RosterEntry `json:"players"`
	Journal  map[string]domain.JournalPage `json:"journal"`
	Chat     map[string]domain.ChatEntry   `json:"chat"`
	Lore     map[string]domain.LoreVolume  `json:"lore"`
}

// NewView returns an empty view with initialized collection maps.
func NewView() View {
	return View{
		Players: map[string]domain.RosterEntry{},
		Journal: map[string]domain.JournalPage{},
		Chat:    map[string]domain.ChatEntry{},
		Lore:    map[string]domain.LoreVolume{},
	}
}

// Clone returns a deep copy safe to hand to consumers.
func (v View) Clone() View {
	out := View{
		Campaign: v.Campaign.Clone(),
		Players:  make(map[string]domain.RosterEntry, len(v.Players)),
		Journal:  make(map[string]domain.JournalPage, len(v.Journal)),
		Chat:     make(map[string]domain.ChatEntry, len(v.Chat)),
		Lore:     make(map[string]domain.LoreVolume, len(v.Lore)),
	}
	for id, entry := range v.Players {
		out.Players[id] = entry
	}
	for id, page := range v.Journal {
		out.Journal[id] = page
	}
	for id, entry := range v.Chat {
		out.Chat[id] = entry
	}
	for id, volume := range v.Lore {
		out.Lore[id] = volume
	}
	return out
}
