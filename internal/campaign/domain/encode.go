package domain

import (
	"encoding/json"
	"fmt"
)

// Field names for the root document's sub-collection siblings. These are
// excluded from the root write path: their entries are written through their
// own per-entity paths.
const (
	CollectionPlayers = "players"
	CollectionJournal = "journal"
	CollectionChat    = "chat"
	CollectionLore    = "lore"
)

// ReservedCollectionKeys lists the top-level keys partitioned out of a root
// document write.
var ReservedCollectionKeys = []string{
	CollectionPlayers, CollectionJournal, CollectionChat, CollectionLore,
}

func toFields(v any) (map[string]any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}

func fromFields(fields map[string]any, target any) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	if err := json.Unmarshal(encoded, target); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}
	return nil
}

// EncodeCampaign converts a campaign into document fields.
func EncodeCampaign(c Campaign) (map[string]any, error) {
	return toFields(c)
}

// DecodeCampaign converts document fields into a campaign.
func DecodeCampaign(fields map[string]any) (Campaign, error) {
	var c Campaign
	err := fromFields(fields, &c)
	return c, err
}

// EncodeRosterEntry converts a roster entry into document fields.
func EncodeRosterEntry(e RosterEntry) (map[string]any, error) {
	return toFields(e)
}

// DecodeRosterEntry converts document fields into a roster entry.
func DecodeRosterEntry(fields map[string]any) (RosterEntry, error) {
	var e RosterEntry
	err := fromFields(fields, &e)
	return e, err
}

// EncodeJournalPage converts a journal page into document fields.
func EncodeJournalPage(p JournalPage) (map[string]any, error) {
	return toFields(p)
}

// DecodeJournalPage converts document fields into a journal page.
func DecodeJournalPage(fields map[string]any) (JournalPage, error) {
	var p JournalPage
	err := fromFields(fields, &p)
	return p, err
}

// EncodeChatEntry converts a chat entry into document fields.
func EncodeChatEntry(e ChatEntry) (map[string]any, error) {
	return toFields(e)
}

// DecodeChatEntry converts document fields into a chat entry.
func DecodeChatEntry(fields map[string]any) (ChatEntry, error) {
	var e ChatEntry
	err := fromFields(fields, &e)
	return e, err
}

// EncodeLoreVolume converts a lore volume into document fields.
func EncodeLoreVolume(v LoreVolume) (map[string]any, error) {
	return toFields(v)
}

// DecodeLoreVolume converts document fields into a lore volume.
func DecodeLoreVolume(fields map[string]any) (LoreVolume, error) {
	var v LoreVolume
	err := fromFields(fields, &v)
	return v, err
}
