package domain

// RosterEntry is one character sheet, owned by its assigned user but
// editable by the elevated role.
type RosterEntry struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Ancestry string         `json:"ancestry,omitempty"`
	Class    string         `json:"class,omitempty"`
	Level    int            `json:"level,omitempty"`
	HP       int            `json:"hp"`
	MaxHP    int            `json:"maxHp"`
	Stats    map[string]int `json:"stats,omitempty"`
	Portrait string         `json:"portrait,omitempty"`
	Notes    string         `json:"notes,omitempty"`
	OwnerID  string         `json:"ownerId,omitempty"`
}

// JournalPage is a rich content blob with a visibility scope.
type JournalPage struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	Public           bool     `json:"public"`
	AllowedPlayerIDs []string `json:"allowedPlayerIds,omitempty"`
	UpdatedAt        int64    `json:"updatedAt"`
}

// VisibleTo reports whether the page is readable by the given roster entry.
// The elevated role reads everything.
func (p JournalPage) VisibleTo(rosterID string, elevated bool) bool {
	if elevated || p.Public {
		return true
	}
	for _, allowed := range p.AllowedPlayerIDs {
		if allowed == rosterID {
			return true
		}
	}
	return false
}

// ChatKind tags the union of chat entry kinds.
type ChatKind string

const (
	// ChatKindMessage is a public chat message.
	ChatKindMessage ChatKind = "chat"
	// ChatKindWhisper is a private message to one member.
	ChatKindWhisper ChatKind = "whisper"
	// ChatKindAI is a public AI response.
	ChatKindAI ChatKind = "ai"
	// ChatKindAIWhisper is an AI response visible to the requester only.
	ChatKindAIWhisper ChatKind = "aiWhisper"
	// ChatKindRoll is a dice roll result.
	ChatKindRoll ChatKind = "roll"
	// ChatKindPing is a transient pointer ping.
	ChatKindPing ChatKind = "ping"
	// ChatKindEffect triggers a visual effect.
	ChatKindEffect ChatKind = "effect"
)

// Valid reports whether the kind is a member of the union.
func (k ChatKind) Valid() bool {
	switch k {
	case ChatKindMessage, ChatKindWhisper, ChatKindAI, ChatKindAIWhisper,
		ChatKindRoll, ChatKindPing, ChatKindEffect:
		return true
	}
	return false
}

// Visibility classifies who may read a chat entry.
type Visibility string

const (
	// VisibilityPublic entries are readable by every member.
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate entries are readable by sender and target only.
	VisibilityPrivate Visibility = "private"
)

// Visibility derives the visibility class from the entry kind.
func (k ChatKind) Visibility() Visibility {
	switch k {
	case ChatKindWhisper, ChatKindAIWhisper:
		return VisibilityPrivate
	}
	return VisibilityPublic
}

// Ephemeral reports whether the kind is a transient broadcast-only event
// that is never folded into debounced root state.
func (k ChatKind) Ephemeral() bool {
	return k == ChatKindPing || k == ChatKindEffect
}

// ChatEntry is one entry in the session chat log.
type ChatEntry struct {
	ID         string         `json:"id"`
	Kind       ChatKind       `json:"kind"`
	SenderID   string         `json:"senderId"`
	SenderName string         `json:"senderName,omitempty"`
	TargetID   string         `json:"targetId,omitempty"`
	Body       string         `json:"body,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  int64          `json:"createdAt"`
}

// VisibleTo reports whether the entry is readable by the given member.
func (e ChatEntry) VisibleTo(userID string) bool {
	if e.Kind.Visibility() == VisibilityPublic {
		return true
	}
	return e.SenderID == userID || e.TargetID == userID
}

// LoreChunk is one page-numbered text fragment of ingested reference
// material.
type LoreChunk struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// LoreVolume is an ordered list of text chunks under a combined size
// ceiling, produced by splitting an ingested source document.
type LoreVolume struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Seq    int         `json:"seq"`
	Chunks []LoreChunk `json:"chunks"`
	Bytes  int         `json:"bytes"`
}
