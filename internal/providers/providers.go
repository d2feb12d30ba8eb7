// Package providers declares the collaborator interfaces the engine
// consumes but does not implement: blob storage for map images and
// portraits, and text completion for AI-narrated chat responses. Document
// ingestion lives in the lore package next to its splitting logic.
package providers

import "context"

// BlobUploader stores bytes under a path and yields a retrievable url.
type BlobUploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (url string, err error)
}

// Role tags a message in a completion exchange.
type Role string

const (
	// RoleSystem carries instructions framing the exchange.
	RoleSystem Role = "system"
	// RoleUser carries member input.
	RoleUser Role = "user"
	// RoleAssistant carries prior model output.
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry in a completion exchange.
type Message struct {
	Role    Role
	Content string
}

// TextCompleter yields a completion given role-tagged messages.
type TextCompleter interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}
