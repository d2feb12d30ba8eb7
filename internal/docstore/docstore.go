// Package docstore defines the document-store primitives the sync engine
// consumes: per-document real-time listeners, partial merge writes, atomic
// array operations, and multi-document batched writes.
//
// Two implementations exist: a SQLite-backed store serving connected
// sessions, and a BoltDB-backed store substituting for it in offline mode.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates a requested document is missing.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists indicates a Create hit an existing document.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrDocumentTooLarge indicates a write exceeded the per-document byte ceiling.
	ErrDocumentTooLarge = errors.New("document exceeds size ceiling")
)

// MaxDocumentBytes is the per-document size ceiling enforced on writes.
const MaxDocumentBytes = 1 << 20

// Snapshot is a point-in-time payload delivered for a single document.
type Snapshot struct {
	Exists bool
	Fields map[string]any
}

// ChangeKind describes how a collection document changed.
type ChangeKind int

const (
	// ChangeAdded indicates a document was created or first observed.
	ChangeAdded ChangeKind = iota
	// ChangeModified indicates an existing document was rewritten.
	ChangeModified
	// ChangeRemoved indicates a document was deleted.
	ChangeRemoved
)

// DocChange is a single document event within a collection stream.
type DocChange struct {
	Kind   ChangeKind
	ID     string
	Fields map[string]any
}

// CancelFunc tears down a listener registration.
type CancelFunc func()

// Store is the document database surface the engine depends on.
type Store interface {
	Doc(path string) DocRef
	Collection(path string) CollectionRef
	Batch() WriteBatch
	Close() error
}

// DocRef addresses a single document.
type DocRef interface {
	Path() string

	Get(ctx context.Context) (map[string]any, error)
	// Create writes the document only if it does not exist yet, returning
	// ErrAlreadyExists otherwise. Used for exactly-once genesis writes.
	Create(ctx context.Context, fields map[string]any) error
	// Set performs a merge write: fields absent from the payload are left
	// untouched server-side; maps merge recursively; explicit nils persist
	// as JSON null.
	Set(ctx context.Context, fields map[string]any) error
	// Update applies field updates, resolving ArrayUnion and ArrayRemove
	// sentinel values against the stored document.
	Update(ctx context.Context, fields map[string]any) error
	Delete(ctx context.Context) error
	// Listen delivers the current snapshot followed by every subsequent
	// change until the cancel func runs or ctx is done.
	Listen(ctx context.Context, fn func(Snapshot)) (CancelFunc, error)
}

// CollectionRef addresses a flat collection of documents.
type CollectionRef interface {
	Path() string
	Doc(id string) DocRef
	Docs(ctx context.Context) (map[string]map[string]any, error)
	// Listen delivers every current document as ChangeAdded followed by
	// subsequent changes until cancelled.
	Listen(ctx context.Context, fn func(DocChange)) (CancelFunc, error)
}

// WriteBatch buffers writes across documents for a single atomic commit.
type WriteBatch interface {
	Set(path string, fields map[string]any) WriteBatch
	Delete(path string) WriteBatch
	Commit(ctx context.Context) error
}
