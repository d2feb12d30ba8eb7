// Package bbolt provides a BoltDB-backed document store used in offline
// mode. Writes are synchronous and change events loop back to local
// listeners so the engine's code path matches the connected store.
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/louisbranch/tablesync/internal/docstore"
)

// Store provides a BoltDB-backed document store.
type Store struct {
	db *bbolt.DB

	mu        sync.Mutex
	nextID    int
	listeners map[string]map[int]func(docstore.DocChange)
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	return &Store{
		db:        db,
		listeners: make(map[string]map[int]func(docstore.DocChange)),
	}, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Doc addresses a single document by slash-separated path.
func (s *Store) Doc(path string) docstore.DocRef {
	trimmed := strings.Trim(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return &docRef{store: s, collection: "", id: trimmed}
	}
	return &docRef{store: s, collection: trimmed[:idx], id: trimmed[idx+1:]}
}

// Collection addresses a flat collection by path.
func (s *Store) Collection(path string) docstore.CollectionRef {
	return &collectionRef{store: s, path: strings.Trim(path, "/")}
}

// Batch starts a buffered multi-document write.
func (s *Store) Batch() docstore.WriteBatch {
	return &writeBatch{store: s}
}

func (s *Store) subscribe(collection string, fn func(docstore.DocChange)) docstore.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	subs, ok := s.listeners[collection]
	if !ok {
		subs = make(map[int]func(docstore.DocChange))
		s.listeners[collection] = subs
	}
	subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.listeners[collection]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.listeners, collection)
			}
		}
	}
}

// notify invokes collection listeners synchronously. Offline mode serves a
// single local client, so fan-out stays in the caller's goroutine.
func (s *Store) notify(collection string, change docstore.DocChange) {
	s.mu.Lock()
	fns := make([]func(docstore.DocChange), 0, len(s.listeners[collection]))
	for _, fn := range s.listeners[collection] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

type docRef struct {
	store      *Store
	collection string
	id         string
}

func (d *docRef) Path() string {
	return d.collection + "/" + d.id
}

func (d *docRef) Get(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var fields map[string]any
	err := d.store.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(d.collection))
		if bucket == nil {
			return docstore.ErrNotFound
		}
		payload := bucket.Get([]byte(d.id))
		if payload == nil {
			return docstore.ErrNotFound
		}
		if err := json.Unmarshal(payload, &fields); err != nil {
			return fmt.Errorf("unmarshal document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func (d *docRef) Create(ctx context.Context, fields map[string]any) error {
	return d.write(ctx, func(stored map[string]any, exists bool) (map[string]any, error) {
		if exists {
			return nil, docstore.ErrAlreadyExists
		}
		return fields, nil
	})
}

func (d *docRef) Set(ctx context.Context, fields map[string]any) error {
	return d.write(ctx, func(stored map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return docstore.Merge(map[string]any{}, fields), nil
		}
		return docstore.Merge(stored, fields), nil
	})
}

func (d *docRef) Update(ctx context.Context, fields map[string]any) error {
	return d.write(ctx, func(stored map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return nil, docstore.ErrNotFound
		}
		return docstore.ApplyUpdate(stored, fields), nil
	})
}

func (d *docRef) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	removed := false
	err := d.store.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(d.collection))
		if bucket == nil {
			return nil
		}
		if bucket.Get([]byte(d.id)) == nil {
			return nil
		}
		removed = true
		return bucket.Delete([]byte(d.id))
	})
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if removed {
		d.store.notify(d.collection, docstore.DocChange{Kind: docstore.ChangeRemoved, ID: d.id})
	}
	return nil
}

func (d *docRef) Listen(ctx context.Context, fn func(docstore.Snapshot)) (docstore.CancelFunc, error) {
	if fn == nil {
		return nil, fmt.Errorf("listener func is required")
	}

	cancel := d.store.subscribe(d.collection, func(change docstore.DocChange) {
		if change.ID != d.id {
			return
		}
		fn(docstore.Snapshot{
			Exists: change.Kind != docstore.ChangeRemoved,
			Fields: change.Fields,
		})
	})

	fields, err := d.Get(ctx)
	switch {
	case err == nil:
		fn(docstore.Snapshot{Exists: true, Fields: fields})
	case errors.Is(err, docstore.ErrNotFound):
		fn(docstore.Snapshot{})
	default:
		cancel()
		return nil, err
	}

	return cancel, nil
}

func (d *docRef) write(ctx context.Context, mutate func(stored map[string]any, exists bool) (map[string]any, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var change docstore.DocChange
	err := d.store.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(d.collection))
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}

		var stored map[string]any
		exists := false
		if payload := bucket.Get([]byte(d.id)); payload != nil {
			exists = true
			if err := json.Unmarshal(payload, &stored); err != nil {
				return fmt.Errorf("unmarshal document: %w", err)
			}
		}

		next, err := mutate(stored, exists)
		if err != nil {
			return err
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		if len(encoded) > docstore.MaxDocumentBytes {
			return docstore.ErrDocumentTooLarge
		}
		if err := bucket.Put([]byte(d.id), encoded); err != nil {
			return fmt.Errorf("write document: %w", err)
		}

		committed := make(map[string]any)
		if err := json.Unmarshal(encoded, &committed); err != nil {
			return fmt.Errorf("unmarshal committed document: %w", err)
		}
		kind := docstore.ChangeModified
		if !exists {
			kind = docstore.ChangeAdded
		}
		change = docstore.DocChange{Kind: kind, ID: d.id, Fields: committed}
		return nil
	})
	if err != nil {
		return err
	}

	d.store.notify(d.collection, change)
	return nil
}

type collectionRef struct {
	store *Store
	path  string
}

func (c *collectionRef) Path() string {
	return c.path
}

func (c *collectionRef) Doc(id string) docstore.DocRef {
	return &docRef{store: c.store, collection: c.path, id: id}
}

func (c *collectionRef) Docs(ctx context.Context) (map[string]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]map[string]any)
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(c.path))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var fields map[string]any
			if err := json.Unmarshal(v, &fields); err != nil {
				return fmt.Errorf("unmarshal document %s: %w", k, err)
			}
			out[string(k)] = fields
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *collectionRef) Listen(ctx context.Context, fn func(docstore.DocChange)) (docstore.CancelFunc, error) {
	if fn == nil {
		return nil, fmt.Errorf("listener func is required")
	}

	cancel := c.store.subscribe(c.path, fn)

	existing, err := c.Docs(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	for id, fields := range existing {
		fn(docstore.DocChange{Kind: docstore.ChangeAdded, ID: id, Fields: fields})
	}

	return cancel, nil
}

type writeBatch struct {
	store *Store
	ops   []func(ctx context.Context) error
}

func (b *writeBatch) Set(path string, fields map[string]any) docstore.WriteBatch {
	doc := b.store.Doc(path)
	b.ops = append(b.ops, func(ctx context.Context) error {
		return doc.Set(ctx, fields)
	})
	return b
}

func (b *writeBatch) Delete(path string) docstore.WriteBatch {
	doc := b.store.Doc(path)
	b.ops = append(b.ops, func(ctx context.Context) error {
		return doc.Delete(ctx)
	})
	return b
}

// Commit applies buffered writes sequentially. Offline mode has no remote
// round trip to amortize, so batching exists only to mirror the interface.
func (b *writeBatch) Commit(ctx context.Context) error {
	for _, op := range b.ops {
		if err := op(ctx); err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}
