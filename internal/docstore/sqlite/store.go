// Package sqlite provides a SQLite-backed document store implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/louisbranch/tablesync/internal/docstore"
	"github.com/louisbranch/tablesync/internal/docstore/broadcast"
	"github.com/louisbranch/tablesync/internal/docstore/sqlite/migrations"
	"github.com/louisbranch/tablesync/internal/platform/storage/sqlitemigrate"
)

const (
	broadcastBufferSize = 100
	listenerChanBuffer  = 20
	tracerName          = "tablesync/docstore/sqlite"
)

// Store persists documents in SQLite and fans out change events to listeners.
type Store struct {
	sqlDB       *sql.DB
	broadcaster *broadcast.Broadcaster
	tracer      trace.Tracer
	clock       func() time.Time
}

// Open opens a SQLite document store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{
		sqlDB:       sqlDB,
		broadcaster: broadcast.New(broadcastBufferSize, broadcast.DefaultTimeout),
		tracer:      otel.Tracer(tracerName),
		clock:       time.Now,
	}, nil
}

// Close stops change delivery and closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	s.broadcaster.Close()
	return s.sqlDB.Close()
}

// Doc addresses a single document by slash-separated path.
func (s *Store) Doc(path string) docstore.DocRef {
	collection, id := splitDocPath(path)
	return &docRef{store: s, collection: collection, id: id}
}

// Collection addresses a flat collection by path.
func (s *Store) Collection(path string) docstore.CollectionRef {
	return &collectionRef{store: s, path: strings.Trim(path, "/")}
}

// Batch starts a buffered multi-document write.
func (s *Store) Batch() docstore.WriteBatch {
	return &writeBatch{store: s}
}

// splitDocPath splits "campaigns/c1/chat/m1" into ("campaigns/c1/chat", "m1").
func splitDocPath(path string) (collection, id string) {
	trimmed := strings.Trim(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "", trimmed
	}
	return trimmed[:idx], trimmed[idx+1:]
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
	row := d.store.sqlDB.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?",
		d.collection, d.id,
	)
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	return decodeBody(body)
}

func (d *docRef) Create(ctx context.Context, fields map[string]any) error {
	return d.store.write(ctx, "docstore.Create", d.collection, d.id, func(stored map[string]any, exists bool) (map[string]any, error) {
		if exists {
			return nil, docstore.ErrAlreadyExists
		}
		return fields, nil
	})
}

func (d *docRef) Set(ctx context.Context, fields map[string]any) error {
	return d.store.write(ctx, "docstore.Set", d.collection, d.id, func(stored map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return docstore.Merge(map[string]any{}, fields), nil
		}
		return docstore.Merge(stored, fields), nil
	})
}

func (d *docRef) Update(ctx context.Context, fields map[string]any) error {
	return d.store.write(ctx, "docstore.Update", d.collection, d.id, func(stored map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return nil, docstore.ErrNotFound
		}
		return docstore.ApplyUpdate(stored, fields), nil
	})
}

func (d *docRef) Delete(ctx context.Context) error {
	ctx, span := d.store.tracer.Start(ctx, "docstore.Delete",
		trace.WithAttributes(attribute.String("doc.path", d.Path())))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := d.store.sqlDB.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?",
		d.collection, d.id,
	)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		d.store.broadcaster.Accept(d.collection, docstore.DocChange{
			Kind: docstore.ChangeRemoved,
			ID:   d.id,
		})
	}
	return nil
}

func (d *docRef) Listen(ctx context.Context, fn func(docstore.Snapshot)) (docstore.CancelFunc, error) {
	if fn == nil {
		return nil, fmt.Errorf("listener func is required")
	}
	sub := d.store.broadcaster.Subscribe(d.collection, listenerChanBuffer)

	initial := docstore.Snapshot{}
	if fields, err := d.Get(ctx); err == nil {
		initial = docstore.Snapshot{Exists: true, Fields: fields}
	} else if !errors.Is(err, docstore.ErrNotFound) {
		sub.Cancel()
		return nil, err
	}

	go func() {
		fn(initial)
		for {
			select {
			case change, open := <-sub.Changes():
				if !open {
					return
				}
				if change.ID != d.id {
					continue
				}
				fn(docstore.Snapshot{
					Exists: change.Kind != docstore.ChangeRemoved,
					Fields: change.Fields,
				})
			case <-ctx.Done():
				return
			}
		}
	}()

	return docstore.CancelFunc(sub.Cancel), nil
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
	rows, err := c.store.sqlDB.QueryContext(ctx,
		"SELECT id, body FROM documents WHERE collection = ? ORDER BY id",
		c.path,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		fields, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		out[id] = fields
	}
	return out, rows.Err()
}

func (c *collectionRef) Listen(ctx context.Context, fn func(docstore.DocChange)) (docstore.CancelFunc, error) {
	if fn == nil {
		return nil, fmt.Errorf("listener func is required")
	}
	sub := c.store.broadcaster.Subscribe(c.path, listenerChanBuffer)

	existing, err := c.Docs(ctx)
	if err != nil {
		sub.Cancel()
		return nil, err
	}

	go func() {
		for id, fields := range existing {
			fn(docstore.DocChange{Kind: docstore.ChangeAdded, ID: id, Fields: fields})
		}
		for {
			select {
			case change, open := <-sub.Changes():
				if !open {
					return
				}
				fn(change)
			case <-ctx.Done():
				return
			}
		}
	}()

	return docstore.CancelFunc(sub.Cancel), nil
}

// write runs a read-modify-write transaction for one document and broadcasts
// the committed body.
func (s *Store) write(ctx context.Context, op, collection, id string, mutate func(stored map[string]any, exists bool) (map[string]any, error)) error {
	ctx, span := s.tracer.Start(ctx, op,
		trace.WithAttributes(attribute.String("doc.path", collection+"/"+id)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}

	var stored map[string]any
	exists := false
	row := tx.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	)
	var body string
	switch err := row.Scan(&body); {
	case err == nil:
		exists = true
		if stored, err = decodeBody(body); err != nil {
			_ = tx.Rollback()
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		_ = tx.Rollback()
		return fmt.Errorf("read document: %w", err)
	}

	next, err := mutate(stored, exists)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("marshal document: %w", err)
	}
	if len(encoded) > docstore.MaxDocumentBytes {
		_ = tx.Rollback()
		return docstore.ErrDocumentTooLarge
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
`, collection, id, string(encoded), s.clock().UTC().UnixMilli()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}

	// Re-decode so listeners observe the same value shapes a fresh read would.
	committed, err := decodeBody(string(encoded))
	if err != nil {
		return err
	}
	kind := docstore.ChangeModified
	if !exists {
		kind = docstore.ChangeAdded
	}
	s.broadcaster.Accept(collection, docstore.DocChange{Kind: kind, ID: id, Fields: committed})
	return nil
}

type batchOp struct {
	collection string
	id         string
	fields     map[string]any
	delete     bool
}

type writeBatch struct {
	store *Store
	ops   []batchOp
}

func (b *writeBatch) Set(path string, fields map[string]any) docstore.WriteBatch {
	collection, id := splitDocPath(path)
	b.ops = append(b.ops, batchOp{collection: collection, id: id, fields: fields})
	return b
}

func (b *writeBatch) Delete(path string) docstore.WriteBatch {
	collection, id := splitDocPath(path)
	b.ops = append(b.ops, batchOp{collection: collection, id: id, delete: true})
	return b
}

// Commit applies all buffered writes in one transaction, then broadcasts
// the committed changes in order.
func (b *writeBatch) Commit(ctx context.Context) error {
	ctx, span := b.store.tracer.Start(ctx, "docstore.BatchCommit",
		trace.WithAttributes(attribute.Int("batch.size", len(b.ops))))
	defer span.End()

	if len(b.ops) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := b.store.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	changes := make([]struct {
		collection string
		change     docstore.DocChange
	}, 0, len(b.ops))

	for _, op := range b.ops {
		if op.delete {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM documents WHERE collection = ? AND id = ?",
				op.collection, op.id,
			); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("batch delete: %w", err)
			}
			changes = append(changes, struct {
				collection string
				change     docstore.DocChange
			}{op.collection, docstore.DocChange{Kind: docstore.ChangeRemoved, ID: op.id}})
			continue
		}

		var stored map[string]any
		exists := false
		row := tx.QueryRowContext(ctx,
			"SELECT body FROM documents WHERE collection = ? AND id = ?",
			op.collection, op.id,
		)
		var body string
		switch err := row.Scan(&body); {
		case err == nil:
			exists = true
			if stored, err = decodeBody(body); err != nil {
				_ = tx.Rollback()
				return err
			}
		case errors.Is(err, sql.ErrNoRows):
			stored = map[string]any{}
		default:
			_ = tx.Rollback()
			return fmt.Errorf("batch read: %w", err)
		}

		next := docstore.Merge(stored, op.fields)
		encoded, err := json.Marshal(next)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal document: %w", err)
		}
		if len(encoded) > docstore.MaxDocumentBytes {
			_ = tx.Rollback()
			return docstore.ErrDocumentTooLarge
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
`, op.collection, op.id, string(encoded), b.store.clock().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("batch write: %w", err)
		}

		committed, err := decodeBody(string(encoded))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		kind := docstore.ChangeModified
		if !exists {
			kind = docstore.ChangeAdded
		}
		changes = append(changes, struct {
			collection string
			change     docstore.DocChange
		}{op.collection, docstore.DocChange{Kind: kind, ID: op.id, Fields: committed}})
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	for _, c := range changes {
		b.store.broadcaster.Accept(c.collection, c.change)
	}
	b.ops = nil
	return nil
}

func decodeBody(body string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return fields, nil
}
