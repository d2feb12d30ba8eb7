package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/louisbranch/tablesync/internal/campaign/domain"
	"github.com/louisbranch/tablesync/internal/docstore"
	"github.com/louisbranch/tablesync/internal/errors"
)

// DefaultDebounceWindow is the delay after which the most recent non-immediate
// proposal is persisted, restarted on each new proposal.
const DefaultDebounceWindow = 1000 * time.Millisecond

// TimerFactory schedules fn after d and returns a cancel func. Injected so
// debouncing is testable without real timers.
type TimerFactory func(d time.Duration, fn func()) (cancel func())

func realTimers(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// coordinator is the optimistic write coordinator for one session's root
// document. Proposals are sanitized, applied to the local merged view
// synchronously, then persisted: immediately, or through a single pending
// write slot replaced on each call so only the most recent proposal within
// the debounce window ever reaches the store.
type coordinator struct {
	root    docstore.DocRef
	apply   func(fields map[string]any)
	window  time.Duration
	offline bool
	timers  TimerFactory

	mu      sync.Mutex
	cancel  func()
	pending map[string]any
	lastErr error
}

func newCoordinator(root docstore.DocRef, apply func(fields map[string]any), window time.Duration, offline bool, timers TimerFactory) *coordinator {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if timers == nil {
		timers = realTimers
	}
	return &coordinator{
		root:    root,
		apply:   apply,
		window:  window,
		offline: offline,
		timers:  timers,
	}
}

// Propose sanitizes the next state, applies it locally, and persists the
// root-document fields. Sub-collection keys are partitioned out: their
// entries are written through their own per-entity paths. Sanitization
// failures reject the proposal before any local or remote effect. A failed
// persisted write surfaces through LastError and is never rolled back
// locally.
func (c *coordinator) Propose(ctx context.Context, next map[string]any, immediate bool) error {
	sanitized, err := domain.Sanitize(next)
	if err != nil {
		return err
	}

	// The caller observes its own write before the store confirms it.
	c.apply(sanitized)

	rootFields := partitionRoot(sanitized)
	if len(rootFields) == 0 {
		return nil
	}

	// Offline persistence is a synchronous local write; there is no network
	// cost to amortize, so the debounce step is skipped.
	if immediate || c.offline {
		c.mu.Lock()
		c.dropPendingLocked()
		c.mu.Unlock()
		return c.write(ctx, rootFields)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropPendingLocked()
	c.pending = rootFields
	c.cancel = c.timers(c.window, c.fire)
	return nil
}

// Flush persists any pending debounced write now.
func (c *coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	fields := c.pending
	c.dropPendingLocked()
	c.mu.Unlock()

	if fields == nil {
		return nil
	}
	return c.write(ctx, fields)
}

// LastError returns the most recent persistence failure, or nil. The local
// optimistic state is retained as the source of truth until the next
// successful write or inbound snapshot reconciles it.
func (c *coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// fire runs when the debounce window elapses with no superseding proposal.
func (c *coordinator) fire() {
	c.mu.Lock()
	fields := c.pending
	c.pending = nil
	c.cancel = nil
	c.mu.Unlock()

	if fields == nil {
		return
	}
	_ = c.write(context.Background(), fields)
}

func (c *coordinator) write(ctx context.Context, fields map[string]any) error {
	err := c.root.Set(ctx, fields)
	if err != nil {
		if stderrors.Is(err, docstore.ErrDocumentTooLarge) {
			err = errors.Wrap(errors.CodeProposalTooLarge, "session root exceeds the per-document size ceiling", err)
		} else {
			err = errors.Wrap(errors.CodePersistence, "persist session root", err)
		}
	}

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

func (c *coordinator) dropPendingLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.pending = nil
}

// partitionRoot strips the sibling-collection keys from a proposal, leaving
// only fields persisted on the root document.
func partitionRoot(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	for _, reserved := range domain.ReservedCollectionKeys {
		delete(out, reserved)
	}
	return out
}
