package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/louisbranch/tablesync/internal/campaign/domain"
	"github.com/louisbranch/tablesync/internal/docstore"
	"github.com/louisbranch/tablesync/internal/errors"
)

// rootCollection is the collection holding one root document per session.
const rootCollection = "campaigns"

// rootPath addresses the root document for a session code.
func rootPath(code string) string {
	return rootCollection + "/" + code
}

// collectionPath addresses a sibling collection for a session code.
func collectionPath(code, name string) string {
	return rootPath(code) + "/" + name
}

// multiplexerConfig describes one multiplexed subscription set.
type multiplexerConfig struct {
	store    docstore.Store
	code     string
	userID   string
	userName string
	host     bool

	// genesis metadata used only when the host creates a missing root.
	genesis domain.Genesis
	config  domain.SessionConfig

	now         func() time.Time
	idGenerator func() (string, error)

	// onView receives a deep copy of the merged view after every fold.
	// Invoked with internal locks held: it must return promptly and must
	// not call back into the multiplexer.
	onView func(View)
	// onBanished fires at most once, after all listeners are torn down.
	onBanished func()
}

// multiplexer merges one root-document subscription and one subscription per
// sibling collection into a single view. Each inbound event only overwrites
// the keys it owns, so folds commute per top-level key regardless of arrival
// order. Handlers run to completion under one mutex.
type multiplexer struct {
	cfg multiplexerConfig

	mu       sync.Mutex
	view     View
	cancels  []docstore.CancelFunc
	terminal bool
}

// openMultiplexer resolves the root document, announces the joining
// identity's presence, and registers every listener. A missing root is
// created exactly once with the canonical genesis payload when the caller
// holds host privileges, and is a terminal error otherwise.
func openMultiplexer(ctx context.Context, cfg multiplexerConfig) (*multiplexer, error) {
	root := cfg.store.Doc(rootPath(cfg.code))

	created := false
	initial, err := root.Get(ctx)
	switch {
	case stderrors.Is(err, docstore.ErrNotFound):
		if !cfg.host {
			return nil, errors.Newf(errors.CodeSessionNotFound, "no such session %q", cfg.code)
		}
		campaign, err := domain.CreateCampaign(domain.CreateCampaignInput{
			HostID:  cfg.userID,
			Genesis: cfg.genesis,
			Config:  cfg.config,
		}, cfg.now, cfg.idGenerator)
		if err != nil {
			return nil, err
		}
		// The founder's presence rides the genesis write, so a fresh
		// session resolves its first member elevated from the start.
		campaign, err = domain.Join(campaign, cfg.userID, cfg.userName)
		if err != nil {
			return nil, err
		}
		fields, err := domain.EncodeCampaign(campaign)
		if err != nil {
			return nil, err
		}
		switch err := root.Create(ctx, fields); {
		case err == nil:
			initial = fields
			created = true
		case stderrors.Is(err, docstore.ErrAlreadyExists):
			// Lost the creation race: adopt the winner's genesis and
			// announce into it like any other joiner.
			initial, err = root.Get(ctx)
			if err != nil {
				return nil, errors.Wrap(errors.CodePersistence, "read session root", err)
			}
		default:
			return nil, errors.Wrap(errors.CodePersistence, "create session root", err)
		}
	case err != nil:
		return nil, errors.Wrap(errors.CodePersistence, "read session root", err)
	}

	campaign, err := domain.DecodeCampaign(initial)
	if err != nil {
		return nil, errors.Wrap(errors.CodePersistence, "decode session root", err)
	}
	// Rejoining after a ban is permanently rejected before any listener is
	// registered.
	if campaign.IsBanned(cfg.userID) {
		return nil, errors.New(errors.CodeSessionBanished, "banished from session")
	}
	if !created {
		campaign, err = domain.Join(campaign, cfg.userID, cfg.userName)
		if err != nil {
			return nil, err
		}
		fields, err := domain.EncodeCampaign(campaign)
		if err != nil {
			return nil, err
		}
		if err := root.Update(ctx, map[string]any{"activeUsers": fields["activeUsers"]}); err != nil {
			return nil, errors.Wrap(errors.CodePersistence, "announce presence", err)
		}
	}

	m := &multiplexer{cfg: cfg, view: NewView()}
	// Seed the announced campaign so the view is coherent before the root
	// listener's first snapshot lands.
	m.view.Campaign = campaign

	cancelRoot, err := root.Listen(ctx, m.handleRoot)
	if err != nil {
		return nil, errors.Wrap(errors.CodePersistence, "listen session root", err)
	}
	m.cancels = append(m.cancels, cancelRoot)

	collections := []struct {
		name string
		fold func(View, docstore.DocChange) View
	}{
		{domain.CollectionPlayers, foldPlayer},
		{domain.CollectionJournal, foldJournal},
		{domain.CollectionChat, foldChat},
		{domain.CollectionLore, foldLore},
	}
	for _, c := range collections {
		fold := c.fold
		cancel, err := cfg.store.Collection(collectionPath(cfg.code, c.name)).Listen(ctx, func(change docstore.DocChange) {
			m.fold(func(v View) View { return fold(v, change) })
		})
		if err != nil {
			m.Close()
			return nil, errors.Wrap(errors.CodePersistence, fmt.Sprintf("listen %s collection", c.name), err)
		}
		m.cancels = append(m.cancels, cancel)
	}

	// A ban folded in between the initial read and listener registration
	// lands here: the subscription set is already torn down.
	m.mu.Lock()
	terminal := m.terminal
	m.mu.Unlock()
	if terminal {
		m.Close()
		return nil, errors.New(errors.CodeSessionBanished, "banished from session")
	}

	return m, nil
}

// View returns a deep copy of the current merged view.
func (m *multiplexer) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view.Clone()
}

// Apply runs one mutation against the merged view and republishes it. The
// write coordinator uses this for synchronous optimistic applies.
func (m *multiplexer) Apply(mutate func(View) View) {
	m.fold(mutate)
}

// Close tears down every subscription. Idempotent: listeners registered
// after an earlier close are still cancelled.
func (m *multiplexer) Close() {
	m.close()
}

// close reports whether this call made the state terminal, so the ban path
// fires its callback exactly once even when a buffered root event lands
// after teardown.
func (m *multiplexer) close() bool {
	m.mu.Lock()
	first := !m.terminal
	m.terminal = true
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return first
}

// fold applies one event to the view and publishes the result. Events after
// the terminal state are dropped: no further updates reach consumers.
func (m *multiplexer) fold(mutate func(View) View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal {
		return
	}
	m.view = mutate(m.view)
	if m.cfg.onView != nil {
		m.cfg.onView(m.view.Clone())
	}
}

// handleRoot folds a root-document snapshot. The ban check runs against the
// freshly received bannedUsers set: a banished identity tears down every
// subscription immediately rather than continuing on stale data.
func (m *multiplexer) handleRoot(snap docstore.Snapshot) {
	if !snap.Exists {
		return
	}
	campaign, err := domain.DecodeCampaign(snap.Fields)
	if err != nil {
		// A malformed root snapshot is skipped; the next write replaces it.
		return
	}

	if campaign.IsBanned(m.cfg.userID) {
		if m.close() && m.cfg.onBanished != nil {
			m.cfg.onBanished()
		}
		return
	}

	m.fold(func(v View) View {
		v.Campaign = campaign
		return v
	})
}

func foldPlayer(v View, change docstore.DocChange) View {
	if change.Kind == docstore.ChangeRemoved {
		delete(v.Players, change.ID)
		return v
	}
	entry, err := domain.DecodeRosterEntry(change.Fields)
	if err != nil {
		return v
	}
	v.Players[change.ID] = entry
	return v
}

func foldJournal(v View, change docstore.DocChange) View {
	if change.Kind == docstore.ChangeRemoved {
		delete(v.Journal, change.ID)
		return v
	}
	page, err := domain.DecodeJournalPage(change.Fields)
	if err != nil {
		return v
	}
	v.Journal[change.ID] = page
	return v
}

func foldChat(v View, change docstore.DocChange) View {
	if change.Kind == docstore.ChangeRemoved {
		delete(v.Chat, change.ID)
		return v
	}
	entry, err := domain.DecodeChatEntry(change.Fields)
	if err != nil {
		return v
	}
	v.Chat[change.ID] = entry
	return v
}

func foldLore(v View, change docstore.DocChange) View {
	if change.Kind == docstore.ChangeRemoved {
		delete(v.Lore, change.ID)
		return v
	}
	volume, err := domain.DecodeLoreVolume(change.Fields)
	if err != nil {
		return v
	}
	v.Lore[change.ID] = volume
	return v
}
