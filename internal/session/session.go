package session

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/tablesync/internal/campaign/domain"
	"github.com/louisbranch/tablesync/internal/docstore"
	"github.com/louisbranch/tablesync/internal/errors"
	"github.com/louisbranch/tablesync/internal/lore"
	"github.com/louisbranch/tablesync/internal/platform/id"
)

// Identity is the stable user id and display name resolved by the identity
// provider.
type Identity struct {
	UserID string
	Name   string
}

// JoinInput describes one join request.
type JoinInput struct {
	Code     string
	Identity Identity
	Host     bool
	Offline  bool

	// Genesis metadata, used only when a host creates a missing session.
	Genesis domain.Genesis
	Config  domain.SessionConfig
}

// Config wires a store's collaborators. Store serves connected sessions;
// Fallback, when set, serves joins requested with Offline.
type Config struct {
	Store    docstore.Store
	Fallback docstore.Store

	DebounceWindow time.Duration
	Now            func() time.Time
	IDGenerator    func() (string, error)
	Timers         TimerFactory

	// OnView receives a copy of the merged view after every fold. OnBanished
	// fires at most once when the local identity is banished mid-session.
	OnView     func(View)
	OnBanished func()
}

// Store owns the merged view for at most one joined session at a time and
// exposes the full operation surface. All mutation flows through it; there
// are no ambient globals.
type Store struct {
	cfg Config

	mu       sync.Mutex
	code     string
	identity Identity
	store    docstore.Store
	mux      *multiplexer
	coord    *coordinator
	joining  bool
	banished bool
}

// New builds an idle session store.
func New(cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = id.NewID
	}
	return &Store{cfg: cfg}
}

// Join opens the multiplexed subscription set for a session code and
// announces the identity's presence in activeUsers. A missing session is
// created with the canonical genesis payload when Host is set, and rejected
// otherwise. Joining while already joined is rejected; Leave first.
func (s *Store) Join(ctx context.Context, input JoinInput) error {
	input.Code = strings.TrimSpace(input.Code)
	if input.Code == "" {
		return errors.New(errors.CodeSessionCodeEmpty, "session code is required")
	}
	if strings.TrimSpace(input.Identity.UserID) == "" {
		return errors.New(errors.CodeMembershipEmptyUserID, "user id is required")
	}

	s.mu.Lock()
	if s.mux != nil || s.joining {
		code := s.code
		s.mu.Unlock()
		return errors.Newf(errors.CodeSessionAlreadyOpen, "already joined session %q", code)
	}
	s.joining = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.joining = false
		s.mu.Unlock()
	}()

	store := s.cfg.Store
	if input.Offline {
		if s.cfg.Fallback == nil {
			return errors.New(errors.CodePersistence, "no offline fallback store configured")
		}
		store = s.cfg.Fallback
	}

	// The store mutex is not held here: synchronous stores deliver the
	// initial snapshots from this goroutine.
	mux, err := openMultiplexer(ctx, multiplexerConfig{
		store:       store,
		code:        input.Code,
		userID:      input.Identity.UserID,
		userName:    input.Identity.Name,
		host:        input.Host,
		genesis:     input.Genesis,
		config:      input.Config,
		now:         s.cfg.Now,
		idGenerator: s.cfg.IDGenerator,
		onView:      s.cfg.OnView,
		onBanished:  s.handleBanished,
	})
	if err != nil {
		return err
	}

	root := store.Doc(rootPath(input.Code))
	s.mu.Lock()
	s.mux = mux
	s.coord = newCoordinator(root, s.applyProposal, s.cfg.DebounceWindow, input.Offline, s.cfg.Timers)
	s.code = input.Code
	s.identity = input.Identity
	s.banished = false
	s.store = store
	s.mu.Unlock()
	return nil
}

// Leave flushes any pending debounced write and tears down every
// subscription. Safe to call when not joined.
func (s *Store) Leave(ctx context.Context) error {
	s.mu.Lock()
	mux, coord := s.mux, s.coord
	s.mux, s.coord = nil, nil
	s.code = ""
	s.store = nil
	s.mu.Unlock()

	if mux == nil {
		return nil
	}
	err := coord.Flush(ctx)
	mux.Close()
	return err
}

// View returns a deep copy of the merged view.
func (s *Store) View() (View, error) {
	mux, _, err := s.engine()
	if err != nil {
		return View{}, err
	}
	return mux.View(), nil
}

// Banished reports whether the local identity was banished from the joined
// session.
func (s *Store) Banished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banished
}

// LastPersistenceError returns the most recent root-write failure, or nil.
func (s *Store) LastPersistenceError() error {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()
	if coord == nil {
		return nil
	}
	return coord.LastError()
}

// Propose is the optimistic write entry point: the next root state is
// sanitized, applied locally, and persisted immediately or after the
// debounce window, most recent proposal winning. Combat state belongs to
// the elevated role: a proposal that would change it from a non-elevated
// identity is rejected.
func (s *Store) Propose(ctx context.Context, next map[string]any, immediate bool) error {
	mux, coord, err := s.engine()
	if err != nil {
		return err
	}
	current := mux.View().Campaign
	if changesCombat(next, current) && !current.IsElevated(s.actorID()) {
		return errors.New(errors.CodeMembershipNotElevated, "combat state requires the elevated role")
	}
	return coord.Propose(ctx, next, immediate)
}

// changesCombat reports whether the proposal carries a combat sub-state
// different from the current one. Proposals that merely echo the current
// combat, like map actions re-proposing the whole world, pass through.
func changesCombat(next map[string]any, current domain.Campaign) bool {
	world, ok := next["world"].(map[string]any)
	if !ok {
		return false
	}
	combat, ok := world["combat"]
	if !ok {
		return false
	}
	fields, err := domain.EncodeCampaign(current)
	if err != nil {
		return true
	}
	currentWorld, _ := fields["world"].(map[string]any)
	return !reflect.DeepEqual(combat, currentWorld["combat"])
}

// DispatchMapAction routes one map action through the pure reducer and
// proposes the resulting map sub-state. Token writes and library mutations
// persist immediately; fog and view strokes ride the debounce window.
func (s *Store) DispatchMapAction(ctx context.Context, action domain.MapAction, payload domain.MapPayload) error {
	mux, _, err := s.engine()
	if err != nil {
		return err
	}

	current := mux.View().Campaign
	active, library, err := domain.ReduceMap(current.World.ActiveMap, current.World.SavedMaps, action, payload, s.cfg.Now, s.cfg.IDGenerator)
	if err != nil {
		return err
	}

	next := current.Clone()
	next.World.ActiveMap = active
	next.World.SavedMaps = library
	fields, err := domain.EncodeCampaign(next)
	if err != nil {
		return errors.Wrap(errors.CodeProposalInvalid, "encode map state", err)
	}

	return s.Propose(ctx, map[string]any{"world": fields["world"]}, action.Immediate())
}

// SaveRosterEntry writes one roster entry through its own per-entity path,
// bypassing the root document. A missing id is generated.
func (s *Store) SaveRosterEntry(ctx context.Context, entry domain.RosterEntry) (domain.RosterEntry, error) {
	mux, _, err := s.engine()
	if err != nil {
		return domain.RosterEntry{}, err
	}
	if entry.ID == "" {
		generated, err := s.cfg.IDGenerator()
		if err != nil {
			return domain.RosterEntry{}, errors.Wrap(errors.CodePersistence, "generate roster id", err)
		}
		entry.ID = generated
	}

	fields, err := domain.EncodeRosterEntry(entry)
	if err != nil {
		return domain.RosterEntry{}, errors.Wrap(errors.CodeProposalInvalid, "encode roster entry", err)
	}
	if err := s.writeEntity(ctx, domain.CollectionPlayers, entry.ID, fields); err != nil {
		return domain.RosterEntry{}, err
	}

	mux.Apply(func(v View) View {
		v.Players[entry.ID] = entry
		return v
	})
	return entry, nil
}

// DeleteRosterEntry removes one roster entry.
func (s *Store) DeleteRosterEntry(ctx context.Context, entryID string) error {
	return s.deleteEntity(ctx, domain.CollectionPlayers, entryID, func(v View) View {
		delete(v.Players, entryID)
		return v
	})
}

// SaveJournalPage writes one journal page, stamping its update time. A
// missing id is generated.
func (s *Store) SaveJournalPage(ctx context.Context, page domain.JournalPage) (domain.JournalPage, error) {
	mux, _, err := s.engine()
	if err != nil {
		return domain.JournalPage{}, err
	}
	if page.ID == "" {
		generated, err := s.cfg.IDGenerator()
		if err != nil {
			return domain.JournalPage{}, errors.Wrap(errors.CodePersistence, "generate journal id", err)
		}
		page.ID = generated
	}
	page.UpdatedAt = s.cfg.Now().UTC().UnixMilli()

	fields, err := domain.EncodeJournalPage(page)
	if err != nil {
		return domain.JournalPage{}, errors.Wrap(errors.CodeProposalInvalid, "encode journal page", err)
	}
	if err := s.writeEntity(ctx, domain.CollectionJournal, page.ID, fields); err != nil {
		return domain.JournalPage{}, err
	}

	mux.Apply(func(v View) View {
		v.Journal[page.ID] = page
		return v
	})
	return page, nil
}

// DeleteJournalPage removes one journal page.
func (s *Store) DeleteJournalPage(ctx context.Context, pageID string) error {
	return s.deleteEntity(ctx, domain.CollectionJournal, pageID, func(v View) View {
		delete(v.Journal, pageID)
		return v
	})
}

// SendChat appends one chat entry to the session log. Whispers carry a
// target identity; the visibility class derives from the kind.
func (s *Store) SendChat(ctx context.Context, kind domain.ChatKind, targetID, body string, payload map[string]any) (domain.ChatEntry, error) {
	if !kind.Valid() {
		return domain.ChatEntry{}, errors.Newf(errors.CodeChatInvalidKind, "unknown chat kind %q", kind)
	}
	if !kind.Ephemeral() && strings.TrimSpace(body) == "" && payload == nil {
		return domain.ChatEntry{}, errors.New(errors.CodeChatEmptyBody, "chat body is required")
	}
	return s.appendChat(ctx, kind, targetID, body, payload)
}

// SendEphemeralEvent broadcasts a transient event (pointer ping, visual
// effect). It is appended to the chat collection but never folded into
// debounced root state.
func (s *Store) SendEphemeralEvent(ctx context.Context, kind domain.ChatKind, payload map[string]any) (domain.ChatEntry, error) {
	if !kind.Ephemeral() {
		return domain.ChatEntry{}, errors.Newf(errors.CodeChatInvalidKind, "chat kind %q is not ephemeral", kind)
	}
	return s.appendChat(ctx, kind, "", "", payload)
}

func (s *Store) appendChat(ctx context.Context, kind domain.ChatKind, targetID, body string, payload map[string]any) (domain.ChatEntry, error) {
	mux, _, err := s.engine()
	if err != nil {
		return domain.ChatEntry{}, err
	}

	entryID, err := s.cfg.IDGenerator()
	if err != nil {
		return domain.ChatEntry{}, errors.Wrap(errors.CodePersistence, "generate chat id", err)
	}
	entry := domain.ChatEntry{
		ID:         entryID,
		Kind:       kind,
		SenderID:   s.identity.UserID,
		SenderName: s.identity.Name,
		TargetID:   targetID,
		Body:       body,
		Payload:    payload,
		CreatedAt:  s.cfg.Now().UTC().UnixMilli(),
	}

	fields, err := domain.EncodeChatEntry(entry)
	if err != nil {
		return domain.ChatEntry{}, errors.Wrap(errors.CodeProposalInvalid, "encode chat entry", err)
	}
	if err := s.writeEntity(ctx, domain.CollectionChat, entry.ID, fields); err != nil {
		return domain.ChatEntry{}, err
	}

	mux.Apply(func(v View) View {
		v.Chat[entry.ID] = entry
		return v
	})
	return entry, nil
}

// Kick removes an identity from presence and assignments. The identity may
// rejoin. Requires the elevated role.
func (s *Store) Kick(ctx context.Context, userID string) error {
	return s.moderate(ctx, func(c domain.Campaign) (domain.Campaign, error) {
		return domain.Kick(c, userID), nil
	}, nil)
}

// Ban permanently denies an identity re-entry: removed from presence,
// assignments, and role membership, and added to bannedUsers in one write so
// no intermediate state is observable. Requires the elevated role.
func (s *Store) Ban(ctx context.Context, userID string) error {
	actorID := s.actorID()
	return s.moderate(ctx, func(c domain.Campaign) (domain.Campaign, error) {
		return domain.Ban(c, actorID, userID)
	}, func(c domain.Campaign) map[string]any {
		// The banned set grows through an atomic array union so concurrent
		// bans from two moderators compose instead of clobbering.
		return map[string]any{"bannedUsers": docstore.ArrayUnion(userID)}
	})
}

// Unban removes an identity from bannedUsers only; presence is not restored
// and the identity must join again. Requires the elevated role.
func (s *Store) Unban(ctx context.Context, userID string) error {
	return s.moderate(ctx, func(c domain.Campaign) (domain.Campaign, error) {
		return domain.Unban(c, userID), nil
	}, func(c domain.Campaign) map[string]any {
		return map[string]any{"bannedUsers": docstore.ArrayRemove(userID)}
	})
}

// SetElevated promotes or demotes an identity's role membership. Demoting
// the last remaining elevated identity is rejected. Requires the elevated
// role.
func (s *Store) SetElevated(ctx context.Context, userID string, elevated bool) error {
	return s.moderate(ctx, func(c domain.Campaign) (domain.Campaign, error) {
		return domain.SetElevated(c, userID, elevated)
	}, nil)
}

// IngestLore splits page-numbered chunks from a document-ingestion provider
// into volumes under the per-document size ceiling and persists them in one
// atomic batch.
func (s *Store) IngestLore(ctx context.Context, title string, chunks []lore.Chunk) ([]domain.LoreVolume, error) {
	mux, _, err := s.engine()
	if err != nil {
		return nil, err
	}

	volumes, err := lore.SplitVolumes(title, chunks, lore.DefaultVolumeBytes, s.cfg.IDGenerator)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	store, code := s.store, s.code
	s.mu.Unlock()
	if store == nil {
		return nil, errors.New(errors.CodeSessionNotJoined, "no session joined")
	}

	batch := store.Batch()
	for _, volume := range volumes {
		fields, err := domain.EncodeLoreVolume(volume)
		if err != nil {
			return nil, errors.Wrap(errors.CodeProposalInvalid, "encode lore volume", err)
		}
		sanitized, err := domain.Sanitize(fields)
		if err != nil {
			return nil, err
		}
		batch.Set(collectionPath(code, domain.CollectionLore)+"/"+volume.ID, sanitized)
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, errors.Wrap(errors.CodePersistence, "persist lore volumes", err)
	}

	mux.Apply(func(v View) View {
		for _, volume := range volumes {
			v.Lore[volume.ID] = volume
		}
		return v
	})
	return volumes, nil
}

// DeleteLoreVolume removes one reference-material volume.
func (s *Store) DeleteLoreVolume(ctx context.Context, volumeID string) error {
	return s.deleteEntity(ctx, domain.CollectionLore, volumeID, func(v View) View {
		delete(v.Lore, volumeID)
		return v
	})
}

// applyProposal folds a sanitized proposal into the local campaign before
// the store confirms it. Sibling-collection keys are ignored here; those
// entries arrive through their own listeners.
func (s *Store) applyProposal(fields map[string]any) {
	s.mu.Lock()
	mux := s.mux
	s.mu.Unlock()
	if mux == nil {
		return
	}

	rootFields := partitionRoot(fields)
	if len(rootFields) == 0 {
		return
	}

	mux.Apply(func(v View) View {
		current, err := domain.EncodeCampaign(v.Campaign)
		if err != nil {
			return v
		}
		merged, err := domain.DecodeCampaign(docstore.Merge(current, rootFields))
		if err != nil {
			return v
		}
		v.Campaign = merged
		return v
	})
}

// moderate runs one membership transition: authorization, synchronous local
// apply, then an immediate root write of the membership fields. An optional
// override swaps a plain field for an atomic array sentinel.
func (s *Store) moderate(ctx context.Context, transition func(domain.Campaign) (domain.Campaign, error), override func(domain.Campaign) map[string]any) error {
	mux, _, err := s.engine()
	if err != nil {
		return err
	}

	current := mux.View().Campaign
	if !current.IsElevated(s.actorID()) {
		return errors.New(errors.CodeMembershipNotElevated, "moderation requires the elevated role")
	}

	next, err := transition(current)
	if err != nil {
		return err
	}

	fields, err := domain.EncodeCampaign(next)
	if err != nil {
		return errors.Wrap(errors.CodeProposalInvalid, "encode membership state", err)
	}
	write := map[string]any{
		"dmIds":       fields["dmIds"],
		"activeUsers": fields["activeUsers"],
		"bannedUsers": fields["bannedUsers"],
		"assignments": fields["assignments"],
	}
	if override != nil {
		for k, v := range override(next) {
			write[k] = v
		}
	}

	mux.Apply(func(v View) View {
		v.Campaign = next
		return v
	})

	s.mu.Lock()
	store, code := s.store, s.code
	s.mu.Unlock()
	if store == nil {
		return errors.New(errors.CodeSessionNotJoined, "no session joined")
	}
	if err := store.Doc(rootPath(code)).Update(ctx, write); err != nil {
		return errors.Wrap(errors.CodePersistence, "persist membership state", err)
	}
	return nil
}

func (s *Store) writeEntity(ctx context.Context, collection, entryID string, fields map[string]any) error {
	sanitized, err := domain.Sanitize(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	store, code := s.store, s.code
	s.mu.Unlock()
	if store == nil {
		return errors.New(errors.CodeSessionNotJoined, "no session joined")
	}

	if err := store.Doc(collectionPath(code, collection) + "/" + entryID).Set(ctx, sanitized); err != nil {
		return errors.Wrap(errors.CodePersistence, "persist "+collection+" entry", err)
	}
	return nil
}

func (s *Store) deleteEntity(ctx context.Context, collection, entryID string, fold func(View) View) error {
	mux, _, err := s.engine()
	if err != nil {
		return err
	}

	s.mu.Lock()
	store, code := s.store, s.code
	s.mu.Unlock()
	if store == nil {
		return errors.New(errors.CodeSessionNotJoined, "no session joined")
	}

	if err := store.Doc(collectionPath(code, collection) + "/" + entryID).Delete(ctx); err != nil {
		return errors.Wrap(errors.CodePersistence, "delete "+collection+" entry", err)
	}
	mux.Apply(fold)
	return nil
}

func (s *Store) engine() (*multiplexer, *coordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.banished {
		return nil, nil, errors.New(errors.CodeSessionBanished, "banished from session")
	}
	if s.mux == nil {
		return nil, nil, errors.New(errors.CodeSessionNotJoined, "no session joined")
	}
	return s.mux, s.coord, nil
}

func (s *Store) actorID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.UserID
}

func (s *Store) handleBanished() {
	s.mu.Lock()
	s.banished = true
	s.mu.Unlock()
	if s.cfg.OnBanished != nil {
		s.cfg.OnBanished()
	}
}
