// Package ws is the websocket gateway: clients mint an identity token over
// HTTP, join a session over a socket, send operations as JSON commands, and
// receive the merged view on every change.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/louisbranch/tablesync/internal/auth"
	"github.com/louisbranch/tablesync/internal/campaign/domain"
	"github.com/louisbranch/tablesync/internal/docstore"
	"github.com/louisbranch/tablesync/internal/errors"
	"github.com/louisbranch/tablesync/internal/lore"
	"github.com/louisbranch/tablesync/internal/platform/requestctx"
	"github.com/louisbranch/tablesync/internal/platform/timeouts"
	"github.com/louisbranch/tablesync/internal/session"
	"github.com/louisbranch/tablesync/internal/telemetry"
)

// viewBuffer bounds the per-connection outbound view queue. A slow reader
// gets the freshest view, not every intermediate one.
const viewBuffer = 8

// Config wires the gateway's collaborators.
type Config struct {
	Store          docstore.Store
	Fallback       docstore.Store
	Issuer         *auth.Issuer
	Telemetry      *telemetry.Emitter
	DebounceWindow time.Duration
}

// Gateway mounts the token and session routes.
type Gateway struct {
	cfg      Config
	upgrader websocket.Upgrader
}

// New builds a gateway.
func New(cfg Config) *Gateway {
	return &Gateway{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Routes registers the gateway on a router.
func (g *Gateway) Routes(r *mux.Router) {
	r.HandleFunc("/v1/tokens", g.handleMintToken).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/{code}/ws", g.handleSession).Methods(http.MethodGet)
}

type mintRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type mintResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

func (g *Gateway) handleMintToken(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errors.CodeSessionInvalidToken, "decode token request", err))
		return
	}

	token, userID, err := g.cfg.Issuer.Mint(req.UserID, req.DisplayName)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(mintResponse{Token: token, UserID: userID}); err != nil {
		log.Printf("encode token response: %v", err)
	}
}

// command is the JSON envelope clients send over the socket.
type command struct {
	Op string `json:"op"`

	// propose
	State     map[string]any `json:"state,omitempty"`
	Immediate bool           `json:"immediate,omitempty"`

	// map_action
	Action  domain.MapAction  `json:"action,omitempty"`
	Payload domain.MapPayload `json:"payload,omitempty"`

	// entity writes
	Roster  *domain.RosterEntry `json:"roster,omitempty"`
	Journal *domain.JournalPage `json:"journal,omitempty"`
	EntryID string              `json:"entryId,omitempty"`

	// chat / ephemeral
	Kind      domain.ChatKind `json:"kind,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	Body      string          `json:"body,omitempty"`
	ChatExtra map[string]any  `json:"chatPayload,omitempty"`

	// moderation
	UserID   string `json:"userId,omitempty"`
	Elevated bool   `json:"elevated,omitempty"`

	// lore
	Title  string       `json:"title,omitempty"`
	Chunks []lore.Chunk `json:"chunks,omitempty"`
}

type frame struct {
	Type    string        `json:"type"`
	View    *session.View `json:"view,omitempty"`
	Op      string        `json:"op,omitempty"`
	Code    errors.Code   `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}

func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	claims, err := g.cfg.Issuer.Verify(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err)
		return
	}
	code := mux.Vars(r)["code"]
	host, _ := strconv.ParseBool(r.URL.Query().Get("host"))
	offline, _ := strconv.ParseBool(r.URL.Query().Get("offline"))

	ctx := requestctx.WithUser(r.Context(), requestctx.User{ID: claims.Subject, Name: claims.DisplayName})

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade session socket: %v", err)
		return
	}

	views := make(chan session.View, viewBuffer)
	banished := make(chan struct{}, 1)

	store := session.New(session.Config{
		Store:          g.cfg.Store,
		Fallback:       g.cfg.Fallback,
		DebounceWindow: g.cfg.DebounceWindow,
		OnView: func(v session.View) {
			// Drop the oldest queued view rather than block the engine.
			for {
				select {
				case views <- v:
					return
				default:
					select {
					case <-views:
					default:
					}
				}
			}
		},
		OnBanished: func() {
			select {
			case banished <- struct{}{}:
			default:
			}
		},
	})

	joinErr := store.Join(ctx, session.JoinInput{
		Code:     code,
		Identity: session.Identity{UserID: claims.Subject, Name: claims.DisplayName},
		Host:     host,
		Offline:  offline,
		Genesis:  domain.Genesis{Name: r.URL.Query().Get("name")},
	})
	if joinErr != nil {
		writeFrame(conn, frame{Type: "error", Code: errors.GetCode(joinErr), Message: joinErr.Error()})
		conn.Close()
		return
	}
	g.emit(ctx, "session.join", map[string]string{"code": code})

	done := make(chan struct{})
	go g.writePump(conn, views, banished, done)
	g.readPump(ctx, conn, store)

	close(done)
	if err := store.Leave(context.Background()); err != nil {
		log.Printf("leave session %s: %v", code, err)
	}
	conn.Close()
}

// readPump decodes commands until the client disconnects.
func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, store *session.Store) {
	conn.SetReadDeadline(time.Now().Add(timeouts.SocketPong))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeouts.SocketPong))
	})

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.Op == "leave" {
			return
		}
		if err := g.dispatch(ctx, store, cmd); err != nil {
			writeFrame(conn, frame{Type: "error", Op: cmd.Op, Code: errors.GetCode(err), Message: err.Error()})
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, store *session.Store, cmd command) error {
	switch cmd.Op {
	case "propose":
		return store.Propose(ctx, cmd.State, cmd.Immediate)
	case "map_action":
		return store.DispatchMapAction(ctx, cmd.Action, cmd.Payload)
	case "save_roster":
		if cmd.Roster == nil {
			return errors.New(errors.CodeProposalInvalid, "roster entry is required")
		}
		_, err := store.SaveRosterEntry(ctx, *cmd.Roster)
		return err
	case "delete_roster":
		return store.DeleteRosterEntry(ctx, cmd.EntryID)
	case "save_journal":
		if cmd.Journal == nil {
			return errors.New(errors.CodeProposalInvalid, "journal page is required")
		}
		_, err := store.SaveJournalPage(ctx, *cmd.Journal)
		return err
	case "delete_journal":
		return store.DeleteJournalPage(ctx, cmd.EntryID)
	case "chat":
		_, err := store.SendChat(ctx, cmd.Kind, cmd.TargetID, cmd.Body, cmd.ChatExtra)
		return err
	case "ephemeral":
		_, err := store.SendEphemeralEvent(ctx, cmd.Kind, cmd.ChatExtra)
		return err
	case "kick":
		return store.Kick(ctx, cmd.UserID)
	case "ban":
		err := store.Ban(ctx, cmd.UserID)
		if err == nil {
			g.emit(ctx, "session.ban", map[string]string{"user": cmd.UserID})
		}
		return err
	case "unban":
		return store.Unban(ctx, cmd.UserID)
	case "set_elevated":
		return store.SetElevated(ctx, cmd.UserID, cmd.Elevated)
	case "ingest_lore":
		_, err := store.IngestLore(ctx, cmd.Title, cmd.Chunks)
		return err
	case "delete_lore":
		return store.DeleteLoreVolume(ctx, cmd.EntryID)
	default:
		return errors.Newf(errors.CodeProposalInvalid, "unknown op %q", cmd.Op)
	}
}

// writePump serializes views and pings until the connection ends. Banishment
// sends a terminal frame and closes the socket.
func (g *Gateway) writePump(conn *websocket.Conn, views chan session.View, banished <-chan struct{}, done <-chan struct{}) {
	pings := time.NewTicker(timeouts.SocketPong * 8 / 10)
	defer pings.Stop()

	for {
		select {
		case view := <-views:
			if !writeFrame(conn, frame{Type: "view", View: &view}) {
				return
			}
		case <-banished:
			writeFrame(conn, frame{Type: "banished", Code: errors.CodeSessionBanished})
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "banished"),
				time.Now().Add(timeouts.SocketWrite))
			conn.Close()
			return
		case <-pings.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeouts.SocketWrite)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, f frame) bool {
	conn.SetWriteDeadline(time.Now().Add(timeouts.SocketWrite))
	if err := conn.WriteJSON(f); err != nil {
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatus(err))
	payload := map[string]any{"code": errors.GetCode(err), "message": err.Error()}
	if encodeErr := json.NewEncoder(w).Encode(payload); encodeErr != nil {
		log.Printf("encode error response: %v", encodeErr)
	}
}

// emit records one operational event, attributed to the authenticated
// identity carried by the request context.
func (g *Gateway) emit(ctx context.Context, name string, attrs map[string]string) {
	stamped := make(map[string]string, len(attrs)+2)
	for k, v := range attrs {
		stamped[k] = v
	}
	if user, ok := requestctx.UserFromContext(ctx); ok {
		stamped["actorId"] = user.ID
		if user.Name != "" {
			stamped["actorName"] = user.Name
		}
	}
	if err := g.cfg.Telemetry.Emit(ctx, telemetry.Event{Name: name, Attrs: stamped}); err != nil {
		log.Printf("emit %s: %v", name, err)
	}
}
