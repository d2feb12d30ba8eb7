package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/tablesync/internal/errors"
	"github.com/louisbranch/tablesync/internal/platform/id"
)

// MapAction is a discrete mutation of the map sub-state.
type MapAction string

const (
	// MapActionSetImage switches the active map to the given image url.
	MapActionSetImage MapAction = "set_image"
	// MapActionLoadMap re-activates a saved library entry.
	MapActionLoadMap MapAction = "load_map"
	// MapActionStartPath begins a new fog reveal path.
	MapActionStartPath MapAction = "start_path"
	// MapActionAppendPoint extends the latest reveal path.
	MapActionAppendPoint MapAction = "append_point"
	// MapActionUpdateView replaces the view transform.
	MapActionUpdateView MapAction = "update_view"
	// MapActionClearFog empties the reveal path list.
	MapActionClearFog MapAction = "clear_fog"
	// MapActionMoveToken repositions a token.
	MapActionMoveToken MapAction = "move_token"
	// MapActionUpdateToken merges partial fields into a token.
	MapActionUpdateToken MapAction = "update_token"
	// MapActionDeleteToken removes a token.
	MapActionDeleteToken MapAction = "delete_token"
	// MapActionAddToken appends a new token.
	MapActionAddToken MapAction = "add_token"
	// MapActionRenameMap renames a library entry.
	MapActionRenameMap MapAction = "rename_map"
	// MapActionDeleteMap removes a library entry.
	MapActionDeleteMap MapAction = "delete_map"
)

// Immediate reports whether the action's proposal bypasses the debounce
// window. Token drags produce rapid successive proposals that each supersede
// the last, and library mutations commit directly.
func (a MapAction) Immediate() bool {
	switch a {
	case MapActionMoveToken, MapActionUpdateToken, MapActionDeleteToken,
		MapActionAddToken, MapActionRenameMap, MapActionDeleteMap,
		MapActionSetImage, MapActionLoadMap:
		return true
	}
	return false
}

// MapPayload carries the per-action inputs of a map action. Only the fields
// the action consumes are read.
type MapPayload struct {
	ImageURL    string
	EntryID     string
	Path        *RevealPath
	Point       *Point
	View        *MapView
	TokenID     any
	TokenFields map[string]any
	Token       *Token
	Name        string
}

// ReduceMap translates one map action into the next map sub-state and saved
// map library. Inputs are never mutated. The clock and id generator are
// injected so reductions stay deterministic under test.
func ReduceMap(active MapState, library []SavedMap, action MapAction, payload MapPayload, now func() time.Time, idGenerator func() (string, error)) (MapState, []SavedMap, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	switch action {
	case MapActionSetImage:
		url := strings.TrimSpace(payload.ImageURL)
		if url == "" {
			return active, library, errors.New(errors.CodeMapEmptyImageURL, "image url is required")
		}
		next, err := commitActive(active, library, now, idGenerator)
		if err != nil {
			return active, library, err
		}
		if idx := findByURL(next, url); idx >= 0 {
			next[idx].LastActive = now().UTC().UnixMilli()
			return next[idx].MapState.Clone(), next, nil
		}
		return NewMapState(url), next, nil

	case MapActionLoadMap:
		next, err := commitActive(active, library, now, idGenerator)
		if err != nil {
			return active, library, err
		}
		// Re-read the freshest copy of the entry from the library, not the
		// possibly-stale payload.
		idx := findByID(next, payload.EntryID)
		if idx < 0 {
			return active, library, errors.Newf(errors.CodeMapEntryNotFound, "saved map %q not found", payload.EntryID)
		}
		next[idx].LastActive = now().UTC().UnixMilli()
		return next[idx].MapState.Clone(), next, nil

	case MapActionStartPath:
		if payload.Path == nil {
			return active, library, errors.New(errors.CodeMapInvalidPayload, "start_path requires a path")
		}
		out := active.Clone()
		out.RevealPaths = append(out.RevealPaths, RevealPath{Points: append([]Point{}, payload.Path.Points...)})
		return out, library, nil

	case MapActionAppendPoint:
		if payload.Point == nil {
			return active, library, errors.New(errors.CodeMapInvalidPayload, "append_point requires a point")
		}
		if len(active.RevealPaths) == 0 {
			return active, library, nil
		}
		out := active.Clone()
		last := len(out.RevealPaths) - 1
		out.RevealPaths[last].Points = append(out.RevealPaths[last].Points, *payload.Point)
		return out, library, nil

	case MapActionUpdateView:
		if payload.View == nil {
			return active, library, errors.New(errors.CodeMapInvalidPayload, "update_view requires a view")
		}
		out := active.Clone()
		view := *payload.View
		out.View = &view
		return out, library, nil

	case MapActionClearFog:
		out := active.Clone()
		out.RevealPaths = []RevealPath{}
		return out, library, nil

	case MapActionMoveToken, MapActionUpdateToken:
		out := active.Clone()
		idx := findToken(out.Tokens, payload.TokenID)
		if idx < 0 {
			return active, library, nil
		}
		merged, err := mergeToken(out.Tokens[idx], payload.TokenFields)
		if err != nil {
			return active, library, err
		}
		out.Tokens[idx] = merged
		return out, library, nil

	case MapActionDeleteToken:
		out := active.Clone()
		idx := findToken(out.Tokens, payload.TokenID)
		if idx < 0 {
			return active, library, nil
		}
		out.Tokens = append(out.Tokens[:idx], out.Tokens[idx+1:]...)
		return out, library, nil

	case MapActionAddToken:
		if payload.Token == nil {
			return active, library, errors.New(errors.CodeMapInvalidPayload, "add_token requires a token")
		}
		out := active.Clone()
		token := *payload.Token
		if strings.TrimSpace(token.ID) == "" {
			generated, err := idGenerator()
			if err != nil {
				return active, library, fmt.Errorf("generate token id: %w", err)
			}
			token.ID = generated
		}
		out.Tokens = append(out.Tokens, token)
		return out, library, nil

	case MapActionRenameMap:
		next := cloneLibrary(library)
		idx := findByID(next, payload.EntryID)
		if idx < 0 {
			return active, library, errors.Newf(errors.CodeMapEntryNotFound, "saved map %q not found", payload.EntryID)
		}
		next[idx].Name = payload.Name
		return active, next, nil

	case MapActionDeleteMap:
		next := cloneLibrary(library)
		idx := findByID(next, payload.EntryID)
		if idx < 0 {
			return active, library, errors.Newf(errors.CodeMapEntryNotFound, "saved map %q not found", payload.EntryID)
		}
		next = append(next[:idx], next[idx+1:]...)
		return active, next, nil

	default:
		return active, library, errors.Newf(errors.CodeMapUnknownAction, "unknown map action %q", action)
	}
}

// commitActive folds the current active map into the library: updating the
// entry matching its url, or inserting a new entry with a library-unique id,
// stamping lastActive either way. Maps with no image yet are not committed.
func commitActive(active MapState, library []SavedMap, now func() time.Time, idGenerator func() (string, error)) ([]SavedMap, error) {
	next := cloneLibrary(library)
	if strings.TrimSpace(active.ImageURL) == "" {
		return next, nil
	}

	stamp := now().UTC().UnixMilli()
	if idx := findByURL(next, active.ImageURL); idx >= 0 {
		next[idx].MapState = active.Clone()
		next[idx].LastActive = stamp
		return next, nil
	}

	entryID, err := idGenerator()
	if err != nil {
		return nil, fmt.Errorf("generate saved map id: %w", err)
	}
	next = append(next, SavedMap{
		ID:         entryID,
		MapState:   active.Clone(),
		LastActive: stamp,
	})
	return next, nil
}

func findByURL(library []SavedMap, url string) int {
	for i, entry := range library {
		if entry.ImageURL == url {
			return i
		}
	}
	return -1
}

func findByID(library []SavedMap, entryID string) int {
	for i, entry := range library {
		if entry.ID == entryID {
			return i
		}
	}
	return -1
}

// findToken matches token ids compared as strings, tolerating mixed
// numeric/string ids in payloads.
func findToken(tokens []Token, tokenID any) int {
	want := tokenIDString(tokenID)
	if want == "" {
		return -1
	}
	for i, token := range tokens {
		if token.ID == want {
			return i
		}
	}
	return -1
}

func tokenIDString(tokenID any) string {
	switch v := tokenID.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// mergeToken replaces the token with a merged copy carrying the partial
// fields from the payload.
func mergeToken(token Token, fields map[string]any) (Token, error) {
	if len(fields) == 0 {
		return token, nil
	}
	current, err := toFields(token)
	if err != nil {
		return Token{}, err
	}
	merged := make(map[string]any, len(current)+len(fields))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range fields {
		if k == "id" {
			continue
		}
		merged[k] = v
	}
	var out Token
	if err := fromFields(merged, &out); err != nil {
		return Token{}, errors.Wrap(errors.CodeMapInvalidPayload, "merge token fields", err)
	}
	return out, nil
}
