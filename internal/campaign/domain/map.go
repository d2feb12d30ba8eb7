package domain

// DefaultGridSize is the grid cell size for a freshly created map.
const DefaultGridSize = 50

// Point is one coordinate in a fog-of-war reveal path.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RevealPath is an ordered fog-clearing stroke on the active map.
type RevealPath struct {
	Points []Point `json:"points"`
}

// Token is a placeable marker on the map.
type Token struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Size     float64 `json:"size"`
	Color    string  `json:"color,omitempty"`
	ImageURL string  `json:"imageUrl,omitempty"`
	OwnerID  string  `json:"ownerId,omitempty"`
}

// MapView is the zoom/pan transform of the map viewport.
type MapView struct {
	Zoom float64 `json:"zoom"`
	PanX float64 `json:"panX"`
	PanY float64 `json:"panY"`
}

// DefaultMapView returns the identity view transform.
func DefaultMapView() *MapView {
	return &MapView{Zoom: 1}
}

// MapState is the currently displayed map.
type MapState struct {
	ImageURL    string       `json:"imageUrl"`
	RevealPaths []RevealPath `json:"revealPaths"`
	Tokens      []Token      `json:"tokens"`
	Lighting    string       `json:"lighting"`
	GridSize    float64      `json:"gridSize"`
	View        *MapView     `json:"view"`
}

// NewMapState returns a fresh map for the given image with empty fog and
// tokens, default grid size, and the default view.
func NewMapState(imageURL string) MapState {
	return MapState{
		ImageURL:    imageURL,
		RevealPaths: []RevealPath{},
		Tokens:      []Token{},
		GridSize:    DefaultGridSize,
		View:        DefaultMapView(),
	}
}

// Clone returns a deep copy of the map state.
func (m MapState) Clone() MapState {
	out := m
	out.RevealPaths = make([]RevealPath, len(m.RevealPaths))
	for i, path := range m.RevealPaths {
		out.RevealPaths[i] = RevealPath{Points: append([]Point{}, path.Points...)}
	}
	out.Tokens = append([]Token{}, m.Tokens...)
	if m.View != nil {
		view := *m.View
		out.View = &view
	}
	return out
}

// SavedMap is a library entry holding its own independent map snapshot.
// Entries are keyed by image url: two entries with different urls are always
// distinct even if visually identical.
type SavedMap struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	MapState
	LastActive int64 `json:"lastActive"`
}

func cloneLibrary(library []SavedMap) []SavedMap {
	out := make([]SavedMap, len(library))
	for i, entry := range library {
		out[i] = entry
		out[i].MapState = entry.MapState.Clone()
	}
	return out
}
