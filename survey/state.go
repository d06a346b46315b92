package survey

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kwv/roadmesh/pose"
	"github.com/kwv/roadmesh/roadgraph"
)

// ErrUnknownSource is returned for samples or captures of an unregistered device
var ErrUnknownSource = errors.New("unknown source")

// Tracker owns the per-device pose stores and the road graph state shared
// by the MQTT handlers, the rebuild ticker and the HTTP endpoints
type Tracker struct {
	mu        sync.RWMutex
	stores    map[string]*pose.Store
	graph     GraphConfig
	normalize roadgraph.Normalizer
	keys      roadgraph.KeySet
	edges     []roadgraph.GraphEdge
	points    []roadgraph.RoadPoint
	lastBuilt time.Time
	now       func() time.Time
}

// NewTracker creates a tracker with no sources. A nil normalize uses
// roadgraph.CanonicalLabel.
func NewTracker(graph GraphConfig, normalize roadgraph.Normalizer) *Tracker {
	return &Tracker{
		stores:    make(map[string]*pose.Store),
		graph:     graph,
		normalize: normalize,
		keys:      roadgraph.NewKeySet(),
		now:       time.Now,
	}
}

// NewTrackerFromConfig creates a tracker with one store per configured source
func NewTrackerFromConfig(cfg *Config) *Tracker {
	t := NewTracker(cfg.Graph, nil)
	for _, src := range cfg.Sources {
		t.Register(src.ID, pose.NewStore(cfg.Pose.Capacity))
	}
	return t
}

// Register attaches a store to a source, replacing any previous one
func (t *Tracker) Register(sourceID string, store *pose.Store) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stores[sourceID] = store
}

// Store returns the pose store of a source
func (t *Tracker) Store(sourceID string) (*pose.Store, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.stores[sourceID]
	return s, ok
}

// Sources returns the registered source IDs, sorted
func (t *Tracker) Sources() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.stores))
	for id := range t.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddPosition records a GNSS fix for a source
func (t *Tracker) AddPosition(sourceID string, s pose.PositionSample) error {
	store, ok := t.Store(sourceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	store.AddPosition(s)
	return nil
}

// AddOrientation records an attitude sample for a source
func (t *Tracker) AddOrientation(sourceID string, s pose.OrientationSample) error {
	store, ok := t.Store(sourceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	store.AddOrientation(s)
	return nil
}

// ResolveCapture assigns a fused pose to a capture at its own capture
// instant. Errors from pose.Store.Resolve are returned unwrapped.
func (t *Tracker) ResolveCapture(sourceID string, c Capture, toleranceNs int64) (CaptureRecord, error) {
	store, ok := t.Store(sourceID)
	if !ok {
		return CaptureRecord{}, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}

	fp, err := store.Resolve(c.CaptureNs, toleranceNs)
	if err != nil {
		return CaptureRecord{}, err
	}

	id := c.ID
	if id == "" {
		id = uuid.New().String()
	}
	return CaptureRecord{
		ID:         id,
		SourceID:   sourceID,
		Label:      c.Label,
		Confidence: c.Confidence,
		ImageRef:   c.ImageRef,
		Pose:       fp,
		CreatedAt:  t.now().UTC(),
	}, nil
}

// Rebuild runs the graph builder over points. With persistKeys the key set
// carries over between calls and the published edge set accumulates;
// otherwise each call starts from scratch.
func (t *Tracker) Rebuild(points []roadgraph.RoadPoint) (roadgraph.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := roadgraph.NewKeySet()
	if t.graph.PersistKeys {
		keys = t.keys
	}

	res, err := roadgraph.Build(points, keys, t.graph.Config, t.normalize)
	if err != nil {
		return roadgraph.Result{}, err
	}

	if t.graph.PersistKeys {
		t.keys = res.Keys
		t.edges = mergeEdges(t.edges, res.Edges)
	} else {
		t.keys = res.Keys
		t.edges = res.Edges
	}
	t.points = append([]roadgraph.RoadPoint(nil), points...)
	t.lastBuilt = t.now()

	return res, nil
}

// mergeEdges appends next to prev, skipping any edge whose key is already
// present
func mergeEdges(prev, next []roadgraph.GraphEdge) []roadgraph.GraphEdge {
	seen := make(map[roadgraph.DedupKey]bool, len(prev)+len(next))
	out := make([]roadgraph.GraphEdge, 0, len(prev)+len(next))
	for _, set := range [][]roadgraph.GraphEdge{prev, next} {
		for _, e := range set {
			if seen[e.Key] {
				continue
			}
			seen[e.Key] = true
			out = append(out, e)
		}
	}
	return out
}

// Edges returns a copy of the current edge set
func (t *Tracker) Edges() []roadgraph.GraphEdge {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]roadgraph.GraphEdge(nil), t.edges...)
}

// Points returns a copy of the points of the last rebuild
func (t *Tracker) Points() []roadgraph.RoadPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]roadgraph.RoadPoint(nil), t.points...)
}

// Keys returns a copy of the persistent dedup key set
func (t *Tracker) Keys() roadgraph.KeySet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keys.Clone()
}

// LastBuilt returns when Rebuild last succeeded; zero if never
func (t *Tracker) LastBuilt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastBuilt
}

// Normalizer returns the label normaliser used for builds
func (t *Tracker) Normalizer() roadgraph.Normalizer {
	return t.normalize
}

// keysCache is the on-disk form of the dedup key set and the edges it
// suppresses
type keysCache struct {
	Keys      roadgraph.KeySet      `json:"keys"`
	Edges     []roadgraph.GraphEdge `json:"edges"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// SaveKeys writes the key set and accumulated edges to path as JSON
func (t *Tracker) SaveKeys(path string) error {
	t.mu.RLock()
	cache := keysCache{
		Keys:      t.keys.Clone(),
		Edges:     append([]roadgraph.GraphEdge(nil), t.edges...),
		UpdatedAt: t.lastBuilt,
	}
	t.mu.RUnlock()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keys cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write keys cache: %w", err)
	}
	return nil
}

// LoadKeys restores a cache written by SaveKeys. A missing file is not an
// error.
func (t *Tracker) LoadKeys(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read keys cache: %w", err)
	}

	var cache keysCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return fmt.Errorf("unmarshal keys cache: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys = cache.Keys
	t.edges = cache.Edges
	t.lastBuilt = cache.UpdatedAt
	return nil
}
