package roadgraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DedupKey identifies a short stretch of road: the grid cell of an edge's
// midpoint, its axis bearing bin and its canonical label
type DedupKey struct {
	Label      string `json:"label"`
	BearingBin int    `json:"bearingBin"`
	CellX      int64  `json:"cellX"`
	CellY      int64  `json:"cellY"`
}

// String renders the key as label|bin|gx|gy
func (k DedupKey) String() string {
	return fmt.Sprintf("%s|%d|%d|%d", k.Label, k.BearingBin, k.CellX, k.CellY)
}

// ParseDedupKey parses the String form of a key
func ParseDedupKey(s string) (DedupKey, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return DedupKey{}, fmt.Errorf("invalid dedup key %q: want 4 fields, got %d", s, len(parts))
	}
	bin, err := strconv.Atoi(parts[1])
	if err != nil {
		return DedupKey{}, fmt.Errorf("invalid dedup key %q: bearing bin: %w", s, err)
	}
	gx, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return DedupKey{}, fmt.Errorf("invalid dedup key %q: cell x: %w", s, err)
	}
	gy, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return DedupKey{}, fmt.Errorf("invalid dedup key %q: cell y: %w", s, err)
	}
	return DedupKey{Label: parts[0], BearingBin: bin, CellX: gx, CellY: gy}, nil
}

// KeySet is the set of dedup keys already emitted. The zero value is an
// empty set ready for reads; use NewKeySet or Clone before adding.
type KeySet struct {
	keys map[DedupKey]struct{}
}

// NewKeySet returns a set holding keys
func NewKeySet(keys ...DedupKey) KeySet {
	ks := KeySet{keys: make(map[DedupKey]struct{}, len(keys))}
	for _, k := range keys {
		ks.keys[k] = struct{}{}
	}
	return ks
}

// Has reports whether k is in the set
func (ks KeySet) Has(k DedupKey) bool {
	_, ok := ks.keys[k]
	return ok
}

// Add inserts k and reports whether it was new
func (ks *KeySet) Add(k DedupKey) bool {
	if ks.keys == nil {
		ks.keys = make(map[DedupKey]struct{})
	}
	if _, ok := ks.keys[k]; ok {
		return false
	}
	ks.keys[k] = struct{}{}
	return true
}

// Len returns the number of keys
func (ks KeySet) Len() int {
	return len(ks.keys)
}

// Clone returns an independent copy
func (ks KeySet) Clone() KeySet {
	out := KeySet{keys: make(map[DedupKey]struct{}, len(ks.keys))}
	for k := range ks.keys {
		out.keys[k] = struct{}{}
	}
	return out
}

// Keys returns the keys sorted by their string form
func (ks KeySet) Keys() []DedupKey {
	out := make([]DedupKey, 0, len(ks.keys))
	for k := range ks.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// MarshalJSON encodes the set as a sorted array of key strings
func (ks KeySet) MarshalJSON() ([]byte, error) {
	keys := ks.Keys()
	strs := make([]string, len(keys))
	for i, k := range keys {
		strs[i] = k.String()
	}
	return json.Marshal(strs)
}

// UnmarshalJSON decodes an array of key strings
func (ks *KeySet) UnmarshalJSON(data []byte) error {
	var strs []string
	if err := json.Unmarshal(data, &strs); err != nil {
		return err
	}
	keys := make([]DedupKey, 0, len(strs))
	for _, s := range strs {
		k, err := ParseDedupKey(s)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	*ks = NewKeySet(keys...)
	return nil
}
