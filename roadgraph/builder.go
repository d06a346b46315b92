package roadgraph

import "math"

// Build turns a batch of labelled points into road edges.
//
// Points are grouped by canonical label and only connected inside their
// group. Each point links to its nearest neighbor within
// ConnectThresholdMeters and, as a branch, to the nearest remaining neighbor
// whose bearing differs from the first link by at least MinAngleDegrees.
// An edge is emitted once per endpoint pair, and is suppressed when its
// dedup key is already in keys or was emitted earlier in the same call.
//
// keys is not modified; the returned Result.Keys holds keys plus every new
// key. A nil normalize selects CanonicalLabel. Points with NaN coordinates
// are ignored.
func Build(points []RoadPoint, keys KeySet, cfg Config, normalize Normalizer) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if normalize == nil {
		normalize = CanonicalLabel
	}

	b := &builder{
		cfg:   cfg,
		keys:  keys.Clone(),
		pairs: make(map[[2]int]struct{}),
	}

	groups, labels := groupByLabel(points, normalize)
	for _, label := range labels {
		b.buildGroup(label, groups[label])
	}

	return Result{Edges: b.edges, Keys: b.keys, Suppressed: b.suppressed}, nil
}

type builder struct {
	cfg        Config
	keys       KeySet
	pairs      map[[2]int]struct{}
	edges      []GraphEdge
	suppressed int
}

func (b *builder) buildGroup(label string, group []RoadPoint) {
	if len(group) < 2 {
		return
	}

	idx := newPointIndex(group)
	for i := range group {
		cands := idx.neighbors(i, b.cfg.ConnectThresholdMeters)
		if len(cands) == 0 {
			continue
		}

		primary := cands[0]
		b.addEdge(label, group[i], group[primary.pos], primary.distance)

		for _, c := range cands[1:] {
			if AngleSeparation(primary.bearing, c.bearing) >= b.cfg.MinAngleDegrees {
				b.addEdge(label, group[i], group[c.pos], c.distance)
				break
			}
		}
	}
}

// addEdge records p-q unless the pair or its dedup key was already seen
func (b *builder) addEdge(label string, p, q RoadPoint, lengthM float64) {
	if q.Index < p.Index {
		p, q = q, p
	}

	pair := [2]int{p.Index, q.Index}
	if _, seen := b.pairs[pair]; seen {
		return
	}
	b.pairs[pair] = struct{}{}

	key := dedupKey(p.Point(), q.Point(), label, b.cfg)
	if !b.keys.Add(key) {
		b.suppressed++
		return
	}

	b.edges = append(b.edges, GraphEdge{
		A:          p.Index,
		B:          q.Index,
		Label:      label,
		Confidence: (p.Confidence + q.Confidence) / 2,
		Key:        key,
		From:       p.Point(),
		To:         q.Point(),
		LengthM:    lengthM,
	})
}

// groupByLabel buckets valid points by canonical label. Labels are returned
// in legend order, with labels unknown to the legend sorted after.
func groupByLabel(points []RoadPoint, normalize Normalizer) (map[string][]RoadPoint, []string) {
	groups := make(map[string][]RoadPoint)
	for _, p := range points {
		if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
			continue
		}
		label := normalize(p.Label)
		groups[label] = append(groups[label], p)
	}

	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sortLabels(labels)
	return groups, labels
}
