package pose

import (
	"sync"
)

// DefaultCapacity is the per-buffer capacity used when NewStore is given a
// non-positive value
const DefaultCapacity = 4096

// Store is a bounded, thread-safe temporal index of position and orientation
// samples keyed by the capture clock. Each buffer keeps the most recent
// Capacity samples in insertion order; older samples are silently evicted.
//
// All lookups are linear scans over the retained samples, so out-of-order
// inserts never break nearest-sample queries.
type Store struct {
	mu           sync.Mutex
	capacity     int
	positions    *ring[PositionSample]
	orientations *ring[OrientationSample]
}

// NewStore creates an empty store holding up to capacity samples per buffer
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity:     capacity,
		positions:    newRing[PositionSample](capacity),
		orientations: newRing[OrientationSample](capacity),
	}
}

// Capacity returns the per-buffer capacity
func (s *Store) Capacity() int {
	return s.capacity
}

// AddPosition appends a position fix, evicting the oldest one when full
func (s *Store) AddPosition(p PositionSample) {
	if p.Height != nil {
		p.Height = Float64(*p.Height)
	}
	if p.AccuracyM != nil {
		p.AccuracyM = Float64(*p.AccuracyM)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions.push(p)
}

// AddOrientation appends an attitude sample, evicting the oldest one when
// full. The quaternion is renormalized; a zero quaternion is kept as-is.
func (s *Store) AddOrientation(o OrientationSample) {
	o.Q = o.Q.Normalized()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orientations.push(o)
}

// Len returns the number of retained position and orientation samples
func (s *Store) Len() (positions, orientations int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions.len(), s.orientations.len()
}

// Snapshot returns copies of the retained samples, oldest first. Both
// buffers are read under one lock.
func (s *Store) Snapshot() (positions []PositionSample, orientations []OrientationSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions.slice(), s.orientations.slice()
}

// NearestPosition returns the sample closest in time to t.
// On ties the earliest inserted sample wins. ok is false when empty.
func (s *Store) NearestPosition(t int64) (PositionSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nearestPositionLocked(t)
}

// NearestOrientation returns the sample closest in time to t.
// On ties the earliest inserted sample wins. ok is false when empty.
func (s *Store) NearestOrientation(t int64) (OrientationSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nearestOrientationLocked(t)
}

// InterpolatedOrientation returns the orientation at t, blended by SLERP
// between the bracketing samples when a bracket exists and the nearest
// sample otherwise. The returned sample is stamped with t when interpolated.
//
// The bracket is found by walking the buffer in insertion order: a is the
// last sample with a.t <= t seen before the first sample with b.t > t. With
// out-of-order inserts this is a best-effort bracket that may not contain t.
func (s *Store) InterpolatedOrientation(t int64) (OrientationSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, _, _, ok := s.interpolateLocked(t)
	return o, ok
}

// Resolve fuses the nearest position fix with the orientation at t.
//
// It returns ErrNoData if either buffer is empty and ErrOutOfTolerance if the
// nearest fix is more than toleranceNs away from t. An interpolated
// orientation is accepted whatever its bracket spacing; a nearest-sample
// fallback must itself lie within toleranceNs. Negative tolerances are
// treated as zero.
func (s *Store) Resolve(t, toleranceNs int64) (FusedPose, error) {
	if toleranceNs < 0 {
		toleranceNs = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.nearestPositionLocked(t)
	if !ok {
		return FusedPose{}, ErrNoData
	}
	posDelta := absDelta(pos.CaptureNs, t)
	if posDelta > toleranceNs {
		return FusedPose{}, ErrOutOfTolerance
	}

	ori, interpolated, oriDelta, ok := s.interpolateLocked(t)
	if !ok {
		return FusedPose{}, ErrNoData
	}
	provenance := ProvenanceInterpolated
	if !interpolated {
		if oriDelta > toleranceNs {
			return FusedPose{}, ErrOutOfTolerance
		}
		provenance = ProvenanceNearest
	}

	return FusedPose{
		CaptureNs:          t,
		WallTime:           pos.WallTime,
		Lat:                pos.Lat,
		Lon:                pos.Lon,
		Height:             pos.Height,
		AccuracyM:          pos.AccuracyM,
		Orientation:        ori.Q,
		Provenance:         provenance,
		PositionDeltaNs:    posDelta,
		OrientationDeltaNs: oriDelta,
	}, nil
}

func (s *Store) nearestPositionLocked(t int64) (PositionSample, bool) {
	n := s.positions.len()
	if n == 0 {
		return PositionSample{}, false
	}
	best := s.positions.at(0)
	bestDelta := absDelta(best.CaptureNs, t)
	for i := 1; i < n; i++ {
		p := s.positions.at(i)
		if d := absDelta(p.CaptureNs, t); d < bestDelta {
			best, bestDelta = p, d
		}
	}
	return best, true
}

func (s *Store) nearestOrientationLocked(t int64) (OrientationSample, bool) {
	n := s.orientations.len()
	if n == 0 {
		return OrientationSample{}, false
	}
	best := s.orientations.at(0)
	bestDelta := absDelta(best.CaptureNs, t)
	for i := 1; i < n; i++ {
		o := s.orientations.at(i)
		if d := absDelta(o.CaptureNs, t); d < bestDelta {
			best, bestDelta = o, d
		}
	}
	return best, true
}

// interpolateLocked reports the orientation at t, whether it was actually
// interpolated, and the time distance to the closest sample it used.
func (s *Store) interpolateLocked(t int64) (OrientationSample, bool, int64, bool) {
	n := s.orientations.len()
	if n == 0 {
		return OrientationSample{}, false, 0, false
	}

	a, b := s.orientations.first(), s.orientations.last()
	for i := 0; i < n; i++ {
		e := s.orientations.at(i)
		if e.CaptureNs <= t {
			a = e
		} else {
			b = e
			break
		}
	}

	dt := b.CaptureNs - a.CaptureNs
	if n == 1 || dt <= 0 {
		o, _ := s.nearestOrientationLocked(t)
		return o, false, absDelta(o.CaptureNs, t), true
	}

	u := float64(t-a.CaptureNs) / float64(dt)
	delta := min(absDelta(a.CaptureNs, t), absDelta(b.CaptureNs, t))
	return OrientationSample{
		CaptureNs: t,
		Q:         Slerp(a.Q, b.Q, u),
	}, true, delta, true
}
