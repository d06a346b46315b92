package pose

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const second = int64(time.Second)

// ---------------------------------------------------------------------------
// NewStore / capacity
// ---------------------------------------------------------------------------

func TestNewStore_DefaultCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		s := NewStore(c)
		assert.Equal(t, DefaultCapacity, s.Capacity())
	}
	assert.Equal(t, 16, NewStore(16).Capacity())
}

func TestStore_EvictsOldestAtCapacity(t *testing.T) {
	const capacity = 5
	s := NewStore(capacity)

	for i := 0; i < 12; i++ {
		s.AddPosition(PositionSample{CaptureNs: int64(i), Lat: float64(i)})
		s.AddOrientation(OrientationSample{CaptureNs: int64(i), Q: Identity()})
	}

	np, no := s.Len()
	assert.Equal(t, capacity, np)
	assert.Equal(t, capacity, no)

	positions, orientations := s.Snapshot()
	for i, p := range positions {
		assert.Equal(t, int64(7+i), p.CaptureNs, "position %d", i)
	}
	for i, o := range orientations {
		assert.Equal(t, int64(7+i), o.CaptureNs, "orientation %d", i)
	}
}

func TestStore_BelowCapacityKeepsEverything(t *testing.T) {
	s := NewStore(8)
	for i := 0; i < 3; i++ {
		s.AddPosition(PositionSample{CaptureNs: int64(i * 10)})
	}
	got, orientations := s.Snapshot()
	assert.Empty(t, orientations)
	require.Len(t, got, 3)
	assert.Equal(t, int64(0), got[0].CaptureNs)
	assert.Equal(t, int64(20), got[2].CaptureNs)
}

func TestStore_CopiesOptionalFields(t *testing.T) {
	s := NewStore(4)
	h := 12.5
	s.AddPosition(PositionSample{CaptureNs: 1, Height: &h})
	h = 99

	p, ok := s.NearestPosition(1)
	require.True(t, ok)
	require.NotNil(t, p.Height)
	assert.Equal(t, 12.5, *p.Height)
}

// ---------------------------------------------------------------------------
// AddOrientation
// ---------------------------------------------------------------------------

func TestAddOrientation_Normalizes(t *testing.T) {
	s := NewStore(4)
	s.AddOrientation(OrientationSample{CaptureNs: 1, Q: Quaternion{X: 0, Y: 0, Z: 2, W: 2}})

	o, ok := s.NearestOrientation(1)
	require.True(t, ok)
	assert.InDelta(t, 1.0, o.Q.Norm(), 1e-12)
	assert.InDelta(t, math.Sqrt2/2, o.Q.Z, 1e-12)
}

func TestAddOrientation_DegenerateStoredAsIs(t *testing.T) {
	s := NewStore(4)
	s.AddOrientation(OrientationSample{CaptureNs: 1, Q: Quaternion{}})

	o, ok := s.NearestOrientation(1)
	require.True(t, ok)
	assert.Equal(t, Quaternion{}, o.Q)
}

// ---------------------------------------------------------------------------
// Nearest lookups
// ---------------------------------------------------------------------------

func TestNearest_Empty(t *testing.T) {
	s := NewStore(4)
	_, ok := s.NearestPosition(0)
	assert.False(t, ok)
	_, ok = s.NearestOrientation(0)
	assert.False(t, ok)
	_, ok = s.InterpolatedOrientation(0)
	assert.False(t, ok)
}

func TestNearestPosition_TieKeepsEarliestInserted(t *testing.T) {
	s := NewStore(4)
	s.AddPosition(PositionSample{CaptureNs: 20, Lat: 2})
	s.AddPosition(PositionSample{CaptureNs: 0, Lat: 0})

	p, ok := s.NearestPosition(10)
	require.True(t, ok)
	assert.Equal(t, 2.0, p.Lat)
}

func TestNearestPosition_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := NewStore(64)

	var all []PositionSample
	for i := 0; i < 200; i++ {
		p := PositionSample{CaptureNs: rng.Int63n(1_000_000), Lat: float64(i)}
		s.AddPosition(p)
		all = append(all, p)
	}
	retained := all[len(all)-64:]

	for q := 0; q < 500; q++ {
		query := rng.Int63n(1_200_000) - 100_000

		want := retained[0]
		for _, p := range retained[1:] {
			if absDelta(p.CaptureNs, query) < absDelta(want.CaptureNs, query) {
				want = p
			}
		}

		got, ok := s.NearestPosition(query)
		require.True(t, ok)
		assert.Equal(t, want.Lat, got.Lat, "query %d", query)
	}
}

func TestNearestOrientation_OutOfOrderInserts(t *testing.T) {
	s := NewStore(8)
	s.AddOrientation(OrientationSample{CaptureNs: 300, Q: FromYaw(30)})
	s.AddOrientation(OrientationSample{CaptureNs: 100, Q: FromYaw(10)})
	s.AddOrientation(OrientationSample{CaptureNs: 200, Q: FromYaw(20)})

	o, ok := s.NearestOrientation(190)
	require.True(t, ok)
	assert.Equal(t, int64(200), o.CaptureNs)
}

// ---------------------------------------------------------------------------
// InterpolatedOrientation
// ---------------------------------------------------------------------------

func TestInterpolatedOrientation_Endpoints(t *testing.T) {
	a := FromYaw(0)
	b := FromYaw(80)
	s := NewStore(4)
	s.AddOrientation(OrientationSample{CaptureNs: 0, Q: a})
	s.AddOrientation(OrientationSample{CaptureNs: second, Q: b})

	got, ok := s.InterpolatedOrientation(0)
	require.True(t, ok)
	assert.InDelta(t, 0, angleBetween(got.Q, a), 1e-4)

	got, ok = s.InterpolatedOrientation(second)
	require.True(t, ok)
	assert.InDelta(t, 0, angleBetween(got.Q, b), 1e-4)
}

func TestInterpolatedOrientation_BetweenIsUnit(t *testing.T) {
	s := NewStore(4)
	s.AddOrientation(OrientationSample{CaptureNs: 0, Q: Quaternion{X: 0.1, Y: 0.7, Z: 0.2, W: 0.6}})
	s.AddOrientation(OrientationSample{CaptureNs: 1000, Q: Quaternion{X: -0.5, Y: 0.1, Z: 0.8, W: 0.2}})

	for _, tq := range []int64{1, 100, 333, 500, 999} {
		got, ok := s.InterpolatedOrientation(tq)
		require.True(t, ok)
		assert.InDelta(t, 1.0, got.Q.Norm(), 1e-6, "t=%d", tq)
		assert.Equal(t, tq, got.CaptureNs)
	}
}

func TestInterpolatedOrientation_FallsBackToNearest(t *testing.T) {
	t.Run("single sample", func(t *testing.T) {
		s := NewStore(4)
		s.AddOrientation(OrientationSample{CaptureNs: 50, Q: FromYaw(10)})
		got, ok := s.InterpolatedOrientation(1000)
		require.True(t, ok)
		assert.Equal(t, int64(50), got.CaptureNs)
	})

	t.Run("query after last sample", func(t *testing.T) {
		s := NewStore(4)
		s.AddOrientation(OrientationSample{CaptureNs: 0, Q: FromYaw(0)})
		s.AddOrientation(OrientationSample{CaptureNs: 10, Q: FromYaw(20)})
		got, ok := s.InterpolatedOrientation(100)
		require.True(t, ok)
		assert.Equal(t, int64(10), got.CaptureNs)
	})

	t.Run("query before first sample", func(t *testing.T) {
		s := NewStore(4)
		s.AddOrientation(OrientationSample{CaptureNs: 10, Q: FromYaw(0)})
		s.AddOrientation(OrientationSample{CaptureNs: 20, Q: FromYaw(20)})
		got, ok := s.InterpolatedOrientation(0)
		require.True(t, ok)
		assert.Equal(t, int64(10), got.CaptureNs)
	})
}

func TestInterpolatedOrientation_InsertionOrderBracket(t *testing.T) {
	// Walking in insertion order, the bracket for t=150 is (100, 300) even
	// though a sample at 200 exists later in the buffer.
	s := NewStore(8)
	s.AddOrientation(OrientationSample{CaptureNs: 100, Q: FromYaw(0)})
	s.AddOrientation(OrientationSample{CaptureNs: 300, Q: FromYaw(40)})
	s.AddOrientation(OrientationSample{CaptureNs: 200, Q: FromYaw(90)})

	got, ok := s.InterpolatedOrientation(150)
	require.True(t, ok)
	assert.InDelta(t, 10.0, got.Q.Euler().Yaw, 1e-6)
}

// ---------------------------------------------------------------------------
// Resolve
// ---------------------------------------------------------------------------

func TestResolve_EndToEnd(t *testing.T) {
	s := NewStore(DefaultCapacity)
	s.AddPosition(PositionSample{CaptureNs: 0, Lat: 0, Lon: 0})
	s.AddPosition(PositionSample{CaptureNs: 2 * second, Lat: 0.001, Lon: 0.001})
	s.AddOrientation(OrientationSample{CaptureNs: 0, Q: Quaternion{W: 1}})
	s.AddOrientation(OrientationSample{CaptureNs: 2 * second, Q: Quaternion{Z: 0.7071, W: 0.7071}})

	fp, err := s.Resolve(second, 5*second)
	require.NoError(t, err)

	// Position is one of the raw fixes, never a blend
	raw := (fp.Lat == 0 && fp.Lon == 0) || (fp.Lat == 0.001 && fp.Lon == 0.001)
	assert.True(t, raw, "position (%v, %v) is not a raw fix", fp.Lat, fp.Lon)
	assert.Equal(t, second, fp.PositionDeltaNs)

	assert.Equal(t, ProvenanceInterpolated, fp.Provenance)
	assert.Equal(t, second, fp.CaptureNs)
	assert.InDelta(t, 1.0, fp.Orientation.Norm(), 1e-6)
	assert.InDelta(t, 45.0, fp.Orientation.Euler().Yaw, 1e-3)
	assert.InDelta(t, math.Sin(math.Pi/8), fp.Orientation.Z, 1e-4)
	assert.InDelta(t, math.Cos(math.Pi/8), fp.Orientation.W, 1e-4)
}

func TestResolve_NoData(t *testing.T) {
	t.Run("no positions", func(t *testing.T) {
		s := NewStore(4)
		s.AddOrientation(OrientationSample{CaptureNs: 0, Q: Identity()})
		_, err := s.Resolve(0, second)
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("no orientations", func(t *testing.T) {
		s := NewStore(4)
		s.AddPosition(PositionSample{CaptureNs: 0})
		_, err := s.Resolve(0, second)
		assert.ErrorIs(t, err, ErrNoData)
	})
}

func TestResolve_PositionOutOfTolerance(t *testing.T) {
	s := NewStore(4)
	s.AddPosition(PositionSample{CaptureNs: 0})
	s.AddOrientation(OrientationSample{CaptureNs: 10 * second, Q: Identity()})
	s.AddOrientation(OrientationSample{CaptureNs: 0, Q: Identity()})

	tests := []struct {
		name    string
		query   int64
		tol     int64
		wantErr error
	}{
		{"exact match zero tolerance", 0, 0, nil},
		{"just inside", second, second, nil},
		{"just outside", second + 1, second, ErrOutOfTolerance},
		{"negative tolerance acts as zero", 1, -5, ErrOutOfTolerance},
		{"far outside", 100 * second, 5 * second, ErrOutOfTolerance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Resolve(tt.query, tt.tol)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestResolve_NeverReturnsStalePosition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewStore(32)
	for i := 0; i < 32; i++ {
		s.AddPosition(PositionSample{CaptureNs: rng.Int63n(100 * second)})
		s.AddOrientation(OrientationSample{CaptureNs: rng.Int63n(100 * second), Q: FromYaw(float64(i))})
	}

	for i := 0; i < 300; i++ {
		q := rng.Int63n(120*second) - 10*second
		tol := rng.Int63n(3 * second)
		fp, err := s.Resolve(q, tol)
		nearest, _ := s.NearestPosition(q)
		if absDelta(nearest.CaptureNs, q) > tol {
			assert.ErrorIs(t, err, ErrOutOfTolerance)
			continue
		}
		if err == nil {
			assert.LessOrEqual(t, fp.PositionDeltaNs, tol)
		}
	}
}

func TestResolve_NearestOrientationMustBeWithinTolerance(t *testing.T) {
	s := NewStore(4)
	s.AddPosition(PositionSample{CaptureNs: 10 * second})
	s.AddOrientation(OrientationSample{CaptureNs: 0, Q: Identity()})

	_, err := s.Resolve(10*second, 5*second)
	assert.ErrorIs(t, err, ErrOutOfTolerance)

	fp, err := s.Resolve(10*second, 10*second)
	require.NoError(t, err)
	assert.Equal(t, ProvenanceNearest, fp.Provenance)
	assert.Equal(t, 10*second, fp.OrientationDeltaNs)
}

func TestResolve_InterpolationIgnoresBracketSpacing(t *testing.T) {
	s := NewStore(4)
	s.AddPosition(PositionSample{CaptureNs: 50 * second})
	s.AddOrientation(OrientationSample{CaptureNs: 0, Q: FromYaw(0)})
	s.AddOrientation(OrientationSample{CaptureNs: 100 * second, Q: FromYaw(60)})

	fp, err := s.Resolve(50*second, second)
	require.NoError(t, err)
	assert.Equal(t, ProvenanceInterpolated, fp.Provenance)
	assert.InDelta(t, 30.0, fp.Orientation.Euler().Yaw, 1e-6)
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore(128)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				ts := int64(w*1000 + i)
				s.AddPosition(PositionSample{CaptureNs: ts})
				s.AddOrientation(OrientationSample{CaptureNs: ts, Q: FromYaw(float64(i))})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_, _ = s.Resolve(int64(i*10), 1000)
			}
		}()
	}
	wg.Wait()

	np, no := s.Len()
	assert.Equal(t, 128, np)
	assert.Equal(t, 128, no)
}
