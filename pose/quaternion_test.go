package pose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuaternion_Normalized(t *testing.T) {
	q := Quaternion{X: 1, Y: 2, Z: 3, W: 4}.Normalized()
	assert.InDelta(t, 1.0, q.Norm(), 1e-12)

	zero := Quaternion{}
	assert.Equal(t, zero, zero.Normalized())
}

func TestSlerp_Endpoints(t *testing.T) {
	a := FromYaw(10)
	b := FromYaw(170)

	assert.InDelta(t, 0, angleBetween(Slerp(a, b, 0), a), 1e-6)
	assert.InDelta(t, 0, angleBetween(Slerp(a, b, 1), b), 1e-6)
}

func TestSlerp_ClampsFraction(t *testing.T) {
	a := FromYaw(0)
	b := FromYaw(90)

	assert.InDelta(t, 0, angleBetween(Slerp(a, b, -3), a), 1e-6)
	assert.InDelta(t, 0, angleBetween(Slerp(a, b, 7), b), 1e-6)
}

func TestSlerp_DoubleCover(t *testing.T) {
	a := Quaternion{X: 0.2, Y: -0.4, Z: 0.1, W: 0.9}.Normalized()
	b := Quaternion{X: -0.3, Y: 0.5, Z: 0.6, W: 0.2}.Normalized()

	for _, u := range []float64{0, 0.1, 0.25, 0.5, 0.9, 1} {
		ref := Slerp(a, b, u)
		assert.InDelta(t, 0, angleBetween(ref, Slerp(a, b.Negate(), u)), 1e-6, "u=%v b negated", u)
		assert.InDelta(t, 0, angleBetween(ref, Slerp(a.Negate(), b, u)), 1e-6, "u=%v a negated", u)
	}
}

func TestSlerp_NearParallelUsesLinearBlend(t *testing.T) {
	a := FromYaw(0)
	b := FromYaw(0.5)

	got := Slerp(a, b, 0.5)
	assert.InDelta(t, 1.0, got.Norm(), 1e-9)
	assert.InDelta(t, 0.25, got.Euler().Yaw, 1e-3)
}

func TestSlerp_ConstantAngularRate(t *testing.T) {
	a := FromYaw(0)
	b := FromYaw(120)

	for _, u := range []float64{0.1, 0.3, 0.5, 0.7} {
		assert.InDelta(t, 120*u, Slerp(a, b, u).Euler().Yaw, 1e-6)
	}
}

func TestEuler(t *testing.T) {
	tests := []struct {
		name string
		q    Quaternion
		want Euler
	}{
		{"identity", Identity(), Euler{}},
		{"yaw 90", Quaternion{Z: math.Sqrt2 / 2, W: math.Sqrt2 / 2}, Euler{Yaw: 90}},
		{"roll 90", Quaternion{X: math.Sqrt2 / 2, W: math.Sqrt2 / 2}, Euler{Roll: 90}},
		{"pitch 30", Quaternion{Y: math.Sin(math.Pi / 12), W: math.Cos(math.Pi / 12)}, Euler{Pitch: 30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.q.Euler()
			assert.InDelta(t, tt.want.Yaw, got.Yaw, 1e-6)
			assert.InDelta(t, tt.want.Pitch, got.Pitch, 1e-6)
			assert.InDelta(t, tt.want.Roll, got.Roll, 1e-6)
		})
	}
}
