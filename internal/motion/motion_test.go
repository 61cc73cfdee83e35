package motion

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestComputeDeltaZeroMotion(t *testing.T) {
	p := Pose{X: 1, Y: 2, Theta: 0.3}
	d := ComputeDelta(p, p)
	assert.InDelta(t, 0, d.Translation, 1e-6)
	assert.InDelta(t, 0, d.Rotation, 1e-6)
	assert.False(t, d.Backwards)
}

func TestComputeDeltaBackwards(t *testing.T) {
	prev := Pose{X: 0, Y: 0, Theta: 0}
	cur := Pose{X: -1, Y: 0, Theta: 0}
	d := ComputeDelta(prev, cur)
	assert.True(t, d.Backwards)
	assert.InDelta(t, 1, d.Translation, 1e-6)
}

// Zero-variance parameterization must leave every particle's pose exactly
// unchanged when the odometry delta is zero (spec.md section 8 round-trip
// law, "new" motion model variant).
func TestApplyZeroNoiseZeroDeltaIsIdentity(t *testing.T) {
	pose := Pose{X: 5, Y: -3, Theta: 1.1}
	delta := ComputeDelta(pose, pose)
	rng := rand.New(rand.NewSource(1))
	down, cross, turn := Sample(delta, ZeroNoiseParams(), rng)
	assert.Equal(t, float32(0), down)
	assert.Equal(t, float32(0), cross)
	assert.Equal(t, float32(0), turn)

	next := Apply(pose, down, cross, turn, delta.Backwards)
	assert.InDelta(t, pose.X, next.X, 1e-6)
	assert.InDelta(t, pose.Y, next.Y, 1e-6)
	assert.InDelta(t, pose.Theta, next.Theta, 1e-6)
}

// Same round-trip law, legacy decomposition variant.
func TestLegacyZeroNoiseZeroDeltaIsIdentity(t *testing.T) {
	pose := Pose{X: 2, Y: 2, Theta: -0.5}
	dr1, dt, dr2 := LegacyDecompose(pose, pose)
	assert.InDelta(t, 0, dt, 1e-6)

	rng := rand.New(rand.NewSource(1))
	next := LegacySample(pose, dr1, dt, dr2, false, ZeroNoiseParams(), rng)
	assert.InDelta(t, pose.X, next.X, 1e-6)
	assert.InDelta(t, pose.Y, next.Y, 1e-6)
	assert.InDelta(t, pose.Theta, next.Theta, 1e-6)
}

// Backward odometry must move particles backward under the legacy
// decomposition too, mirroring OLD_MOTION_MODEL's sign flip.
func TestLegacySampleBackwardsNegatesAdvance(t *testing.T) {
	prev := Pose{X: 0, Y: 0, Theta: 0}
	cur := Pose{X: -1, Y: 0, Theta: 0}
	dr1, dt, dr2 := LegacyDecompose(prev, cur)
	assert.InDelta(t, 1, dt, 1e-5)

	rng := rand.New(rand.NewSource(1))
	next := LegacySample(prev, dr1, dt, dr2, true, ZeroNoiseParams(), rng)
	assert.InDelta(t, -1, next.X, 1e-5)
	assert.InDelta(t, 0, next.Y, 1e-5)
}

func TestLegacyDecomposeCollapsesBelowThreshold(t *testing.T) {
	prev := Pose{X: 0, Y: 0, Theta: 0}
	cur := Pose{X: 0.01, Y: 0.01, Theta: 0.4}
	dr1, _, dr2 := LegacyDecompose(prev, cur)
	assert.InDelta(t, 0.2, dr1, 1e-6)
	assert.InDelta(t, 0.2, dr2, 1e-6)
}

func TestLegacyDecomposeForwardMatchesHeading(t *testing.T) {
	prev := Pose{X: 0, Y: 0, Theta: 0}
	cur := Pose{X: 1, Y: 0, Theta: 0}
	dr1, dt, dr2 := LegacyDecompose(prev, cur)
	assert.InDelta(t, 0, dr1, 1e-5)
	assert.InDelta(t, 1, dt, 1e-5)
	assert.InDelta(t, 0, dr2, 1e-5)
}

func TestApplyForwardAdvancesAlongHeading(t *testing.T) {
	pose := Pose{X: 0, Y: 0, Theta: 0}
	next := Apply(pose, 1, 0, 0, false)
	assert.InDelta(t, 1, next.X, 1e-5)
	assert.InDelta(t, 0, next.Y, 1e-5)
}

func TestApplyBackwardsNegatesAdvance(t *testing.T) {
	pose := Pose{X: 0, Y: 0, Theta: 0}
	next := Apply(pose, 1, 0, 0, true)
	assert.InDelta(t, -1, next.X, 1e-5)
}

func TestApplyNormalizesTheta(t *testing.T) {
	pose := Pose{X: 0, Y: 0, Theta: math32.Pi - 0.1}
	next := Apply(pose, 0, 0, 0.5, false)
	assert.LessOrEqual(t, next.Theta, math32.Pi)
	assert.Greater(t, next.Theta, -math32.Pi)
}

func TestSampleNoiseSpreadsAroundMean(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	delta := Delta{Translation: 1, Rotation: 0.2}
	params := DefaultParams()

	var sumDown float32
	const n = 2000
	for i := 0; i < n; i++ {
		down, _, _ := Sample(delta, params, rng)
		sumDown += down
	}
	mean := sumDown / n
	assert.InDelta(t, delta.Translation, mean, 0.05)
}
