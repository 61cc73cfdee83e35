package mcl

import (
	"math"
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/navcore/internal/likelihood"
	"github.com/itohio/navcore/internal/motion"
	"github.com/itohio/navcore/internal/navmsg"
	"github.com/itohio/navcore/pkg/gridmap"
)

func newFilterForTest(t *testing.T, sizeX, sizeY int, occX, occY int) (*Filter, *gridmap.OccupancyGrid, *likelihood.Map) {
	t.Helper()
	g, err := gridmap.New(gridmap.Config{Resolution: 1, SizeX: sizeX, SizeY: sizeY})
	require.NoError(t, err)
	for x := 0; x < sizeX; x++ {
		for y := 0; y < sizeY; y++ {
			g.Cells[x][y] = 0
		}
	}
	g.Cells[occX][occY] = 1

	lm, err := likelihood.Build(g, likelihood.DefaultParams())
	require.NoError(t, err)

	params := navmsg.DefaultParameters()
	params.NumParticles = 100
	params.UpdateDistance = 0.2

	rng := rand.New(rand.NewSource(7))
	f := New(params, motion.ZeroNoiseParams(), rng, g, lm)
	return f, g, lm
}

// Scenario 1 (spec.md section 8): unit grid, Gaussian init, odometry then
// laser, expect mean within 0.05m of (0.6, 0.5).
func TestGaussianInitOdometryAndLaser(t *testing.T) {
	f, _, _ := newFilterForTest(t, 5, 5, 2, 2)

	f.InitGaussian([]GaussianMode{
		{
			Mean: motion.Pose{X: 0.5, Y: 0.5, Theta: 0},
			Std:  motion.Pose{X: 0.01, Y: 0.01, Theta: 0.01},
		},
	})
	require.Len(t, f.Particles, 100)

	f.IncorporateOdometry(motion.Pose{X: 0, Y: 0, Theta: 0})
	f.IncorporateOdometry(motion.Pose{X: 0.1, Y: 0, Theta: 0})

	scan := Scan{
		StartAngle:        0,
		AngularResolution: math32.Pi / 2,
		MaxRange:          10,
		Range:             []float32{2, 2, 2, 2},
	}
	f.IncorporateLaser(scan)

	summary := f.Summarize(scan)
	assert.InDelta(t, 0.6, summary.Mean.X, 0.05)
	assert.InDelta(t, 0.5, summary.Mean.Y, 0.05)
}

// Every particle's theta stays within (-pi, pi] after odometry updates.
func TestThetaStaysNormalized(t *testing.T) {
	f, _, _ := newFilterForTest(t, 5, 5, 2, 2)
	params := motion.DefaultParams()
	f.MotionParams = params
	f.InitGaussian([]GaussianMode{{Mean: motion.Pose{X: 0.5, Y: 0.5, Theta: math32.Pi - 0.05}}})

	f.IncorporateOdometry(motion.Pose{X: 0, Y: 0, Theta: 0})
	for i := 0; i < 20; i++ {
		f.IncorporateOdometry(motion.Pose{X: float32(i) * 0.1, Y: 0, Theta: math32.Pi - 0.05 + float32(i)*0.3})
	}

	for _, p := range f.Particles {
		assert.LessOrEqual(t, p.Theta, math32.Pi)
		assert.Greater(t, p.Theta, float32(-math.Pi))
	}
}

// Scenario 3 (spec.md section 8): 4 particles, log-weights {0,-Inf,0,-Inf};
// after resample all survivors have x equal to particle 0 or particle 2's x.
func TestLowVarianceResampleKeepsOnlyNonZeroWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	f := &Filter{Rng: rng}
	negInf := float32(math.Inf(-1))
	f.Particles = []Particle{
		{X: 1, Weight: 0},
		{X: 2, Weight: negInf},
		{X: 3, Weight: 0},
		{X: 4, Weight: negInf},
	}

	f.Resample()

	require.Len(t, f.Particles, 4)
	for _, p := range f.Particles {
		assert.True(t, p.X == 1 || p.X == 3, "unexpected surviving x=%v", p.X)
		assert.Equal(t, float32(0), p.Weight)
	}
}

// Scenario 5 (spec.md section 8): particles spread beyond
// globalDistanceThreshold switch the next laser weighting into global mode.
func TestGlobalModeSwitchOnSpread(t *testing.T) {
	f, _, _ := newFilterForTest(t, 5, 5, 2, 2)
	f.Params.GlobalDistanceThreshold = 0.5

	f.Particles = []Particle{
		{X: 0, Y: 0, Theta: 0},
		{X: 5, Y: 5, Theta: 0},
	}
	f.State = StateTracking

	scan := Scan{StartAngle: 0, AngularResolution: math32.Pi / 2, MaxRange: 10, Range: []float32{2, 2, 2, 2}}
	f.IncorporateLaser(scan)

	assert.True(t, f.GlobalMode)
	assert.Equal(t, StateGlobal, f.State)
}

func TestResampleNoOpWhenEmpty(t *testing.T) {
	f := &Filter{Rng: rand.New(rand.NewSource(1))}
	f.Resample()
	assert.Empty(t, f.Particles)
}
