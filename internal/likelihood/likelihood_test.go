package likelihood

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/navcore/pkg/gridmap"
)

func grid3x3Center(t *testing.T) *gridmap.OccupancyGrid {
	t.Helper()
	g, err := gridmap.New(gridmap.Config{Resolution: 1, SizeX: 3, SizeY: 3})
	require.NoError(t, err)
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			g.Cells[x][y] = 0
		}
	}
	g.Cells[1][1] = 1
	return g
}

// Scenario 2 (spec.md section 8): 3x3 map with occupied center; distance
// should be [[sqrt2,1,sqrt2],[1,0,1],[sqrt2,1,sqrt2]] after two passes.
func TestDistanceTransform3x3(t *testing.T) {
	g := grid3x3Center(t)
	m, err := Build(g, DefaultParams())
	require.NoError(t, err)

	want := [3][3]float32{
		{math32.Sqrt2, 1, math32.Sqrt2},
		{1, 0, 1},
		{math32.Sqrt2, 1, math32.Sqrt2},
	}
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			assert.InDeltaf(t, want[x][y], m.Distance[x][y], 1e-4, "cell (%d,%d)", x, y)
		}
	}
}

func TestDistanceBound(t *testing.T) {
	g := grid3x3Center(t)
	m, err := Build(g, DefaultParams())
	require.NoError(t, err)

	bound := math32.Sqrt2 * 3
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			assert.LessOrEqual(t, m.Distance[x][y], bound)
		}
	}
}

func TestLikelihoodBounded(t *testing.T) {
	g := grid3x3Center(t)
	params := DefaultParams()
	m, err := Build(g, params)
	require.NoError(t, err)

	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			p := math32.Exp(m.Prob[x][y])
			assert.GreaterOrEqual(t, p, params.TrackingBeamMinLikelihood-1e-5)
			assert.LessOrEqual(t, p, float32(1.0)+1e-5)

			gp := math32.Exp(m.GProb[x][y])
			assert.GreaterOrEqual(t, gp, params.GlobalBeamMinLikelihood-1e-5)
			assert.LessOrEqual(t, gp, float32(1.0)+1e-5)
		}
	}
}

func TestLookupOutOfBoundsFloorsToMinLikelihood(t *testing.T) {
	g := grid3x3Center(t)
	params := DefaultParams()
	m, err := Build(g, params)
	require.NoError(t, err)

	assert.InDelta(t, math32.Log(params.TrackingBeamMinLikelihood), m.LookupProb(-1, 0), 1e-6)
	assert.InDelta(t, math32.Log(params.GlobalBeamMinLikelihood), m.LookupGProb(100, 100), 1e-6)
}

func TestInteriorObstacleNotSeeded(t *testing.T) {
	// A 3x3 block of occupied cells: only the border cells should get
	// distance 0, the interior (if any) should not be seeded directly.
	g, err := gridmap.New(gridmap.Config{Resolution: 1, SizeX: 5, SizeY: 5})
	require.NoError(t, err)
	for x := 1; x <= 3; x++ {
		for y := 1; y <= 3; y++ {
			g.Cells[x][y] = 1
		}
	}
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			if g.Cells[x][y] != 1 {
				g.Cells[x][y] = 0
			}
		}
	}
	m, err := Build(g, DefaultParams())
	require.NoError(t, err)
	// center (2,2) is fully surrounded by occupied neighbors: it is not a
	// border cell, so it is not seeded at 0; propagation from its seeded
	// orthogonal neighbors gives it distance 1.
	assert.InDelta(t, 1, m.Distance[2][2], 1e-4)
}
