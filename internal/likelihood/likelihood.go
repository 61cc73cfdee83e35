// Package likelihood builds the distance transform and the two Gaussian
// observation-likelihood fields (tracking + global) that the particle
// filter and scan matcher score laser beams against. Grounded on the
// teacher's inverse-sensor-model ray walk (x/math/filter/slam/mapping.go)
// for the log-odds style floor/clamp idiom, and on its Gaussian filter
// coefficient computation (x/math/filter/gaussian) for the stretch step.
package likelihood

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/itohio/navcore/pkg/gridmap"
	"github.com/itohio/navcore/pkg/logger"
	"github.com/itohio/navcore/pkg/mat"
)

// hugeDistance seeds unreached cells before the chamfer passes run; any
// value comfortably larger than the post-transform bound (sqrt(2)*max(w,h))
// works, since every reachable cell is overwritten during propagation.
const hugeDistance = 1e6

// Params configures likelihood-field construction (spec.md 4.1, 6).
type Params struct {
	OccupiedProb              float32 // cell prob above this is "occupied"
	LMapStd                   float32 // narrow (tracking) Gaussian std, meters
	GlobalLMapStd             float32 // wide (global) Gaussian std, meters
	TrackingBeamMinLikelihood float32 // floor for the tracking field
	GlobalBeamMinLikelihood   float32 // floor for the global field
}

// DefaultParams mirrors the CARMEN parameter-server defaults.
func DefaultParams() Params {
	return Params{
		OccupiedProb:              0.5,
		LMapStd:                   0.15,
		GlobalLMapStd:             0.6,
		TrackingBeamMinLikelihood: 0.45,
		GlobalBeamMinLikelihood:   0.45,
	}
}

// Map holds the distance transform and the two log-likelihood fields
// derived from an OccupancyGrid (spec.md section 3).
type Map struct {
	Config  gridmap.Config
	Params  Params
	Distance mat.Matrix    // distance in cells to nearest occupied border cell
	XOffset  mat.IntMatrix // signed cell displacement to that cell
	YOffset  mat.IntMatrix
	Prob     mat.Matrix // log p(z|cell), narrow field
	GProb    mat.Matrix // log p(z|cell), wide field
}

type neighbor struct{ dx, dy int }

var neighbors8 = []neighbor{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

func stepCost(n neighbor) float32 {
	if n.dx != 0 && n.dy != 0 {
		return math32.Sqrt2
	}
	return 1
}

// Build computes distance/offset/prob/gprob for grid under params.
func Build(grid *gridmap.OccupancyGrid, params Params) (*Map, error) {
	if grid == nil {
		return nil, fmt.Errorf("likelihood: nil occupancy grid")
	}
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("likelihood: invalid grid: %w", err)
	}

	sx, sy := grid.Config.SizeX, grid.Config.SizeY
	m := &Map{
		Config:   grid.Config,
		Params:   params,
		Distance: mat.New(sx, sy),
		XOffset:  mat.NewInt(sx, sy),
		YOffset:  mat.NewInt(sx, sy),
		Prob:     mat.New(sx, sy),
		GProb:    mat.New(sx, sy),
	}

	seedBorders(grid, m)
	propagate(m)
	bound := math32.Sqrt2 * float32(maxInt(sx, sy))
	for x := 0; x < sx; x++ {
		for y := 0; y < sy; y++ {
			if m.Distance[x][y] > bound {
				m.Distance[x][y] = bound
			}
		}
	}

	stretch(m, params.LMapStd, params.TrackingBeamMinLikelihood, m.Prob)
	stretch(m, params.GlobalLMapStd, params.GlobalBeamMinLikelihood, m.GProb)

	logger.Log.Debug().Str("component", "likelihood").Int("sizeX", sx).Int("sizeY", sy).Msg("built likelihood map")

	return m, nil
}

// seedBorders marks distance=0 at every occupied cell that borders a known,
// non-occupied cell. Interior obstacle cells are deliberately not seeded.
func seedBorders(grid *gridmap.OccupancyGrid, m *Map) {
	sx, sy := grid.Config.SizeX, grid.Config.SizeY
	for x := 0; x < sx; x++ {
		for y := 0; y < sy; y++ {
			m.Distance[x][y] = hugeDistance
			if !grid.IsOccupied(x, y, m.Params.OccupiedProb) {
				continue
			}
			if !isBorder(grid, x, y, m.Params.OccupiedProb) {
				continue
			}
			m.Distance[x][y] = 0
			m.XOffset[x][y] = 0
			m.YOffset[x][y] = 0
		}
	}
}

func isBorder(grid *gridmap.OccupancyGrid, x, y int, occupiedProb float32) bool {
	for _, n := range neighbors8 {
		nx, ny := x+n.dx, y+n.dy
		if !grid.InBounds(nx, ny) {
			continue
		}
		if !grid.IsKnown(nx, ny) {
			continue
		}
		if !grid.IsOccupied(nx, ny, occupiedProb) {
			return true
		}
	}
	return false
}

// propagate runs the forward and backward chamfer passes.
func propagate(m *Map) {
	sx, sy := m.Distance.Rows(), m.Distance.Cols()

	relax := func(x, y int) {
		best := m.Distance[x][y]
		bestX, bestY := m.XOffset[x][y], m.YOffset[x][y]
		for _, n := range neighbors8 {
			nx, ny := x+n.dx, y+n.dy
			if nx < 0 || nx >= sx || ny < 0 || ny >= sy {
				continue
			}
			v := m.Distance[nx][ny] + stepCost(n)
			if v < best {
				best = v
				bestX = m.XOffset[nx][ny] + n.dx
				bestY = m.YOffset[nx][ny] + n.dy
			}
		}
		m.Distance[x][y] = best
		m.XOffset[x][y] = bestX
		m.YOffset[x][y] = bestY
	}

	for x := 0; x < sx; x++ {
		for y := 0; y < sy; y++ {
			relax(x, y)
		}
	}
	for x := sx - 1; x >= 0; x-- {
		for y := sy - 1; y >= 0; y-- {
			relax(x, y)
		}
	}
}

// stretch turns the distance transform into a normalized, floor-saturated
// log-likelihood field under a Gaussian of the given std.
func stretch(m *Map, std, minLikelihood float32, dst mat.Matrix) {
	sx, sy := m.Distance.Rows(), m.Distance.Cols()
	resolution := m.Config.Resolution

	var maxP float32
	for x := 0; x < sx; x++ {
		for y := 0; y < sy; y++ {
			d := m.Distance[x][y] * resolution / std
			p := math32.Exp(-0.5 * d * d)
			dst[x][y] = p
			if p > maxP {
				maxP = p
			}
		}
	}
	if maxP <= 0 {
		maxP = 1
	}
	for x := 0; x < sx; x++ {
		for y := 0; y < sy; y++ {
			p := dst[x][y] / maxP
			dst[x][y] = math32.Log(minLikelihood + (1-minLikelihood)*p)
		}
	}
}

// LookupProb returns the narrow-field log-likelihood at (x,y), or
// log(minLikelihood) if out of bounds. Unknown cells are not detected here:
// they return the field value computed for them.
func (m *Map) LookupProb(x, y int) float32 {
	return lookup(m.Prob, x, y, m.Params.TrackingBeamMinLikelihood)
}

// LookupGProb returns the wide-field log-likelihood at (x,y), or
// log(minLikelihood) if out of bounds.
func (m *Map) LookupGProb(x, y int) float32 {
	return lookup(m.GProb, x, y, m.Params.GlobalBeamMinLikelihood)
}

func lookup(field mat.Matrix, x, y int, minLikelihood float32) float32 {
	if x < 0 || x >= field.Rows() || y < 0 || y >= field.Cols() {
		return math32.Log(minLikelihood)
	}
	return field[x][y]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
