// Package gridmap implements the OccupancyGrid data model shared by the
// likelihood map, scan matcher and planner (spec.md section 3).
package gridmap

import (
	"errors"
	"fmt"

	"github.com/itohio/navcore/pkg/mat"
)

// Unknown is the sentinel cell value meaning "no occupancy information".
const Unknown float32 = -1.0

var ErrInvalidResolution = errors.New("gridmap: resolution must be > 0")

// Config attaches physical resolution, cell-size and world-frame origin to
// a grid of cells.
type Config struct {
	Resolution float32 // meters / cell
	SizeX      int     // cells
	SizeY      int     // cells
	OriginX    float32 // world-frame offset, meters
	OriginY    float32 // world-frame offset, meters
}

// OccupancyGrid is a regular 2-D array of cells, each holding a probability
// in [0,1] or Unknown.
type OccupancyGrid struct {
	Config Config
	Cells  mat.Matrix // Cells[x][y], column-major per CARMEN convention
}

// New allocates an OccupancyGrid with every cell set to Unknown.
func New(cfg Config) (*OccupancyGrid, error) {
	if cfg.Resolution <= 0 {
		return nil, ErrInvalidResolution
	}
	g := &OccupancyGrid{
		Config: cfg,
		Cells:  mat.New(cfg.SizeX, cfg.SizeY),
	}
	g.Cells.FillC(Unknown)
	return g, nil
}

// Validate checks the invariants from spec.md section 3: resolution > 0,
// every cell in [0,1] or Unknown.
func (g *OccupancyGrid) Validate() error {
	if g.Config.Resolution <= 0 {
		return ErrInvalidResolution
	}
	for x := 0; x < g.Config.SizeX; x++ {
		for y := 0; y < g.Config.SizeY; y++ {
			p := g.Cells[x][y]
			if p == Unknown {
				continue
			}
			if p < 0 || p > 1 {
				return fmt.Errorf("gridmap: cell (%d,%d)=%f outside [0,1]", x, y, p)
			}
		}
	}
	return nil
}

// InBounds reports whether (x,y) addresses a valid cell.
func (g *OccupancyGrid) InBounds(x, y int) bool {
	return x >= 0 && x < g.Config.SizeX && y >= 0 && y < g.Config.SizeY
}

// IsKnown reports whether cell (x,y) holds occupancy information.
func (g *OccupancyGrid) IsKnown(x, y int) bool {
	return g.InBounds(x, y) && g.Cells[x][y] != Unknown
}

// IsOccupied reports whether cell (x,y) is known and its probability
// exceeds occupiedProb.
func (g *OccupancyGrid) IsOccupied(x, y int, occupiedProb float32) bool {
	return g.IsKnown(x, y) && g.Cells[x][y] > occupiedProb
}

// WorldToGrid converts a world-frame coordinate to continuous cell
// coordinates.
func (g *OccupancyGrid) WorldToGrid(wx, wy float32) (float32, float32) {
	return (wx - g.Config.OriginX) / g.Config.Resolution, (wy - g.Config.OriginY) / g.Config.Resolution
}

// GridToWorld converts a cell-integer coordinate to world-frame meters
// (cell center).
func (g *OccupancyGrid) GridToWorld(gx, gy int) (float32, float32) {
	return g.Config.OriginX + (float32(gx)+0.5)*g.Config.Resolution,
		g.Config.OriginY + (float32(gy)+0.5)*g.Config.Resolution
}
