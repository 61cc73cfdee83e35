package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/itohio/navcore/pkg/gridmap"
)

// loadMap reads a plain-text occupancy grid: a "resolution <meters>" header
// line followed by SizeY rows of SizeX whitespace-separated cell values
// (0..1 occupied probability, or -1 for unknown), row 0 being the grid's
// maximum Y per CARMEN's bottom-up map convention. This stands in for the
// CARMEN binary .map format (its reader lives in map_io.c, not part of the
// retrieved original source) -- the full binary format, gzip section table
// and place/zone metadata it carries are out of scope; only the occupancy
// values the rest of this core needs are modeled.
func loadMap(path string) (*gridmap.OccupancyGrid, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("navcored: open map: %w", err)
	}
	defer file.Close()

	return readMap(file)
}

func readMap(r io.Reader) (*gridmap.OccupancyGrid, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var resolution float32
	var rows [][]float32
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "resolution") {
			fields := strings.Fields(line)
			if len(fields) != 2 {
				return nil, fmt.Errorf("navcored: malformed resolution header %q", line)
			}
			v, err := strconv.ParseFloat(fields[1], 32)
			if err != nil {
				return nil, fmt.Errorf("navcored: resolution: %w", err)
			}
			resolution = float32(v)
			continue
		}
		fields := strings.Fields(line)
		row := make([]float32, len(fields))
		for i, tok := range fields {
			v, err := strconv.ParseFloat(tok, 32)
			if err != nil {
				return nil, fmt.Errorf("navcored: cell value: %w", err)
			}
			row[i] = float32(v)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("navcored: scan map: %w", err)
	}
	if resolution <= 0 {
		return nil, fmt.Errorf("navcored: map missing resolution header")
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("navcored: map has no rows")
	}

	sizeY := len(rows)
	sizeX := len(rows[0])
	grid, err := gridmap.New(gridmap.Config{Resolution: resolution, SizeX: sizeX, SizeY: sizeY})
	if err != nil {
		return nil, fmt.Errorf("navcored: build grid: %w", err)
	}
	for rowIdx, row := range rows {
		y := sizeY - 1 - rowIdx
		for x, v := range row {
			if x >= sizeX {
				return nil, fmt.Errorf("navcored: map row %d has inconsistent width", rowIdx)
			}
			grid.Cells[x][y] = v
		}
	}
	return grid, nil
}
