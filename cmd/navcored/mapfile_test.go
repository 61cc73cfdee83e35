package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMapParsesResolutionAndCells(t *testing.T) {
	text := "resolution 0.5\n" +
		"1 1 1\n" +
		"1 0 1\n" +
		"-1 0 0\n"
	grid, err := readMap(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), grid.Config.Resolution)
	assert.Equal(t, 3, grid.Config.SizeX)
	assert.Equal(t, 3, grid.Config.SizeY)

	// row 0 of the text is the top row -> highest Y.
	assert.Equal(t, float32(1), grid.Cells[0][2])
	assert.Equal(t, float32(-1), grid.Cells[0][0])
	assert.Equal(t, float32(0), grid.Cells[1][0])
}

func TestReadMapMissingResolutionErrors(t *testing.T) {
	_, err := readMap(strings.NewReader("1 0\n0 1\n"))
	assert.Error(t, err)
}

func TestReadMapEmptyErrors(t *testing.T) {
	_, err := readMap(strings.NewReader("resolution 0.1\n"))
	assert.Error(t, err)
}
