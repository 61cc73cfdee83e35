package baseio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInverseForwardRoundTrip(t *testing.T) {
	d := Differential{TrackWidth: 0.4}
	w := d.Inverse(0.5, 0.2)
	tv, rv := d.Forward(w)
	assert.InDelta(t, 0.5, tv, 1e-6)
	assert.InDelta(t, 0.2, rv, 1e-6)
}

func TestInverseStraightLineEqualWheelSpeeds(t *testing.T) {
	d := Differential{TrackWidth: 0.4}
	w := d.Inverse(1.0, 0)
	assert.Equal(t, w.Left, w.Right)
}

func TestForwardZeroTrackWidthYieldsZeroRotation(t *testing.T) {
	d := Differential{TrackWidth: 0}
	_, rv := d.Forward(WheelSpeeds{Left: 1, Right: 2})
	assert.Equal(t, float32(0), rv)
}
