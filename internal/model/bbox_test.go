package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBBox_ClipsOutOfRangeFloats(t *testing.T) {
	b, err := NewBBox(-12.7, -3.2, 700.9, 500.1, 640, 480)
	require.NoError(t, err)

	assert.Equal(t, 0, b.X1)
	assert.Equal(t, 0, b.Y1)
	assert.Equal(t, 639, b.X2)
	assert.Equal(t, 479, b.Y2)
}

func TestNewBBox_IntegerizesInRangeFloats(t *testing.T) {
	b, err := NewBBox(10.9, 20.1, 30.5, 40.99, 640, 480)
	require.NoError(t, err)

	assert.Equal(t, BBox{X1: 10, Y1: 20, X2: 30, Y2: 40}, b)
	assert.Equal(t, 20, b.Width())
	assert.Equal(t, 20, b.Height())
}

func TestNewBBox_RejectsDegenerate(t *testing.T) {
	cases := []struct {
		name           string
		x1, y1, x2, y2 float64
	}{
		{"zero width", 10, 10, 10, 50},
		{"inverted x", 50, 10, 10, 50},
		{"zero height", 10, 10, 50, 10},
		{"fully outside left", -100, 10, -50, 50},
		{"fully outside bottom", 10, 700, 50, 900},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBBox(tc.x1, tc.y1, tc.x2, tc.y2, 640, 480)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNewBBox_RejectsBadFrameSize(t *testing.T) {
	_, err := NewBBox(0, 0, 10, 10, 0, 480)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBBox_OffsetMapsROIBackToFrame(t *testing.T) {
	// A plate found at (5,5)-(25,15) inside a vehicle ROI whose origin is
	// (100,200) lands at (105,205)-(125,215) in frame space.
	local, err := NewBBox(5, 5, 25, 15, 200, 100)
	require.NoError(t, err)

	mapped, err := local.Offset(100, 200, 640, 480)
	require.NoError(t, err)
	assert.Equal(t, BBox{X1: 105, Y1: 205, X2: 125, Y2: 215}, mapped)
}

func TestBBox_OffsetClipsAtFrameEdge(t *testing.T) {
	local, err := NewBBox(0, 0, 100, 50, 200, 100)
	require.NoError(t, err)

	mapped, err := local.Offset(600, 450, 640, 480)
	require.NoError(t, err)
	assert.Equal(t, 639, mapped.X2)
	assert.Equal(t, 479, mapped.Y2)
}
