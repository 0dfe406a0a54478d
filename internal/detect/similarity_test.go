package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platewatch/internal/model"
)

func TestTextRatio(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "ABC1234", "ABC1234", 1},
		{"both empty", "", "", 1},
		{"one empty", "ABC1234", "", 0},
		{"disjoint", "ABC", "XYZ", 0},
		// One trailing character differs: 2*6/14.
		{"one char off", "ABC1234", "ABC1235", 12.0 / 14.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, TextRatio(tc.a, tc.b), 1e-9)
		})
	}
}

func TestTextRatio_ThresholdBehavior(t *testing.T) {
	threshold := 0.85

	// "ABC1234" vs "ABC1235" sits just above the dedup threshold: the
	// second sighting is treated as the same plate.
	assert.Greater(t, TextRatio("ABC1234", "ABC1235"), threshold)

	// A substantially different plate stays below it.
	assert.Less(t, TextRatio("ABC1234", "XDF9871"), threshold)
}

func grayFrame(t *testing.T, w, h int, fill func(x, y int) byte) *model.Frame {
	t.Helper()

	pixels := make([]byte, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pixels[y*w+x] = fill(x, y)
		}
	}
	f, err := model.NewFrame(pixels, w, h, model.PixelFormatGray8)
	require.NoError(t, err)
	return f
}

func TestHistogramCorrelation_IdenticalFrames(t *testing.T) {
	a := grayFrame(t, 32, 16, func(x, y int) byte { return byte((x * y) % 251) })
	b := grayFrame(t, 32, 16, func(x, y int) byte { return byte((x * y) % 251) })

	assert.InDelta(t, 1.0, HistogramCorrelation(a, b), 1e-9)
}

func TestHistogramCorrelation_DistinctFrames(t *testing.T) {
	dark := grayFrame(t, 32, 16, func(x, y int) byte { return 10 })
	spread := grayFrame(t, 32, 16, func(x, y int) byte { return byte((x + 16*y) % 256) })

	assert.Less(t, HistogramCorrelation(dark, spread), 0.9)
}

func TestResizeGray(t *testing.T) {
	src := grayFrame(t, 4, 4, func(x, y int) byte { return byte(x*10 + y) })

	out := ResizeGray(src, 2, 2)
	assert.Equal(t, 2, out.Width)
	assert.Equal(t, 2, out.Height)
	assert.Equal(t, model.PixelFormatGray8, out.Format)
	// Nearest neighbor picks source pixels (0,0), (2,0), (0,2), (2,2).
	assert.Equal(t, []byte{0, 20, 2, 22}, out.Pixels)
}
