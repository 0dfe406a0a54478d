package detect

import (
	"math"

	"platewatch/internal/model"
)

// TextRatio returns a similarity ratio in [0,1] between two strings:
// 2*LCS / (len(a)+len(b)). Identical strings score 1, disjoint ones 0.
func TextRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	// Longest common subsequence over two rolling rows.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	lcs := prev[len(b)]
	return 2 * float64(lcs) / float64(len(a)+len(b))
}

// grayHistogram builds a normalized 256-bin histogram of a gray frame.
func grayHistogram(f *model.Frame) [256]float64 {
	var hist [256]float64
	if len(f.Pixels) == 0 {
		return hist
	}
	for _, p := range f.Pixels {
		hist[p]++
	}
	n := float64(len(f.Pixels))
	for i := range hist {
		hist[i] /= n
	}
	return hist
}

// HistogramCorrelation computes the Pearson correlation of the normalized
// grayscale histograms of two equally-sized gray frames. Returns a value
// in [-1,1]; near-identical crops score close to 1.
func HistogramCorrelation(a, b *model.Frame) float64 {
	ha := grayHistogram(a)
	hb := grayHistogram(b)

	var meanA, meanB float64
	for i := 0; i < 256; i++ {
		meanA += ha[i]
		meanB += hb[i]
	}
	meanA /= 256
	meanB /= 256

	var cov, varA, varB float64
	for i := 0; i < 256; i++ {
		da := ha[i] - meanA
		db := hb[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		// Flat histograms: identical if both flat.
		if varA == varB {
			return 1
		}
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// ResizeGray scales a gray frame to w x h with nearest-neighbor sampling.
// Used to bring plate crops to a common size before comparison.
func ResizeGray(f *model.Frame, w, h int) *model.Frame {
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		srcY := y * f.Height / h
		for x := 0; x < w; x++ {
			srcX := x * f.Width / w
			out[y*w+x] = f.Pixels[srcY*f.Width+srcX]
		}
	}
	return &model.Frame{
		ID:         f.ID,
		Pixels:     out,
		Width:      w,
		Height:     h,
		Format:     model.PixelFormatGray8,
		CapturedAt: f.CapturedAt,
		Metadata:   f.Metadata,
	}
}
