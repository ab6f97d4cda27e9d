package reid

import (
	"image"
	"math"

	"people-counter-go/internal/detection"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
)

// Crops are resampled to this size before feature extraction.
const (
	cropWidth  = 64
	cropHeight = 128
)

const (
	hueBins      = 16
	satBins      = 16
	valBins      = 16
	gradientBins = 9
	thirdsDims   = 3 * 3
	aspectScale  = 10.0

	// EmbeddingDim is the length of every vector returned by Extract.
	EmbeddingDim = hueBins + satBins + valBins + gradientBins + thirdsDims + 1
)

const (
	offHue      = 0
	offSat      = offHue + hueBins
	offVal      = offSat + satBins
	offGradient = offVal + valBins
	offThirds   = offGradient + gradientBins
	offAspect   = offThirds + thirdsDims
)

// Extract computes the unit-norm appearance fingerprint of the person inside
// box. Boxes that are empty after clipping to the frame yield a zero vector.
func Extract(frame image.Image, box detection.BBox) []float64 {
	emb := make([]float64, EmbeddingDim)
	if frame == nil {
		return emb
	}

	fb := frame.Bounds()
	x1 := max(fb.Min.X+int(box.X1), fb.Min.X)
	y1 := max(fb.Min.Y+int(box.Y1), fb.Min.Y)
	x2 := min(fb.Min.X+int(box.X2), fb.Max.X)
	y2 := min(fb.Min.Y+int(box.Y2), fb.Max.Y)
	if x2 <= x1 || y2 <= y1 {
		return emb
	}
	src := image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x2, y2)}

	crop := image.NewRGBA(image.Rect(0, 0, cropWidth, cropHeight))
	draw.BiLinear.Scale(crop, crop.Bounds(), frame, src, draw.Src, nil)

	colorHistograms(crop, emb)
	gradientHistogram(crop, emb[offGradient:offThirds])
	thirdsMeans(crop, emb[offThirds:offAspect])
	emb[offAspect] = float64(y2-y1) / float64(max(x2-x1, 1)) * aspectScale

	normalize(emb)
	return emb
}

// colorHistograms fills the H, S and V histograms using the 8-bit OpenCV
// ranges (H in [0,180), S and V in [0,256)).
func colorHistograms(crop *image.RGBA, emb []float64) {
	pix := crop.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		h, s, v := hsv(pix[i], pix[i+1], pix[i+2])
		emb[offHue+bin(h, 180, hueBins)]++
		emb[offSat+bin(s, 256, satBins)]++
		emb[offVal+bin(v, 256, valBins)]++
	}
}

func bin(x, upper float64, n int) int {
	b := int(x * float64(n) / upper)
	return min(max(b, 0), n-1)
}

// hsv converts 8-bit RGB to OpenCV scaled HSV.
func hsv(r8, g8, b8 uint8) (h, s, v float64) {
	r, g, b := float64(r8), float64(g8), float64(b8)
	v = max(r, g, b)
	diff := v - min(r, g, b)
	if v > 0 {
		s = 255 * diff / v
	}
	if diff == 0 {
		return 0, s, v
	}
	switch v {
	case r:
		h = 60 * (g - b) / diff
	case g:
		h = 120 + 60*(b-r)/diff
	default:
		h = 240 + 60*(r-g)/diff
	}
	if h < 0 {
		h += 360
	}
	return h / 2, s, v
}

// gradientHistogram accumulates gradient magnitude into orientation bins over
// [0,360). Derivatives use the [-1 0 1] kernel with reflect-101 borders.
func gradientHistogram(crop *image.RGBA, hist []float64) {
	w, h := cropWidth, cropHeight
	gray := make([]float64, w*h)
	for y := range h {
		for x := range w {
			i := crop.PixOffset(x, y)
			p := crop.Pix[i : i+3 : i+3]
			gray[y*w+x] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
		}
	}

	for y := range h {
		up, down := reflect101(y-1, h), reflect101(y+1, h)
		for x := range w {
			left, right := reflect101(x-1, w), reflect101(x+1, w)
			gx := gray[y*w+right] - gray[y*w+left]
			gy := gray[down*w+x] - gray[up*w+x]
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			angle := math.Atan2(gy, gx) * 180 / math.Pi
			if angle < 0 {
				angle += 360
			}
			hist[bin(angle, 360, gradientBins)] += mag
		}
	}
}

func reflect101(i, n int) int {
	switch {
	case i < 0:
		return -i
	case i >= n:
		return 2*n - i - 2
	}
	return i
}

// thirdsMeans writes the mean R, G, B of the top, middle and bottom thirds.
func thirdsMeans(crop *image.RGBA, out []float64) {
	bounds := [4]int{0, cropHeight / 3, 2 * cropHeight / 3, cropHeight}
	for t := range 3 {
		var sum [3]float64
		n := 0
		for y := bounds[t]; y < bounds[t+1]; y++ {
			for x := range cropWidth {
				i := crop.PixOffset(x, y)
				sum[0] += float64(crop.Pix[i])
				sum[1] += float64(crop.Pix[i+1])
				sum[2] += float64(crop.Pix[i+2])
				n++
			}
		}
		for c := range 3 {
			out[t*3+c] = sum[c] / float64(n)
		}
	}
}

// normalize scales v to unit length in place. Zero vectors are left as is.
func normalize(v []float64) {
	n := floats.Norm(v, 2)
	if n > 0 {
		floats.Scale(1/n, v)
	}
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is zero or their lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
