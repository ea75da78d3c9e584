package service

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/Aashish23092/invoice-reconcile/client"
)

// Preprocessing variant names, in the order the voter walks them.
const (
	VariantGray     = "gray"
	VariantCLAHE    = "clahe"
	VariantOtsu     = "otsu"
	VariantAdaptive = "adaptive"
)

const (
	claheClipLimit = 2.0
	claheTiles     = 8
	adaptiveBlock  = 11
	adaptiveC      = 2.0
)

// BuildVariants returns the grayscale image and its enhanced and binarized
// versions. Otsu and adaptive thresholding run on the CLAHE output.
func BuildVariants(img image.Image) []client.Page {
	gray := Grayscale(img)
	enhanced := CLAHE(gray, claheClipLimit, claheTiles, claheTiles)

	return []client.Page{
		{Variant: VariantGray, Image: gray},
		{Variant: VariantCLAHE, Image: enhanced},
		{Variant: VariantOtsu, Image: Otsu(enhanced)},
		{Variant: VariantAdaptive, Image: AdaptiveThreshold(enhanced, adaptiveBlock, adaptiveC)},
	}
}

// Grayscale converts img to an 8-bit gray image anchored at the origin.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// CLAHE applies contrast-limited adaptive histogram equalization over a
// tilesX by tilesY grid, blending neighbouring tile mappings bilinearly.
func CLAHE(src *image.Gray, clipLimit float64, tilesX, tilesY int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	tilesX = max(1, min(tilesX, w))
	tilesY = max(1, min(tilesY, h))

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		y0, y1 := ty*h/tilesY, (ty+1)*h/tilesY
		for tx := 0; tx < tilesX; tx++ {
			x0, x1 := tx*w/tilesX, (tx+1)*w/tilesX
			luts[ty*tilesX+tx] = tileLUT(src, b.Min, x0, y0, x1, y1, clipLimit)
		}
	}

	tileW := float64(w) / float64(tilesX)
	tileH := float64(h) / float64(tilesY)

	for y := 0; y < h; y++ {
		ty0, ty1, fy := neighbours(y, tileH, tilesY)
		for x := 0; x < w; x++ {
			tx0, tx1, fx := neighbours(x, tileW, tilesX)
			v := src.GrayAt(b.Min.X+x, b.Min.Y+y).Y

			top := (1-fx)*float64(luts[ty0*tilesX+tx0][v]) + fx*float64(luts[ty0*tilesX+tx1][v])
			bottom := (1-fx)*float64(luts[ty1*tilesX+tx0][v]) + fx*float64(luts[ty1*tilesX+tx1][v])
			dst.SetGray(x, y, color.Gray{Y: clamp8((1-fy)*top + fy*bottom)})
		}
	}
	return dst
}

func tileLUT(src *image.Gray, origin image.Point, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[src.GrayAt(origin.X+x, origin.Y+y).Y]++
		}
	}
	n := (x1 - x0) * (y1 - y0)

	limit := max(1, int(clipLimit*float64(n)/256))
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	bonus, residual := excess/256, excess%256
	for i := range hist {
		hist[i] += bonus
	}
	if residual > 0 {
		step := max(1, 256/residual)
		for i := 0; i < 256 && residual > 0; i += step {
			hist[i]++
			residual--
		}
	}

	var lut [256]uint8
	cdf := 0
	for i := range hist {
		cdf += hist[i]
		lut[i] = clamp8(float64(cdf) * 255 / float64(n))
	}
	return lut
}

// neighbours locates the two tile centres surrounding pos and the weight of
// the second one.
func neighbours(pos int, tileSize float64, tiles int) (int, int, float64) {
	g := (float64(pos)+0.5)/tileSize - 0.5
	if g <= 0 {
		return 0, 0, 0
	}
	i0 := int(math.Floor(g))
	if i0 >= tiles-1 {
		return tiles - 1, tiles - 1, 0
	}
	return i0, i0 + 1, g - float64(i0)
}

// Otsu binarizes src with the global threshold maximizing between-class
// variance.
func Otsu(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	var hist [256]int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			hist[src.GrayAt(x, y).Y]++
		}
	}
	total := b.Dx() * b.Dy()
	if total == 0 {
		return dst
	}

	sum := 0.0
	for i, c := range hist {
		sum += float64(i * c)
	}

	var (
		sumB, best float64
		wB         int
		threshold  uint8
	)
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if src.GrayAt(b.Min.X+x, b.Min.Y+y).Y > threshold {
				dst.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return dst
}

// AdaptiveThreshold binarizes each pixel against the Gaussian-weighted mean
// of its block x block neighbourhood minus c.
func AdaptiveThreshold(src *image.Gray, block int, c float64) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	if block%2 == 0 {
		block++
	}
	kernel := gaussianKernel(block)
	r := block / 2

	// separable blur, borders replicated
	horiz := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0.0
			for k := -r; k <= r; k++ {
				xx := min(max(x+k, 0), w-1)
				acc += kernel[k+r] * float64(src.GrayAt(b.Min.X+xx, b.Min.Y+y).Y)
			}
			horiz[y*w+x] = acc
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mean := 0.0
			for k := -r; k <= r; k++ {
				yy := min(max(y+k, 0), h-1)
				mean += kernel[k+r] * horiz[yy*w+x]
			}
			if float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y) > mean-c {
				dst.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return dst
}

func gaussianKernel(size int) []float64 {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	r := size / 2
	kernel := make([]float64, size)
	sum := 0.0
	for i := range kernel {
		d := float64(i - r)
		kernel[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}
