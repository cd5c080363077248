package visualstore

import (
	"bytes"
	"image"
	"image/color"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// diffThreshold is the pixel-value delta (0-255) above which a pixel is
// considered "changed".
const diffThreshold = 30

// ComputeDiff decodes two thumbnail images, resizes both to their common
// minimum dimensions with nearest-neighbor sampling, and reports their
// pixel-level difference.
func ComputeDiff(beforeID, afterID uint64, thumbA, thumbB []byte) (VisualDiff, error) {
	imgA, _, err := image.Decode(bytes.NewReader(thumbA))
	if err != nil {
		return VisualDiff{}, err
	}
	imgB, _, err := image.Decode(bytes.NewReader(thumbB))
	if err != nil {
		return VisualDiff{}, err
	}

	boundsA := imgA.Bounds()
	boundsB := imgB.Bounds()
	targetW := minInt(boundsA.Dx(), boundsB.Dx())
	targetH := minInt(boundsA.Dy(), boundsB.Dy())

	grayA := resizeGray(imgA, targetW, targetH)
	grayB := resizeGray(imgB, targetW, targetH)

	diffImg := image.NewGray(image.Rect(0, 0, targetW, targetH))
	var changedPixels, totalPixels int64
	totalPixels = int64(targetW) * int64(targetH)

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			a := int(grayA.GrayAt(x, y).Y)
			b := int(grayB.GrayAt(x, y).Y)
			d := a - b
			if d < 0 {
				d = -d
			}
			diffImg.SetGray(x, y, color.Gray{Y: uint8(d)})
			if d > diffThreshold {
				changedPixels++
			}
		}
	}

	var ratio float32
	if totalPixels > 0 {
		ratio = float32(changedPixels) / float32(totalPixels)
	}

	return VisualDiff{
		BeforeID:       beforeID,
		AfterID:        afterID,
		Similarity:     1.0 - ratio,
		ChangedRegions: findChangedRegions(diffImg),
		PixelDiffRatio: ratio,
	}, nil
}

// resizeGray nearest-neighbor resizes img to w×h and converts to grayscale,
// matching the original's resize_exact + to_luma8 pipeline.
func resizeGray(img image.Image, w, h int) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, w, h))
	src := img.Bounds()
	sw, sh := src.Dx(), src.Dy()
	if sw == 0 || sh == 0 || w == 0 || h == 0 {
		return out
	}
	for y := 0; y < h; y++ {
		sy := src.Min.Y + y*sh/h
		for x := 0; x < w; x++ {
			sx := src.Min.X + x*sw/w
			out.Set(x, y, img.At(sx, sy))
		}
	}
	return out
}

func findChangedRegions(diffImg *image.Gray) []Rect {
	b := diffImg.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	cellW := maxInt(w/8, 1)
	cellH := maxInt(h/8, 1)

	var regions []Rect
	for gy := 0; gy < maxInt(h/cellH, 1); gy++ {
		for gx := 0; gx < maxInt(w/cellW, 1); gx++ {
			x0 := gx * cellW
			y0 := gy * cellH
			x1 := minInt((gx+1)*cellW, w)
			y1 := minInt((gy+1)*cellH, h)

			var changed, total int
			total = (x1 - x0) * (y1 - y0)
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					if diffImg.GrayAt(x, y).Y > diffThreshold {
						changed++
					}
				}
			}

			if total > 0 && changed > total/10 {
				regions = append(regions, Rect{X: uint32(x0), Y: uint32(y0), W: uint32(x1 - x0), H: uint32(y1 - y0)})
			}
		}
	}

	return mergeAdjacentRegions(regions)
}

// mergeAdjacentRegions repeatedly collapses touching or overlapping
// rectangles until no more merges are possible.
func mergeAdjacentRegions(regions []Rect) []Rect {
	if len(regions) < 2 {
		return regions
	}

	merged := true
	for merged {
		merged = false
		for i := 0; i < len(regions); i++ {
			for j := i + 1; j < len(regions); {
				if rectsAdjacent(regions[i], regions[j]) {
					regions[i] = mergeRects(regions[i], regions[j])
					regions = append(regions[:j], regions[j+1:]...)
					merged = true
				} else {
					j++
				}
			}
		}
	}
	return regions
}

func rectsAdjacent(a, b Rect) bool {
	aRight, aBottom := a.X+a.W, a.Y+a.H
	bRight, bBottom := b.X+b.W, b.Y+b.H
	return !(aRight < b.X || bRight < a.X || aBottom < b.Y || bBottom < a.Y)
}

func mergeRects(a, b Rect) Rect {
	x := minU32(a.X, b.X)
	y := minU32(a.Y, b.Y)
	right := maxU32(a.X+a.W, b.X+b.W)
	bottom := maxU32(a.Y+a.H, b.Y+b.H)
	return Rect{X: x, Y: y, W: right - x, H: bottom - y}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
