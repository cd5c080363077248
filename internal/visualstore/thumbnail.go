package visualstore

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	_ "image/gif"
	_ "image/png"
)

// thumbnailMaxEdge bounds the longest edge of a generated thumbnail.
const thumbnailMaxEdge = 256

// thumbnailQuality is the JPEG quality used for thumbnail encoding.
const thumbnailQuality = 85

// CaptureFromFile reads and decodes an image from a filesystem path.
func CaptureFromFile(path string) (image.Image, CaptureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, CaptureSource{}, fmt.Errorf("reading capture file: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, CaptureSource{}, fmt.Errorf("decoding capture file: %w", err)
	}
	return img, CaptureSource{Kind: SourceFile, Path: path}, nil
}

// CaptureFromBase64 decodes an image from a base64 payload tagged with its
// mime type.
func CaptureFromBase64(payload, mime string) (image.Image, CaptureSource, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, CaptureSource{}, fmt.Errorf("decoding base64 capture: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, CaptureSource{}, fmt.Errorf("decoding base64 capture: %w", err)
	}
	return img, CaptureSource{Kind: SourceBase64, Mime: mime}, nil
}

// decodeDims reports the pixel dimensions of an encoded image without the
// caller needing to keep the decoded image.Image around.
func decodeDims(data []byte) (w, h int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// GenerateThumbnail nearest-neighbor resizes img so its longest edge is at
// most thumbnailMaxEdge, preserving aspect ratio, and encodes it as JPEG.
func GenerateThumbnail(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	targetW, targetH := w, h
	if w >= h && w > thumbnailMaxEdge {
		targetW = thumbnailMaxEdge
		targetH = maxInt(h*thumbnailMaxEdge/w, 1)
	} else if h > w && h > thumbnailMaxEdge {
		targetH = thumbnailMaxEdge
		targetW = maxInt(w*thumbnailMaxEdge/h, 1)
	}

	thumb := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		sy := b.Min.Y + y*h/targetH
		for x := 0; x < targetW; x++ {
			sx := b.Min.X + x*w/targetW
			thumb.Set(x, y, img.At(sx, sy))
		}
	}

	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality})
	return buf.Bytes()
}
