package media

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"sync/atomic"
	"time"

	"livedetect/pkg/detect"
)

// JPEGDecoder decodes samples whose payload is a complete JPEG image into
// raw RGBA frames. Capture clients that send motion JPEG deliver one full
// image per sample, which keeps the laptop side free of codec state.
type JPEGDecoder struct {
	logger *slog.Logger
	nextID atomic.Int64
}

// NewJPEGDecoder creates a decoder. Frame IDs are assigned sequentially.
func NewJPEGDecoder(logger *slog.Logger) *JPEGDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &JPEGDecoder{logger: logger}
}

// Decode converts one sample into a frame. Samples that do not parse as a
// complete JPEG are skipped.
func (d *JPEGDecoder) Decode(s Sample) (detect.Frame, bool) {
	img, err := jpeg.Decode(bytes.NewReader(s.Data))
	if err != nil {
		d.logger.Debug("skipping undecodable sample", "error", err, "bytes", len(s.Data))
		return detect.Frame{}, false
	}

	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(bounds)
		draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	}

	return detect.Frame{
		ID:         d.nextID.Add(1),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Pixels:     rgba.Pix,
		CapturedAt: time.Now(),
	}, true
}
