package detect

import (
	"fmt"

	"livedetect/pkg/infer"
)

// ChannelOrder is the pixel channel layout the model was trained with.
// Which order (and which per-channel means) a given model expects is a
// configuration concern, not pipeline logic.
type ChannelOrder string

const (
	OrderRGB ChannelOrder = "rgb"
	OrderBGR ChannelOrder = "bgr"
)

// PreprocessConfig describes how raw frames map onto the model's input
// tensor.
type PreprocessConfig struct {
	InputShape []int64 // [batch, channels, height, width]
	Mean       [3]float32
	Scale      float32
	Order      ChannelOrder
}

// DefaultPreprocessConfig matches MobileNet-SSD style models.
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		InputShape: []int64{1, 3, 300, 300},
		Mean:       [3]float32{127.5, 127.5, 127.5},
		Scale:      127.5,
		Order:      OrderRGB,
	}
}

// preprocess resizes the frame to the model's input resolution
// (nearest-neighbour), reorders channels, normalizes each channel as
// (value-mean[c])/scale, and lays the result out as a flat channel-first
// float32 buffer of size batch*channels*height*width.
func preprocess(f Frame, cfg PreprocessConfig) (infer.Tensor, error) {
	if len(cfg.InputShape) != 4 {
		return infer.Tensor{}, fmt.Errorf("input shape must have 4 dims, got %d", len(cfg.InputShape))
	}
	batch := int(cfg.InputShape[0])
	channels := int(cfg.InputShape[1])
	height := int(cfg.InputShape[2])
	width := int(cfg.InputShape[3])

	if channels != 3 {
		return infer.Tensor{}, fmt.Errorf("expected 3 channels, got %d", channels)
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Pixels) < f.Width*f.Height*4 {
		return infer.Tensor{}, fmt.Errorf("frame %d has invalid pixel data", f.ID)
	}

	data := make([]float32, batch*channels*height*width)
	plane := height * width

	for y := 0; y < height; y++ {
		srcY := y * f.Height / height
		for x := 0; x < width; x++ {
			srcX := x * f.Width / width
			off := (srcY*f.Width + srcX) * 4

			r := float32(f.Pixels[off])
			g := float32(f.Pixels[off+1])
			b := float32(f.Pixels[off+2])

			c0, c1, c2 := r, g, b
			if cfg.Order == OrderBGR {
				c0, c2 = b, r
			}

			idx := y*width + x
			data[idx] = (c0 - cfg.Mean[0]) / cfg.Scale
			data[plane+idx] = (c1 - cfg.Mean[1]) / cfg.Scale
			data[2*plane+idx] = (c2 - cfg.Mean[2]) / cfg.Scale
		}
	}

	return infer.NewTensor(data, cfg.InputShape...), nil
}
