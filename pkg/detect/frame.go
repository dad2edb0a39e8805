package detect

import "time"

// Frame is one raw captured image handed to the pipeline. Pixels is packed
// RGBA, row-major, 4 bytes per pixel, as produced by a canvas readback or
// a decoded video sample.
type Frame struct {
	ID         int64
	Width      int
	Height     int
	Pixels     []byte
	CapturedAt time.Time
}

// Detection is a single labeled, scored, normalized bounding box.
// Coordinates are fractions of the frame in [0,1].
type Detection struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
	XMin  float32 `json:"xmin"`
	YMin  float32 `json:"ymin"`
	XMax  float32 `json:"xmax"`
	YMax  float32 `json:"ymax"`
}

// Result is the immutable outcome of one processed frame.
type Result struct {
	FrameID           int64       `json:"frame_id"`
	CaptureTS         int64       `json:"capture_ts"`
	InferenceTS       int64       `json:"inference_ts"`
	InferenceDuration int64       `json:"inference_time"`
	Detections        []Detection `json:"detections"`
}
