package detect

import (
	"fmt"

	"livedetect/pkg/infer"
)

// DefaultScoreThreshold filters out low-confidence detections.
const DefaultScoreThreshold = 0.5

// postprocess turns raw model outputs into normalized detections according
// to the format the backend declared at model-load time.
func postprocess(outputs map[string]infer.Tensor, info infer.ModelInfo, threshold float32, labels []string) ([]Detection, error) {
	switch info.OutputFormat {
	case infer.OutputFused:
		return postprocessFused(outputs, info, threshold, labels)
	default:
		return postprocessSplit(outputs, info, threshold, labels)
	}
}

// postprocessSplit handles the two-tensor contract: scores of shape
// [batch, numDetections, numClasses] and boxes of shape
// [batch, numDetections, 4]. Per detection the maximizing class over
// [1..numClasses) is taken; class 0 is background and excluded.
func postprocessSplit(outputs map[string]infer.Tensor, info infer.ModelInfo, threshold float32, labels []string) ([]Detection, error) {
	if len(info.OutputNames) < 2 {
		return nil, fmt.Errorf("split output format needs 2 output names, got %d", len(info.OutputNames))
	}

	scores, ok := outputs[info.OutputNames[0]]
	if !ok {
		return nil, fmt.Errorf("missing scores tensor %q", info.OutputNames[0])
	}
	boxes, ok := outputs[info.OutputNames[1]]
	if !ok {
		return nil, fmt.Errorf("missing boxes tensor %q", info.OutputNames[1])
	}
	if len(scores.Dims) != 3 {
		return nil, fmt.Errorf("scores tensor has %d dims, want 3", len(scores.Dims))
	}
	if len(boxes.Dims) != 3 || boxes.Dims[2] != 4 {
		return nil, fmt.Errorf("boxes tensor has unexpected shape %v", boxes.Dims)
	}

	numDetections := int(scores.Dims[1])
	numClasses := int(scores.Dims[2])
	if len(scores.Data) < numDetections*numClasses || len(boxes.Data) < numDetections*4 {
		return nil, fmt.Errorf("output tensors shorter than their dims imply")
	}

	var detections []Detection
	for i := 0; i < numDetections; i++ {
		best := -1
		var bestScore float32
		for c := 1; c < numClasses; c++ {
			s := scores.Data[i*numClasses+c]
			if best < 0 || s > bestScore {
				best = c
				bestScore = s
			}
		}

		if best < 0 || bestScore < threshold {
			continue
		}

		detections = append(detections, Detection{
			Label: labelFor(labels, best),
			Score: bestScore,
			XMin:  clamp01(boxes.Data[i*4]),
			YMin:  clamp01(boxes.Data[i*4+1]),
			XMax:  clamp01(boxes.Data[i*4+2]),
			YMax:  clamp01(boxes.Data[i*4+3]),
		})
	}

	return detections, nil
}

// postprocessFused handles the single-tensor contract of per-detection
// records [imageId, classId, score, xmin, ymin, xmax, ymax].
func postprocessFused(outputs map[string]infer.Tensor, info infer.ModelInfo, threshold float32, labels []string) ([]Detection, error) {
	if len(info.OutputNames) < 1 {
		return nil, fmt.Errorf("fused output format needs an output name")
	}

	fused, ok := outputs[info.OutputNames[0]]
	if !ok {
		return nil, fmt.Errorf("missing detection tensor %q", info.OutputNames[0])
	}

	const record = 7
	if len(fused.Data)%record != 0 {
		return nil, fmt.Errorf("fused tensor length %d is not a multiple of %d", len(fused.Data), record)
	}

	var detections []Detection
	for off := 0; off+record <= len(fused.Data); off += record {
		classID := int(fused.Data[off+1])
		score := fused.Data[off+2]

		// A negative imageId marks end-of-detections padding.
		if fused.Data[off] < 0 {
			break
		}
		if score < threshold {
			continue
		}

		detections = append(detections, Detection{
			Label: labelFor(labels, classID),
			Score: score,
			XMin:  clamp01(fused.Data[off+3]),
			YMin:  clamp01(fused.Data[off+4]),
			XMax:  clamp01(fused.Data[off+5]),
			YMax:  clamp01(fused.Data[off+6]),
		})
	}

	return detections, nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
