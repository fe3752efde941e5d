// Package ingest validates externally supplied frame batches and bulk
// persists them. Validation is all-or-nothing: one bad entry rejects the
// whole payload before any row is written.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/b0gdan00/Aspirantura-research/internal/domain"
	"github.com/b0gdan00/Aspirantura-research/internal/ports"
)

// ValidationError marks a client-input problem, as opposed to a storage
// failure.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

var requiredFields = []string{"second", "temperature", "dif_pressure"}

// ParseFrames accepts either a bare list of frame objects or an object
// wrapping the list under a "frames" key. Each entry needs the three numeric
// fields; JSON numbers and numeric strings both convert.
func ParseFrames(payload []byte) ([]*domain.Frame, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, validationErrorf("invalid JSON body")
	}

	var items any
	switch v := decoded.(type) {
	case map[string]any:
		items = v["frames"]
	default:
		items = decoded
	}

	list, ok := items.([]any)
	if !ok || len(list) == 0 {
		return nil, validationErrorf("payload must contain a non-empty list of frames")
	}

	frames := make([]*domain.Frame, 0, len(list))
	for idx, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, validationErrorf("frame at index %d must be an object", idx)
		}

		var missing []string
		for _, field := range requiredFields {
			if _, ok := obj[field]; !ok {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			return nil, validationErrorf("frame at index %d missing required fields: %s",
				idx, strings.Join(missing, ", "))
		}

		second, okS := toFloat(obj["second"])
		temperature, okT := toFloat(obj["temperature"])
		difPressure, okP := toFloat(obj["dif_pressure"])
		if !okS || !okT || !okP {
			return nil, validationErrorf("frame at index %d has invalid numeric values", idx)
		}

		frames = append(frames, &domain.Frame{
			Second:      second,
			Temperature: temperature,
			DifPressure: difPressure,
		})
	}
	return frames, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

type Ingestor struct {
	frames  ports.FrameStore
	metrics ports.Metrics
}

func NewIngestor(frames ports.FrameStore, metrics ports.Metrics) *Ingestor {
	return &Ingestor{frames: frames, metrics: metrics}
}

// Ingest validates the payload and persists all frames in one bulk write
// associated with the experiment, returning the created count.
func (i *Ingestor) Ingest(ctx context.Context, experimentID int64, payload []byte) (int, error) {
	frames, err := ParseFrames(payload)
	if err != nil {
		return 0, err
	}
	for _, f := range frames {
		f.ExperimentID = experimentID
	}
	if err := i.frames.WriteFrames(ctx, experimentID, frames); err != nil {
		return 0, err
	}
	i.metrics.AddFramesIngested(len(frames))
	return len(frames), nil
}
