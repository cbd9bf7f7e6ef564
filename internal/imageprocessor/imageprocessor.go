package imageprocessor

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/petclassify/internal/classifier"
	"github.com/example/petclassify/internal/features"
)

// Result contains the outcome returned by a classifier backend.
type Result struct {
	RequestID        string             `json:"request_id"`
	Prediction       classifier.Label   `json:"prediction"`
	Confidence       float64            `json:"confidence"`
	ProcessingTimeMs float64            `json:"processing_time_ms"`
	Fallback         bool               `json:"fallback"`
	Features         *features.Features `json:"features,omitempty"`
}

// Client classifies encoded image bytes, in process or over the network.
type Client interface {
	Classify(ctx context.Context, imageBytes []byte) (*Result, error)
}

// Local runs extraction and scoring in process. ProcessingTimeMs is the
// measured wall time of the call.
type Local struct {
	Noise classifier.Noise
	// Fallback substitutes a random classification for undecodable input.
	Fallback bool
	Source   classifier.Source
	// MaxPixels caps the declared image size; non-positive disables it.
	MaxPixels int64
}

// NewLocal returns a Local client drawing noise from src. A nil src uses
// process-wide randomness.
func NewLocal(src classifier.Source, fallback bool) *Local {
	l := &Local{Fallback: fallback, Source: src}
	if src != nil {
		l.Noise = classifier.Uniform(src)
	}
	return l
}

// Classify implements Client.
func (l *Local) Classify(ctx context.Context, imageBytes []byte) (*Result, error) {
	start := time.Now()
	result := &Result{RequestID: uuid.NewString()}

	f, err := features.ExtractLimited(ctx, bytes.NewReader(imageBytes), l.MaxPixels)
	var c classifier.Classification
	switch {
	case err == nil:
		result.Features = &f
		c = classifier.Classify(f, l.Noise)
	case l.Fallback && features.IsDecodeError(err):
		c = classifier.Fallback(l.Source)
		result.Fallback = true
	default:
		return nil, err
	}

	result.Prediction = c.Prediction
	result.Confidence = c.Confidence
	result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return result, nil
}
