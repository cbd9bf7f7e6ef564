// Package classifier maps image Features to a cat/dog prediction using fixed
// weighted rules plus one bounded random adjustment. It keeps no state
// between calls.
package classifier

import (
	"math"

	"github.com/example/petclassify/internal/features"
)

// Label is the predicted class.
type Label string

const (
	Cat Label = "cat"
	Dog Label = "dog"
)

const (
	MinConfidence = 0.65
	MaxConfidence = 0.95
	ScoreFloor    = 0.3

	confidenceBias = 0.6
)

// Classification is the scorer output. ProcessingTimeMs is never set here;
// it belongs to whoever requested the classification.
type Classification struct {
	Prediction       Label   `json:"prediction"`
	Confidence       float64 `json:"confidence"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	CatScore         float64 `json:"cat_score"`
	DogScore         float64 `json:"dog_score"`
}

// Classify scores f. It never fails. noise supplies the random adjustment;
// nil uses a process-wide uniform source.
func Classify(f features.Features, noise Noise) Classification {
	var catScore, dogScore float64

	switch {
	case f.AspectRatio > 1.2:
		dogScore += 0.3
	case f.AspectRatio < 0.9:
		catScore += 0.2
	}

	for _, c := range f.DominantColors {
		switch c {
		case features.Orange, features.White, features.Gray:
			catScore += 0.15
		case features.Brown, features.Black:
			dogScore += 0.1
		}
	}

	if f.Brightness > 120 {
		catScore += 0.1
	} else {
		dogScore += 0.1
	}

	if f.Contrast > 100 {
		dogScore += 0.15
	} else {
		catScore += 0.1
	}

	adjust := noise.draw()
	catScore += adjust
	dogScore -= adjust

	catScore = math.Max(catScore, ScoreFloor)
	dogScore = math.Max(dogScore, ScoreFloor)

	prediction := Dog
	if catScore > dogScore {
		prediction = Cat
	}

	return Classification{
		Prediction: prediction,
		Confidence: clamp(math.Abs(catScore-dogScore)+confidenceBias, MinConfidence, MaxConfidence),
		CatScore:   catScore,
		DogScore:   dogScore,
	}
}

// Fallback returns a random classification with confidence in [0.70, 0.95).
// Callers use it when an image cannot be decoded and they still want to
// show a result; it is never applied by Classify itself.
func Fallback(src Source) Classification {
	if src == nil {
		src = globalSource{}
	}
	prediction := Cat
	if src.Float64() >= 0.5 {
		prediction = Dog
	}
	return Classification{
		Prediction: prediction,
		Confidence: 0.70 + src.Float64()*0.25,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
