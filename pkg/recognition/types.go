package recognition

import (
	"sort"
	"strings"
	"time"
)

// PredictionResult is one recognized sign from the live recognizer,
// normalized from whichever response shape the server used.
type PredictionResult struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// BoundingBox locates the signer inside a video frame.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TranslationSegment is a time-bounded recognized unit within a video file.
// Times are in seconds from the start of the video.
type TranslationSegment struct {
	StartTime   float64      `json:"startTime"`
	EndTime     float64      `json:"endTime"`
	Prediction  string       `json:"prediction"`
	Confidence  float64      `json:"confidence"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
}

// Duration returns the segment length in seconds.
func (s TranslationSegment) Duration() float64 {
	if s.EndTime < s.StartTime {
		return 0
	}
	return s.EndTime - s.StartTime
}

// TranslationResult is the terminal output of batch processing.
type TranslationResult struct {
	ID       string               `json:"id"`
	Duration float64              `json:"duration"`
	Segments []TranslationSegment `json:"segments"`
	Summary  string               `json:"summary"`
}

// Normalize brings confidences onto the canonical scale and orders
// segments by start time. It returns a copy; the receiver is unchanged.
func (r TranslationResult) Normalize() TranslationResult {
	out := r
	out.Segments = make([]TranslationSegment, len(r.Segments))
	for i, s := range r.Segments {
		s.Confidence = NormalizeConfidence(s.Confidence)
		if s.BoundingBox != nil {
			bb := *s.BoundingBox
			s.BoundingBox = &bb
		}
		out.Segments[i] = s
	}
	sort.SliceStable(out.Segments, func(i, j int) bool {
		return out.Segments[i].StartTime < out.Segments[j].StartTime
	})
	return out
}

// Text joins the segment predictions in order, skipping repeats of the
// immediately preceding sign.
func (r TranslationResult) Text() string {
	var words []string
	for _, s := range r.Segments {
		if s.Prediction == "" {
			continue
		}
		if n := len(words); n > 0 && words[n-1] == s.Prediction {
			continue
		}
		words = append(words, s.Prediction)
	}
	return strings.Join(words, " ")
}
