package recognition

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrMalformedMessage is returned for payloads that are not a recognizable
// recognizer response. Callers log and drop these.
var ErrMalformedMessage = errors.New("malformed recognition message")

// wireMessage covers every response shape the recognizer is known to send.
type wireMessage struct {
	Prediction  *string  `json:"prediction"`
	CurrentWord *string  `json:"current_word"`
	Confidence  *float64 `json:"confidence"`
	Error       string   `json:"error"`
}

// labelField returns the first non-blank label field in priority order.
func (m wireMessage) labelField() (string, bool) {
	for _, candidate := range []*string{m.Prediction, m.CurrentWord} {
		if candidate == nil {
			continue
		}
		if label := strings.TrimSpace(*candidate); label != "" {
			return label, true
		}
	}
	return "", false
}

// ParsePrediction decodes one inbound socket payload. The boolean result is
// false when the message is well formed but carries no sign.
func ParsePrediction(payload []byte, receivedAt time.Time) (PredictionResult, bool, error) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return PredictionResult{}, false, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Error != "" {
		return PredictionResult{}, false, fmt.Errorf("%w: recognizer error %q", ErrMalformedMessage, msg.Error)
	}

	label, ok := msg.labelField()
	if !ok {
		return PredictionResult{}, false, nil
	}

	var confidence float64
	if msg.Confidence != nil {
		confidence = NormalizeConfidence(*msg.Confidence)
	}

	return PredictionResult{
		Label:      label,
		Confidence: confidence,
		Timestamp:  receivedAt,
	}, true, nil
}

// NormalizeConfidence maps a reported confidence onto 0..1. Values above 1
// and up to 100 are read as percentages.
func NormalizeConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v <= 1:
		return v
	case v <= 100:
		return v / 100
	default:
		return 1
	}
}

// Percent renders a canonical confidence as a whole percentage.
func Percent(confidence float64) int {
	return int(math.Round(NormalizeConfidence(confidence) * 100))
}
