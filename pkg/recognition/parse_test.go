package recognition

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParsePredictionShapes(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name      string
		payload   string
		wantOK    bool
		wantLabel string
		wantConf  float64
		wantErr   bool
	}{
		{name: "prediction shape", payload: `{"prediction":"HELLO","confidence":0.92}`, wantOK: true, wantLabel: "HELLO", wantConf: 0.92},
		{name: "current_word shape", payload: `{"current_word":"BYE","confidence":0.81}`, wantOK: true, wantLabel: "BYE", wantConf: 0.81},
		{name: "prediction wins over current_word", payload: `{"current_word":"B","prediction":"A","confidence":0.5}`, wantOK: true, wantLabel: "A", wantConf: 0.5},
		{name: "percentage confidence", payload: `{"prediction":"YES","confidence":87}`, wantOK: true, wantLabel: "YES", wantConf: 0.87},
		{name: "missing confidence", payload: `{"prediction":"NO"}`, wantOK: true, wantLabel: "NO", wantConf: 0},
		{name: "no sign", payload: `{"confidence":0.1}`, wantOK: false},
		{name: "empty label", payload: `{"prediction":"  "}`, wantOK: false},
		{name: "blank prediction falls through", payload: `{"prediction":"","current_word":"BYE","confidence":0.7}`, wantOK: true, wantLabel: "BYE", wantConf: 0.7},
		{name: "not json", payload: `not json`, wantErr: true},
		{name: "server error", payload: `{"error":"model not loaded"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := ParsePrediction([]byte(tt.payload), at)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Fatalf("err = %v, want ErrMalformedMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrediction: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Label != tt.wantLabel {
				t.Errorf("label = %q, want %q", got.Label, tt.wantLabel)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if !got.Timestamp.Equal(at) {
				t.Errorf("timestamp = %v, want %v", got.Timestamp, at)
			}
		})
	}
}

func TestNormalizeConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-1, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{50, 0.5},
		{100, 1},
		{250, 1},
	}
	for _, tt := range tests {
		if got := NormalizeConfidence(tt.in); got != tt.want {
			t.Errorf("NormalizeConfidence(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if Percent(0.926) != 93 {
		t.Errorf("Percent(0.926) = %d, want 93", Percent(0.926))
	}
}

func TestTranslationResultNormalize(t *testing.T) {
	raw := `{
		"id": "job-1",
		"duration": 12.5,
		"summary": "greeting",
		"segments": [
			{"startTime": 4.0, "endTime": 6.0, "prediction": "THANKS", "confidence": 74},
			{"startTime": 0.5, "endTime": 2.0, "prediction": "HELLO", "confidence": 0.9,
			 "boundingBox": {"x": 10, "y": 20, "width": 100, "height": 200}},
			{"startTime": 2.0, "endTime": 3.5, "prediction": "HELLO", "confidence": 0.8}
		]
	}`

	var res TranslationResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	norm := res.Normalize()
	if norm.Segments[0].Prediction != "HELLO" || norm.Segments[2].Prediction != "THANKS" {
		t.Fatalf("segments not ordered by start time: %+v", norm.Segments)
	}
	if norm.Segments[2].Confidence != 0.74 {
		t.Errorf("confidence = %v, want 0.74", norm.Segments[2].Confidence)
	}
	if res.Segments[0].Confidence != 74 {
		t.Error("Normalize mutated the receiver")
	}
	if norm.Segments[0].BoundingBox == nil || norm.Segments[0].BoundingBox.Width != 100 {
		t.Errorf("bounding box lost: %+v", norm.Segments[0].BoundingBox)
	}
	if got := norm.Text(); got != "HELLO THANKS" {
		t.Errorf("Text() = %q, want %q", got, "HELLO THANKS")
	}
	if d := norm.Segments[0].Duration(); d != 1.5 {
		t.Errorf("Duration() = %v, want 1.5", d)
	}
}
