package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pitabwire/util"
)

// RecordedEvent is an envelope with its position in the recorder.
type RecordedEvent struct {
	Seq int64 `json:"seq"`
	Envelope
}

// Recorder is a queue subscriber that keeps the most recent envelopes for
// incremental reads.
type Recorder struct {
	mu      sync.RWMutex
	max     int
	nextSeq int64
	entries []RecordedEvent
}

// NewRecorder creates a recorder holding at most size events.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = 500
	}
	return &Recorder{max: size, entries: make([]RecordedEvent, 0, size)}
}

// Handle is called by frame's pub/sub for each event message.
func (r *Recorder) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		util.Log(ctx).WithError(err).Error("event recorder: unmarshal envelope")
		return err
	}
	r.Record(env)
	return nil
}

// Record appends env, evicting the oldest event when full.
func (r *Recorder) Record(env Envelope) RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	rec := RecordedEvent{Seq: r.nextSeq, Envelope: env}
	if len(r.entries) == r.max {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, rec)
	return rec
}

// Since returns events with a sequence greater than seq, oldest first.
func (r *Recorder) Since(seq int64) []RecordedEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RecordedEvent, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
