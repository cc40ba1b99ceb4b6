package upload

// pollBreaker trips after a run of consecutive poll failures. A success
// resets the count. It belongs to a single poll loop.
type pollBreaker struct {
	failures  int
	threshold int
}

func newPollBreaker(threshold int) *pollBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &pollBreaker{threshold: threshold}
}

func (b *pollBreaker) RecordSuccess() {
	b.failures = 0
}

// RecordFailure counts a failed poll and reports whether the breaker has
// tripped.
func (b *pollBreaker) RecordFailure() bool {
	b.failures++
	return b.failures >= b.threshold
}

func (b *pollBreaker) Failures() int {
	return b.failures
}
