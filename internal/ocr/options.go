package ocr

import "time"

// Options configures the consensus recognition loop
type Options struct {
	// Threshold schedule
	StartThreshold int
	Step           int
	Attempts       int

	// AttemptTimeout bounds each individual OCR call
	AttemptTimeout time.Duration
}

// DefaultOptions returns the schedule tuned for two-digit captchas
func DefaultOptions() Options {
	return Options{
		StartThreshold: 58,
		Step:           2,
		Attempts:       5,
		AttemptTimeout: 10 * time.Second,
	}
}

// WithSchedule returns options with a custom threshold schedule
func (opts Options) WithSchedule(start, step, attempts int) Options {
	opts.StartThreshold = start
	opts.Step = step
	opts.Attempts = attempts
	return opts
}

// WithAttemptTimeout returns options with a custom per-call timeout
func (opts Options) WithAttemptTimeout(timeout time.Duration) Options {
	opts.AttemptTimeout = timeout
	return opts
}

// Schedule returns the thresholds to try, in order
func (opts Options) Schedule() []int {
	return ThresholdSchedule(opts.StartThreshold, opts.Step, opts.Attempts)
}

// ThresholdSchedule generates start, start+step, ... for attempts entries.
func ThresholdSchedule(start, step, attempts int) []int {
	if attempts <= 0 {
		return []int{}
	}
	schedule := make([]int, attempts)
	for i := range schedule {
		schedule[i] = start + i*step
	}
	return schedule
}
