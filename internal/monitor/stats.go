package monitor

import (
	"strings"
	"time"
)

const (
	historySize = 30
	recentSize  = 8
)

// Line prefixes used by the progress stream.
const (
	prefixLog   = "LOG: "
	prefixInfo  = "INFO: "
	prefixError = "ERROR: "
)

// Kind classifies one progress line.
type Kind int

const (
	KindOther Kind = iota
	KindLog
	KindInfo
	KindError
)

// Classify reports the kind of a progress line. Continuation lines of a
// multi-line ERROR block are KindOther.
func Classify(line string) Kind {
	switch {
	case strings.HasPrefix(line, prefixLog):
		return KindLog
	case strings.HasPrefix(line, prefixInfo):
		return KindInfo
	case strings.HasPrefix(line, prefixError):
		return KindError
	default:
		return KindOther
	}
}

// Stats accumulates progress for one run.
type Stats struct {
	Events  int
	Infos   int
	Errors  int
	Started time.Time
	Ended   time.Time

	// Last is the last non-empty line; a run failed when it is an ERROR.
	Last string

	Recent      []string
	RateHistory []float64

	window     int
	lastSample time.Time
}

// NewStats starts a run clock at now.
func NewStats(now time.Time) *Stats {
	return &Stats{
		Started:     now,
		lastSample:  now,
		Recent:      make([]string, 0, recentSize),
		RateHistory: make([]float64, 0, historySize),
	}
}

// Observe records one streamed line.
func (s *Stats) Observe(line string) {
	if line == "" {
		return
	}
	switch Classify(line) {
	case KindLog:
		s.Events++
		s.window++
	case KindInfo:
		s.Infos++
	case KindError:
		s.Errors++
	}
	s.Last = line
	s.Recent = appendBounded(s.Recent, line, recentSize)
}

// Sample closes the current rate window at now and pushes events per second
// onto the rate history.
func (s *Stats) Sample(now time.Time) {
	elapsed := now.Sub(s.lastSample).Seconds()
	if elapsed <= 0 {
		return
	}
	s.RateHistory = appendBounded(s.RateHistory, float64(s.window)/elapsed, historySize)
	s.window = 0
	s.lastSample = now
}

// Rate is the most recent sampled rate, or zero before the first sample.
func (s *Stats) Rate() float64 {
	if len(s.RateHistory) == 0 {
		return 0
	}
	return s.RateHistory[len(s.RateHistory)-1]
}

// Finish stops the run clock.
func (s *Stats) Finish(now time.Time) {
	if s.Ended.IsZero() {
		s.Ended = now
	}
}

// Elapsed is the run time so far, or the total once finished.
func (s *Stats) Elapsed(now time.Time) time.Duration {
	if !s.Ended.IsZero() {
		return s.Ended.Sub(s.Started)
	}
	return now.Sub(s.Started)
}

// Failed reports whether the run ended with an ERROR line.
func (s *Stats) Failed() bool {
	return Classify(s.Last) == KindError
}

func appendBounded[T any](items []T, v T, limit int) []T {
	items = append(items, v)
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items
}
