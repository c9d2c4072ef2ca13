package pipeline

import (
	"fmt"
	"time"
)

// Status is the outcome class of one stage.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial" // finished, but skipped some input
	StatusFatal   Status = "fatal"
)

// Stage names.
const (
	StageExtract   = "extract"
	StageTransform = "transform"
)

// Result reports how one stage ended. Skipped lists the identities of the
// inputs the stage could not use (archive URLs, file names).
type Result struct {
	Stage    string
	Status   Status
	Warnings []string
	Skipped  []string
	Duration time.Duration
	Err      error
}

// Fatal reports whether the stage aborted.
func (r *Result) Fatal() bool { return r.Status == StatusFatal }

// SkippedCount returns the number of skipped inputs.
func (r *Result) SkippedCount() int { return len(r.Skipped) }

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) skip(id string, err error) {
	r.Skipped = append(r.Skipped, id)
	r.warnf("skipped %s: %v", id, err)
}

func (r *Result) fail(err error) {
	r.Status = StatusFatal
	r.Err = err
}

// settle picks the final status unless the stage already failed.
func (r *Result) settle(start time.Time) {
	r.Duration = time.Since(start)
	if r.Status == StatusFatal {
		return
	}
	if len(r.Warnings) > 0 {
		r.Status = StatusPartial
		return
	}
	r.Status = StatusSuccess
}

// Summary is the outcome of one Extract, Transform or Run call.
type Summary struct {
	RunID      string
	Results    []Result
	ReportPath string
	BundlePath string
}

// Failed returns the first fatal result, or nil.
func (s *Summary) Failed() *Result {
	for i := range s.Results {
		if s.Results[i].Fatal() {
			return &s.Results[i]
		}
	}
	return nil
}

// Status returns the worst status across results.
func (s *Summary) Status() Status {
	status := StatusSuccess
	for _, r := range s.Results {
		switch r.Status {
		case StatusFatal:
			return StatusFatal
		case StatusPartial:
			status = StatusPartial
		}
	}
	return status
}
