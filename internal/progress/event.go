package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the job lifecycle transition an Event records.
type Stage string

// Lifecycle stages.
const (
	StageJobQueued   Stage = "JOB_QUEUED"
	StageJobStart    Stage = "JOB_START"
	StageJobProgress Stage = "JOB_PROGRESS"
	StageJobRetry    Stage = "JOB_RETRY"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
)

// Event captures one transition of a crawl job.
type Event struct {
	JobID string `json:"jobId"`
	// TS is the UTC time the emitter recorded the transition.
	TS       time.Time `json:"timestamp"`
	Stage    Stage     `json:"stage"`
	Source   string    `json:"source,omitempty"`
	Progress int       `json:"progress"`
	Attempt  int       `json:"attempt,omitempty"`
	Scraped  int       `json:"scraped,omitempty"`
	Saved    int       `json:"saved,omitempty"`
	Skipped  int       `json:"skipped,omitempty"`
	// Dur is the attempt runtime on JOB_DONE, JOB_ERROR and JOB_RETRY.
	Dur time.Duration `json:"durationNs,omitempty"`
	// Note carries the failure reason for JOB_ERROR and JOB_RETRY.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobQueued, StageJobStart, StageJobProgress, StageJobDone:
	case StageJobRetry, StageJobError:
		if e.Note == "" {
			return fmt.Errorf("%s requires a note", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Progress < 0 || e.Progress > 100 {
		return errors.New("progress must be within 0..100")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a job attempt.
func (e Event) Terminal() bool {
	switch e.Stage {
	case StageJobDone, StageJobError, StageJobRetry:
		return true
	default:
		return false
	}
}
