// Package accounting emits one structured record per finished job, the
// ambient collaborator spec.md §1 scopes as "an external accounting-
// stream replay process would tail" — this repository only emits.
// Grounded on the teacher's internal/controller package-level
// `var log = slog.Default()` logger pattern.
package accounting

import (
	"log/slog"

	"github.com/ChuLiYu/jers/pkg/model"
)

// Recorder emits one record per finished job. Implementations must
// not block the event loop; SlogRecorder's write is a single
// synchronous structured log call, which is fast enough not to need
// its own goroutine.
type Recorder interface {
	RecordJobFinished(job *model.Job)
}

// SlogRecorder writes one structured log line per finished job via
// the given logger, matching the field names a downstream accounting
// consumer would key off of.
type SlogRecorder struct {
	Log *slog.Logger
}

func NewSlogRecorder(log *slog.Logger) *SlogRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &SlogRecorder{Log: log}
}

func (r *SlogRecorder) RecordJobFinished(job *model.Job) {
	r.Log.Info("job_finished",
		"jobid", job.JobID,
		"name", job.Name,
		"queue", job.Queue,
		"submitter_uid", job.SubmitterUID,
		"run_uid", job.RunUID,
		"state", job.State.String(),
		"fail_reason", string(job.FailReason),
		"exit_code", job.ExitCode,
		"signal", job.Signal,
		"submit_time", job.SubmitTime,
		"start_time", job.StartTime,
		"finish_time", job.FinishTime,
		"user_time_usec", job.RUsage.UserTimeUsec,
		"system_time_usec", job.RUsage.SystemTimeUsec,
		"max_rss_kb", job.RUsage.MaxRSSKB,
	)
}
