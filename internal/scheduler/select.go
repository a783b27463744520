package scheduler

import (
	"time"

	"github.com/printspool/printspoold/internal/destination"
)

// Dispatcher hands a (job, printer) pair to the pipeline executor; the
// caller (the owning root) supplies the concrete implementation wired to
// internal/pipeline.
type Dispatcher func(job *Job, printer *destination.Printer) error

// SelectNextWork runs whenever a printer becomes idle, a new job lands, or
// a held job is released: it walks the job list in priority order and
// dispatches at most one job, per §4.7.
func SelectNextWork(t *Table, reg *destination.Registry, isRemote func(string) bool, dispatch Dispatcher) error {
	for _, j := range t.jobs {
		if j.State != JobPending {
			continue
		}

		var printer *destination.Printer
		if c, ok := reg.Class(j.Destination); ok {
			p, ok := reg.PickClassMember(c, isRemote)
			if !ok {
				continue
			}
			printer = p
		} else if p, ok := reg.Printer(j.Destination); ok {
			printer = p
		} else {
			continue
		}

		if printer.State != destination.StateIdle {
			continue
		}

		printer.State = destination.StateProcessing
		j.State = JobProcessing
		j.BoundPrinter = printer.Name
		j.ProcessingAt = now()

		if err := dispatch(j, printer); err != nil {
			printer.State = destination.StateIdle
			j.State = JobPending
			return err
		}
		return nil
	}
	return nil
}

// ChildExit is the final status of one pipeline process.
type ChildExit struct {
	IsBackend bool
	ExitCode  int
}

// Complete advances a job per the completion table, given the final
// status of the (job, printer)'s pipeline chain.
func Complete(j *Job, printer *destination.Printer, exits []ChildExit, policy ErrorPolicy, reg *destination.Registry) {
	backendFailed := false
	filterFailed := false
	for _, e := range exits {
		if e.ExitCode == 0 {
			continue
		}
		if e.IsBackend {
			backendFailed = true
		} else {
			filterFailed = true
		}
	}

	switch {
	case !backendFailed && !filterFailed:
		j.CurrentFileIndex++
		if j.CurrentFileIndex < len(j.Files) {
			// More spool files in this job: re-enter dispatch without
			// changing job or printer state.
			return
		}
		j.State = JobCompleted
		j.CompletedAt = now()
		printer.State = destination.StateIdle
	case filterFailed:
		if j.RetainHistory {
			j.State = JobAborted
		} else {
			j.State = JobCanceled
		}
		j.CompletedAt = now()
		printer.State = destination.StateIdle
	case backendFailed:
		applyErrorPolicy(j, printer, policy)
	}
}

func applyErrorPolicy(j *Job, printer *destination.Printer, policy ErrorPolicy) {
	switch policy {
	case ErrorPolicyRetryJob:
		j.State = JobPending
		j.BoundPrinter = ""
		printer.State = destination.StateIdle
	case ErrorPolicyRetryCurrentJob:
		// Re-dispatched to the same (job, printer) pair by the caller;
		// state stays processing/bound.
	case ErrorPolicyStopPrinter:
		printer.State = destination.StateStopped
		j.State = JobStopped
	case ErrorPolicyAbortJob:
		j.State = JobAborted
		j.CompletedAt = now()
		printer.State = destination.StateIdle
	}
}

// RetryStopped re-enters pending for every stopped job whose bound
// printer is idle again, clearing its binding; it does not look at the
// printer's error policy.
func RetryStopped(t *Table, reg *destination.Registry) {
	for _, j := range t.jobs {
		if j.State != JobStopped {
			continue
		}
		p, ok := reg.Printer(j.BoundPrinter)
		if !ok || p.State != destination.StateIdle {
			continue
		}
		j.State = JobPending
		j.BoundPrinter = ""
	}
}

// HoldTimerFunc arms a timer that calls release at the given time; the
// caller of ArmHoldTimer supplies it. The daemon root does not call
// ArmHoldTimer.
type HoldTimerFunc func(at time.Time, release func())

// ArmHoldTimer computes a wake time from a job's hold-until specification
// and arms a reactor timer to release the job automatically (§12
// supplemented feature, grounded on original_source/scheduler/job.c's
// IPP_JOB_HELD handling).
func ArmHoldTimer(j *Job, arm HoldTimerFunc) {
	if j.HoldUntil == nil {
		return
	}
	at := *j.HoldUntil
	arm(at, func() {
		_ = j.Release()
	})
}

// ResolveHoldUntil computes an absolute release time for the named
// job-hold-until value, relative to now. Absolute times are passed through
// unparsed by the caller (the transport layer owns IPP attribute parsing,
// out of scope here); "no-hold" yields a nil *time.Time.
func ResolveHoldUntil(value string, now time.Time) *time.Time {
	var t time.Time
	switch value {
	case "no-hold", "":
		return nil
	case "day-time":
		t = atHour(now, 6)
	case "evening":
		t = atHour(now, 18)
	case "night":
		t = atHour(now, 22)
	case "second-shift":
		t = atHour(now, 16)
	case "third-shift":
		t = atHour(now, 0)
	case "weekend":
		t = nextSaturday(now)
	default:
		return nil
	}
	return &t
}

func atHour(now time.Time, hour int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func nextSaturday(now time.Time) time.Time {
	days := (int(time.Saturday) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return atHour(now.AddDate(0, 0, days), 0)
}
