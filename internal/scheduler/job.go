// Package scheduler implements job lifecycle, admission, selection, and
// completion handling: the core of §4.7. Grounded on
// original_source/scheduler/job.c (state transitions, error-policy
// dispatch) and classes.c (class member selection, delegated to
// internal/destination.PickClassMember).
package scheduler

import (
	"sort"
	"time"

	"github.com/printspool/printspoold/internal/destination"
	"github.com/printspool/printspoold/internal/errs"
)

// JobState is one state in the job lifecycle state machine.
type JobState int

const (
	JobPending JobState = iota
	JobHeld
	JobProcessing
	JobStopped
	JobCompleted
	JobCanceled
	JobAborted
)

func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobCanceled || s == JobAborted
}

// ErrorPolicy governs what happens to a job when its back-end exits
// non-zero. retry-current-job (a supplemented feature, §12) re-dispatches
// the same (job, printer) pair without re-entering selection; retry-job
// requeues the job for ordinary selection; the rest are as named.
type ErrorPolicy int

const (
	ErrorPolicyRetryJob ErrorPolicy = iota
	ErrorPolicyRetryCurrentJob
	ErrorPolicyStopPrinter
	ErrorPolicyAbortJob
)

// SpoolFile is one data file of a job.
type SpoolFile struct {
	Path     string
	MIMEType string
}

// Job is one print job.
type Job struct {
	ID          uint64
	Destination string // printer or class name
	User        string
	Title       string
	Priority    int
	State       JobState
	CreatedAt   time.Time
	ProcessingAt, CompletedAt time.Time

	Files            []SpoolFile
	CurrentFileIndex int // 0-based index into Files; == len(Files) at completion

	SheetsCompleted int64
	KOctets         int64

	BoundPrinter string
	HoldUntil    *time.Time

	RetainHistory bool
}

// Snapshot is a read-only view of a Job, supporting attribute-name
// filtering so a transport layer can project without re-walking job
// state (§12 supplemented feature).
type Snapshot struct {
	ID              uint64
	Destination     string
	User            string
	Title           string
	State           JobState
	SheetsCompleted int64
	KOctets         int64
}

// Snapshot returns a filtered view of the job's attributes; an empty
// names set returns every attribute.
func (j *Job) Snapshot(names map[string]bool) Snapshot {
	s := Snapshot{ID: j.ID, Destination: j.Destination, User: j.User, Title: j.Title, State: j.State, SheetsCompleted: j.SheetsCompleted, KOctets: j.KOctets}
	if len(names) == 0 {
		return s
	}
	filtered := Snapshot{}
	if names["job-id"] {
		filtered.ID = s.ID
	}
	if names["job-printer-uri"] || names["printer-name"] {
		filtered.Destination = s.Destination
	}
	if names["job-originating-user-name"] {
		filtered.User = s.User
	}
	if names["job-name"] {
		filtered.Title = s.Title
	}
	if names["job-state"] {
		filtered.State = s.State
	}
	if names["job-media-sheets-completed"] {
		filtered.SheetsCompleted = s.SheetsCompleted
	}
	if names["job-k-octets"] {
		filtered.KOctets = s.KOctets
	}
	return filtered
}

// Table is the global job list plus the monotonically increasing id
// counter. NextID starts at the value passed to NewTable; Table does not
// persist it, and does not reseed it from existing jobs on startup.
type Table struct {
	NextID uint64
	jobs   []*Job

	// MaxHistory caps how many terminal jobs the table keeps once they
	// finish (§5 "maximum job-history retention"); 0 means unbounded.
	// Non-terminal jobs are never pruned.
	MaxHistory int
}

func NewTable(nextID uint64) *Table {
	return &Table{NextID: nextID}
}

// PruneHistory drops the oldest-completed terminal jobs once their
// count exceeds MaxHistory, oldest CompletedAt first. Active
// (non-terminal) jobs are never removed regardless of MaxHistory.
func (t *Table) PruneHistory() {
	if t.MaxHistory <= 0 {
		return
	}
	terminalIdx := make([]int, 0, len(t.jobs))
	for i, j := range t.jobs {
		if j.State.Terminal() {
			terminalIdx = append(terminalIdx, i)
		}
	}
	over := len(terminalIdx) - t.MaxHistory
	if over <= 0 {
		return
	}
	sort.Slice(terminalIdx, func(a, b int) bool {
		return t.jobs[terminalIdx[a]].CompletedAt.Before(t.jobs[terminalIdx[b]].CompletedAt)
	})
	drop := make(map[int]bool, over)
	for _, i := range terminalIdx[:over] {
		drop[i] = true
	}
	kept := t.jobs[:0]
	for i, j := range t.jobs {
		if !drop[i] {
			kept = append(kept, j)
		}
	}
	t.jobs = kept
}

// Admit runs admissionCheck (the daemon passes its quota check), confirms
// the destination names a known printer or class, assigns an id, and
// sorts the job into the list by descending priority (ties by ascending
// id). It does not check the destination's accepting flag or a policy.
func (t *Table) Admit(j *Job, reg *destination.Registry, admissionCheck func(*Job) error) (*Job, error) {
	if admissionCheck != nil {
		if err := admissionCheck(j); err != nil {
			return nil, err
		}
	}

	if _, isPrinter := reg.Printer(j.Destination); !isPrinter {
		if _, isClass := reg.Class(j.Destination); !isClass {
			return nil, errs.New(errs.BadFileType, "unknown destination: "+j.Destination)
		}
	}

	j.ID = t.NextID
	t.NextID++
	j.State = JobPending
	j.CreatedAt = now()

	t.insertSorted(j)
	return j, nil
}

func (t *Table) insertSorted(j *Job) {
	idx := len(t.jobs)
	for i, existing := range t.jobs {
		if j.Priority > existing.Priority || (j.Priority == existing.Priority && j.ID < existing.ID) {
			idx = i
			break
		}
	}
	t.jobs = append(t.jobs, nil)
	copy(t.jobs[idx+1:], t.jobs[idx:])
	t.jobs[idx] = j
}

// Jobs returns the job list in priority order.
func (t *Table) Jobs() []*Job { return t.jobs }

// Find returns the job with the given id, if present.
func (t *Table) Find(id uint64) (*Job, bool) {
	for _, j := range t.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

// Hold transitions a job from pending to held.
func (j *Job) Hold(until *time.Time) error {
	if j.State != JobPending {
		return errs.New(errs.PolicyDenied, "only a pending job can be held")
	}
	j.State = JobHeld
	j.HoldUntil = until
	return nil
}

// Release transitions a job from held back to pending.
func (j *Job) Release() error {
	if j.State != JobHeld {
		return errs.New(errs.PolicyDenied, "job is not held")
	}
	j.State = JobPending
	j.HoldUntil = nil
	return nil
}

// Cancel transitions a job to canceled from any non-terminal state.
func (j *Job) Cancel() {
	if j.State.Terminal() {
		return
	}
	j.State = JobCanceled
}

var now = time.Now
