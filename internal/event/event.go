// Package event implements the event/subscription fabric of §4.9: event
// emission, derived job-state reasons, bounded per-subscription rings,
// and subscription lifetime (lease expiry, job-terminal destruction).
// Grounded on eventloop/eventtarget.go's listener-registry shape (a
// mutex-protected map keyed by an incrementing id) and on
// original_source/scheduler/subscriptions.c (event struct fields, ring
// semantics, lease/expire bookkeeping).
package event

import (
	"sync"
	"time"

	"github.com/printspool/printspoold/internal/destination"
	"github.com/printspool/printspoold/internal/errs"
	"github.com/printspool/printspoold/internal/pipeline"
	"github.com/printspool/printspoold/internal/scheduler"
)

// Kind is one of the event kinds named in the glossary's notify-events
// list. Kept as a string rather than an enum: the set is an open,
// externally-documented vocabulary (subscription masks and the
// notifier wire format both speak it directly).
type Kind string

const (
	KindAll                      Kind = "all"
	KindPrinterRestarted         Kind = "printer-restarted"
	KindPrinterShutdown          Kind = "printer-shutdown"
	KindPrinterStopped           Kind = "printer-stopped"
	KindPrinterFinishingsChanged Kind = "printer-finishings-changed"
	KindPrinterMediaChanged      Kind = "printer-media-changed"
	KindPrinterAdded             Kind = "printer-added"
	KindPrinterDeleted           Kind = "printer-deleted"
	KindPrinterModified          Kind = "printer-modified"
	KindPrinterQueueOrderChanged Kind = "printer-queue-order-changed"
	KindPrinterStateChanged      Kind = "printer-state-changed"
	KindPrinterConfigChanged     Kind = "printer-config-changed"
	KindPrinterChanged           Kind = "printer-changed"
	KindJobCreated               Kind = "job-created"
	KindJobCompleted             Kind = "job-completed"
	KindJobStopped               Kind = "job-stopped"
	KindJobConfigChanged         Kind = "job-config-changed"
	KindJobProgress               Kind = "job-progress"
	KindJobStateChanged          Kind = "job-state-changed"
	KindServerRestarted          Kind = "server-restarted"
	KindServerStarted            Kind = "server-started"
	KindServerStopped            Kind = "server-stopped"
	KindServerAudit              Kind = "server-audit"
)

// PrinterSnapshot is the printer half of an event record.
type PrinterSnapshot struct {
	Name      string
	State     destination.State
	Accepting bool
	Reasons   []string
}

// JobSnapshot is the job half of an event record.
type JobSnapshot struct {
	ID          uint64
	Destination string
	State       scheduler.JobState
	Reason      string
}

// Record is one emitted event, stored by value in subscription rings.
type Record struct {
	Seq     uint64
	Kind    Kind
	At      time.Time
	Printer *PrinterSnapshot
	Job     *JobSnapshot
	Message string
}

// jobStateReason implements the derived job-state-reasons table.
func jobStateReason(js scheduler.JobState, printerStopped bool, holdUntilSet bool) string {
	switch js {
	case scheduler.JobPending:
		if printerStopped {
			return "printer-stopped"
		}
		return ""
	case scheduler.JobHeld:
		if holdUntilSet {
			return "job-hold-until-specified"
		}
		return "job-incoming"
	case scheduler.JobProcessing:
		return "job-printing"
	case scheduler.JobStopped:
		return "job-stopped"
	case scheduler.JobCanceled:
		return "job-canceled-by-user"
	case scheduler.JobAborted:
		return "aborted-by-system"
	case scheduler.JobCompleted:
		return "job-completed-successfully"
	default:
		return ""
	}
}

// SnapshotJob builds the job-half of an event record, deriving its reason
// token from the job's own state and its bound printer's state.
func SnapshotJob(j *scheduler.Job, printer *destination.Printer) *JobSnapshot {
	if j == nil {
		return nil
	}
	stopped := printer != nil && printer.State == destination.StateStopped
	return &JobSnapshot{
		ID:          j.ID,
		Destination: j.Destination,
		State:       j.State,
		Reason:      jobStateReason(j.State, stopped, j.HoldUntil != nil),
	}
}

// SnapshotPrinter builds the printer-half of an event record from the
// printer's own state plus its filter-chain state reasons (as scraped
// off the status pipe by internal/pipeline).
func SnapshotPrinter(p *destination.Printer, reasons pipeline.ReasonSet) *PrinterSnapshot {
	if p == nil {
		return nil
	}
	s := &PrinterSnapshot{Name: p.Name, State: p.State, Accepting: p.Accepting}
	for r := range reasons {
		s.Reasons = append(s.Reasons, r)
	}
	return s
}

// ring is a fixed-capacity, oldest-dropped-on-overflow event buffer.
// firstSeq is the sequence number of buf[0] once the ring has wrapped.
type ring struct {
	buf      []Record
	maxSize  int
	nextSeq  uint64
	firstSeq uint64
}

func newRing(maxSize int) *ring {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &ring{maxSize: maxSize, nextSeq: 1, firstSeq: 1}
}

func (r *ring) append(rec Record) Record {
	rec.Seq = r.nextSeq
	r.nextSeq++
	r.buf = append(r.buf, rec)
	if len(r.buf) > r.maxSize {
		r.buf = r.buf[1:]
		r.firstSeq++
	}
	return rec
}

func (r *ring) events() []Record {
	out := make([]Record, len(r.buf))
	copy(out, r.buf)
	return out
}

// Filter narrows a subscription to a specific printer and/or job; a
// zero-value Filter (both empty) matches everything.
type Filter struct {
	Printer string
	JobID   uint64 // 0 = no job filter
}

func (f Filter) matches(rec Record) bool {
	if f.Printer != "" {
		if rec.Printer == nil || rec.Printer.Name != f.Printer {
			if rec.Job == nil || rec.Job.Destination != f.Printer {
				return false
			}
		}
	}
	if f.JobID != 0 {
		if rec.Job == nil || rec.Job.ID != f.JobID {
			return false
		}
	}
	return true
}

// Subscriber is a registered recipient of matching events.
type Subscriber struct {
	ID       uint64
	Mask     map[Kind]bool // KindAll present => matches every kind
	Filter   Filter
	Lease    time.Duration
	ExpireAt time.Time // zero = no lease

	ring *ring
}

func (s *Subscriber) matchesKind(k Kind) bool {
	return s.Mask[KindAll] || s.Mask[k]
}

// Events returns the subscriber's current ring contents.
func (s *Subscriber) Events() []Record { return s.ring.events() }

// FirstSeq is the sequence number of the oldest event still held.
func (s *Subscriber) FirstSeq() uint64 { return s.ring.firstSeq }

// Limits caps how many subscriptions the bus will hold at once (§5
// "Resource caps"). A zero field means that particular cap is
// unenforced.
type Limits struct {
	MaxTotal      int
	MaxPerPrinter int
	MaxPerJob     int
}

// Bus is the owning root's event fabric: one per daemon instance.
// Grounded on eventloop.EventTarget's mutex-protected registry shape,
// generalized from DOM listener callbacks to bounded per-subscriber
// rings.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]*Subscriber
	nextID      uint64
	limits      Limits
}

func NewBus() *Bus {
	return NewBusWithLimits(Limits{})
}

// NewBusWithLimits constructs a bus enforcing the given subscription
// caps (§5).
func NewBusWithLimits(limits Limits) *Bus {
	return &Bus{subscribers: make(map[uint64]*Subscriber), nextID: 1, limits: limits}
}

// Subscribe registers a subscriber with the given mask/filter/ring size
// and lease, returning its id. Fails with errs.ResourceExhausted if
// admitting it would cross a configured cap (§5): total subscriptions,
// subscriptions scoped to filter.Printer, or subscriptions scoped to
// filter.JobID.
func (b *Bus) Subscribe(kinds []Kind, filter Filter, maxEvents int, lease time.Duration, now time.Time) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limits.MaxTotal > 0 && len(b.subscribers) >= b.limits.MaxTotal {
		return 0, errs.Wrap(errs.ResourceExhausted, "subscription limit reached", nil)
	}
	if b.limits.MaxPerPrinter > 0 && filter.Printer != "" {
		n := 0
		for _, sub := range b.subscribers {
			if sub.Filter.Printer == filter.Printer {
				n++
			}
		}
		if n >= b.limits.MaxPerPrinter {
			return 0, errs.Wrap(errs.ResourceExhausted, "per-printer subscription limit reached", nil)
		}
	}
	if b.limits.MaxPerJob > 0 && filter.JobID != 0 {
		n := 0
		for _, sub := range b.subscribers {
			if sub.Filter.JobID == filter.JobID {
				n++
			}
		}
		if n >= b.limits.MaxPerJob {
			return 0, errs.Wrap(errs.ResourceExhausted, "per-job subscription limit reached", nil)
		}
	}

	mask := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		mask[k] = true
	}

	id := b.nextID
	b.nextID++

	sub := &Subscriber{ID: id, Mask: mask, Filter: filter, Lease: lease, ring: newRing(maxEvents)}
	if lease > 0 {
		sub.ExpireAt = now.Add(lease)
	}
	b.subscribers[id] = sub
	return id, nil
}

// Unsubscribe destroys a subscription (job-terminal destruction and
// manual cancellation both funnel through this).
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Subscriber looks up a live subscription by id.
func (b *Bus) Subscriber(id uint64) (*Subscriber, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subscribers[id]
	return s, ok
}

// Emit builds an event record and appends it to every matching
// subscriber's ring, per §4.9. printer and job may each be nil.
func (b *Bus) Emit(kind Kind, printer *PrinterSnapshot, job *JobSnapshot, message string, now time.Time) Record {
	rec := Record{Kind: kind, At: now, Printer: printer, Job: job, Message: message}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		if !sub.matchesKind(kind) {
			continue
		}
		if !sub.Filter.matches(rec) {
			continue
		}
		sub.ring.append(rec)
	}
	return rec
}

// ExpireLeases destroys every subscription whose lease has elapsed by
// now and returns their ids; the daemon root does not call it.
func (b *Bus) ExpireLeases(now time.Time) []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []uint64
	for id, sub := range b.subscribers {
		if !sub.ExpireAt.IsZero() && !sub.ExpireAt.After(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(b.subscribers, id)
	}
	return expired
}

// DestroyForJob destroys every subscription tied to jobID (called once
// that job reaches a terminal state).
func (b *Bus) DestroyForJob(jobID uint64) []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var destroyed []uint64
	for id, sub := range b.subscribers {
		if sub.Filter.JobID == jobID {
			destroyed = append(destroyed, id)
		}
	}
	for _, id := range destroyed {
		delete(b.subscribers, id)
	}
	return destroyed
}
