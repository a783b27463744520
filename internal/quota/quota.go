// Package quota implements the rolling per-(printer,user) page/byte
// ledger, recomputed from the job table on window rollover. Grounded on
// original_source/scheduler/quotas.c's UpdateQuota.
package quota

import (
	"strings"
	"time"
)

// JobRecord is the view of one job that a quota recompute scans. Its
// Timestamp is the job's terminal timestamp for quota-window purposes:
// completion time if set, else processing time, else creation time.
type JobRecord struct {
	Destination      string
	User             string
	Timestamp        time.Time
	MediaSheets      int64
	KOctets          int64
}

// JobSource supplies the jobs a quota recompute needs to scan; the
// daemon's tableJobSource adapts the scheduler's job table to it.
type JobSource interface {
	// Jobs returns every job currently known to the scheduler (any state);
	// quota recompute filters by destination/user/time itself.
	Jobs() []JobRecord
	// CancelJob is invoked for a job whose terminal timestamp fell outside
	// the quota window, when auto-purge is enabled.
	CancelJob(destination, user string, timestamp time.Time)
}

// Row is one (printer, user) ledger entry.
type Row struct {
	Printer, User string
	PageCount     int64
	KCount        int64
	NextUpdate    time.Time
}

// Limits are a printer's quota configuration.
type Limits struct {
	Period     time.Duration // 0 disables quota enforcement entirely
	PageLimit  int64         // 0 disables the page cap
	KLimit     int64         // 0 disables the byte cap
	AutoPurge  bool
}

// Ledger holds quota rows keyed by (printer, user), across all printers.
type Ledger struct {
	rows map[string]*Row
}

func NewLedger() *Ledger {
	return &Ledger{rows: make(map[string]*Row)}
}

func rowKey(printer, user string) string { return strings.ToLower(printer) + "\x00" + strings.ToLower(user) }

// Row looks up or allocates the row for (printer, user).
func (l *Ledger) Row(printer, user string) *Row {
	k := rowKey(printer, user)
	if r, ok := l.rows[k]; ok {
		return r
	}
	r := &Row{Printer: printer, User: user}
	l.rows[k] = r
	return r
}

// Update applies a job completion's page/byte delta, recomputing the
// window from the job table when the row's next_update has passed.
func (l *Ledger) Update(printer, user string, pages, kOctets int64, limits Limits, now time.Time, jobs JobSource) *Row {
	if limits.PageLimit == 0 && limits.KLimit == 0 {
		return nil
	}
	row := l.Row(printer, user)

	if now.Before(row.NextUpdate) {
		row.PageCount += pages
		row.KCount += kOctets
		return row
	}

	var windowStart time.Time
	if limits.Period > 0 {
		windowStart = now.Add(-limits.Period)
	}

	row.NextUpdate = time.Time{}
	row.PageCount = 0
	row.KCount = 0

	for _, j := range jobs.Jobs() {
		if !strings.EqualFold(j.Destination, printer) || !strings.EqualFold(j.User, user) {
			continue
		}
		if j.Timestamp.Before(windowStart) {
			if limits.AutoPurge {
				jobs.CancelJob(j.Destination, j.User, j.Timestamp)
			}
			continue
		}
		if row.NextUpdate.IsZero() {
			row.NextUpdate = j.Timestamp.Add(limits.Period)
		}
		row.PageCount += j.MediaSheets
		row.KCount += j.KOctets
	}

	return row
}

// Admit reports whether a job of the given size would cross page_limit or
// k_limit; a zero period disables enforcement for this check, matching
// the original's "period non-zero" admission gate.
func (row *Row) Admit(pages, kOctets int64, limits Limits) bool {
	if limits.Period == 0 {
		return true
	}
	if limits.PageLimit > 0 && row.PageCount+pages > limits.PageLimit {
		return false
	}
	if limits.KLimit > 0 && row.KCount+kOctets > limits.KLimit {
		return false
	}
	return true
}
