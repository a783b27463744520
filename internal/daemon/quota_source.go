package daemon

import (
	"strings"
	"time"

	"github.com/printspool/printspoold/internal/quota"
	"github.com/printspool/printspoold/internal/scheduler"
)

// tableJobSource adapts the scheduler's job table to quota.JobSource,
// since Table.Jobs returns the live *Job list the scheduler itself
// indexes by id/priority, not the narrower JobRecord view a quota
// recompute scans.
type tableJobSource struct {
	t *scheduler.Table
}

func (s tableJobSource) Jobs() []quota.JobRecord {
	jobs := s.t.Jobs()
	out := make([]quota.JobRecord, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, quota.JobRecord{
			Destination: jobDestination(j),
			User:        j.User,
			Timestamp:   jobTimestamp(j),
			MediaSheets: j.SheetsCompleted,
			KOctets:     j.KOctets,
		})
	}
	return out
}

func (s tableJobSource) CancelJob(destination, user string, timestamp time.Time) {
	for _, j := range s.t.Jobs() {
		if !strings.EqualFold(jobDestination(j), destination) || !strings.EqualFold(j.User, user) {
			continue
		}
		if jobTimestamp(j).Equal(timestamp) {
			j.Cancel()
		}
	}
}

func jobDestination(j *scheduler.Job) string {
	if j.BoundPrinter != "" {
		return j.BoundPrinter
	}
	return j.Destination
}

func jobTimestamp(j *scheduler.Job) time.Time {
	switch {
	case !j.CompletedAt.IsZero():
		return j.CompletedAt
	case !j.ProcessingAt.IsZero():
		return j.ProcessingAt
	default:
		return j.CreatedAt
	}
}
