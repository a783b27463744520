package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeJobSource struct {
	jobs      []JobRecord
	cancelled []JobRecord
}

func (f *fakeJobSource) Jobs() []JobRecord { return f.jobs }
func (f *fakeJobSource) CancelJob(dest, user string, ts time.Time) {
	f.cancelled = append(f.cancelled, JobRecord{Destination: dest, User: user, Timestamp: ts})
}

func TestUpdateAccumulatesWithinPeriod(t *testing.T) {
	l := NewLedger()
	limits := Limits{Period: time.Hour, PageLimit: 1000}
	now := time.Now()
	src := &fakeJobSource{}
	l.Row("p1", "alice").NextUpdate = now.Add(limits.Period) // window already open

	row := l.Update("p1", "alice", 5, 10, limits, now, src)
	require.NotNil(t, row)
	require.True(t, now.Before(row.NextUpdate))

	row2 := l.Update("p1", "alice", 3, 2, limits, now.Add(time.Minute), src)
	require.Equal(t, int64(8), row2.PageCount)
	require.Equal(t, int64(12), row2.KCount)
}

func TestRowKeyedByPrinterAndUserKeepsDistinctPrintersSeparate(t *testing.T) {
	l := NewLedger()
	limits := Limits{Period: time.Hour, PageLimit: 1000}
	now := time.Now()
	src := &fakeJobSource{}
	l.Row("p1", "alice").NextUpdate = now.Add(limits.Period) // windows already open
	l.Row("p3", "alice").NextUpdate = now.Add(limits.Period)

	onP1 := l.Update("p1", "alice", 5, 10, limits, now, src)
	onP3 := l.Update("p3", "alice", 100, 200, limits, now, src)

	require.Equal(t, int64(5), onP1.PageCount)
	require.Equal(t, int64(100), onP3.PageCount)
	require.Equal(t, "p1", onP1.Printer)
	require.Equal(t, "p3", onP3.Printer)

	again := l.Row("p1", "alice")
	require.Equal(t, int64(5), again.PageCount)
}

func TestUpdateRecomputesFromJobTableOnRollover(t *testing.T) {
	l := NewLedger()
	limits := Limits{Period: time.Hour, PageLimit: 1000}
	now := time.Now()

	row := l.Row("p1", "alice")
	row.NextUpdate = now.Add(-time.Second) // force rollover

	src := &fakeJobSource{jobs: []JobRecord{
		{Destination: "p1", User: "alice", Timestamp: now.Add(-30 * time.Minute), MediaSheets: 4, KOctets: 8},
		{Destination: "p1", User: "bob", Timestamp: now.Add(-30 * time.Minute), MediaSheets: 99, KOctets: 99},
	}}

	updated := l.Update("p1", "alice", 0, 0, limits, now, src)
	require.Equal(t, int64(4), updated.PageCount)
	require.Equal(t, int64(8), updated.KCount)
}

func TestUpdatePurgesOutOfWindowJobsWhenAutoPurgeEnabled(t *testing.T) {
	l := NewLedger()
	limits := Limits{Period: time.Hour, PageLimit: 1000, AutoPurge: true}
	now := time.Now()

	src := &fakeJobSource{jobs: []JobRecord{
		{Destination: "p1", User: "alice", Timestamp: now.Add(-2 * time.Hour), MediaSheets: 4, KOctets: 8},
	}}

	l.Update("p1", "alice", 0, 0, limits, now, src)
	require.Len(t, src.cancelled, 1)
}

func TestAdmitRefusesOverPageLimit(t *testing.T) {
	row := &Row{PageCount: 990}
	limits := Limits{Period: time.Hour, PageLimit: 1000}
	require.True(t, row.Admit(5, 0, limits))
	require.False(t, row.Admit(20, 0, limits))
}

func TestAdmitAlwaysAllowsWhenPeriodZero(t *testing.T) {
	row := &Row{PageCount: 9999}
	limits := Limits{Period: 0, PageLimit: 10}
	require.True(t, row.Admit(100, 0, limits))
}
