package daemon

import (
	"bytes"
	"os"
	"time"

	"github.com/printspool/printspoold/internal/destination"
	"github.com/printspool/printspoold/internal/errs"
	"github.com/printspool/printspoold/internal/event"
	"github.com/printspool/printspoold/internal/pipeline"
	"github.com/printspool/printspoold/internal/reactor"
	"github.com/printspool/printspoold/internal/scheduler"
)

// SubmitJob admits j into the job table, subject to quota and
// destination-existence checks, and immediately pumps selection so an
// idle printer picks it up without waiting for the next unrelated
// reactor event (§4.7, §8 scenario S1).
func (r *Root) SubmitJob(j *scheduler.Job) (*scheduler.Job, error) {
	admitted, err := r.Jobs.Admit(j, r.Destinations, r.checkQuota)
	if err != nil {
		return nil, err
	}
	r.Events.Emit(event.KindJobCreated, nil, event.SnapshotJob(admitted, nil), "job created", time.Now())
	if err := r.pump(); err != nil {
		r.Log.Err().Err(err).Uint64("job", admitted.ID).Log("select next work")
	}
	return admitted, nil
}

// checkQuota is the admissionCheck Table.Admit runs before a job enters
// the list; it refuses a job that would cross the destination's
// configured page/byte quota for its owning user (§5).
func (r *Root) checkQuota(j *scheduler.Job) error {
	meta := r.printerMetaFor(j.Destination)
	row := r.Quotas.Row(j.Destination, j.User)
	if !row.Admit(j.SheetsCompleted, j.KOctets, meta.Quota) {
		return errs.New(errs.QuotaExceeded, "quota exceeded for "+j.User+" on "+j.Destination)
	}
	return nil
}

// pump runs one selection pass; every completion and admission re-enters
// here so pending jobs keep draining as printers free up.
func (r *Root) pump() error {
	return scheduler.SelectNextWork(r.Jobs, r.Destinations, r.isRemote, r.dispatch)
}

func (r *Root) isRemote(printerName string) bool {
	return r.printerMetaFor(printerName).Remote
}

// dispatch implements scheduler.Dispatcher: it starts the filter/back-end
// chain for the job's current spool file and wires the shared status
// pipe into the reactor, returning once the children are forked (never
// blocking on their completion).
func (r *Root) dispatch(j *scheduler.Job, printer *destination.Printer) error {
	meta := r.printerMetaFor(printer.Name)
	file := j.Files[j.CurrentFileIndex]

	var programs []string
	if chain, ok := r.MIME.Filters(file.MIMEType, printer.PrinterType); ok {
		for _, f := range chain {
			programs = append(programs, f.ProgramPath)
		}
	}

	spec := pipeline.Spec{
		PrinterName: printer.Name,
		JobID:       j.ID,
		User:        j.User,
		Title:       j.Title,
		Copies:      1,
		SpoolFile:   file.Path,
		Chain:       programs,
		Backend:     meta.Backend,
		DeviceURI:   meta.DeviceURI,
		Remote:      meta.Remote,
		Env: pipeline.Environment{
			ServerRoot: r.Config.SpoolRoot,
			TempDir:    os.TempDir(),
		},
		Cred: pipeline.Credential{
			UID:              r.Config.SpoolUID,
			GID:              r.Config.SpoolGID,
			SupplementaryGID: r.Config.SystemGroupGID,
		},
	}

	run, err := pipeline.Start(spec, pipeline.Callback{})
	if err != nil {
		return err
	}
	return r.registerStatusPipe(run, j, printer, meta, spec)
}

// statusPipeState accumulates partial reads off one job's shared status
// pipe between reactor callbacks.
type statusPipeState struct {
	run     *pipeline.Run
	job     *scheduler.Job
	printer *destination.Printer
	meta    printerMeta
	spec    pipeline.Spec
	buf     []byte
}

// registerStatusPipe registers run's status pipe for read-readiness,
// scraping complete lines as they arrive and reaping the chain once the
// pipe hits EOF (every child has exited and closed its inherited write
// end), per §4.8's status-pipe contract.
func (r *Root) registerStatusPipe(run *pipeline.Run, j *scheduler.Job, printer *destination.Printer, meta printerMeta, spec pipeline.Spec) error {
	f := run.StatusFD()
	fd := int(f.Fd())
	st := &statusPipeState{run: run, job: j, printer: printer, meta: meta, spec: spec}
	readBuf := make([]byte, 4096)

	var cb reactor.Callback
	cb = func(readable, writable, hardError bool) {
		for {
			n, err := f.Read(readBuf)
			if n > 0 {
				st.buf = append(st.buf, readBuf[:n]...)
				r.drainStatusLines(st)
			}
			if err != nil {
				_ = r.Reactor.Remove(fd)
				r.finishJob(st)
				return
			}
			if n == 0 {
				return
			}
		}
	}
	return r.Reactor.Add(fd, reactor.ModeRead, cb)
}

func (r *Root) drainStatusLines(st *statusPipeState) {
	for {
		idx := bytes.IndexByte(st.buf, '\n')
		if idx < 0 {
			return
		}
		line := string(st.buf[:idx])
		st.buf = st.buf[idx+1:]
		if ev, ok := pipeline.ScrapeStatusLine(line); ok {
			r.handleStatusEvent(st, ev)
		}
	}
}

// handleStatusEvent applies one scraped status record: PAGE adds its
// copies count to the job's SheetsCompleted and emits job-progress; STATE
// emits printer-state-changed with the payload as its message; ERROR and
// WARNING are logged. The printer's reason set and state message are not
// changed, and records of any other level are ignored.
func (r *Root) handleStatusEvent(st *statusPipeState, ev pipeline.StatusEvent) {
	now := time.Now()
	switch ev.Level {
	case "PAGE":
		if pe, ok := pipeline.ParsePageEvent(ev.Payload); ok {
			st.job.SheetsCompleted += int64(pe.Copies)
		}
		r.Events.Emit(event.KindJobProgress, nil, event.SnapshotJob(st.job, st.printer), ev.Payload, now)
	case "STATE":
		r.Events.Emit(event.KindPrinterStateChanged, event.SnapshotPrinter(st.printer, nil), nil, ev.Payload, now)
	case "ERROR", "WARNING":
		r.Log.Warning().Str("printer", st.printer.Name).Uint64("job", st.job.ID).Str("payload", ev.Payload).Log("filter status")
	}
}

// finishJob reaps the chain, advances the job/printer state machines via
// scheduler.Complete, emits the resulting events, and either re-dispatches
// (more spool files, or a retry-current-job back-end failure) or pumps
// selection for the next pending job.
func (r *Root) finishJob(st *statusPipeState) {
	result := st.run.Wait()
	exits := buildChildExits(result, st.spec.Backend != "")

	r.Quotas.Update(st.printer.Name, st.job.User, st.job.SheetsCompleted, st.job.KOctets, st.meta.Quota, time.Now(), tableJobSource{r.Jobs})
	scheduler.Complete(st.job, st.printer, exits, st.meta.ErrorPolicy, r.Destinations)

	now := time.Now()
	r.Events.Emit(event.KindJobStateChanged, event.SnapshotPrinter(st.printer, nil), event.SnapshotJob(st.job, st.printer), "", now)
	if st.job.State.Terminal() {
		r.Events.Emit(event.KindJobCompleted, nil, event.SnapshotJob(st.job, st.printer), "", now)
		r.Events.DestroyForJob(st.job.ID)
	}

	if st.job.State == scheduler.JobProcessing {
		// Either more spool files remain in this job, or the error policy
		// is retry-current-job: Complete left the (job, printer) pair bound
		// and processing, so re-enter dispatch directly rather than going
		// through selection.
		if err := r.dispatch(st.job, st.printer); err != nil {
			r.Log.Err().Err(err).Uint64("job", st.job.ID).Log("re-dispatch failed")
			st.printer.State = destination.StateIdle
			st.job.State = scheduler.JobPending
		}
		return
	}

	if err := r.pump(); err != nil {
		r.Log.Err().Err(err).Log("select next work")
	}
}

func buildChildExits(result pipeline.Result, hasBackend bool) []scheduler.ChildExit {
	exits := make([]scheduler.ChildExit, len(result.ExitCodes))
	backendIdx := -1
	if hasBackend {
		backendIdx = len(result.ExitCodes) - 1
	}
	for i, code := range result.ExitCodes {
		exits[i] = scheduler.ChildExit{IsBackend: i == backendIdx, ExitCode: code}
	}
	return exits
}
