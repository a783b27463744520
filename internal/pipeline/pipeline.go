// Package pipeline implements the fork/exec filter chain + back-end
// executor: process topology construction, status-pipe scraping, reaping,
// and cancel. Grounded on original_source/scheduler/job.c's child-process
// handling, and on the actor-managed external-process pattern of
// Xuanwo-nomad-driver-systemd-nspawn/systemd/driver.go for the
// spawn/monitor/reap shape (that driver manages systemd-nspawn containers
// as external processes the same way this package manages filter/backend
// children, though via a different transport).
package pipeline

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/printspool/printspoold/internal/errs"
)

// Credential identifies the uid/gid/supplementary group children are
// dropped to before exec.
type Credential struct {
	UID, GID        int
	SupplementaryGID int
}

// Spec describes one printer/(job, file) pipeline invocation.
type Spec struct {
	PrinterName string
	JobID       uint64
	User        string
	Title       string
	Copies      int
	Options     string
	SpoolFile   string // only passed as an argv positional to the first filter

	// Chain is the ordered filter programs to run before Backend; it is
	// ignored when the printer is remote (the spool file streams straight
	// to the back-end, §4.8.1).
	Chain   []string
	Backend string // runs last, remote or not; "" runs no back-end (and no chain at all when remote)

	DeviceURI string
	Remote    bool

	Env Environment
	Cred Credential
}

// Environment holds the minimal envp the original names explicitly.
type Environment struct {
	Charset, Language, PPDPath, ServerRoot, TempDir, ContentType string
	RIPCacheSize                                                  string
	EncryptionHint                                                string
}

func (e Environment) toEnvp(deviceURI, printerName string) []string {
	env := []string{
		"CONTENT_TYPE=" + e.ContentType,
		"DEVICE_URI=" + deviceURI,
		"PRINTER=" + printerName,
		"PPD=" + e.PPDPath,
		"RIP_CACHE=" + e.RIPCacheSize,
		"SERVER_ROOT=" + e.ServerRoot,
		"TMPDIR=" + e.TempDir,
		"CHARSET=" + e.Charset,
		"LANG=" + e.Language,
	}
	if e.EncryptionHint != "" {
		env = append(env, "CUPS_ENCRYPTION="+e.EncryptionHint)
	}
	return env
}

// StatusEvent is one parsed record from the shared status pipe.
type StatusEvent struct {
	Level   string // ERROR, WARNING, INFO, DEBUG, DEBUG2, PAGE, STATE, ATTR
	Payload string
}

// Result is the final status of a pipeline run.
type Result struct {
	FilterFailed  bool
	BackendFailed bool
	ExitCodes     []int
}

// Callback receives status-pipe events as they arrive and the final
// result when the chain finishes reaping.
type Callback struct {
	OnStatus func(StatusEvent)
	OnDone   func(Result)
}

// Run is the handle Start returns for one forked chain, used to read its
// status pipe, Wait for it and Cancel it. The caller drives status-pipe
// reads from the reactor (via StatusFD); Start itself only performs the
// synchronous fork/exec/pipe-wiring step.
type Run struct {
	cmds     []*exec.Cmd
	statusR  *os.File
	statusW  *os.File
	cb       Callback
	mu       sync.Mutex
	done     bool
	canceled bool
}

// argv builds [printer-name, job-id, user, title, copies, merged-options,
// spool-file-path-for-first-only] per §4.8.4.
func argv(spec Spec, isFirst bool) []string {
	a := []string{
		spec.PrinterName,
		strconv.FormatUint(spec.JobID, 10),
		spec.User,
		spec.Title,
		strconv.Itoa(spec.Copies),
		spec.Options,
	}
	if isFirst {
		a = append(a, spec.SpoolFile)
	}
	return a
}

// Start constructs the process topology and forks every child. Signals
// are blocked in the parent around fork (handled by exec.Cmd's use of
// fork+exec under the hood) and each child is reconfigured via
// SysProcAttr to drop privileges, start a new process group (for
// Cancel's SIGTERM/SIGKILL fan-out), and redirect stdio.
func Start(spec Spec, cb Callback) (*Run, error) {
	programs := effectiveChain(spec)
	if len(programs) == 0 {
		return nil, errs.New(errs.BadFileType, "no filter chain and no backend for "+spec.PrinterName)
	}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return nil, errs.Wrap(errs.ChildSpawnFailed, "status pipe", err)
	}

	r := &Run{statusR: statusR, statusW: statusW, cb: cb}

	var prevStdout *os.File
	sink := spec.DeviceURI

	for i, prog := range programs {
		isFirst := i == 0
		isLast := i == len(programs)-1

		cmd := exec.Command(prog, argv(spec, isFirst)...)
		cmd.Env = spec.Env.toEnvp(deviceURITarget(spec, isLast), spec.PrinterName)
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Setpgid: true,
			Credential: &syscall.Credential{
				Uid:    uint32(spec.Cred.UID),
				Gid:    uint32(spec.Cred.GID),
				Groups: []uint32{uint32(spec.Cred.SupplementaryGID)},
			},
		}

		if isFirst && prevStdout == nil {
			f, err := os.Open(spec.SpoolFile)
			if err != nil {
				r.cleanup()
				return nil, errs.Wrap(errs.ChildSpawnFailed, "open spool file", err)
			}
			cmd.Stdin = f
		} else {
			cmd.Stdin = prevStdout
		}

		var stdout *os.File
		if !isLast {
			pr, pw, err := os.Pipe()
			if err != nil {
				r.cleanup()
				return nil, errs.Wrap(errs.ChildSpawnFailed, "stage pipe", err)
			}
			cmd.Stdout = pw
			stdout = pr
		} else if spec.Remote {
			// The last stage writes directly to the device URI target;
			// the transport is out of scope (§13 Non-goals), so Stdout is
			// left nil here and the caller is expected to have supplied a
			// device-specific *os.File via Spec in a future extension.
		}
		cmd.Stderr = statusW

		if err := cmd.Start(); err != nil {
			r.cleanup()
			return nil, errs.Wrap(errs.ChildSpawnFailed, "exec "+prog, err)
		}
		r.cmds = append(r.cmds, cmd)
		prevStdout = stdout
	}

	_ = statusW.Close() // parent's copy; each child inherited its own via Stderr
	_ = sink
	return r, nil
}

// effectiveChain resolves the actual argv chain to fork: for a remote
// destination the filter chain is skipped and the spool file streams
// straight to the back-end (§4.8.1), but the back-end itself still
// runs — only a local destination's filter programs are included.
func effectiveChain(spec Spec) []string {
	if spec.Remote {
		if spec.Backend == "" {
			return nil
		}
		return []string{spec.Backend}
	}
	chain := append([]string{}, spec.Chain...)
	if n := len(chain); n > 0 && chain[n-1] == "-" {
		chain = chain[:n-1]
	}
	if spec.Backend != "" {
		chain = append(chain, spec.Backend)
	}
	return chain
}

func deviceURITarget(spec Spec, isLast bool) string {
	if isLast {
		return spec.DeviceURI
	}
	return ""
}

// StatusFD returns the read end of the shared status pipe, for
// registration with the reactor.
func (r *Run) StatusFD() *os.File { return r.statusR }

// ScrapeStatusLine parses one newline-delimited status record per §4.8's
// grammar and reports the level/payload; the reactor callback invokes this
// per line read from StatusFD.
func ScrapeStatusLine(line string) (StatusEvent, bool) {
	line = strings.TrimRight(line, "\r\n")
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return StatusEvent{}, false
	}
	level := line[:idx]
	switch level {
	case "ERROR", "WARNING", "INFO", "DEBUG", "DEBUG2", "PAGE", "STATE", "ATTR":
		return StatusEvent{Level: level, Payload: strings.TrimSpace(line[idx+1:])}, true
	default:
		return StatusEvent{}, false
	}
}

// ReadStatus drains the shared status pipe until every writer-side fd
// closes (all children have exited or closed stderr), invoking
// cb.OnStatus for every parsed record. It blocks until EOF, so it runs
// on a dedicated goroutine (as in tests); a reactor read callback reads
// StatusFD one read at a time instead.
func (r *Run) ReadStatus() error {
	return ReadStatusLines(r.statusR, func(ev StatusEvent) {
		if r.cb.OnStatus != nil {
			r.cb.OnStatus(ev)
		}
	})
}

// ReadStatusLines reads newline-delimited status records from r until EOF,
// invoking cb for each one; intended to be driven from a reactor fd
// callback one read() at a time in production, exposed here as a
// blocking helper for tests and for callers happy to dedicate a goroutine.
func ReadStatusLines(r io.Reader, cb func(StatusEvent)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ev, ok := ScrapeStatusLine(scanner.Text()); ok {
			cb(ev)
		}
	}
	return scanner.Err()
}

// Wait reaps every child, computing the final status: the back-end's code
// takes precedence if non-zero; otherwise any filter non-zero aborts;
// otherwise success.
func (r *Run) Wait() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return Result{}
	}
	r.done = true

	var res Result
	for _, cmd := range r.cmds {
		err := cmd.Wait()
		res.ExitCodes = append(res.ExitCodes, exitCode(err))
	}
	final := finalizeResult(res, true)
	if r.cb.OnDone != nil {
		r.cb.OnDone(final)
	}
	return final
}

func finalizeResult(res Result, backendIsLast bool) Result {
	n := len(res.ExitCodes)
	if n == 0 {
		return res
	}
	backendCode := 0
	if backendIsLast {
		backendCode = res.ExitCodes[n-1]
	}
	if backendCode != 0 {
		res.BackendFailed = true
		return res
	}
	for i := 0; i < n-1; i++ {
		if res.ExitCodes[i] != 0 {
			res.FilterFailed = true
			return res
		}
	}
	return res
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if ok := asExitError(err, &ee); ok {
		return ee.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Cancel sends SIGTERM to every child's process group, waits grace, then
// SIGKILL, per §4.8/§5's cancellation semantics. The scheduler treats a
// canceled run as if all children had exited non-zero.
func (r *Run) Cancel(ctx context.Context, grace time.Duration) {
	r.mu.Lock()
	r.canceled = true
	r.mu.Unlock()

	for _, cmd := range r.cmds {
		if cmd.Process != nil {
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
		}
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	for _, cmd := range r.cmds {
		if cmd.Process != nil {
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		}
	}
}

func (r *Run) cleanup() {
	_ = r.statusR.Close()
	_ = r.statusW.Close()
	for _, cmd := range r.cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}
