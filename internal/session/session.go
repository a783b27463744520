// Package session implements the per-connection client state machine of
// §4.10: {waiting -> headers -> body -> dispatch -> response}, in-flight
// spool-file ownership, optional CGI child spawning for administrative
// URIs, and close-time cleanup of half-written, never-enqueued spool
// files. Grounded on original_source/scheduler/client.c's
// cupsdReadClient state shape; wire-level request parsing itself is an
// external collaborator reached only through the Decoder interface
// (spec.md keeps transport/protocol parsing out of scope).
package session

import (
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/joeycumines/go-catrate"

	"github.com/printspool/printspoold/internal/errs"
)

// State is one state of the per-connection machine.
type State int

const (
	StateWaiting State = iota
	StateHeaders
	StateBody
	StateDispatch
	StateResponse
	StateClosed
)

// Request is the decoded request handed to Dispatch; its fields are
// intentionally narrow since parsing itself is external.
type Request struct {
	Method  string
	URI     string
	IsAdmin bool // true for administrative CGI URIs
}

// Decoder parses transport bytes into a Request and reports how much
// body remains; the concrete implementation lives outside this
// package (spec.md's wire-protocol-parsing non-goal).
type Decoder interface {
	DecodeHeaders(data []byte) (req *Request, consumed int, err error)
	DecodeBodyChunk(data []byte) (done bool, consumed int, err error)
}

// CGISpawner starts an administrative CGI child for a Request,
// returning its process for lifecycle tracking.
type CGISpawner interface {
	Spawn(req *Request, cred string) (*exec.Cmd, error)
}

// Session is one accepted connection's state.
type Session struct {
	SourceAddr net.Addr
	State      State

	decoder Decoder
	limiter *catrate.Limiter
	cgi     CGISpawner

	Request *Request

	spoolPath string
	spoolFile *os.File
	enqueued  bool

	cgiCmd *exec.Cmd
}

// New admits a connection from addr, consulting the source-address
// rate limiter (§4.10, §5 "maximum concurrent sessions per source
// address"). ok is false when the limiter refuses the new connection.
func New(addr net.Addr, limiter *catrate.Limiter, decoder Decoder, cgi CGISpawner) (*Session, bool) {
	category := addr.String()
	if host, _, err := net.SplitHostPort(category); err == nil {
		category = host
	}
	if limiter != nil {
		if _, ok := limiter.Allow(category); !ok {
			return nil, false
		}
	}
	return &Session{SourceAddr: addr, State: StateWaiting, decoder: decoder, limiter: limiter, cgi: cgi}, true
}

// OnHeaders feeds newly-read bytes to the decoder while in
// waiting/headers state, transitioning to headers on partial data and
// to body (or straight to dispatch, for administrative requests) once a full
// request line is decoded.
func (s *Session) OnHeaders(data []byte) (consumed int, err error) {
	if s.State != StateWaiting && s.State != StateHeaders {
		return 0, errs.New(errs.PeerClosed, "OnHeaders called outside waiting/headers state")
	}
	s.State = StateHeaders

	req, n, err := s.decoder.DecodeHeaders(data)
	if err != nil {
		return 0, errs.Wrap(errs.PeerClosed, "decode headers", err)
	}
	if req == nil {
		// Not enough data yet; stay in headers state.
		return n, nil
	}

	s.Request = req
	if req.IsAdmin {
		s.State = StateDispatch
	} else {
		s.State = StateBody
	}
	return n, nil
}

// OnBody feeds newly-read bytes to the decoder while in body state,
// transitioning to dispatch once the body completes.
func (s *Session) OnBody(data []byte) (consumed int, err error) {
	if s.State != StateBody {
		return 0, errs.New(errs.PeerClosed, "OnBody called outside body state")
	}
	done, n, err := s.decoder.DecodeBodyChunk(data)
	if err != nil {
		return 0, errs.Wrap(errs.PeerClosed, "decode body", err)
	}
	if done {
		s.State = StateDispatch
	}
	return n, nil
}

// BeginSpool opens the in-flight upload's spool file for writing,
// tracked so Close can unlink it if the job never reaches admission.
func (s *Session) BeginSpool(path string, f *os.File) {
	s.spoolPath = path
	s.spoolFile = f
}

// MarkEnqueued records that the in-flight job was admitted to the
// scheduler's job table; Close no longer unlinks the spool file once
// this has been called.
func (s *Session) MarkEnqueued() { s.enqueued = true }

// Dispatch spawns a CGI child for an administrative request, issuing
// it cred as its credential token via environment (the concrete
// variable name/plumbing belongs to the CGI transport, out of scope
// here).
func (s *Session) Dispatch(cred string) error {
	if s.State != StateDispatch {
		return errs.New(errs.PeerClosed, "Dispatch called outside dispatch state")
	}
	if s.Request != nil && s.Request.IsAdmin && s.cgi != nil {
		cmd, err := s.cgi.Spawn(s.Request, cred)
		if err != nil {
			return errs.Wrap(errs.ChildSpawnFailed, "spawn CGI child", err)
		}
		s.cgiCmd = cmd
	}
	s.State = StateResponse
	return nil
}

// Close tears the session down: unlinks a half-written, never-enqueued
// spool file and kills any still-running CGI child, per §4.10's close
// semantics.
func (s *Session) Close() error {
	s.State = StateClosed

	var firstErr error
	if s.spoolFile != nil {
		_ = s.spoolFile.Close()
		if !s.enqueued {
			if err := os.Remove(s.spoolPath); err != nil && !os.IsNotExist(err) {
				firstErr = errs.Wrap(errs.FSUnsafe, "unlink half-written spool file", err)
			}
		}
		s.spoolFile = nil
	}
	if s.cgiCmd != nil && s.cgiCmd.Process != nil {
		_ = s.cgiCmd.Process.Kill()
		s.cgiCmd = nil
	}
	return firstErr
}

// Manager enforces the global "maximum concurrent client sessions" cap
// (§5) on top of New's per-source-address rate limiting. One Manager
// is owned by the daemon root; every accepted connection goes through
// Manager.Open rather than calling New directly.
type Manager struct {
	mu      sync.Mutex
	limiter *catrate.Limiter
	decoder Decoder
	cgi     CGISpawner
	maxOpen int
	open    map[*Session]struct{}
}

// NewManager constructs a session manager capping concurrent sessions
// at maxOpen (0 = unlimited), admitting new connections through
// limiter and wiring decoder/cgi into every session it opens.
func NewManager(limiter *catrate.Limiter, decoder Decoder, cgi CGISpawner, maxOpen int) *Manager {
	return &Manager{limiter: limiter, decoder: decoder, cgi: cgi, maxOpen: maxOpen, open: make(map[*Session]struct{})}
}

// Open admits a connection from addr, failing with
// errs.ResourceExhausted once the global concurrent-session cap is
// hit, or returning ok=false when the per-address limiter refuses it.
func (m *Manager) Open(addr net.Addr) (sess *Session, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxOpen > 0 && len(m.open) >= m.maxOpen {
		return nil, false, errs.Wrap(errs.ResourceExhausted, "concurrent session limit reached", nil)
	}
	sess, ok = New(addr, m.limiter, m.decoder, m.cgi)
	if !ok {
		return nil, false, nil
	}
	m.open[sess] = struct{}{}
	return sess, true, nil
}

// Release removes sess from the open set once it closes; callers
// should invoke this alongside Session.Close.
func (m *Manager) Release(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, sess)
}

// OpenCount reports the current count of live sessions under management.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}
