// Package credential implements the daemon's in-memory certificate
// store (§4.11): a 32-character hex root credential plus per-CGI-child
// tokens, each backed by a file scoped to its reader's uid/gid and
// deleted when no longer needed. Grounded on
// original_source/scheduler/cert.c.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/printspool/printspoold/internal/errs"
)

// tokenLength is cert.c's fixed 32 hex characters (16 random bytes).
const tokenLength = 16

// Credential is one issued token and the user it authenticates.
type Credential struct {
	Token string
	User  string
	Path  string
}

// Store holds the root credential plus one credential per live CGI
// child, keyed by pid. Lives for the process lifetime (§4.11).
type Store struct {
	mu   sync.Mutex
	dir  string
	root Credential
	byPID map[int]Credential
	byToken map[string]string // token -> user, for Lookup
}

// NewStore generates the root credential under dir, writing it to a
// file readable only by superuserUID and groupGID (the daemon's own
// effective ids, which is uid 0 in production). dir must already
// exist and be owned appropriately by the caller (the owning root's
// startup sequence, per §4.11 "readable only by the superuser and the
// configured system group").
func NewStore(dir string, superuserUID, groupGID int) (*Store, error) {
	s := &Store{dir: dir, byPID: make(map[int]Credential), byToken: make(map[string]string)}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "certs", "0")
	if err := writeCredentialFile(path, token, superuserUID, groupGID, 0440); err != nil {
		return nil, err
	}

	s.root = Credential{Token: token, User: "root", Path: path}
	s.byToken[token] = "root"
	return s, nil
}

// Root returns the process-lifetime root credential.
func (s *Store) Root() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// IssueForChild generates a fresh credential for a CGI child, writing
// it to a file readable only by uid/gid, per §4.11.
func (s *Store) IssueForChild(pid, uid, gid int, user string) (Credential, error) {
	token, err := generateToken()
	if err != nil {
		return Credential{}, err
	}
	path := filepath.Join(s.dir, "certs", strconv.Itoa(pid))
	if err := writeCredentialFile(path, token, uid, gid, 0400); err != nil {
		return Credential{}, err
	}

	cred := Credential{Token: token, User: user, Path: path}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPID[pid] = cred
	s.byToken[token] = user
	return cred, nil
}

// Revoke deletes a child's credential and its file on child exit.
func (s *Store) Revoke(pid int) error {
	s.mu.Lock()
	cred, ok := s.byPID[pid]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.byPID, pid)
	delete(s.byToken, cred.Token)
	s.mu.Unlock()

	if err := os.Remove(cred.Path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.FSUnsafe, "revoke credential "+cred.Path, err)
	}
	return nil
}

// Lookup resolves a token to its user name; the zero value and false
// mean "no match" per §4.11.
func (s *Store) Lookup(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byToken[token]
	return user, ok
}

func generateToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a time-of-day-derived seed per §4.11 when the
		// system random source is unavailable.
		seed := uint64(time.Now().UnixNano())
		for i := range buf {
			seed = seed*6364136223846793005 + 1442695040888963407
			buf[i] = byte(seed >> 56)
		}
	}
	return hex.EncodeToString(buf), nil
}

func writeCredentialFile(path, token string, uid, gid int, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errs.Wrap(errs.FSUnsafe, "mkdir cert dir", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), mode); err != nil {
		return errs.Wrap(errs.FSUnsafe, "write credential file", err)
	}
	if err := os.Chown(path, uid, gid); err != nil {
		return errs.Wrap(errs.FSUnsafe, "chown credential file", err)
	}
	if err := os.Chmod(path, mode); err != nil {
		return errs.Wrap(errs.FSUnsafe, "chmod credential file", err)
	}
	return nil
}
