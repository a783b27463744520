package session

import (
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/stretchr/testify/require"

	"github.com/printspool/printspoold/internal/errs"
)

type fakeDecoder struct {
	headersReq  *Request
	headersN    int
	headersErr  error
	bodyDone    bool
	bodyN       int
	bodyErr     error
}

func (f *fakeDecoder) DecodeHeaders(data []byte) (*Request, int, error) {
	return f.headersReq, f.headersN, f.headersErr
}

func (f *fakeDecoder) DecodeBodyChunk(data []byte) (bool, int, error) {
	return f.bodyDone, f.bodyN, f.bodyErr
}

type fakeCGI struct {
	spawned *Request
	err     error
}

func (f *fakeCGI) Spawn(req *Request, cred string) (*exec.Cmd, error) {
	f.spawned = req
	if f.err != nil {
		return nil, f.err
	}
	return exec.Command("true"), nil
}

func addr(a string) net.Addr {
	ip, _ := net.ResolveTCPAddr("tcp", a)
	return ip
}

func TestNewRejectsOverRateLimit(t *testing.T) {
	limiter := catrate.NewLimiter(map[time.Duration]int{time.Second: 1})
	dec := &fakeDecoder{}

	_, ok := New(addr("10.0.0.1:1234"), limiter, dec, nil)
	require.True(t, ok)

	_, ok = New(addr("10.0.0.1:5555"), limiter, dec, nil)
	require.False(t, ok)
}

func TestHeadersToBodyToDispatchTransition(t *testing.T) {
	dec := &fakeDecoder{headersReq: &Request{Method: "POST", URI: "/printers/p1"}, headersN: 10, bodyDone: true, bodyN: 5}
	s, ok := New(addr("10.0.0.2:1"), nil, dec, nil)
	require.True(t, ok)

	_, err := s.OnHeaders([]byte("irrelevant"))
	require.NoError(t, err)
	require.Equal(t, StateBody, s.State)

	_, err = s.OnBody([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, StateDispatch, s.State)
}

func TestAdminRequestSkipsBodyState(t *testing.T) {
	dec := &fakeDecoder{headersReq: &Request{Method: "GET", URI: "/admin", IsAdmin: true}, headersN: 10}
	s, ok := New(addr("10.0.0.3:1"), nil, dec, nil)
	require.True(t, ok)

	_, err := s.OnHeaders([]byte("irrelevant"))
	require.NoError(t, err)
	require.Equal(t, StateDispatch, s.State)
}

func TestDispatchSpawnsCGIForAdminRequest(t *testing.T) {
	cgi := &fakeCGI{}
	dec := &fakeDecoder{headersReq: &Request{IsAdmin: true}, headersN: 1}
	s, ok := New(addr("10.0.0.4:1"), nil, dec, cgi)
	require.True(t, ok)

	_, err := s.OnHeaders(nil)
	require.NoError(t, err)
	require.NoError(t, s.Dispatch("token"))
	require.NotNil(t, cgi.spawned)
	require.Equal(t, StateResponse, s.State)
}

func TestCloseUnlinksHalfWrittenSpoolFileWhenNotEnqueued(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d00001-001")
	f, err := os.Create(path)
	require.NoError(t, err)

	s, ok := New(addr("10.0.0.5:1"), nil, &fakeDecoder{}, nil)
	require.True(t, ok)
	s.BeginSpool(path, f)

	require.NoError(t, s.Close())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestManagerRejectsOverGlobalConcurrencyLimit(t *testing.T) {
	mgr := NewManager(nil, &fakeDecoder{}, nil, 1)

	first, ok, err := mgr.Open(addr("10.0.1.1:1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, mgr.OpenCount())

	_, ok, err = mgr.Open(addr("10.0.1.2:1"))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.ResourceExhausted))
	require.False(t, ok)

	mgr.Release(first)
	require.Equal(t, 0, mgr.OpenCount())

	_, ok, err = mgr.Open(addr("10.0.1.2:1"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestManagerPropagatesPerAddressRateLimit(t *testing.T) {
	limiter := catrate.NewLimiter(map[time.Duration]int{time.Second: 1})
	mgr := NewManager(limiter, &fakeDecoder{}, nil, 0)

	_, ok, err := mgr.Open(addr("10.0.2.1:1234"))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = mgr.Open(addr("10.0.2.1:5555"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCloseKeepsSpoolFileWhenEnqueued(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d00002-001")
	f, err := os.Create(path)
	require.NoError(t, err)

	s, ok := New(addr("10.0.0.6:1"), nil, &fakeDecoder{}, nil)
	require.True(t, ok)
	s.BeginSpool(path, f)
	s.MarkEnqueued()

	require.NoError(t, s.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)
}
