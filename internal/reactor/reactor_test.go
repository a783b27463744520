package reactor

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddDispatchesReadReady(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	fired := make(chan struct{}, 1)
	require.NoError(t, r.Add(int(pr.Fd()), ModeRead, func(readable, writable, hardError bool) {
		require.True(t, readable)
		fired <- struct{}{}
	}))

	_, err = pw.Write([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, r.RunOnce(time.Second))

	select {
	case <-fired:
	default:
		t.Fatal("callback did not fire")
	}
}

func TestRemoveSuppressesPendingReadiness(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	called := false
	require.NoError(t, r.Add(int(pr.Fd()), ModeRead, func(readable, writable, hardError bool) {
		called = true
	}))
	require.NoError(t, r.Remove(int(pr.Fd())))

	_, err = pw.Write([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, r.RunOnce(10*time.Millisecond))
	require.False(t, called)
}

func TestTimerFiresAtOrAfterDeadline(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	fired := make(chan string, 1)
	r.AddTimer(timeNow().Add(10*time.Millisecond), func(data any) {
		fired <- data.(string)
	}, "hello")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, r.RunOnce(50*time.Millisecond))
		select {
		case v := <-fired:
			require.Equal(t, "hello", v)
			return
		default:
		}
	}
	t.Fatal("timer never fired")
}

func TestRemoveTimerCancelsBeforeFiring(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	fired := false
	id := r.AddTimer(timeNow().Add(5*time.Millisecond), func(data any) {
		fired = true
	}, nil)
	require.NoError(t, r.RemoveTimer(id))

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.RunOnce(10*time.Millisecond))
	require.False(t, fired)
}

func TestWakeFromSignalInterruptsRunOnce(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	done := make(chan error, 1)
	go func() {
		done <- r.RunOnce(5 * time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	r.WakeFromSignal()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunOnce did not wake up")
	}
}

func TestAddFromWrongGoroutineIsRejected(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	defer r.Close()

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	require.NoError(t, r.Add(int(pr.Fd()), ModeRead, func(bool, bool, bool) {}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Add(int(pr.Fd())+1000, ModeRead, func(bool, bool, bool) {})
	}()
	require.ErrorIs(t, <-errCh, ErrWrongGoroutine)
}
