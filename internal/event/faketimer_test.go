package event

import (
	"time"

	"github.com/printspool/printspoold/internal/reactor"
)

// fakeTimer is a minimal Timer double that tracks armed ids without a
// real reactor; it never fires on its own (tests fire callbacks
// directly when exercising expiry behavior).
type fakeTimer struct {
	next  reactor.TimerID
	armed map[reactor.TimerID]reactor.TimerCallback
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{next: 1, armed: make(map[reactor.TimerID]reactor.TimerCallback)}
}

func (f *fakeTimer) AddTimer(when time.Time, cb reactor.TimerCallback, data any) reactor.TimerID {
	id := f.next
	f.next++
	f.armed[id] = cb
	return id
}

func (f *fakeTimer) RemoveTimer(id reactor.TimerID) error {
	delete(f.armed, id)
	return nil
}
