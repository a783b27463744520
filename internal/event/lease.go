package event

import (
	"time"

	"github.com/printspool/printspoold/internal/reactor"
)

// Timer is the subset of internal/reactor.Reactor the lease manager
// needs; narrowed to ease testing without a real epoll/kqueue fd.
type Timer interface {
	AddTimer(when time.Time, cb reactor.TimerCallback, data any) reactor.TimerID
	RemoveTimer(id reactor.TimerID) error
}

// LeaseManager arms one reactor timer per subscription's lease and
// destroys the subscription when it fires, per §4.9's expiry rule.
// Subscriptions with no lease (ExpireAt zero) are never armed here.
type LeaseManager struct {
	bus   *Bus
	timer Timer
	armed map[uint64]reactor.TimerID
}

func NewLeaseManager(bus *Bus, timer Timer) *LeaseManager {
	return &LeaseManager{bus: bus, timer: timer, armed: make(map[uint64]reactor.TimerID)}
}

// Arm schedules expiry for a just-created subscription.
func (lm *LeaseManager) Arm(subID uint64, expireAt time.Time) {
	if expireAt.IsZero() {
		return
	}
	id := lm.timer.AddTimer(expireAt, func(data any) {
		lm.bus.Unsubscribe(subID)
		delete(lm.armed, subID)
	}, nil)
	lm.armed[subID] = id
}

// Disarm cancels a pending lease timer (the subscription was destroyed
// for some other reason first, e.g. its job reached a terminal state).
func (lm *LeaseManager) Disarm(subID uint64) {
	id, ok := lm.armed[subID]
	if !ok {
		return
	}
	_ = lm.timer.RemoveTimer(id)
	delete(lm.armed, subID)
}

// OnJobTerminal destroys every subscription tied to jobID and disarms
// their lease timers, per §4.9: "Subscriptions tied to a specific job
// are destroyed when that job reaches a terminal state."
func (lm *LeaseManager) OnJobTerminal(jobID uint64) {
	for _, id := range lm.bus.DestroyForJob(jobID) {
		lm.Disarm(id)
	}
}
