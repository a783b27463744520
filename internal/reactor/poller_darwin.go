//go:build darwin

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller wraps kqueue(2), grounded on the corpus's Darwin FastPoller:
// separate read/write filters registered per fd, since kqueue has no single
// "events" bitmask like epoll.
type kqueuePoller struct {
	kq       int
	modes    map[int]Mode
	eventBuf [256]unix.Kevent_t
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{kq: kq, modes: make(map[int]Mode)}, nil
}

func kevents(fd int, mode Mode, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if mode&ModeRead != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if mode&ModeWrite != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func (p *kqueuePoller) add(fd int, mode Mode) error {
	ev := kevents(fd, mode, unix.EV_ADD|unix.EV_ENABLE)
	if len(ev) > 0 {
		if _, err := unix.Kevent(p.kq, ev, nil, nil); err != nil {
			return err
		}
	}
	p.modes[fd] = mode
	return nil
}

func (p *kqueuePoller) modify(fd int, mode Mode) error {
	old := p.modes[fd]
	if del := kevents(fd, old&^mode, unix.EV_DELETE); len(del) > 0 {
		_, _ = unix.Kevent(p.kq, del, nil, nil)
	}
	if add := kevents(fd, mode&^old, unix.EV_ADD|unix.EV_ENABLE); len(add) > 0 {
		if _, err := unix.Kevent(p.kq, add, nil, nil); err != nil {
			return err
		}
	}
	p.modes[fd] = mode
	return nil
}

func (p *kqueuePoller) remove(fd int) error {
	mode := p.modes[fd]
	delete(p.modes, fd)
	if del := kevents(fd, mode, unix.EV_DELETE); len(del) > 0 {
		_, _ = unix.Kevent(p.kq, del, nil, nil)
	}
	return nil
}

func (p *kqueuePoller) wait(timeout time.Duration) ([]readyEvent, error) {
	ts := &unix.Timespec{
		Sec:  int64(timeout / time.Second),
		Nsec: int64(timeout % time.Second),
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	byFD := make(map[int]*readyEvent, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		kv := p.eventBuf[i]
		fd := int(kv.Ident)
		e, ok := byFD[fd]
		if !ok {
			e = &readyEvent{fd: fd}
			byFD[fd] = e
			order = append(order, fd)
		}
		switch kv.Filter {
		case unix.EVFILT_READ:
			e.readable = true
		case unix.EVFILT_WRITE:
			e.writable = true
		}
		if kv.Flags&unix.EV_ERROR != 0 || kv.Flags&unix.EV_EOF != 0 {
			e.hardError = true
		}
	}
	out := make([]readyEvent, 0, len(order))
	for _, fd := range order {
		out = append(out, *byFD[fd])
	}
	return out, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
