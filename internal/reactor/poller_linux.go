//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller wraps epoll(7), adapted from the corpus's FastPoller but
// without its direct-indexed fixed array: the daemon's fd count is bounded
// by configured connection/job caps (§5), so a map is plenty.
type epollPoller struct {
	epfd     int
	eventBuf [256]unix.EpollEvent
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: fd}, nil
}

func epollEventsFor(mode Mode) uint32 {
	var ev uint32
	if mode&ModeRead != 0 {
		ev |= unix.EPOLLIN
	}
	if mode&ModeWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) add(fd int, mode Mode) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: epollEventsFor(mode),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) modify(fd int, mode Mode) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: epollEventsFor(mode),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) wait(timeout time.Duration) ([]readyEvent, error) {
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		out = append(out, readyEvent{
			fd:        int(ev.Fd),
			readable:  ev.Events&unix.EPOLLIN != 0,
			writable:  ev.Events&unix.EPOLLOUT != 0,
			hardError: ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}
