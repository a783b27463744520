package daemon

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/printspool/printspoold/internal/errs"
	"github.com/printspool/printspoold/internal/reactor"
)

// Listen binds every address in cfg.Listen and registers each listening
// socket's raw fd with the reactor, so an incoming connection drives
// Sessions.Open from the same single-threaded event loop as every other
// subsystem (§4.10, §10.4). Accept itself goes through raw accept4
// rather than net.Listener.Accept so the connection's fd, too, can be
// handed straight to the reactor instead of Go's own runtime poller.
func (r *Root) Listen() error {
	for _, addr := range r.Config.Listen {
		if err := r.listenOne(addr); err != nil {
			return err
		}
	}
	return nil
}

func (r *Root) listenOne(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.Wrap(errs.FSUnsafe, "listen "+addr, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return errs.New(errs.FSUnsafe, "listen "+addr+": not a TCP listener")
	}

	sc, err := tcpLn.SyscallConn()
	if err != nil {
		_ = ln.Close()
		return errs.Wrap(errs.FSUnsafe, "listener syscall conn for "+addr, err)
	}

	var fd int
	ctrlErr := sc.Control(func(rawFD uintptr) { fd = int(rawFD) })
	if ctrlErr != nil {
		_ = ln.Close()
		return errs.Wrap(errs.FSUnsafe, "listener fd for "+addr, ctrlErr)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = ln.Close()
		return errs.Wrap(errs.FSUnsafe, "set listener nonblocking for "+addr, err)
	}

	// Keep the *net.TCPListener reachable so its finalizer doesn't close
	// fd out from under the reactor; Close tears both down together.
	r.listeners = append(r.listeners, tcpLn)

	return r.Reactor.Add(fd, reactor.ModeRead, r.acceptCallback(fd))
}

func (r *Root) acceptCallback(listenFD int) reactor.Callback {
	return func(readable, writable, hardError bool) {
		if !readable {
			return
		}
		for {
			connFD, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
			if err != nil {
				if err == unix.EAGAIN {
					return
				}
				r.Log.Err().Err(err).Log("accept")
				return
			}
			r.acceptOne(connFD, sockaddrToAddr(sa))
		}
	}
}

// acceptOne admits a freshly accepted connection through the session
// manager's concurrency/rate caps (§5, §4.10) and, on success, registers
// it for read readiness so the (external) transport decoder can be
// plugged in; request parsing itself stays out of scope (session.go's
// Decoder is an external collaborator), so the callback here only keeps
// the connection's lifecycle tied to the session it was admitted as.
func (r *Root) acceptOne(connFD int, addr net.Addr) {
	sess, ok, err := r.Sessions.Open(addr)
	if err != nil {
		r.Log.Warning().Err(err).Str("addr", addr.String()).Log("session admission refused")
		_ = unix.Close(connFD)
		return
	}
	if !ok {
		_ = unix.Close(connFD)
		return
	}

	readBuf := make([]byte, 4096)
	var cb reactor.Callback
	cb = func(readable, writable, hardError bool) {
		if !readable && !hardError {
			return
		}
		n, rerr := unix.Read(connFD, readBuf)
		if n > 0 {
			// Bytes arrived ahead of a concrete Decoder being wired in;
			// nothing downstream of session.Session can consume them yet.
			return
		}
		if rerr == unix.EAGAIN {
			return
		}
		_ = r.Reactor.Remove(connFD)
		_ = sess.Close()
		r.Sessions.Release(sess)
		_ = unix.Close(connFD)
	}
	if err := r.Reactor.Add(connFD, reactor.ModeRead, cb); err != nil {
		_ = sess.Close()
		r.Sessions.Release(sess)
		_ = unix.Close(connFD)
	}
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	default:
		return &net.TCPAddr{}
	}
}
