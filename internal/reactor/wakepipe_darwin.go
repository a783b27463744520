//go:build darwin

package reactor

import "golang.org/x/sys/unix"

// createWakePipe uses a self-pipe, matching the corpus's Darwin wake
// mechanism (eventloop/wakeup_darwin.go): kqueue has no eventfd equivalent.
func createWakePipe() (read, write int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}

func closeWakePipe(read, write int) {
	_ = unix.Close(read)
	_ = unix.Close(write)
}

func writeWakePipe(write int) {
	var one [1]byte
	one[0] = 1
	_, _ = unix.Write(write, one[:])
}

func drainWakePipe(read int) {
	var buf [64]byte
	for {
		if _, err := unix.Read(read, buf[:]); err != nil {
			return
		}
	}
}
