//go:build linux

package reactor

import "golang.org/x/sys/unix"

// createWakePipe uses a single eventfd as both ends, matching the corpus's
// Linux wake mechanism (eventloop/wakeup_linux.go): cheaper than a real pipe
// since it needs no second fd and coalesces repeated writes into one count.
func createWakePipe() (read, write int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

func closeWakePipe(read, write int) {
	_ = unix.Close(read)
}

func writeWakePipe(write int) {
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(write, one[:])
}

func drainWakePipe(read int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(read, buf[:]); err != nil {
			return
		}
	}
}
