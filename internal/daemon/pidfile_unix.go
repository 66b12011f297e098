//go:build !windows

package daemon

import "syscall"

// processAlive sends signal 0 to pid, which performs no action but
// still reports ESRCH if the process does not exist — the standard
// unix liveness probe, used instead of os.FindProcess (which always
// succeeds on unix regardless of whether the pid is live). EPERM means
// the process exists but belongs to another user, so it counts as alive.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// Terminate sends SIGTERM to pid, the same signal pibraind's own
// signal.NotifyContext listens for, so "stop" triggers the identical
// graceful-shutdown path as Ctrl-C.
func Terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
