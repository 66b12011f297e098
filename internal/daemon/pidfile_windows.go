//go:build windows

package daemon

import "os"

// processAlive approximates the unix signal-0 probe: os.FindProcess on
// Windows opens a real handle to pid and fails if none exists, unlike
// on unix where it always succeeds.
func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

// Terminate kills pid outright: Windows has no SIGTERM equivalent, so
// this is a hard stop rather than the graceful path unix's Terminate
// gets via syscall.SIGTERM.
func Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
