package msgq

import (
	"fmt"
	"net"
	"os"
	"time"
)

// ErrAlreadyRunning is returned by Listen when another process already
// holds path as a live msgqd socket (spec §2: the broker refuses to
// start a second instance against the same socket file).
var ErrAlreadyRunning = fmt.Errorf("msgq: another broker is already listening on this socket file")

// Listen prepares path for a fresh broker instance and returns a
// listener bound to it. If a socket file already exists at path, Listen
// first probes it: a successful connect means a live broker owns it
// (ErrAlreadyRunning), while a stale file left behind by a broker that
// exited without cleanup (spec §2, abnormal termination) is removed and
// recreated.
func Listen(path string) (*net.UnixListener, error) {
	if _, err := os.Stat(path); err == nil {
		if probeSocketFile(path) {
			return nil, ErrAlreadyRunning
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("msgq: remove stale socket file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("msgq: stat socket file %s: %w", path, err)
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("msgq: resolve socket path %s: %w", path, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("msgq: listen on %s: %w", path, err)
	}
	return ln, nil
}

// probeSocketFile reports whether path currently has a live listener
// behind it, by attempting a short-lived connect.
func probeSocketFile(path string) bool {
	c, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// RemoveSocketFile deletes path, ignoring a not-exist error. Called on
// clean shutdown (spec §2) after the listener itself has been closed.
func RemoveSocketFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
