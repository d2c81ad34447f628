package netutil

import (
	"errors"
	"syscall"
)

// Connection reset errnos as reported on BSD and Windows.
const (
	errnoConnResetBSD     syscall.Errno = 54
	errnoConnResetWindows syscall.Errno = 10054
)

// IsConnectionReset reports whether err was caused by the peer resetting
// the connection.
func IsConnectionReset(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == errnoConnResetBSD || errno == errnoConnResetWindows
	}

	return false
}
