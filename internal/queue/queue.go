// Package queue holds the broker implementations that feed domain jobs to
// workers, along with the error taxonomy they share.
//
// A broker is a FIFO list of "<id>|<domain>" strings. Workers pop with a
// bounded blocking wait; the feeder pushes in batches.
package queue

import (
	"errors"
)

var (
	// ErrConnection marks failures of the link to the broker itself, as
	// opposed to server-side command errors. Workers respond to it by
	// reconnecting.
	ErrConnection = errors.New("broker connection error")
	// ErrClosed is returned by operations on a broker that has been closed.
	ErrClosed = errors.New("broker closed")
)

// IsConnection reports whether err should trigger a reconnect.
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrClosed)
}
