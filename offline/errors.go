package offline

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrUnavailable is what a Remote returns when it knows it cannot reach its backend.
	ErrUnavailable = errors.New("offline: remote unavailable")

	// ErrNotFound is returned when neither the remote nor the local mirror has a record.
	ErrNotFound = errors.New("offline: record not found")

	errNothingMirrored = errors.New("offline: local mirror is empty")
)

/*
IsNetworkError reports whether err means the remote could not be reached, as opposed
to the remote refusing the request. Writes failing this way are committed locally.

Network-class errors are ErrUnavailable, any net.Error and context.DeadlineExceeded.
A cancelled context is not one.
*/
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
