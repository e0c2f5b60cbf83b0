package signaling

import (
	"errors"
	"fmt"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

var (
	ErrNoMediaPort        = errors.New("No media port available")
	ErrWorkerGone         = errors.New("signaling: media worker is not running")
	ErrTimeout            = errors.New("signaling: media worker did not reply in time")
	ErrUnexpectedResponse = errors.New("signaling: unexpected response from media worker")
)

// RemoteError is an Err response produced by the worker.
type RemoteError struct {
	Session  domain.SessionID
	Endpoint domain.EndpointID
	Reason   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("Error for session %d endpoint %d: %s", e.Session, e.Endpoint, e.Reason)
}
