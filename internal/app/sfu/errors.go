package sfu

import (
	"errors"
	"fmt"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

var (
	ErrStagePanic       = errors.New("sfu: stage panicked")
	ErrInvalidOffer     = errors.New("sfu: invalid offer")
	ErrMissingICE       = errors.New("sfu: offer carries no ICE credentials")
	ErrMissingFinger    = errors.New("sfu: offer carries no DTLS fingerprint")
	ErrNoMedia          = errors.New("sfu: offer carries no media section")
	ErrUnknownRequest   = errors.New("sfu: unknown signaling request")
	ErrUnknownUfrag     = errors.New("sfu: unknown ICE username")
	ErrFingerprint      = errors.New("sfu: remote certificate does not match fingerprint")
	ErrNoSRTPProfile    = errors.New("sfu: no SRTP protection profile negotiated")
	ErrTransportClosed  = errors.New("sfu: transport closed")
	ErrNoCertificate    = errors.New("sfu: no certificate configured")
	ErrEndpointNotBound = errors.New("sfu: endpoint has no bound peer")
	ErrNoSRTPContext    = errors.New("sfu: endpoint has no SRTP context")
)

// SessionError is a fault raised while processing traffic of one endpoint.
// Scoped is false for faults that could not be attributed to an endpoint.
type SessionError struct {
	Key    domain.EndpointKey
	Scoped bool
	Stage  string
	Err    error
}

func (e *SessionError) Error() string {
	if !e.Scoped {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Key, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func scoped(stage string, key domain.EndpointKey, err error) *SessionError {
	return &SessionError{Key: key, Scoped: true, Stage: stage, Err: err}
}

func unscoped(stage string, err error) *SessionError {
	return &SessionError{Stage: stage, Err: err}
}
