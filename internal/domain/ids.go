// Package domain contains identifiers without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrSessionIDInvalid  = errors.New("session id must be an unsigned 64-bit integer")
	ErrEndpointIDInvalid = errors.New("endpoint id must be an unsigned 64-bit integer")
)

// SessionID groups the endpoints that exchange media with each other.
type SessionID uint64

// EndpointID identifies one participant connection inside a session.
type EndpointID uint64

// EndpointKey is the arena key of one participant.
type EndpointKey struct {
	Session  SessionID
	Endpoint EndpointID
}

func (k EndpointKey) String() string {
	return fmt.Sprintf("session %d endpoint %d", k.Session, k.Endpoint)
}

func ParseSessionID(s string) (SessionID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ErrSessionIDInvalid
	}
	return SessionID(v), nil
}

func ParseEndpointID(s string) (EndpointID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ErrEndpointIDInvalid
	}
	return EndpointID(v), nil
}
