package core

import (
	"fmt"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

// Target names the endpoint a signaling message is about.
type Target struct {
	Session  domain.SessionID
	Endpoint domain.EndpointID
}

func (t Target) Scope() Target { return t }

func (t Target) Key() domain.EndpointKey {
	return domain.EndpointKey{Session: t.Session, Endpoint: t.Endpoint}
}

func (t Target) String() string {
	return fmt.Sprintf("session %d endpoint %d", t.Session, t.Endpoint)
}

// Request is the intent carried from the control plane into a media worker.
// The only implementations are Offer and Leave.
type Request interface {
	Scope() Target
	isRequest()
}

// Offer carries a JSON session description of type "offer".
type Offer struct {
	Target
	SDP []byte
}

// Leave asks the worker to tear the endpoint down.
type Leave struct {
	Target
}

func (Offer) isRequest() {}
func (Leave) isRequest() {}

// Response is produced by a worker for exactly one Request.
// The only implementations are Answer, Err and Ok.
type Response interface {
	Scope() Target
	isResponse()
}

// Answer carries a JSON session description of type "answer".
type Answer struct {
	Target
	SDP []byte
}

type Err struct {
	Target
	Reason string
}

type Ok struct {
	Target
}

func (Answer) isResponse() {}
func (Err) isResponse()    {}
func (Ok) isResponse()     {}

// Envelope pairs a request with its single-use reply channel.
// Reply must be buffered so the worker never blocks on it.
type Envelope struct {
	Request Request
	Reply   chan<- Response
}

// NewEnvelope allocates a fresh reply channel for req.
func NewEnvelope(req Request) (Envelope, <-chan Response) {
	reply := make(chan Response, 1)
	return Envelope{Request: req, Reply: reply}, reply
}

// Respond delivers resp without ever blocking the caller.
// It reports false if a response was already delivered.
func (e Envelope) Respond(resp Response) bool {
	select {
	case e.Reply <- resp:
		return true
	default:
		return false
	}
}

// KindOf names a request or response variant for logs and metrics.
func KindOf(v any) string {
	switch v.(type) {
	case Offer, *Offer:
		return "offer"
	case Leave, *Leave:
		return "leave"
	case Answer, *Answer:
		return "answer"
	case Err, *Err:
		return "err"
	case Ok, *Ok:
		return "ok"
	default:
		return "unknown"
	}
}
