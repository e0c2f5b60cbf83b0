package sfu

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

// Kind classifies a unit travelling through the pipeline.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSTUN
	KindDTLS
	KindRTP
	KindRTCP
	KindDTLSConnected
	KindSCTPAssociated
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindSTUN:
		return "stun"
	case KindDTLS:
		return "dtls"
	case KindRTP:
		return "rtp"
	case KindRTCP:
		return "rtcp"
	case KindDTLSConnected:
		return "dtls-connected"
	case KindSCTPAssociated:
		return "sctp-associated"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Message is one inbound unit. Stages enrich it as it moves downstream.
type Message struct {
	Now   time.Time
	Local netip.AddrPort
	Peer  netip.AddrPort
	Raw   []byte
	Kind  Kind

	// Key is valid once Bound is set by the STUN stage.
	Key   domain.EndpointKey
	Bound bool

	RTP  *rtp.Packet
	RTCP []rtcp.Packet
	Data *DataMessage
}

type DataMessage struct {
	Label    string
	Payload  []byte
	IsString bool
}

// Transmit is one datagram the worker has to send.
type Transmit struct {
	Now     time.Time
	Peer    netip.AddrPort
	Message []byte
}

// Handler is one pipeline stage.
type Handler interface {
	Name() string
	HandleRead(ctx *Context, msg *Message)
	HandleException(ctx *Context, err error)
	PollTransmit() (Transmit, bool)
	PollTimeout(eto *time.Time)
	HandleTimeout(ctx *Context, now time.Time)
	TransportActive(ctx *Context)
	TransportInactive(ctx *Context)
}

// Base passes everything through. Stages embed it and override what they need.
type Base struct{}

func (Base) HandleRead(ctx *Context, msg *Message)   { ctx.FireRead(msg) }
func (Base) HandleException(ctx *Context, err error) { ctx.FireException(err) }
func (Base) PollTransmit() (Transmit, bool)          { return Transmit{}, false }
func (Base) PollTimeout(*time.Time)                  {}
func (Base) HandleTimeout(*Context, time.Time)       {}
func (Base) TransportActive(*Context)                {}
func (Base) TransportInactive(*Context)              {}

// Context binds a handler to its position in the pipeline.
type Context struct {
	p   *Pipeline
	idx int
}

// FireRead hands msg to the next stage. Past the last stage it is dropped.
func (c *Context) FireRead(msg *Message) {
	next := c.idx + 1
	if next >= len(c.p.handlers) {
		return
	}
	prev := c.p.current
	c.p.current = next
	c.p.handlers[next].HandleRead(c.p.ctxs[next], msg)
	c.p.current = prev
}

func (c *Context) FireException(err error) {
	next := c.idx + 1
	if next >= len(c.p.handlers) {
		c.p.log.Error().Err(err).Msg("unhandled pipeline exception")
		return
	}
	c.p.handlers[next].HandleException(c.p.ctxs[next], err)
}

// Write queues an outbound datagram.
func (c *Context) Write(t Transmit) {
	c.p.queue = append(c.p.queue, t)
}

func (c *Context) Name() string { return c.p.handlers[c.idx].Name() }

// Pipeline is driven by exactly one goroutine.
type Pipeline struct {
	handlers []Handler
	ctxs     []*Context
	queue    []Transmit
	current  int
	log      zerolog.Logger
}

func NewPipeline(log zerolog.Logger) *Pipeline {
	return &Pipeline{log: log}
}

func (p *Pipeline) AddBack(h Handler) *Pipeline {
	p.ctxs = append(p.ctxs, &Context{p: p, idx: len(p.handlers)})
	p.handlers = append(p.handlers, h)
	return p
}

func (p *Pipeline) Len() int { return len(p.handlers) }

func (p *Pipeline) Names() []string {
	names := make([]string, len(p.handlers))
	for i, h := range p.handlers {
		names[i] = h.Name()
	}
	return names
}

// Read feeds one inbound unit to the first stage.
func (p *Pipeline) Read(msg *Message) {
	if len(p.handlers) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.fault(r, msg.Key, msg.Bound)
		}
	}()
	p.current = 0
	p.handlers[0].HandleRead(p.ctxs[0], msg)
}

// PollTransmit returns the next queued datagram.
func (p *Pipeline) PollTransmit() (Transmit, bool) {
	if len(p.queue) > 0 {
		t := p.queue[0]
		p.queue[0] = Transmit{}
		p.queue = p.queue[1:]
		return t, true
	}
	for _, h := range p.handlers {
		if t, ok := h.PollTransmit(); ok {
			return t, true
		}
	}
	return Transmit{}, false
}

// PollTimeout lowers eto to the earliest deadline any stage is waiting for.
func (p *Pipeline) PollTimeout(eto *time.Time) {
	if len(p.queue) > 0 {
		*eto = time.Time{}
		return
	}
	for _, h := range p.handlers {
		h.PollTimeout(eto)
	}
}

func (p *Pipeline) HandleTimeout(now time.Time) {
	for i, h := range p.handlers {
		p.handleTimeout(i, h, now)
	}
}

func (p *Pipeline) handleTimeout(i int, h Handler, now time.Time) {
	defer p.recoverFault()
	p.current = i
	h.HandleTimeout(p.ctxs[i], now)
}

func (p *Pipeline) TransportActive() {
	for i, h := range p.handlers {
		h.TransportActive(p.ctxs[i])
	}
}

func (p *Pipeline) TransportInactive() {
	for i, h := range p.handlers {
		func() {
			defer p.recoverFault()
			p.current = i
			h.TransportInactive(p.ctxs[i])
		}()
	}
}

func (p *Pipeline) recoverFault() {
	if r := recover(); r != nil {
		p.fault(r, domain.EndpointKey{}, false)
	}
}

// fault turns a stage panic into an exception for the last stage.
func (p *Pipeline) fault(r any, key domain.EndpointKey, bound bool) {
	stage := "pipeline"
	if p.current < len(p.handlers) {
		stage = p.handlers[p.current].Name()
	}
	err := &SessionError{Stage: stage, Err: fmt.Errorf("%w: %v", ErrStagePanic, r)}
	if bound {
		err.Key = key
		err.Scoped = true
	}
	last := len(p.handlers) - 1
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Interface("panic", r).Msg("exception stage panicked")
			}
		}()
		p.handlers[last].HandleException(p.ctxs[last], err)
	}()
}
