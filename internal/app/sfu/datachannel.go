package sfu

import (
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/sctp"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

type channelEventKind uint8

const (
	channelOpened channelEventKind = iota
	channelMessage
	channelClosed
)

type channelEvent struct {
	kind     channelEventKind
	key      domain.EndpointKey
	assoc    *sctp.Association
	channel  *datachannel.DataChannel
	payload  []byte
	isString bool
}

// DataChannelHandler accepts DCEP channels and turns their messages into
// Data units.
type DataChannelHandler struct {
	Base
	states *ServerStates
	events chan channelEvent
}

func NewDataChannelHandler(states *ServerStates) *DataChannelHandler {
	return &DataChannelHandler{
		states: states,
		events: make(chan channelEvent, 256),
	}
}

func (h *DataChannelHandler) Name() string { return "datachannel" }

func (h *DataChannelHandler) HandleRead(ctx *Context, msg *Message) {
	if msg.Kind == KindSCTPAssociated {
		if ep, ok := h.states.Endpoint(msg.Key); ok && ep.sctp != nil {
			go h.accept(ep.key, ep.sctp)
		}
		return
	}
	ctx.FireRead(msg)
}

func (h *DataChannelHandler) emit(ev channelEvent) bool {
	select {
	case h.events <- ev:
		h.states.Wake()
		return true
	case <-h.states.closed:
		return false
	}
}

func (h *DataChannelHandler) accept(key domain.EndpointKey, assoc *sctp.Association) {
	cfg := h.states.config
	for {
		dc, err := datachannel.Accept(assoc, &datachannel.Config{LoggerFactory: cfg.LoggerFactory})
		if err != nil {
			return
		}
		if !h.emit(channelEvent{kind: channelOpened, key: key, assoc: assoc, channel: dc}) {
			_ = dc.Close()
			return
		}
		go h.read(key, assoc, dc, cfg.MaxMessageSize)
	}
}

func (h *DataChannelHandler) read(key domain.EndpointKey, assoc *sctp.Association, dc *datachannel.DataChannel, size int) {
	buf := make([]byte, size)
	for {
		n, isString, err := dc.ReadDataChannel(buf)
		if err != nil {
			h.emit(channelEvent{kind: channelClosed, key: key, assoc: assoc, channel: dc})
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		ev := channelEvent{kind: channelMessage, key: key, assoc: assoc, channel: dc, payload: payload, isString: isString}
		if !h.emit(ev) {
			return
		}
	}
}

func (h *DataChannelHandler) PollTimeout(eto *time.Time) {
	if len(h.events) > 0 {
		*eto = time.Time{}
	}
}

func (h *DataChannelHandler) HandleTimeout(ctx *Context, now time.Time) {
	for {
		select {
		case ev := <-h.events:
			h.dispatch(ctx, ev, now)
		default:
			return
		}
	}
}

func (h *DataChannelHandler) dispatch(ctx *Context, ev channelEvent, now time.Time) {
	ep, ok := h.states.Endpoint(ev.key)
	if !ok || ep.sctp != ev.assoc {
		if ev.kind == channelOpened {
			_ = ev.channel.Close()
		}
		return
	}
	label := ev.channel.Config.Label

	switch ev.kind {
	case channelOpened:
		if prev, ok := ep.channels[label]; ok && prev != ev.channel {
			_ = prev.Close()
		}
		if ep.channels == nil {
			ep.channels = make(map[string]*datachannel.DataChannel)
		}
		ep.channels[label] = ev.channel
		h.states.log.Debug().Str("endpoint", ep.key.String()).Str("label", label).Msg("data channel opened")
	case channelClosed:
		if ep.channels[label] == ev.channel {
			delete(ep.channels, label)
		}
	case channelMessage:
		ep.lastSeen = now
		ctx.FireRead(&Message{
			Now:   now,
			Local: h.states.local,
			Peer:  ep.peer,
			Kind:  KindData,
			Key:   ep.key,
			Bound: true,
			Data:  &DataMessage{Label: label, Payload: ev.payload, IsString: ev.isString},
		})
	}
}
