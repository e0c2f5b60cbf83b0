package sfu

// Classify sorts a datagram by its first byte as described in RFC 7983.
func Classify(raw []byte) Kind {
	if len(raw) == 0 {
		return KindUnknown
	}
	switch b := raw[0]; {
	case b <= 3:
		return KindSTUN
	case b >= 20 && b <= 63:
		return KindDTLS
	case b >= 128 && b <= 191:
		if len(raw) >= 2 && raw[1] >= 192 && raw[1] <= 223 {
			return KindRTCP
		}
		return KindRTP
	default:
		return KindUnknown
	}
}

// DemuxerHandler tags every datagram with its protocol.
type DemuxerHandler struct {
	Base
	states *ServerStates
}

func NewDemuxerHandler(states *ServerStates) *DemuxerHandler {
	return &DemuxerHandler{states: states}
}

func (h *DemuxerHandler) Name() string { return "demuxer" }

func (h *DemuxerHandler) HandleRead(ctx *Context, msg *Message) {
	msg.Kind = Classify(msg.Raw)
	if msg.Kind == KindUnknown {
		h.states.log.Trace().Str("peer", msg.Peer.String()).Int("size", len(msg.Raw)).Msg("dropping unclassified datagram")
		return
	}
	ctx.FireRead(msg)
}
