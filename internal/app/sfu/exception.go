package sfu

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/DO-2K23-26/beep-rtc/internal/metrics"
)

// ExceptionHandler is the last stage. It absorbs faults and unconsumed units.
type ExceptionHandler struct {
	Base
	log zerolog.Logger
}

func NewExceptionHandler(log zerolog.Logger) *ExceptionHandler {
	return &ExceptionHandler{log: log}
}

func (h *ExceptionHandler) Name() string { return "exception" }

func (h *ExceptionHandler) HandleRead(_ *Context, msg *Message) {
	h.log.Trace().Str("kind", msg.Kind.String()).Str("peer", msg.Peer.String()).Msg("unconsumed unit dropped")
}

func (h *ExceptionHandler) HandleException(_ *Context, err error) {
	stage := "unknown"
	ev := h.log.Warn().Err(err)
	var se *SessionError
	if errors.As(err, &se) {
		stage = se.Stage
		if se.Scoped {
			ev = ev.Str("endpoint", se.Key.String())
		}
	}
	ev.Str("stage", stage).Msg("pipeline fault")
	metrics.PipelineFaults.WithLabelValues(stage).Inc()
}
