package transport

import (
	"github.com/rs/zerolog"

	"github.com/DO-2K23-26/beep-rtc/internal/app/sfu"
)

// buildPipeline composes the protocol stages of one worker. Every stage
// shares the worker's arena.
func buildPipeline(states *sfu.ServerStates, log zerolog.Logger) *sfu.Pipeline {
	return sfu.NewPipeline(log).
		AddBack(sfu.NewDemuxerHandler(states)).
		AddBack(sfu.NewSTUNHandler(states)).
		AddBack(sfu.NewDTLSHandler(states)).
		AddBack(sfu.NewSCTPHandler(states)).
		AddBack(sfu.NewDataChannelHandler(states)).
		AddBack(sfu.NewSRTPHandler(states)).
		AddBack(sfu.NewInterceptorHandler(states)).
		AddBack(sfu.NewGatewayHandler(states)).
		AddBack(sfu.NewExceptionHandler(log))
}
