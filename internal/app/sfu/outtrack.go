package sfu

import "github.com/DO-2K23-26/beep-rtc/internal/domain"

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// OutTrack is the forwarding state of one relay towards one subscriber.
type OutTrack struct {
	Subscriber domain.EndpointID
	state      TrackState
	packets    uint64
}

func NewOutTrack(subscriber domain.EndpointID) *OutTrack {
	return &OutTrack{Subscriber: subscriber}
}

func (ot *OutTrack) State() TrackState { return ot.state }
func (ot *OutTrack) Packets() uint64   { return ot.packets }

func (ot *OutTrack) MarkOk()     { ot.state = TrackStateOk }
func (ot *OutTrack) MarkMuted()  { ot.state = TrackStateMuted }
func (ot *OutTrack) MarkDelete() { ot.state = TrackStateDelete }
