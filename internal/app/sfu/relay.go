package sfu

import (
	"github.com/pion/rtp"

	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

// Relay fans one publisher SSRC out to the other endpoints of the session.
type Relay struct {
	publisher domain.EndpointID
	ssrc      uint32
	outTracks map[domain.EndpointID]*OutTrack
}

func NewRelay(publisher domain.EndpointID, ssrc uint32) *Relay {
	return &Relay{
		publisher: publisher,
		ssrc:      ssrc,
		outTracks: make(map[domain.EndpointID]*OutTrack),
	}
}

func (r *Relay) Publisher() domain.EndpointID { return r.publisher }
func (r *Relay) SSRC() uint32                 { return r.ssrc }

func (r *Relay) OutTrack(sub domain.EndpointID) (*OutTrack, bool) {
	ot, ok := r.outTracks[sub]
	return ot, ok
}

// AddOutTrack attaches sub, reviving a track marked for deletion.
func (r *Relay) AddOutTrack(sub domain.EndpointID) *OutTrack {
	if ot, ok := r.outTracks[sub]; ok && ot.State() != TrackStateDelete {
		return ot
	}
	ot := NewOutTrack(sub)
	r.outTracks[sub] = ot
	return ot
}

// forward hands pkt to every live subscriber through send. Subscribers that
// cannot be reached are marked for deletion and removed afterwards.
func (r *Relay) forward(pkt *rtp.Packet, send func(sub domain.EndpointID, raw []byte) error) error {
	raw, err := pkt.Marshal()
	if err != nil {
		return err
	}
	dirty := make([]domain.EndpointID, 0)
	for sub, ot := range r.outTracks {
		switch ot.State() {
		case TrackStateDelete:
			dirty = append(dirty, sub)
		case TrackStateMuted:
		case TrackStateOk:
			if err := send(sub, raw); err != nil {
				ot.MarkDelete()
				dirty = append(dirty, sub)
				continue
			}
			ot.packets++
		}
	}
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
	return nil
}

func (r *Relay) cleanupDeleted(dirty []domain.EndpointID) {
	for _, sub := range dirty {
		delete(r.outTracks, sub)
	}
}

func (r *Relay) markDelete(sub domain.EndpointID) {
	if ot, ok := r.outTracks[sub]; ok {
		ot.MarkDelete()
	}
}

func (r *Relay) markAllDelete() {
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}
