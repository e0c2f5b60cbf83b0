package sfu

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/sdp/v3"
)

// remoteDescription is what the server needs from an offer.
type remoteDescription struct {
	ufrag       string
	pwd         string
	fingerprint Fingerprint
	media       []*sdp.MediaDescription
	hasData     bool
	receives    bool
}

func parseOffer(raw string) (*remoteDescription, error) {
	var offer sdp.SessionDescription
	if err := offer.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if len(offer.MediaDescriptions) == 0 {
		return nil, ErrNoMedia
	}

	desc := &remoteDescription{media: offer.MediaDescriptions}
	desc.ufrag = attribute(&offer, "ice-ufrag")
	desc.pwd = attribute(&offer, "ice-pwd")
	if desc.ufrag == "" || desc.pwd == "" {
		return nil, ErrMissingICE
	}
	fp := attribute(&offer, "fingerprint")
	if fp == "" {
		return nil, ErrMissingFinger
	}
	var err error
	if desc.fingerprint, err = ParseFingerprint(fp); err != nil {
		return nil, err
	}

	for _, m := range offer.MediaDescriptions {
		if m.MediaName.Media == "application" {
			desc.hasData = true
			continue
		}
		switch direction(m) {
		case "sendrecv", "recvonly":
			desc.receives = true
		}
	}
	return desc, nil
}

// attribute looks the key up at session level, then in each media section.
func attribute(s *sdp.SessionDescription, key string) string {
	if v, ok := s.Attribute(key); ok {
		return v
	}
	for _, m := range s.MediaDescriptions {
		if v, ok := m.Attribute(key); ok {
			return v
		}
	}
	return ""
}

func direction(m *sdp.MediaDescription) string {
	for _, a := range m.Attributes {
		switch a.Key {
		case "sendrecv", "sendonly", "recvonly", "inactive":
			return a.Key
		}
	}
	return "sendrecv"
}

func reverseDirection(d string) string {
	switch d {
	case "sendonly":
		return "recvonly"
	case "recvonly":
		return "sendonly"
	default:
		return d
	}
}

var copiedAttributes = map[string]bool{
	"rtpmap":  true,
	"fmtp":    true,
	"rtcp-fb": true,
	"extmap":  true,
}

type answerParams struct {
	ufrag        string
	pwd          string
	fingerprints []Fingerprint
	candidate    netip.AddrPort
	maxMessage   int
}

// buildAnswer mirrors every offered m-line behind a single ICE-lite host
// candidate, with the server acting as the passive DTLS side.
func buildAnswer(remote *remoteDescription, p answerParams) ([]byte, error) {
	answer, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return nil, err
	}
	cand, err := ice.NewCandidateHost(&ice.CandidateHostConfig{
		Network:   "udp",
		Address:   p.candidate.Addr().String(),
		Port:      int(p.candidate.Port()),
		Component: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("sfu: host candidate: %w", err)
	}

	mids := make([]string, 0, len(remote.media))
	for i, m := range remote.media {
		mid, ok := m.Attribute("mid")
		if !ok {
			mid = fmt.Sprint(i)
		}
		mids = append(mids, mid)

		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   m.MediaName.Media,
				Port:    sdp.RangedPort{Value: 9},
				Protos:  m.MediaName.Protos,
				Formats: m.MediaName.Formats,
			},
			ConnectionInformation: &sdp.ConnectionInformation{
				NetworkType: "IN",
				AddressType: "IP4",
				Address:     &sdp.Address{Address: "0.0.0.0"},
			},
		}
		md.WithValueAttribute("mid", mid).
			WithValueAttribute("ice-ufrag", p.ufrag).
			WithValueAttribute("ice-pwd", p.pwd)
		for _, fp := range p.fingerprints {
			md.WithValueAttribute("fingerprint", fp.String())
		}
		md.WithValueAttribute("setup", "passive")

		if m.MediaName.Media == "application" {
			md.WithValueAttribute("sctp-port", "5000").
				WithValueAttribute("max-message-size", fmt.Sprint(p.maxMessage))
		} else {
			md.WithPropertyAttribute("rtcp-mux").
				WithPropertyAttribute(reverseDirection(direction(m)))
			for _, a := range m.Attributes {
				if copiedAttributes[a.Key] {
					md.WithValueAttribute(a.Key, a.Value)
				}
			}
		}
		md.WithValueAttribute("candidate", cand.Marshal()).
			WithPropertyAttribute("end-of-candidates")
		answer.WithMedia(md)
	}

	answer.WithPropertyAttribute("ice-lite").
		WithValueAttribute("group", "BUNDLE "+strings.Join(mids, " ")).
		WithValueAttribute("msid-semantic", "WMS *")
	return answer.Marshal()
}
