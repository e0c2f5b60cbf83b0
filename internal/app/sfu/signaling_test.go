package sfu

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DO-2K23-26/beep-rtc/internal/core"
)

func parseAnswer(t *testing.T, resp core.Response) *sdp.SessionDescription {
	t.Helper()
	answer, ok := resp.(core.Answer)
	require.True(t, ok, "got %T", resp)

	var desc webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(answer.SDP, &desc))
	require.Equal(t, webrtc.SDPTypeAnswer, desc.Type)

	var parsed sdp.SessionDescription
	require.NoError(t, parsed.Unmarshal([]byte(desc.SDP)))
	return &parsed
}

func TestOfferProducesAnswer(t *testing.T) {
	states := newTestStates(t)
	resp, err := states.HandleSignaling(core.Offer{
		Target: target(5, 9),
		SDP:    offerJSON(t, offerSDP(testFingerprint, "sendrecv", "sendonly")),
	})
	require.NoError(t, err)
	assert.Equal(t, target(5, 9), resp.Scope())

	answer := parseAnswer(t, resp)
	_, lite := answer.Attribute("ice-lite")
	assert.True(t, lite)
	group, _ := answer.Attribute("group")
	assert.Equal(t, "BUNDLE 0 1 2", group)
	require.Len(t, answer.MediaDescriptions, 3)

	ep, ok := states.Endpoint(target(5, 9).Key())
	require.True(t, ok)
	assert.True(t, ep.hasData)
	assert.True(t, ep.receives)
	assert.Equal(t, []string{"0", "1", "2"}, ep.mids)
	assert.Len(t, ep.LocalUfrag(), ufragLength)
	assert.Len(t, ep.LocalPwd(), pwdLength)
	assert.Equal(t, "remotePasswordRemotePassword", ep.remotePwd)

	for i, m := range answer.MediaDescriptions {
		setup, _ := m.Attribute("setup")
		assert.Equal(t, "passive", setup, "m-line %d", i)
		ufrag, _ := m.Attribute("ice-ufrag")
		assert.Equal(t, ep.LocalUfrag(), ufrag)
		fp, _ := m.Attribute("fingerprint")
		assert.Equal(t, states.Config().Fingerprints[0].String(), fp)
		cand, _ := m.Attribute("candidate")
		assert.Contains(t, cand, "127.0.0.1 3478 typ host")
		mid, _ := m.Attribute("mid")
		assert.Equal(t, ep.mids[i], mid)
	}

	audio, video, app := answer.MediaDescriptions[0], answer.MediaDescriptions[1], answer.MediaDescriptions[2]
	_, sendrecv := audio.Attribute("sendrecv")
	assert.True(t, sendrecv)
	rtpmap, _ := audio.Attribute("rtpmap")
	assert.Equal(t, "111 opus/48000/2", rtpmap)
	_, recvonly := video.Attribute("recvonly")
	assert.True(t, recvonly, "sendonly offer must be answered recvonly")
	assert.Equal(t, "application", app.MediaName.Media)
	port, _ := app.Attribute("sctp-port")
	assert.Equal(t, "5000", port)
}

func TestOfferRejections(t *testing.T) {
	noICE := strings.ReplaceAll(offerSDP(testFingerprint, "sendrecv", "sendrecv"), "a=ice-ufrag:Rm0t\r\n", "")
	noFP := strings.ReplaceAll(offerSDP(testFingerprint, "sendrecv", "sendrecv"), "a=fingerprint:"+testFingerprint+"\r\n", "")

	cases := map[string]struct {
		body []byte
		want error
	}{
		"not json":        {[]byte("v=0"), ErrInvalidOffer},
		"answer type":     {[]byte(`{"type":"answer","sdp":"v=0\r\n"}`), ErrInvalidOffer},
		"garbage sdp":     {offerJSON(t, "hello"), ErrInvalidOffer},
		"no ice":          {offerJSON(t, noICE), ErrMissingICE},
		"no fingerprint":  {offerJSON(t, noFP), ErrMissingFinger},
		"bad fingerprint": {offerJSON(t, offerSDP("md4 AB", "sendrecv", "sendrecv")), nil},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			states := newTestStates(t)
			resp, err := states.HandleSignaling(core.Offer{Target: target(1, 1), SDP: c.body})
			require.Error(t, err)
			assert.Nil(t, resp)
			if c.want != nil {
				assert.ErrorIs(t, err, c.want)
			}
			assert.Zero(t, states.EndpointCount(), "a rejected offer must not leave state behind")
		})
	}
}

func TestRenegotiationReplacesEndpoint(t *testing.T) {
	states := newTestStates(t)
	first := addEndpoint(t, states, 1, 1)
	second := addEndpoint(t, states, 1, 1)

	assert.NotSame(t, first, second)
	assert.Equal(t, 1, states.EndpointCount())
	_, ok := states.EndpointByUfrag(first.LocalUfrag())
	assert.False(t, ok, "old credentials must be released")
	got, ok := states.EndpointByUfrag(second.LocalUfrag())
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestLeave(t *testing.T) {
	states := newTestStates(t)
	ep := addEndpoint(t, states, 3, 4)
	addEndpoint(t, states, 3, 5)
	connect(t, states, ep, 40000, 1)

	resp, err := states.HandleSignaling(core.Leave{Target: target(3, 4)})
	require.NoError(t, err)
	assert.Equal(t, core.Ok{Target: target(3, 4)}, resp)

	_, ok := states.Endpoint(target(3, 4).Key())
	assert.False(t, ok)
	_, ok = states.EndpointByPeer(ep.Peer())
	assert.False(t, ok)
	_, ok = states.Session(3)
	assert.True(t, ok, "session keeps its other endpoint")

	// unknown endpoints leave successfully
	resp, err = states.HandleSignaling(core.Leave{Target: target(3, 4)})
	require.NoError(t, err)
	assert.Equal(t, core.Ok{Target: target(3, 4)}, resp)

	_, err = states.HandleSignaling(core.Leave{Target: target(3, 5)})
	require.NoError(t, err)
	_, ok = states.Session(3)
	assert.False(t, ok, "empty sessions are dropped")
}

func TestBindPeerMovesAddress(t *testing.T) {
	states := newTestStates(t)
	a := addEndpoint(t, states, 1, 1)
	b := addEndpoint(t, states, 1, 2)

	ca := connect(t, states, a, 40000, 1)
	states.BindPeer(b, ca.peer)

	got, ok := states.EndpointByPeer(ca.peer)
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.False(t, a.Bound())
}
