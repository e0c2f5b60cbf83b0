package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DO-2K23-26/beep-rtc/internal/core"
)

// fakeWorker answers every envelope with reply(req) after an optional delay.
func fakeWorker(t *testing.T, mb *core.Mailbox, delay time.Duration, reply func(core.Request) core.Response) func() []core.Request {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []core.Request
	)
	go func() {
		for {
			select {
			case env := <-mb.Inbox():
				mu.Lock()
				seen = append(seen, env.Request)
				mu.Unlock()
				time.Sleep(delay)
				env.Respond(reply(env.Request))
			case <-mb.Done():
				return
			}
		}
	}()
	t.Cleanup(mb.Close)
	return func() []core.Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]core.Request(nil), seen...)
	}
}

func echoAnswer(req core.Request) core.Response {
	switch r := req.(type) {
	case core.Offer:
		return core.Answer{Target: r.Target, SDP: []byte(`{"type":"answer","sdp":"v=0"}`)}
	default:
		return core.Ok{Target: req.Scope()}
	}
}

func TestOfferRoundTrip(t *testing.T) {
	mb := core.NewMailbox(4)
	seen := fakeWorker(t, mb, 0, echoAnswer)
	b := NewBridge(NewRoutingTable(map[uint16]*core.Mailbox{3478: mb}), BridgeConfig{Timeout: time.Second})

	answer, err := b.Offer(context.Background(), 5, 9, []byte(`{"sdp":"v=0...","type":"offer"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"answer","sdp":"v=0"}`, string(answer))

	require.Eventually(t, func() bool { return len(seen()) == 1 }, time.Second, time.Millisecond)
	offer, ok := seen()[0].(core.Offer)
	require.True(t, ok)
	assert.EqualValues(t, 5, offer.Session)
	assert.EqualValues(t, 9, offer.Endpoint)
	assert.Equal(t, `{"sdp":"v=0...","type":"offer"}`, string(offer.SDP))
}

func TestOfferEmptyTable(t *testing.T) {
	b := NewBridge(NewRoutingTable(nil), BridgeConfig{})
	_, err := b.Offer(context.Background(), 1, 1, []byte(`{}`))
	require.ErrorIs(t, err, ErrNoMediaPort)
	assert.Equal(t, "No media port available", err.Error())
}

func TestOfferRemoteError(t *testing.T) {
	mb := core.NewMailbox(1)
	fakeWorker(t, mb, 0, func(req core.Request) core.Response {
		return core.Err{Target: req.Scope(), Reason: "bad sdp"}
	})
	b := NewBridge(NewRoutingTable(map[uint16]*core.Mailbox{1: mb}), BridgeConfig{Timeout: time.Second})

	_, err := b.Offer(context.Background(), 5, 9, []byte(`{}`))
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Error for session 5 endpoint 9: bad sdp", err.Error())
}

func TestOfferAnsweredWithOkIsViolation(t *testing.T) {
	mb := core.NewMailbox(1)
	fakeWorker(t, mb, 0, func(req core.Request) core.Response {
		return core.Ok{Target: req.Scope()}
	})
	b := NewBridge(NewRoutingTable(map[uint16]*core.Mailbox{1: mb}), BridgeConfig{Timeout: time.Second})

	_, err := b.Offer(context.Background(), 5, 9, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestLeaveAnsweredWithAnswerIsViolation(t *testing.T) {
	mb := core.NewMailbox(1)
	fakeWorker(t, mb, 0, func(req core.Request) core.Response {
		return core.Answer{Target: req.Scope()}
	})
	b := NewBridge(NewRoutingTable(map[uint16]*core.Mailbox{1: mb}), BridgeConfig{Timeout: time.Second})

	assert.ErrorIs(t, b.Leave(context.Background(), 5, 9), ErrUnexpectedResponse)
}

func TestLeaveOk(t *testing.T) {
	mb := core.NewMailbox(1)
	seen := fakeWorker(t, mb, 0, echoAnswer)
	b := NewBridge(NewRoutingTable(map[uint16]*core.Mailbox{1: mb}), BridgeConfig{Timeout: time.Second})

	require.NoError(t, b.Leave(context.Background(), 5, 9))
	require.Eventually(t, func() bool { return len(seen()) == 1 }, time.Second, time.Millisecond)
	_, ok := seen()[0].(core.Leave)
	assert.True(t, ok)
}

func TestWorkerGone(t *testing.T) {
	mb := core.NewMailbox(1)
	mb.Close()
	b := NewBridge(NewRoutingTable(map[uint16]*core.Mailbox{1: mb}), BridgeConfig{Timeout: time.Second})

	_, err := b.Offer(context.Background(), 1, 1, []byte(`{}`))
	assert.ErrorIs(t, err, ErrWorkerGone)
}

func TestWorkerExitsWithoutReplying(t *testing.T) {
	mb := core.NewMailbox(1)
	go func() {
		<-mb.Inbox()
		mb.Close()
	}()
	b := NewBridge(NewRoutingTable(map[uint16]*core.Mailbox{1: mb}), BridgeConfig{Timeout: 5 * time.Second})

	start := time.Now()
	_, err := b.Offer(context.Background(), 1, 1, []byte(`{}`))
	assert.ErrorIs(t, err, ErrWorkerGone)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStalledWorkerTimesOut(t *testing.T) {
	mb := core.NewMailbox(1)
	t.Cleanup(mb.Close)
	b := NewBridge(NewRoutingTable(map[uint16]*core.Mailbox{1: mb}), BridgeConfig{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := b.Offer(context.Background(), 1, 1, []byte(`{}`))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestCallerCancellation(t *testing.T) {
	mb := core.NewMailbox(1)
	t.Cleanup(mb.Close)
	b := NewBridge(NewRoutingTable(map[uint16]*core.Mailbox{1: mb}), BridgeConfig{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Offer(ctx, 1, 1, []byte(`{}`))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIndependentPorts(t *testing.T) {
	slow, fast := core.NewMailbox(1), core.NewMailbox(1)
	fakeWorker(t, slow, 400*time.Millisecond, echoAnswer)
	fakeWorker(t, fast, 0, echoAnswer)
	// session 0 -> 5000 (slow), session 1 -> 5001 (fast)
	b := NewBridge(NewRoutingTable(map[uint16]*core.Mailbox{5000: slow, 5001: fast}), BridgeConfig{Timeout: 2 * time.Second})

	slowDone := make(chan error, 1)
	go func() {
		_, err := b.Offer(context.Background(), 0, 1, []byte(`{}`))
		slowDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	_, err := b.Offer(context.Background(), 1, 1, []byte(`{}`))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, <-slowDone)
}
