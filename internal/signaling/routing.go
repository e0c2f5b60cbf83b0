// Package signaling routes control-plane requests to the media worker that
// owns a session and waits for that worker's reply.
package signaling

import (
	"sort"

	"github.com/DO-2K23-26/beep-rtc/internal/core"
	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

// RoutingTable maps every configured media port to its worker mailbox.
// It is built once at startup and never mutated afterwards.
type RoutingTable struct {
	ports     []uint16
	mailboxes map[uint16]*core.Mailbox
}

func NewRoutingTable(mailboxes map[uint16]*core.Mailbox) *RoutingTable {
	t := &RoutingTable{
		ports:     make([]uint16, 0, len(mailboxes)),
		mailboxes: make(map[uint16]*core.Mailbox, len(mailboxes)),
	}
	for port, mb := range mailboxes {
		if mb == nil {
			continue
		}
		t.ports = append(t.ports, port)
		t.mailboxes[port] = mb
	}
	// map iteration order is random; the session to port mapping must not be
	sort.Slice(t.ports, func(i, j int) bool { return t.ports[i] < t.ports[j] })
	return t
}

// Shard selects the port serving session. ok is false when no port exists.
func (t *RoutingTable) Shard(session domain.SessionID) (uint16, bool) {
	if t == nil || len(t.ports) == 0 {
		return 0, false
	}
	return t.ports[uint64(session)%uint64(len(t.ports))], true
}

func (t *RoutingTable) Route(session domain.SessionID) (uint16, *core.Mailbox, bool) {
	port, ok := t.Shard(session)
	if !ok {
		return 0, nil, false
	}
	return port, t.mailboxes[port], true
}

// Ports returns the configured ports in ascending order.
func (t *RoutingTable) Ports() []uint16 {
	if t == nil {
		return nil
	}
	out := make([]uint16, len(t.ports))
	copy(out, t.ports)
	return out
}

func (t *RoutingTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ports)
}
