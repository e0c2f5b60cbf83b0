package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DO-2K23-26/beep-rtc/internal/core"
	"github.com/DO-2K23-26/beep-rtc/internal/domain"
)

func tableOf(ports ...uint16) *RoutingTable {
	m := make(map[uint16]*core.Mailbox, len(ports))
	for _, p := range ports {
		m[p] = core.NewMailbox(4)
	}
	return NewRoutingTable(m)
}

func TestRoutingTableSortsPorts(t *testing.T) {
	table := tableOf(3481, 3478, 3480, 3479)
	assert.Equal(t, []uint16{3478, 3479, 3480, 3481}, table.Ports())
	assert.Equal(t, 4, table.Len())
}

func TestShardIsDeterministic(t *testing.T) {
	for i := 0; i < 20; i++ {
		table := tableOf(4000, 4002, 4001)
		for s := domain.SessionID(0); s < 50; s++ {
			port, ok := table.Shard(s)
			require.True(t, ok)
			assert.Equal(t, []uint16{4000, 4001, 4002}[s%3], port, "session %d", s)
		}
	}
}

func TestShardEmptyTable(t *testing.T) {
	table := NewRoutingTable(nil)
	_, ok := table.Shard(5)
	assert.False(t, ok)

	_, mb, ok := table.Route(5)
	assert.False(t, ok)
	assert.Nil(t, mb)

	var nilTable *RoutingTable
	_, ok = nilTable.Shard(1)
	assert.False(t, ok)
}

func TestRouteReturnsOwningMailbox(t *testing.T) {
	a, b := core.NewMailbox(1), core.NewMailbox(1)
	table := NewRoutingTable(map[uint16]*core.Mailbox{7001: b, 7000: a})

	port, mb, ok := table.Route(2)
	require.True(t, ok)
	assert.Equal(t, uint16(7000), port)
	assert.Same(t, a, mb)

	port, mb, ok = table.Route(3)
	require.True(t, ok)
	assert.Equal(t, uint16(7001), port)
	assert.Same(t, b, mb)
}

func TestPortsReturnsCopy(t *testing.T) {
	table := tableOf(1, 2)
	ports := table.Ports()
	ports[0] = 99
	assert.Equal(t, []uint16{1, 2}, table.Ports())
}
