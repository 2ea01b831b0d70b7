package timewaitlist

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryManagerLifecycle(t *testing.T) {
	var sent [][]byte
	m := NewInMemoryManager(50*time.Millisecond, func(self, peer net.Addr, packet []byte) {
		sent = append(sent, packet)
	})

	require.False(t, m.IsInTimeWait("id1"))

	m.AddConnectionID("id1", SendStatelessReset, [][]byte{{0xde, 0xad}})
	require.True(t, m.IsInTimeWait("id1"))

	m.SendOrQueuePacket("id1", nil, nil, []byte{0xde, 0xad})
	require.Len(t, sent, 1)

	time.Sleep(60 * time.Millisecond)
	require.False(t, m.IsInTimeWait("id1"))

	m.SendOrQueuePacket("id1", nil, nil, []byte{0xde, 0xad})
	require.Len(t, sent, 1, "expected no reply sent for an expired entry")
}

func TestReapEvictsExpiredEntries(t *testing.T) {
	m := NewInMemoryManager(10*time.Millisecond, nil)
	m.AddConnectionID("id1", SendConnectionClosePackets, nil)
	time.Sleep(15 * time.Millisecond)
	m.Reap()
	require.Empty(t, m.entries)
}
