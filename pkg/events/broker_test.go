package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dwn-core/pkg/events"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

func event(tenant, cid, protocol string) events.Event {
	return events.Event{
		Tenant: tenant,
		CID:    cid,
		Indexes: store.Indexes{
			message.IndexInterface: string(message.InterfaceRecords),
			message.IndexProtocol:  protocol,
		},
	}
}

func TestPublish_MatchesFilters(t *testing.T) {
	b := events.NewBroker()
	chat := b.Subscribe("alice", []store.Filter{{message.IndexProtocol: store.Eq("chat")}})
	all := b.Subscribe("alice", nil)
	other := b.Subscribe("bob", nil)
	defer chat.Close()
	defer all.Close()
	defer other.Close()

	b.Publish(event("alice", "c1", "chat"))
	b.Publish(event("alice", "c2", "notes"))

	require.Len(t, chat.C(), 1)
	assert.Equal(t, "c1", (<-chat.C()).CID)
	assert.Len(t, all.C(), 2)
	assert.Len(t, other.C(), 0)
}

func TestClose_Unsubscribes(t *testing.T) {
	b := events.NewBroker()
	s := b.Subscribe("alice", nil)
	assert.Equal(t, 1, b.Len("alice"))

	s.Close()
	s.Close()
	assert.Equal(t, 0, b.Len("alice"))

	_, open := <-s.C()
	assert.False(t, open)

	b.Publish(event("alice", "c1", "chat"))
}

func TestPublish_FullBufferDrops(t *testing.T) {
	b := events.NewBrokerWithBuffer(1)
	s := b.Subscribe("alice", nil)
	defer s.Close()

	b.Publish(event("alice", "c1", "chat"))
	b.Publish(event("alice", "c2", "chat"))

	assert.Equal(t, int64(1), s.Dropped())
	assert.Equal(t, "c1", (<-s.C()).CID)
}
