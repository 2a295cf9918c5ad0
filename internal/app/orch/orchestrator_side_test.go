package orch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/meshroom/internal/adapters/store"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore() *store.Memory { return store.NewMemory() }

func TestChatReachesSenderAndIsPersisted(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("A")
	b := h.connect("B")
	h.join(t, "A", "r1")
	h.join(t, "B", "r1")

	require.True(t, h.o.BroadcastMessage("r1", "A", Chat{Message: "hi", SenderName: "Alice"}))

	for _, c := range []*fakeConn{a, b} {
		var msg protocol.ReceiveMessage
		c.decodeLast(t, protocol.TypeReceiveMessage, &msg)
		assert.Equal(t, "hi", msg.Message)
		assert.Equal(t, "A", msg.SenderID)
		assert.Equal(t, "Alice", msg.SenderName)
		assert.True(t, msg.Timestamp.Equal(testClock))
	}

	h.flush(t)
	durable, err := h.store.FindOrCreateRoom(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, durable.History, 1)
	assert.Equal(t, "A", durable.History[0].SenderID)
	assert.Equal(t, "hi", durable.History[0].Message)
	assert.True(t, durable.History[0].Timestamp.Equal(testClock))
}

func TestChatSenderIDPrefersRegisteredUser(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("A")
	require.True(t, h.o.Register("A", "alice"))
	h.join(t, "A", "r1")

	require.True(t, h.o.BroadcastMessage("r1", "A", Chat{Message: "hello"}))
	var msg protocol.ReceiveMessage
	a.decodeLast(t, protocol.TypeReceiveMessage, &msg)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, domain.ConnectionID("A"), msg.From)
}

func TestChatFileAttachmentRelayedVerbatim(t *testing.T) {
	h := newHarness(t, nil)
	h.connect("A")
	b := h.connect("B")
	h.join(t, "A", "r1")
	h.join(t, "B", "r1")

	file := []byte(`{"name":"a.txt","data":"aGk="}`)
	require.True(t, h.o.BroadcastMessage("r1", "A", Chat{Message: "a.txt", IsFile: true, FileData: file}))

	var msg protocol.ReceiveMessage
	b.decodeLast(t, protocol.TypeReceiveMessage, &msg)
	assert.True(t, msg.IsFile)
	assert.JSONEq(t, string(file), string(msg.FileData))
}

func TestChatPersistFailureDoesNotBlockBroadcast(t *testing.T) {
	h := newHarness(t, &failingStore{RoomStore: newMemoryStore(), failAppend: true})
	a := h.connect("A")
	b := h.connect("B")
	h.join(t, "A", "r1")
	h.join(t, "B", "r1")

	require.True(t, h.o.BroadcastMessage("r1", "A", Chat{Message: "hi"}))
	assert.Len(t, a.events(t, protocol.TypeReceiveMessage), 1)
	assert.Len(t, b.events(t, protocol.TypeReceiveMessage), 1)

	h.flush(t)
	durable, err := h.store.FindOrCreateRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, durable.History)
}

func TestChatFromNonMemberIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("A")
	outsider := h.connect("X")
	h.join(t, "A", "r1")

	assert.False(t, h.o.BroadcastMessage("r1", "X", Chat{Message: "spam"}))
	assert.False(t, h.o.BroadcastMessage("nowhere", "A", Chat{Message: "void"}))
	assert.Empty(t, a.events(t, protocol.TypeReceiveMessage))
	assert.Empty(t, outsider.events(t, protocol.TypeReceiveMessage))

	h.flush(t)
	durable, err := h.store.FindOrCreateRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, durable.History)
}

func TestDrawAndClearSkipSender(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("A")
	b := h.connect("B")
	c := h.connect("C")
	h.join(t, "A", "r1")
	h.join(t, "B", "r1")
	h.join(t, "C", "r1")

	action := []byte(`{"x0":1,"y0":2,"x1":3,"y1":4,"color":"#000"}`)
	require.True(t, h.o.BroadcastDrawAction("r1", "A", action))
	require.True(t, h.o.BroadcastClear("r1", "A"))

	assert.Empty(t, a.events(t, protocol.TypeDrawAction))
	assert.Empty(t, a.events(t, protocol.TypeClearCanvas))
	for _, peer := range []*fakeConn{b, c} {
		var draw protocol.DrawBroadcast
		peer.decodeLast(t, protocol.TypeDrawAction, &draw)
		assert.Equal(t, domain.ConnectionID("A"), draw.From)
		assert.JSONEq(t, string(action), string(draw.Action))
		assert.Len(t, peer.events(t, protocol.TypeClearCanvas), 1)
	}

	h.flush(t)
	durable, err := h.store.FindOrCreateRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, durable.History)
}

func TestRelayToMissingTargetIsSilent(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("A")
	before := a.count()

	assert.False(t, h.o.RelayOffer("A", "gone", []byte(`{}`)))
	assert.False(t, h.o.RelayAnswer("A", "gone", []byte(`{}`)))
	assert.False(t, h.o.RelayICE("A", "gone", []byte(`{}`)))
	assert.Equal(t, before, a.count())
}

func TestRelayAnswerAndICE(t *testing.T) {
	h := newHarness(t, nil)
	h.connect("A")
	b := h.connect("B")

	require.True(t, h.o.RelayAnswer("A", "B", []byte(`{"type":"answer","sdp":"y"}`)))
	require.True(t, h.o.RelayICE("A", "B", []byte(`{"candidate":"c1"}`)))
	require.True(t, h.o.RelayICE("A", "B", []byte(`{"candidate":"c2"}`)))

	var ans protocol.IncomingSignal
	b.decodeLast(t, protocol.TypeIncomingAnswer, &ans)
	assert.Equal(t, domain.ConnectionID("A"), ans.From)
	assert.Len(t, b.events(t, protocol.TypeIncomingICE), 2)
}

func TestInvite(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect("A")
	b := h.connect("B")

	assert.False(t, h.o.Invite("bob", "r1", "Alice"))
	assert.Zero(t, a.count())
	assert.Zero(t, b.count())

	require.True(t, h.o.Register("B", "bob"))
	assert.True(t, h.o.Invite("bob", "r1", "Alice"))
	assert.True(t, h.o.Invite("bob", "r1", "Alice"))

	invites := b.events(t, protocol.TypeInviteReceived)
	require.Len(t, invites, 2)
	assert.Equal(t, "r1", invites[0]["room"])
	assert.Equal(t, "Alice", invites[0]["inviterName"])
	assert.Zero(t, a.count())

	h.o.OnDisconnect("B")
	assert.False(t, h.o.Invite("bob", "r1", "Alice"))
}

func TestConcurrentChatDeliveryMatchesHistory(t *testing.T) {
	h := newHarness(t, nil)
	var tick atomic.Int64
	h.o.Now = func() time.Time { return testClock.Add(time.Duration(tick.Add(1)) * time.Millisecond) }

	watcher := h.connect("W")
	h.join(t, "W", "r1")
	const senders, each = 8, 25
	ids := make([]domain.ConnectionID, senders)
	for i := range ids {
		ids[i] = domain.ConnectionID(fmt.Sprintf("S%d", i))
		h.connect(ids[i])
		h.join(t, ids[i], "r1")
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id domain.ConnectionID) {
			defer wg.Done()
			for j := 0; j < each; j++ {
				assert.True(t, h.o.BroadcastMessage("r1", id, Chat{Message: fmt.Sprintf("%s-%d", id, j)}))
			}
		}(id)
	}
	wg.Wait()
	h.flush(t)

	got := watcher.events(t, protocol.TypeReceiveMessage)
	require.Len(t, got, senders*each)
	durable, err := h.store.FindOrCreateRoom(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, durable.History, senders*each)

	for i, ev := range got {
		stored := durable.History[i]
		assert.Equal(t, stored.Message, ev["message"], "line %d", i)
		ts, err := time.Parse(time.RFC3339Nano, ev["timestamp"].(string))
		require.NoError(t, err)
		assert.True(t, ts.Equal(stored.Timestamp), "line %d", i)
		if i > 0 {
			assert.True(t, stored.Timestamp.After(durable.History[i-1].Timestamp), "line %d", i)
		}
	}
}
