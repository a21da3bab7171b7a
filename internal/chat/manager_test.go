package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahiavincent123-commits/skill-in/internal/models"
)

func TestJoinBroadcastsPresenceToEveryone(t *testing.T) {
	m, _ := newTestManager(t)
	alice := connect(t, m, "c-alice")
	bob := connect(t, m, "c-bob")
	idle := connect(t, m, "c-idle")

	require.NoError(t, m.Join(alice, "alice"))
	require.NoError(t, m.Join(bob, "bob"))

	for _, c := range []*Client{alice, bob, idle} {
		snaps := ofEvent(drain(t, c), EventOnlineUsers)
		require.Len(t, snaps, 2, c.ID)
		last := decode[models.PresenceSnapshot](t, snaps[1])
		assert.Equal(t, []string{"alice", "bob"}, last.Online)
	}
	assert.Equal(t, StateBound, alice.State())
	assert.Equal(t, StateUnbound, idle.State())
}

func TestJoinValidation(t *testing.T) {
	m, _ := newTestManager(t)
	c := connect(t, m, "c1")

	err := m.Join(c, "   ")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StateUnbound, c.State())
	assert.Empty(t, drain(t, c))
	assert.Empty(t, m.OnlineUsers().Online)
}

func TestSendDeliversEchoesAndNotifies(t *testing.T) {
	m, _ := newTestManager(t)
	alice := connect(t, m, "c-alice")
	bob := connect(t, m, "c-bob")
	require.NoError(t, m.Join(alice, "alice"))
	require.NoError(t, m.Join(bob, "bob"))
	drain(t, alice)
	drain(t, bob)

	m.Dispatch(context.Background(), alice, frame(t, EventSendMessage, SendPayload{
		SenderID: "alice", ReceiverID: "bob", Text: "hi",
	}))

	bobFrames := drain(t, bob)
	require.Len(t, bobFrames, 2)
	assert.Equal(t, EventReceiveMessage, bobFrames[0].Event)
	assert.Equal(t, EventNotification, bobFrames[1].Event)

	got := decode[models.Message](t, bobFrames[0])
	assert.Equal(t, "alice", got.SenderID)
	assert.Equal(t, "bob", got.ReceiverID)
	assert.Equal(t, "hi", got.Body)
	assert.Equal(t, "alice_bob", got.ChatID)
	assert.Equal(t, models.KindText, got.Kind)
	assert.False(t, got.Read)

	note := decode[models.Notification](t, bobFrames[1])
	assert.Equal(t, "alice", note.From)
	assert.Equal(t, "hi", note.Text)
	assert.False(t, note.Time.IsZero())

	aliceFrames := drain(t, alice)
	require.Len(t, aliceFrames, 1)
	assert.Equal(t, EventReceiveMessage, aliceFrames[0].Event)
	assert.Equal(t, got.ID, decode[models.Message](t, aliceFrames[0]).ID)
}

func TestSendReachesEveryConnectionOfReceiver(t *testing.T) {
	m, _ := newTestManager(t)
	alice := connect(t, m, "c-alice")
	bob1 := connect(t, m, "c-bob-1")
	bob2 := connect(t, m, "c-bob-2")
	require.NoError(t, m.Join(alice, "alice"))
	require.NoError(t, m.Join(bob1, "bob"))
	require.NoError(t, m.Join(bob2, "bob"))
	drain(t, bob1)
	drain(t, bob2)

	_, err := m.SendMessage(context.Background(), alice, SendPayload{ReceiverID: "bob", Text: "hey"})
	require.NoError(t, err)
	assert.Len(t, drain(t, bob1), 2)
	assert.Len(t, drain(t, bob2), 2)
}

func TestSendToOfflineReceiverIsStored(t *testing.T) {
	m, _ := newTestManager(t)
	alice := connect(t, m, "c-alice")
	require.NoError(t, m.Join(alice, "alice"))
	drain(t, alice)

	_, err := m.SendMessage(context.Background(), alice, SendPayload{ReceiverID: "bob", Text: "later"})
	require.NoError(t, err)
	assert.Len(t, drain(t, alice), 1)

	hist, err := m.History(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "later", hist[0].Body)
}

func TestSendValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload SendPayload
		kind    error
	}{
		{name: "empty body", payload: SendPayload{ReceiverID: "bob", Text: ""}, kind: ErrValidation},
		{name: "whitespace body", payload: SendPayload{ReceiverID: "bob", Text: " \n\t"}, kind: ErrValidation},
		{name: "missing receiver", payload: SendPayload{Text: "hi"}, kind: ErrValidation},
		{name: "spoofed sender", payload: SendPayload{SenderID: "mallory", ReceiverID: "bob", Text: "hi"}, kind: ErrValidation},
		{name: "bad type", payload: SendPayload{ReceiverID: "bob", Text: "hi", Type: "video"}, kind: ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s := newTestManager(t)
			alice := connect(t, m, "c-alice")
			bob := connect(t, m, "c-bob")
			require.NoError(t, m.Join(alice, "alice"))
			require.NoError(t, m.Join(bob, "bob"))
			drain(t, alice)
			drain(t, bob)

			_, err := m.SendMessage(context.Background(), alice, tt.payload)
			assert.ErrorIs(t, err, tt.kind)

			assert.Empty(t, drain(t, bob))
			assert.Empty(t, drain(t, alice))
			hist, err := s.ListByConversation(context.Background(), "alice_bob")
			require.NoError(t, err)
			assert.Empty(t, hist)
		})
	}
}

func TestSendTrimsBodyAndKeepsKind(t *testing.T) {
	m, _ := newTestManager(t)
	alice := connect(t, m, "c-alice")
	require.NoError(t, m.Join(alice, "alice"))

	msg, err := m.SendMessage(context.Background(), alice, SendPayload{ReceiverID: " bob ", Text: "  /uploads/1.png ", Type: "image"})
	require.NoError(t, err)
	assert.Equal(t, "bob", msg.ReceiverID)
	assert.Equal(t, "/uploads/1.png", msg.Body)
	assert.Equal(t, models.KindImage, msg.Kind)
}

func TestSendStoreFailureEmitsNothing(t *testing.T) {
	m, s := newTestManager(t)
	alice := connect(t, m, "c-alice")
	bob := connect(t, m, "c-bob")
	require.NoError(t, m.Join(alice, "alice"))
	require.NoError(t, m.Join(bob, "bob"))
	drain(t, alice)
	drain(t, bob)
	s.setDown(true)

	m.Dispatch(context.Background(), alice, frame(t, EventSendMessage, SendPayload{ReceiverID: "bob", Text: "hi"}))

	assert.Empty(t, drain(t, bob))
	aliceFrames := drain(t, alice)
	require.Len(t, aliceFrames, 1)
	assert.Equal(t, EventErrorFrame, aliceFrames[0].Event)
	p := decode[ErrorPayload](t, aliceFrames[0])
	assert.Equal(t, EventSendMessage, p.Event)
	assert.Equal(t, "persistence", p.Kind)
	assert.NotContains(t, p.Message, errStoreDown.Error())

	assert.Equal(t, []string{"alice", "bob"}, m.OnlineUsers().Online)
}

func TestUnboundEventsAreRejected(t *testing.T) {
	m, s := newTestManager(t)
	c := connect(t, m, "c1")
	other := connect(t, m, "c2")
	ctx := context.Background()

	frames := [][]byte{
		frame(t, EventSendMessage, SendPayload{SenderID: "alice", ReceiverID: "bob", Text: "hi"}),
		frame(t, EventMarkAsRead, MarkReadPayload{UserID: "alice", WithUserID: "bob"}),
		frame(t, EventLeave, "alice"),
	}
	for _, f := range frames {
		m.Dispatch(ctx, c, f)
	}

	errs := drain(t, c)
	require.Len(t, errs, 3)
	for _, e := range errs {
		assert.Equal(t, EventErrorFrame, e.Event)
		assert.Equal(t, "protocol", decode[ErrorPayload](t, e).Kind)
	}
	assert.Empty(t, drain(t, other))
	hist, err := s.ListByConversation(ctx, "alice_bob")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestDispatchMalformedFrames(t *testing.T) {
	m, _ := newTestManager(t)
	c := connect(t, m, "c1")
	ctx := context.Background()

	m.Dispatch(ctx, c, []byte("{not json"))
	m.Dispatch(ctx, c, []byte(`{"event":"typing","data":{}}`))
	m.Dispatch(ctx, c, []byte(`{"event":"join","data":{"userId":"alice"}}`))
	m.Dispatch(ctx, c, []byte(`{"event":"join"}`))

	errs := drain(t, c)
	require.Len(t, errs, 4)
	kinds := []string{}
	for _, e := range errs {
		kinds = append(kinds, decode[ErrorPayload](t, e).Kind)
	}
	assert.Equal(t, []string{"protocol", "protocol", "validation", "validation"}, kinds)
	assert.Equal(t, StateUnbound, c.State())
}

func TestRebindRequiresLeavingOwnRoom(t *testing.T) {
	m, _ := newTestManager(t)
	c := connect(t, m, "c1")
	require.NoError(t, m.Join(c, "alice"))

	require.NoError(t, m.Join(c, "alice"), "same identity re-join is allowed")

	err := m.Join(c, "carol")
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "alice", c.UserID())

	require.NoError(t, m.Leave(c, "alice"))
	require.NoError(t, m.Join(c, "carol"))
	assert.Equal(t, "carol", c.UserID())

	m.mu.RLock()
	assert.False(t, m.rooms.Has("alice", c))
	assert.True(t, m.rooms.Has("carol", c))
	m.mu.RUnlock()
	assert.Equal(t, []string{"carol"}, m.OnlineUsers().Online)
}

func TestMarkAsRead(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	alice := connect(t, m, "c-alice")
	bob := connect(t, m, "c-bob")
	require.NoError(t, m.Join(alice, "alice"))
	require.NoError(t, m.Join(bob, "bob"))

	_, err := m.SendMessage(ctx, alice, SendPayload{ReceiverID: "bob", Text: "m1"})
	require.NoError(t, err)
	_, err = m.SendMessage(ctx, bob, SendPayload{ReceiverID: "alice", Text: "reply"})
	require.NoError(t, err)

	hist, err := m.History(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.False(t, hist[0].Read)
	drain(t, alice)
	drain(t, bob)

	m.Dispatch(ctx, bob, frame(t, EventMarkAsRead, MarkReadPayload{UserID: "bob", WithUserID: "alice"}))
	assert.Empty(t, drain(t, bob))
	assert.Empty(t, drain(t, alice), "no read event is pushed to the other party")

	hist, err = m.History(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, hist[0].Read, "alice -> bob is read")
	assert.False(t, hist[1].Read, "bob -> alice stays unread")
}

func TestMarkAsReadRejectsOtherReader(t *testing.T) {
	m, _ := newTestManager(t)
	bob := connect(t, m, "c-bob")
	require.NoError(t, m.Join(bob, "bob"))
	drain(t, bob)

	m.Dispatch(context.Background(), bob, frame(t, EventMarkAsRead, MarkReadPayload{UserID: "alice", WithUserID: "bob"}))
	errs := drain(t, bob)
	require.Len(t, errs, 1)
	assert.Equal(t, "validation", decode[ErrorPayload](t, errs[0]).Kind)

	_, err := m.MarkRead(context.Background(), "bob", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHistoryOrderAndStoreFailure(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()
	alice := connect(t, m, "c-alice")
	require.NoError(t, m.Join(alice, "alice"))

	m1, err := m.SendMessage(ctx, alice, SendPayload{ReceiverID: "bob", Text: "M1"})
	require.NoError(t, err)
	m2, err := m.SendMessage(ctx, alice, SendPayload{ReceiverID: "bob", Text: "M2"})
	require.NoError(t, err)

	hist, err := m.History(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, m1.ID, hist[0].ID)
	assert.Equal(t, m2.ID, hist[1].ID)

	s.setDown(true)
	_, err = m.History(ctx, "alice", "bob")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestLeaveMarksOfflineAndLeavesNamedRoom(t *testing.T) {
	m, _ := newTestManager(t)
	alice := connect(t, m, "c-alice")
	bob := connect(t, m, "c-bob")
	require.NoError(t, m.Join(alice, "alice"))
	require.NoError(t, m.Join(bob, "bob"))
	drain(t, alice)
	drain(t, bob)

	require.NoError(t, m.Leave(alice, "alice"))

	snaps := ofEvent(drain(t, bob), EventOnlineUsers)
	require.Len(t, snaps, 1)
	snap := decode[models.PresenceSnapshot](t, snaps[0])
	assert.Equal(t, []string{"bob"}, snap.Online)
	assert.Contains(t, snap.LastSeen, "alice")

	_, err := m.SendMessage(context.Background(), bob, SendPayload{ReceiverID: "alice", Text: "gone?"})
	require.NoError(t, err)
	assert.Empty(t, ofEvent(drain(t, alice), EventReceiveMessage), "alice left her room")

	assert.ErrorIs(t, m.Leave(alice, " "), ErrValidation)
}

func TestDisconnectBroadcastsOnceAndIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	alice := connect(t, m, "c-alice")
	bob := connect(t, m, "c-bob")

	joinedAt := time.Now()
	require.NoError(t, m.Join(alice, "alice"))
	require.NoError(t, m.Join(bob, "bob"))
	drain(t, bob)

	m.Disconnect(alice)
	m.Disconnect(alice)

	assert.Equal(t, StateClosed, alice.State())
	snaps := ofEvent(drain(t, bob), EventOnlineUsers)
	require.Len(t, snaps, 1)
	snap := decode[models.PresenceSnapshot](t, snaps[0])
	assert.Equal(t, []string{"bob"}, snap.Online)
	require.Contains(t, snap.LastSeen, "alice")
	assert.GreaterOrEqual(t, snap.LastSeen["alice"], joinedAt.UnixMilli())

	_, open := <-alice.send
	for open {
		_, open = <-alice.send
	}
	assert.False(t, alice.enqueue([]byte("late")))
	assert.Len(t, m.ListClients(""), 1)
	assert.Equal(t, StateBound, bob.State())
}

func TestDisconnectAfterLeaveRefreshesLastSeen(t *testing.T) {
	m, _ := newTestManager(t)
	clock := time.Unix(1000, 0)
	m.presence.now = func() time.Time { return clock }
	bob := connect(t, m, "c-bob")
	watcher := connect(t, m, "c-watch")

	require.NoError(t, m.Join(bob, "bob"))
	require.NoError(t, m.Leave(bob, "bob"))
	leftAt := clock

	clock = clock.Add(2 * time.Hour)
	drain(t, watcher)
	m.Disconnect(bob)

	snaps := ofEvent(drain(t, watcher), EventOnlineUsers)
	require.Len(t, snaps, 1)
	snap := decode[models.PresenceSnapshot](t, snaps[0])
	assert.Empty(t, snap.Online)
	assert.Equal(t, leftAt.Add(2*time.Hour).UnixMilli(), snap.LastSeen["bob"])
}

func TestDisconnectUnboundDoesNotBroadcast(t *testing.T) {
	m, _ := newTestManager(t)
	watcher := connect(t, m, "c-watch")
	c := connect(t, m, "c1")

	m.Disconnect(c)
	assert.Empty(t, drain(t, watcher))
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, m.Join(c, "alice"), ErrProtocol)
}

func TestFullQueueDoesNotBlockOthers(t *testing.T) {
	m, _ := newTestManager(t)
	slow := NewClient("c-slow", nil, 1, m.log)
	m.Register(slow)
	fast := connect(t, m, "c-fast")

	require.NoError(t, m.Join(slow, "slow"))
	require.NoError(t, m.Join(fast, "fast"))
	require.NoError(t, m.Join(fast, "fast"))

	assert.Len(t, drain(t, slow), 1)
	assert.Len(t, ofEvent(drain(t, fast), EventOnlineUsers), 3)
}

func TestListClients(t *testing.T) {
	m, _ := newTestManager(t)
	a := connect(t, m, "c2")
	connect(t, m, "c1")
	require.NoError(t, m.Join(a, "alice"))

	all := m.ListClients("")
	require.Len(t, all, 2)
	assert.Equal(t, ClientJson{Id: "c1", State: "unbound"}, all[0])
	assert.Equal(t, ClientJson{Id: "c2", UserID: "alice", State: "bound"}, all[1])

	assert.Len(t, m.ListClients("alice"), 1)
	assert.Len(t, m.ListClients("c1"), 1)
}

func TestConcurrentJoinsSeeConsistentSnapshots(t *testing.T) {
	m, _ := newTestManager(t)
	watcher := NewClient("c-watch", nil, 512, m.log)
	m.Register(watcher)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient(fmt.Sprintf("c-%d", i), nil, 512, m.log)
			m.Register(c)
			assert.NoError(t, m.Join(c, c.ID))
		}(i)
	}
	wg.Wait()

	snaps := ofEvent(drain(t, watcher), EventOnlineUsers)
	require.Len(t, snaps, n)
	for i, s := range snaps {
		assert.Len(t, decode[models.PresenceSnapshot](t, s).Online, i+1, "snapshot %d", i)
	}
}

func TestPanickingHandlerIsContained(t *testing.T) {
	m, _ := newTestManager(t)
	c := connect(t, m, "c1")
	m.handlers["boom"] = func(context.Context, *Client, json.RawMessage) error { panic("boom") }

	m.Dispatch(context.Background(), c, []byte(`{"event":"boom"}`))
	errs := drain(t, c)
	require.Len(t, errs, 1)
	assert.Equal(t, "internal", decode[ErrorPayload](t, errs[0]).Kind)
}

func TestEventErrorWrapping(t *testing.T) {
	err := persistenceErr(EventSendMessage, errStoreDown)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errStoreDown)
	assert.False(t, errors.Is(err, ErrValidation))

	var ee *EventError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "message store unavailable", ee.Message)
	assert.Contains(t, err.Error(), "store down")
}
