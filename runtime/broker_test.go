package runtime

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"room-relay/domain"
	"room-relay/domain/event"
	"room-relay/mocks"
	"room-relay/observability"
)

type brokerFixture struct {
	broker   *Broker
	registry *Registry
	gateway  *mocks.MockGateway
	monitor  *observability.Monitor
}

func newBrokerFixture(t *testing.T, deleteEmptyRooms bool) brokerFixture {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockGateway(ctrl)
	registry := NewRegistry()
	monitor := observability.NewMonitor()
	broker := NewBroker(slog.Default(), registry, NewLifecycle(), gateway, monitor, 20, deleteEmptyRooms)
	return brokerFixture{broker: broker, registry: registry, gateway: gateway, monitor: monitor}
}

// lastEvent returns the most recent event of the wanted wire name.
func lastEvent(conn *fakeConn, name string) event.Event {
	events := conn.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventName() == name {
			return events[i]
		}
	}
	return nil
}

func countEvents(conn *fakeConn, name string) int {
	count := 0
	for _, e := range conn.Events() {
		if e.EventName() == name {
			count++
		}
	}
	return count
}

func TestBroker_Subscribe_Replays_History_Oldest_First(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	older := domain.Message{
		ID: uuid.New(), Room: "lobby", Author: "bbb-222",
		Content: "first", CreatedAt: time.UnixMilli(1000).UTC(),
	}
	newer := domain.Message{
		ID: uuid.New(), Room: "lobby", Author: "ccc-333",
		Content: "second", CreatedAt: time.UnixMilli(2000).UTC(),
	}

	// Given a gateway holding two messages, newest first
	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return([]domain.Message{newer, older}, nil)

	// When the connection subscribes
	f.broker.Subscribe("lobby", conn)

	// Then on_join replays the history oldest first
	joined, ok := lastEvent(conn, "on_join").(event.Joined)
	req.True(ok)
	req.Equal("lobby", joined.Room)
	req.Equal("aaa-111", joined.Hash)
	req.Equal([]string{"aaa-111"}, joined.Clients)
	req.Equal([]event.MessageData{
		{User: "bbb-222", Message: "first", CreatedAt: 1000},
		{User: "ccc-333", Message: "second", CreatedAt: 2000},
	}, joined.Messages)

	// And the subscriber is now a live member
	req.True(f.registry.IsMember("lobby", "aaa-111"))
	req.Equal(uint64(1), f.monitor.Snapshot().Joins)
}

func TestBroker_Subscribe_Empty_Room_Is_Rejected(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	// When subscribing with no room, the gateway is never touched
	f.broker.Subscribe("", conn)

	errEvent, ok := lastEvent(conn, "error").(event.Error)
	req.True(ok)
	req.Equal("No room provided", errEvent.Reason)
}

func TestBroker_Subscribe_Room_Creation_Failure_Does_Not_Join(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	// Given a gateway refusing the durable row
	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(stderrors.New("disk full"))

	// When the connection subscribes
	f.broker.Subscribe("lobby", conn)

	// Then the subscriber gets an internal error and no membership
	errEvent, ok := lastEvent(conn, "error").(event.Error)
	req.True(ok)
	req.Equal("Internal server error", errEvent.Reason)
	req.False(f.registry.IsMember("lobby", "aaa-111"))
}

func TestBroker_Subscribe_History_Failure_Join_Stands(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	// Given a gateway that fails the history read
	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return(nil, stderrors.New("read error"))

	// When the connection subscribes
	f.broker.Subscribe("lobby", conn)

	// Then the join succeeds with an empty history
	joined, ok := lastEvent(conn, "on_join").(event.Joined)
	req.True(ok)
	req.Empty(joined.Messages)
	req.True(f.registry.IsMember("lobby", "aaa-111"))
}

func TestBroker_Subscribe_Notifies_Existing_Members_Only(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	first := newFakeConn("aaa-111")
	second := newFakeConn("bbb-222")

	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil).Times(2)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return(nil, nil).Times(2)

	// Given a member already in the room
	f.broker.Subscribe("lobby", first)

	// When a second connection subscribes
	f.broker.Subscribe("lobby", second)

	// Then the first member is told, the newcomer is not
	userJoined, ok := lastEvent(first, "on_user_join").(event.UserJoined)
	req.True(ok)
	req.Equal("bbb-222", userJoined.Hash)
	req.Zero(countEvents(second, "on_user_join"))

	// And the newcomer sees both members in its on_join
	joined, ok := lastEvent(second, "on_join").(event.Joined)
	req.True(ok)
	req.Equal([]string{"aaa-111", "bbb-222"}, joined.Clients)
}

func TestBroker_Resubscribe_Is_Harmless_And_Sends_Fresh_On_Join(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil).Times(2)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return(nil, nil).Times(2)

	// When the same connection subscribes twice
	f.broker.Subscribe("lobby", conn)
	f.broker.Subscribe("lobby", conn)

	// Then membership is unchanged but a second on_join was sent
	req.Equal([]string{"aaa-111"}, f.registry.MembersOf("lobby"))
	req.Equal(2, countEvents(conn, "on_join"))
}

func TestBroker_Publish_Without_Subscription_Is_Rejected(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	// When publishing without having subscribed, nothing is persisted
	f.broker.Publish("lobby", "hello", conn)

	errEvent, ok := lastEvent(conn, "error").(event.Error)
	req.True(ok)
	req.Equal("Not subscribed to room 'lobby'", errEvent.Reason)
	req.Zero(f.monitor.Snapshot().Relayed)
}

func TestBroker_Publish_Empty_Input_Is_Rejected(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	f.broker.Publish("", "hello", conn)
	f.broker.Publish("lobby", "", conn)

	events := conn.Events()
	req.Len(events, 2)
	req.Equal(event.Error{Reason: "No room provided"}, events[0])
	req.Equal(event.Error{Reason: "Empty message"}, events[1])
}

func TestBroker_Publish_Broadcasts_To_All_Members_Including_Sender(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	sender := newFakeConn("aaa-111")
	peer := newFakeConn("bbb-222")

	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil).Times(2)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return(nil, nil).Times(2)
	f.broker.Subscribe("lobby", sender)
	f.broker.Subscribe("lobby", peer)

	var inserted domain.Message
	f.gateway.EXPECT().InsertMessage(gomock.Any()).
		DoAndReturn(func(msg domain.Message) error {
			inserted = msg
			return nil
		})

	// When a member publishes
	f.broker.Publish("lobby", "hello", sender)

	// Then the message is persisted with the sender's hash
	req.Equal("lobby", inserted.Room)
	req.Equal("aaa-111", inserted.Author)
	req.Equal("hello", inserted.Content)
	req.NotEqual(uuid.Nil, inserted.ID)

	// And both members receive the same message event
	for _, conn := range []*fakeConn{sender, peer} {
		posted, ok := lastEvent(conn, "message").(event.Posted)
		req.True(ok)
		req.Equal("aaa-111", posted.User)
		req.Equal("hello", posted.Message)
		req.Equal(inserted.CreatedAt.UnixMilli(), posted.CreatedAt)
	}
	req.Equal(uint64(1), f.monitor.Snapshot().Relayed)
}

func TestBroker_Publish_Insert_Failure_Broadcasts_Nothing(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	sender := newFakeConn("aaa-111")
	peer := newFakeConn("bbb-222")

	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil).Times(2)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return(nil, nil).Times(2)
	f.broker.Subscribe("lobby", sender)
	f.broker.Subscribe("lobby", peer)

	// Given a gateway refusing the insert
	f.gateway.EXPECT().InsertMessage(gomock.Any()).Return(stderrors.New("disk full"))

	// When a member publishes
	f.broker.Publish("lobby", "hello", sender)

	// Then only the sender hears about it, as an error
	errEvent, ok := lastEvent(sender, "error").(event.Error)
	req.True(ok)
	req.Equal("Internal server error", errEvent.Reason)
	req.Zero(countEvents(peer, "message"))
}

func TestBroker_Broadcast_Survives_Failing_Member(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	sender := newFakeConn("aaa-111")
	broken := newFakeConn("bbb-222")
	healthy := newFakeConn("ccc-333")

	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil).Times(3)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return(nil, nil).Times(3)
	f.broker.Subscribe("lobby", sender)
	f.broker.Subscribe("lobby", broken)
	f.broker.Subscribe("lobby", healthy)
	broken.failing = true

	f.gateway.EXPECT().InsertMessage(gomock.Any()).Return(nil)

	// When a member publishes past a broken connection
	f.broker.Publish("lobby", "hello", sender)

	// Then the healthy members still receive the message
	req.Equal(1, countEvents(sender, "message"))
	req.Equal(1, countEvents(healthy, "message"))
	req.Equal(uint64(1), f.monitor.Snapshot().DeliveryFailures)
}

func TestBroker_Unsubscribe_Echoes_Leave_To_Leaver_And_Members(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	leaver := newFakeConn("aaa-111")
	peer := newFakeConn("bbb-222")

	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil).Times(2)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return(nil, nil).Times(2)
	f.broker.Subscribe("lobby", leaver)
	f.broker.Subscribe("lobby", peer)

	// When a member unsubscribes
	f.broker.Unsubscribe("lobby", leaver)

	// Then both the leaver and the remaining member get on_user_leave
	left, ok := lastEvent(leaver, "on_user_leave").(event.UserLeft)
	req.True(ok)
	req.Equal("aaa-111", left.Hash)
	req.Equal(1, countEvents(peer, "on_user_leave"))
	req.False(f.registry.IsMember("lobby", "aaa-111"))
}

func TestBroker_Unsubscribe_When_Not_Subscribed_Still_Acknowledges(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	// When unsubscribing from a room never joined
	f.broker.Unsubscribe("lobby", conn)

	// Then the ack still comes and nothing breaks
	req.Equal(1, countEvents(conn, "on_user_leave"))
}

func TestBroker_ListRooms_Returns_Durable_Catalog(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	created := time.UnixMilli(5000).UTC()
	f.gateway.EXPECT().ListRooms().Return([]domain.RoomInfo{
		{Name: "games", CreatedAt: created},
		{Name: "lobby", CreatedAt: created},
	}, nil)

	f.broker.ListRooms(conn)

	list, ok := lastEvent(conn, "list_rooms").(event.RoomList)
	req.True(ok)
	req.Equal([]event.RoomData{
		{Name: "games", CreatedAt: 5000},
		{Name: "lobby", CreatedAt: 5000},
	}, list.Rooms)
}

func TestBroker_Close_Leaves_Every_Room_Exactly_Once(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")
	peer := newFakeConn("bbb-222")

	f.gateway.EXPECT().CreateRoomIfAbsent(gomock.Any()).Return(nil).Times(3)
	f.gateway.EXPECT().RecentMessages(gomock.Any(), 20).Return(nil, nil).Times(3)
	f.broker.Subscribe("lobby", conn)
	f.broker.Subscribe("games", conn)
	f.broker.Subscribe("lobby", peer)

	// When the connection closes twice
	f.broker.Close(conn)
	f.broker.Close(conn)

	// Then the remaining member is told exactly once
	req.Equal(1, countEvents(peer, "on_user_leave"))
	req.False(f.registry.IsMember("lobby", "aaa-111"))
	req.False(f.registry.IsMember("games", "aaa-111"))
}

func TestBroker_Close_Never_Subscribed_Is_NoOp(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	f.broker.Close(conn)

	req.Empty(conn.Events())
}

func TestBroker_Empty_Room_History_Preserved_By_Default(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	conn := newFakeConn("aaa-111")

	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return(nil, nil)
	f.broker.Subscribe("lobby", conn)

	// When the last member leaves, DeleteRoom must not be called
	f.broker.Unsubscribe("lobby", conn)

	rooms, _ := f.registry.Counts()
	req.Zero(rooms)
}

func TestBroker_Concurrent_Subscribes_To_New_Room(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, false)
	const joiners = 50

	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil).Times(joiners)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return(nil, nil).Times(joiners)

	// When 50 connections subscribe to the same new room concurrently
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			f.broker.Subscribe("lobby", newFakeConn(fmt.Sprintf("conn-%03d", n)))
		}(i)
	}
	wg.Wait()

	// Then every one of them is a member of a single live room
	rooms, clients := f.registry.Counts()
	req.Equal(1, rooms)
	req.Equal(joiners, clients)
	req.Len(f.registry.MembersOf("lobby"), joiners)
	req.Equal(uint64(joiners), f.monitor.Snapshot().Joins)
}

func TestBroker_Empty_Room_Deleted_When_Configured(t *testing.T) {
	req := require.New(t)
	f := newBrokerFixture(t, true)
	conn := newFakeConn("aaa-111")

	f.gateway.EXPECT().CreateRoomIfAbsent("lobby").Return(nil)
	f.gateway.EXPECT().RecentMessages("lobby", 20).Return(nil, nil)
	f.broker.Subscribe("lobby", conn)

	// Then the durable row goes with the last member
	f.gateway.EXPECT().DeleteRoom("lobby").Return(nil)
	f.broker.Unsubscribe("lobby", conn)

	req.False(f.registry.IsMember("lobby", "aaa-111"))
}
