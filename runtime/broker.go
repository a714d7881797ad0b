package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"room-relay/contract"
	"room-relay/domain"
	"room-relay/domain/event"
	"room-relay/observability"
)

const (
	reasonNoRoom       = "No room provided"
	reasonEmptyMessage = "Empty message"
	reasonInternal     = "Internal server error"
)

// Broker executes the protocol actions. It is the sole writer of
// registry membership and the sole inserter of message history, so
// every membership mutation and every persisted message goes through
// exactly one code path.
//
// No handler path is fatal: gateway failures are logged and reported to
// the acting connection only, and a failing member never aborts a
// broadcast to the others.
type Broker struct {
	log              *slog.Logger
	registry         *Registry
	lifecycle        *Lifecycle
	gateway          contract.Gateway
	monitor          *observability.Monitor
	historyLimit     int
	deleteEmptyRooms bool
}

func NewBroker(
	log *slog.Logger,
	registry *Registry,
	lifecycle *Lifecycle,
	gateway contract.Gateway,
	monitor *observability.Monitor,
	historyLimit int,
	deleteEmptyRooms bool,
) *Broker {
	return &Broker{
		log:              log,
		registry:         registry,
		lifecycle:        lifecycle,
		gateway:          gateway,
		monitor:          monitor,
		historyLimit:     historyLimit,
		deleteEmptyRooms: deleteEmptyRooms,
	}
}

// Subscribe joins the connection to the room, creating the durable row
// first so the registry never references a room the gateway does not
// know. The subscriber gets on_join with the current member ids and the
// most recent history oldest-first; everyone else gets on_user_join.
// Re-subscribing is harmless and still answers with a fresh on_join.
func (b *Broker) Subscribe(room string, conn contract.Connection) {
	if room == "" {
		b.deliver(conn, event.Error{Reason: reasonNoRoom})
		return
	}

	// Durable row before registry join: if creation fails there is
	// nothing to roll back and the maps stay consistent.
	if err := b.gateway.CreateRoomIfAbsent(room); err != nil {
		b.log.Error("Room creation failed", "room", room, "err", err)
		b.deliver(conn, event.Error{Reason: reasonInternal})
		return
	}

	members, _ := b.registry.Join(room, conn)
	b.lifecycle.Track(conn.ID(), room)
	b.monitor.IncrJoins()
	b.log.Info("Subscribed", "room", room, "hash", conn.ID(), "members", len(members))

	history, err := b.gateway.RecentMessages(room, b.historyLimit)
	if err != nil {
		// History is replay comfort, not correctness: the join stands.
		b.log.Error("History fetch failed", "room", room, "err", err)
		history = nil
	}
	lo.Reverse(history)

	b.deliver(conn, event.Joined{
		Room:     room,
		Hash:     conn.ID(),
		Clients:  members,
		Messages: event.ToMessageData(history),
	})
	b.broadcast(room, event.UserJoined{Room: room, Hash: conn.ID()}, conn.ID())
}

// Unsubscribe removes the connection from the room regardless of prior
// state. The leaver receives the same on_user_leave as the remaining
// members, which doubles as the acknowledgement.
func (b *Broker) Unsubscribe(room string, conn contract.Connection) {
	if room == "" {
		b.deliver(conn, event.Error{Reason: reasonNoRoom})
		return
	}
	b.lifecycle.Untrack(conn.ID(), room)
	b.leaveRoom(room, conn)
	b.deliver(conn, event.UserLeft{Room: room, Hash: conn.ID()})
	b.log.Info("Unsubscribed", "room", room, "hash", conn.ID())
}

// Publish persists the message and then broadcasts it to every member
// of the room, sender included. A sender that is not a member only gets
// an error event; nothing is persisted and nothing is broadcast.
func (b *Broker) Publish(room, text string, conn contract.Connection) {
	if room == "" {
		b.deliver(conn, event.Error{Reason: reasonNoRoom})
		return
	}
	if text == "" {
		b.deliver(conn, event.Error{Reason: reasonEmptyMessage})
		return
	}
	if !b.registry.IsMember(room, conn.ID()) {
		b.deliver(conn, event.Error{Reason: fmt.Sprintf("Not subscribed to room '%s'", room)})
		return
	}

	msg := domain.Message{
		ID:        uuid.New(),
		Room:      room,
		Author:    conn.ID(),
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.gateway.InsertMessage(msg); err != nil {
		b.log.Error("Message insert failed", "room", room, "err", err)
		b.deliver(conn, event.Error{Reason: reasonInternal})
		return
	}

	b.monitor.IncrRelayed()
	b.broadcast(room, event.Posted{
		User:      conn.ID(),
		Message:   text,
		Room:      room,
		CreatedAt: msg.CreatedAt.UnixMilli(),
	}, "")
}

// ListRooms answers with the durable catalog, not just live rooms:
// empty rooms with preserved history stay listed until deleted.
func (b *Broker) ListRooms(conn contract.Connection) {
	rooms, err := b.gateway.ListRooms()
	if err != nil {
		b.log.Error("Room listing failed", "err", err)
		b.deliver(conn, event.Error{Reason: reasonInternal})
		return
	}
	b.deliver(conn, event.RoomList{Rooms: event.ToRoomData(rooms)})
}

// Close removes the connection from every room it joined. Safe for
// connections that never subscribed, and a repeated call is a no-op
// because Lifecycle.Forget hands out the rooms exactly once.
func (b *Broker) Close(conn contract.Connection) {
	rooms := b.lifecycle.Forget(conn.ID())
	for _, room := range rooms {
		b.leaveRoom(room, conn)
	}
	if len(rooms) > 0 {
		b.log.Info("Disconnected", "hash", conn.ID(), "rooms", len(rooms))
	}
}

func (b *Broker) leaveRoom(room string, conn contract.Connection) {
	empty := b.registry.Leave(room, conn)
	b.monitor.IncrLeaves()
	b.broadcast(room, event.UserLeft{Room: room, Hash: conn.ID()}, "")
	if empty && b.deleteEmptyRooms {
		if err := b.gateway.DeleteRoom(room); err != nil {
			b.log.Error("Room deletion failed", "room", room, "err", err)
		}
	}
}

// broadcast delivers an event to every current member except exceptID.
// Per-member failures are counted and logged, never propagated: one
// slow or broken connection must not starve the rest of the room.
func (b *Broker) broadcast(room string, e event.Event, exceptID string) {
	for _, member := range b.registry.Snapshot(room) {
		if member.ID() == exceptID {
			continue
		}
		if err := member.Deliver(e); err != nil {
			b.monitor.IncrDeliveryFailure()
			b.log.Warn("Event delivery failed", "room", room, "hash", member.ID(), "err", err)
			continue
		}
		b.monitor.IncrDelivered()
	}
}

func (b *Broker) deliver(conn contract.Connection, e event.Event) {
	if err := conn.Deliver(e); err != nil {
		b.monitor.IncrDeliveryFailure()
		b.log.Warn("Event delivery failed", "hash", conn.ID(), "err", err)
	}
}
