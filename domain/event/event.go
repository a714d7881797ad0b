// Package event defines the closed set of outbound protocol events.
// Each variant maps to one wire envelope; Encode is the single place
// where events become bytes.
package event

import (
	"room-relay/domain"

	"github.com/samber/lo"
)

// Event is implemented by every outbound variant. The name is the wire
// tag clients dispatch on.
type Event interface {
	EventName() string
}

// MessageData is the history entry shape inside an on_join payload.
type MessageData struct {
	User      string `json:"user"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

// RoomData is one catalog entry inside a list_rooms payload.
type RoomData struct {
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// Joined is sent to a connection after a successful subscribe. Messages
// are oldest-first so clients can replay them in display order.
type Joined struct {
	Room     string        `json:"room"`
	Hash     string        `json:"hash"`
	Clients  []string      `json:"clients"`
	Messages []MessageData `json:"messages"`
}

func (Joined) EventName() string { return "on_join" }

// UserJoined notifies existing members that a connection entered the room.
type UserJoined struct {
	Room string `json:"room"`
	Hash string `json:"hash"`
}

func (UserJoined) EventName() string { return "on_user_join" }

// UserLeft notifies members that a connection left the room. The leaving
// connection receives the same event as its acknowledgement.
type UserLeft struct {
	Room string `json:"room"`
	Hash string `json:"hash"`
}

func (UserLeft) EventName() string { return "on_user_leave" }

// Posted carries one relayed chat message to every room member.
type Posted struct {
	User      string `json:"user"`
	Message   string `json:"message"`
	Room      string `json:"room"`
	CreatedAt int64  `json:"created_at"`
}

func (Posted) EventName() string { return "message" }

// RoomList answers a list_rooms action; never broadcast.
type RoomList struct {
	Rooms []RoomData `json:"rooms"`
}

func (RoomList) EventName() string { return "list_rooms" }

// Error is delivered only to the offending connection. The connection
// stays open.
type Error struct {
	Reason string `json:"error"`
}

func (Error) EventName() string { return "error" }

func ToMessageData(messages []domain.Message) []MessageData {
	return lo.Map(messages, func(m domain.Message, _ int) MessageData {
		return MessageData{
			User:      m.Author,
			Message:   m.Content,
			CreatedAt: m.CreatedAt.UnixMilli(),
		}
	})
}

func ToRoomData(rooms []domain.RoomInfo) []RoomData {
	return lo.Map(rooms, func(r domain.RoomInfo, _ int) RoomData {
		return RoomData{
			Name:      r.Name,
			CreatedAt: r.CreatedAt.UnixMilli(),
		}
	})
}
