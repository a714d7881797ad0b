//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"room-relay/domain"
	"room-relay/domain/event"
)

// Connection is the handle the broker holds for one live client socket.
// The transport assigns the id and owns the underlying socket; the
// broker only ever delivers events and asks for closure.
type Connection interface {
	ID() string
	Deliver(e event.Event) error
	Close() error
}

// Gateway is the persistence collaborator. It owns durable room rows
// and message history; the in-memory registry owns live membership.
type Gateway interface {
	CreateRoomIfAbsent(name string) error
	InsertMessage(msg domain.Message) error
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(room string, limit int) ([]domain.Message, error)
	ListRooms() ([]domain.RoomInfo, error)
	DeleteRoom(name string) error
}

// Broker applies the protocol actions against the registry and gateway
// and fans events out to room members.
type Broker interface {
	Subscribe(room string, conn Connection)
	Unsubscribe(room string, conn Connection)
	Publish(room, text string, conn Connection)
	ListRooms(conn Connection)
	Close(conn Connection)
}

// MessageHandler decodes one inbound frame and drives the broker.
type MessageHandler interface {
	Handle(conn Connection, data []byte)
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
