// Package repositories implements the durable side of the relay on
// BadgerDB. Keys are prefix-scanned: "room:{name}" for catalog rows and
// "msg:{room}:{padded-nanos}:{uuid}" for history, so messages sort
// chronologically by construction.
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"room-relay/domain"
)

const roomPrefix = "room:"

type BadgerGateway struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBadgerGateway(db *badger.DB, log *slog.Logger) *BadgerGateway {
	return &BadgerGateway{db: db, log: log}
}

type diskRoom struct {
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

func roomKey(name string) []byte {
	return []byte(roomPrefix + name)
}

// CreateRoomIfAbsent inserts the durable room row unless it already
// exists. Duplicate creation is a no-op, never an error, so concurrent
// subscribes to a new room cannot fail each other.
func (g *BadgerGateway) CreateRoomIfAbsent(name string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(roomKey(name))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		bytes, err := json.Marshal(diskRoom{Name: name, CreatedAt: time.Now().UTC().UnixNano()})
		if err != nil {
			return err
		}
		return txn.Set(roomKey(name), bytes)
	})
}

// ListRooms returns the whole durable catalog, ordered by name (the
// natural badger iteration order for the room prefix).
func (g *BadgerGateway) ListRooms() ([]domain.RoomInfo, error) {
	var rooms []domain.RoomInfo
	err := g.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(roomPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var row diskRoom
				if err := json.Unmarshal(value, &row); err != nil {
					return err
				}
				rooms = append(rooms, domain.RoomInfo{
					Name:      row.Name,
					CreatedAt: time.Unix(0, row.CreatedAt).UTC(),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// DeleteRoom removes the durable row and every persisted message of the
// room. Used when eviction-on-empty is configured to discard history.
// The key prefix alone is not enough to select victims: "msg:a:" also
// matches every key of a room named "a:b", so each candidate row is
// decoded and kept only when its Room field is the exact name.
func (g *BadgerGateway) DeleteRoom(name string) error {
	var keys [][]byte
	err := g.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(fmt.Sprintf("%s%s:", messagePrefix, name))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(value []byte) error {
				var row diskMessage
				if err := json.Unmarshal(value, &row); err != nil {
					return err
				}
				if row.Room == name {
					keys = append(keys, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	batch := g.db.NewWriteBatch()
	defer batch.Cancel()

	if err := batch.Delete(roomKey(name)); err != nil {
		return err
	}
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}
	return batch.Flush()
}
