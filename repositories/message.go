package repositories

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"room-relay/domain"
)

const messagePrefix = "msg:"

type diskMessage struct {
	ID        string `json:"id"`
	Room      string `json:"room"`
	User      string `json:"user"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

// InsertMessage persists a message in BadgerDB.
// The key is formatted as "msg:{room}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
func (g *BadgerGateway) InsertMessage(msg domain.Message) error {
	key := fmt.Sprintf("%s%s:%019d:%s",
		messagePrefix,
		msg.Room,
		msg.CreatedAt.UnixNano(),
		msg.ID,
	)
	bytes, err := json.Marshal(fromMessage(msg))
	if err != nil {
		return err
	}
	return g.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// RecentMessages retrieves up to limit messages for a room, newest
// first, using a reverse prefix scan. Thanks to the padded timestamp in
// the key, iteration order is exactly reverse-chronological; callers
// that need display order reverse the slice themselves.
func (g *BadgerGateway) RecentMessages(room string, limit int) ([]domain.Message, error) {
	var rows []diskMessage
	err := g.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("%s%s:", messagePrefix, room))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the newest possible key for this room, then walk
		// backwards while the prefix still matches.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(rows) == limit {
				g.log.Debug(fmt.Sprintf("Maximum of %d messages reached", limit))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var row diskMessage
				if err := json.Unmarshal(value, &row); err != nil {
					return err
				}
				rows = append(rows, row)
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
	return toMessages(rows)
}

func fromMessage(msg domain.Message) diskMessage {
	return diskMessage{
		ID:        msg.ID.String(),
		Room:      msg.Room,
		User:      msg.Author,
		Message:   msg.Content,
		CreatedAt: msg.CreatedAt.UnixNano(),
	}
}

func toMessages(rows []diskMessage) ([]domain.Message, error) {
	var parseErr error
	messages := lo.Map(rows, func(row diskMessage, _ int) domain.Message {
		id, err := uuid.Parse(row.ID)
		if err != nil {
			parseErr = err
		}
		return domain.Message{
			ID:        id,
			Room:      row.Room,
			Author:    row.User,
			Content:   row.Message,
			CreatedAt: time.Unix(0, row.CreatedAt).UTC(),
		}
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return messages, nil
}
