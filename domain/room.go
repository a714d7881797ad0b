// Package domain contains core concepts of the relay.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// RoomInfo describes one durable room row in the catalog.
// The in-memory registry only tracks live membership; room existence
// and history are owned by the persistence gateway.
type RoomInfo struct {
	Name      string
	CreatedAt time.Time
}
