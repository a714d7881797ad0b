package event

import (
	"encoding/json"
	"fmt"

	"room-relay/errors"
)

// envelope is the wire frame for every event except Error, which is
// sent bare as {"error": "..."} for compatibility with existing clients.
type envelope struct {
	Name string `json:"name"`
	Data any    `json:"data"`
}

// Encode turns an event variant into its wire frame. The switch is
// exhaustive over the closed set; an unlisted type is a programming
// error surfaced as ErrUnknownEvent.
func Encode(e Event) ([]byte, error) {
	switch evt := e.(type) {
	case Joined, UserJoined, UserLeft, Posted, RoomList:
		return json.Marshal(envelope{Name: e.EventName(), Data: e})
	case Error:
		return json.Marshal(evt)
	default:
		return nil, fmt.Errorf("%w: %T", errors.ErrUnknownEvent, e)
	}
}
