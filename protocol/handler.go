// Package protocol decodes inbound frames, validates them against the
// action schema, and drives the broker. It is the only place where raw
// client bytes are interpreted.
package protocol

import (
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"room-relay/contract"
	"room-relay/domain"
	"room-relay/domain/event"
)

const reasonInvalidFormat = "Invalid message format"

type wireAction struct {
	Action  string `json:"action" validate:"required,oneof=subscribe unsubscribe publish list_rooms"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message,omitempty"`
}

type Handler struct {
	broker   contract.Broker
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(broker contract.Broker, log *slog.Logger) *Handler {
	return &Handler{
		broker:   broker,
		validate: validator.New(),
		log:      log,
	}
}

// Handle processes one inbound frame. Malformed JSON or a payload
// failing schema validation answers with an error event to the sender
// only; the connection stays open.
func (h *Handler) Handle(conn contract.Connection, data []byte) {
	var wire wireAction
	if err := json.Unmarshal(data, &wire); err != nil {
		h.log.Debug("Received non-JSON message", "hash", conn.ID())
		h.reject(conn)
		return
	}
	if err := h.validate.Struct(wire); err != nil {
		h.log.Debug("Schema validation failed", "hash", conn.ID(), "err", err)
		h.reject(conn)
		return
	}
	h.Dispatch(conn, toAction(wire))
}

// Dispatch routes one decoded action. The switch is exhaustive over the
// closed action set; extending the protocol means a new variant and a
// new case, checked at compile time through the conversion below.
func (h *Handler) Dispatch(conn contract.Connection, action domain.Action) {
	switch a := action.(type) {
	case domain.SubscribeAction:
		h.broker.Subscribe(a.Room, conn)
	case domain.UnsubscribeAction:
		h.broker.Unsubscribe(a.Room, conn)
	case domain.PublishAction:
		h.broker.Publish(a.Room, a.Text, conn)
	case domain.ListRoomsAction:
		h.broker.ListRooms(conn)
	default:
		h.log.Error("Unhandled action", "action", action.ActionName())
		h.reject(conn)
	}
}

func toAction(wire wireAction) domain.Action {
	switch wire.Action {
	case "subscribe":
		return domain.SubscribeAction{Room: wire.Room}
	case "unsubscribe":
		return domain.UnsubscribeAction{Room: wire.Room}
	case "publish":
		return domain.PublishAction{Room: wire.Room, Text: wire.Message}
	default:
		return domain.ListRoomsAction{}
	}
}

func (h *Handler) reject(conn contract.Connection) {
	if err := conn.Deliver(event.Error{Reason: reasonInvalidFormat}); err != nil {
		h.log.Warn("Event delivery failed", "hash", conn.ID(), "err", err)
	}
}
