package domain

// Action is the closed set of inbound protocol actions. Adding a kind
// means adding a variant here and a case in the protocol dispatcher.
type Action interface {
	ActionName() string
}

type SubscribeAction struct {
	Room string
}

func (SubscribeAction) ActionName() string { return "subscribe" }

type UnsubscribeAction struct {
	Room string
}

func (UnsubscribeAction) ActionName() string { return "unsubscribe" }

type PublishAction struct {
	Room string
	Text string
}

func (PublishAction) ActionName() string { return "publish" }

type ListRoomsAction struct{}

func (ListRoomsAction) ActionName() string { return "list_rooms" }
