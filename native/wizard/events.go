package wizard

import (
	"github.com/holiman/uint256"

	"magink/core/events"
	"magink/core/types"
	"magink/crypto"
)

const (
	// EventTypeTransfer is emitted when a token changes hands. Mints carry
	// an empty "from".
	EventTypeTransfer = "wizard.transfer"
	// EventTypeOwnershipTransferred is emitted when the collection owner
	// changes.
	EventTypeOwnershipTransferred = "wizard.ownership.transferred"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// TransferEvent returns the payload for a token movement.
func TransferEvent(from, to *crypto.Address, id *uint256.Int) *types.Event {
	attrs := map[string]string{"from": "", "to": "", "id": "0"}
	if from != nil {
		attrs["from"] = from.String()
	}
	if to != nil {
		attrs["to"] = to.String()
	}
	if id != nil {
		attrs["id"] = id.Dec()
	}
	return &types.Event{Type: EventTypeTransfer, Attributes: attrs}
}

// OwnershipTransferredEvent returns the payload for an owner change.
func OwnershipTransferredEvent(previous, next crypto.Address) *types.Event {
	return &types.Event{
		Type: EventTypeOwnershipTransferred,
		Attributes: map[string]string{
			"previous": previous.String(),
			"owner":    next.String(),
		},
	}
}
