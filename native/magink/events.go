package magink

import (
	"strconv"

	"github.com/holiman/uint256"

	"magink/core/events"
	"magink/core/types"
	"magink/crypto"
)

const (
	// EventTypeEraStarted is emitted when an account (re)starts its era.
	EventTypeEraStarted = "magink.era.started"
	// EventTypeBadgeClaimed is emitted for every successful claim.
	EventTypeBadgeClaimed = "magink.badge.claimed"
	// EventTypeWizardMinted is emitted once the issuer confirmed a mint.
	EventTypeWizardMinted = "magink.wizard.minted"
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

// EraStartedEvent returns the payload for a start call.
func EraStartedEvent(account crypto.Address, era uint8, height uint64) *types.Event {
	return &types.Event{
		Type: EventTypeEraStarted,
		Attributes: map[string]string{
			"account":    account.String(),
			"claimEra":   strconv.FormatUint(uint64(era), 10),
			"startBlock": strconv.FormatUint(height, 10),
		},
	}
}

// BadgeClaimedEvent returns the payload for a successful claim.
func BadgeClaimedEvent(account crypto.Address, badges uint8, height uint64) *types.Event {
	return &types.Event{
		Type: EventTypeBadgeClaimed,
		Attributes: map[string]string{
			"account": account.String(),
			"badges":  strconv.FormatUint(uint64(badges), 10),
			"height":  strconv.FormatUint(height, 10),
		},
	}
}

// WizardMintedEvent returns the payload for a confirmed mint.
func WizardMintedEvent(account crypto.Address, id *uint256.Int, mode IDMode, height uint64) *types.Event {
	tokenID := "0"
	if id != nil {
		tokenID = id.Dec()
	}
	return &types.Event{
		Type: EventTypeWizardMinted,
		Attributes: map[string]string{
			"account": account.String(),
			"tokenId": tokenID,
			"mode":    mode.String(),
			"height":  strconv.FormatUint(height, 10),
		},
	}
}
