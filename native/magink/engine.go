package magink

import (
	"math"

	"github.com/holiman/uint256"

	"magink/core/events"
	"magink/core/issuance"
	"magink/core/types"
	"magink/crypto"
)

type engineState interface {
	MaginkProfileGet(addr [20]byte) (*Profile, bool, error)
	MaginkProfilePut(addr [20]byte, profile *Profile) error
	MaginkMinted(addr [20]byte) (bool, error)
	MaginkSetMinted(addr [20]byte) error
	MaginkNextID() (*uint256.Int, error)
	MaginkSetNextID(id *uint256.Int) error
}

// Engine implements the eligibility engine and the Wizard mint coordinator.
type Engine struct {
	state      engineState
	emitter    events.Emitter
	heightFn   func() uint64
	issuer     issuance.Service
	collection []byte
	cfg        Config
}

// NewEngine constructs an engine with the default configuration.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		heightFn: func() uint64 { return 0 },
		cfg:      DefaultConfig(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetHeightFunc overrides the block height source.
func (e *Engine) SetHeightFunc(height func() uint64) {
	if height == nil {
		e.heightFn = func() uint64 { return 0 }
		return
	}
	e.heightFn = height
}

// SetIssuer configures the issuance service and the collection id used for
// metadata lookups.
func (e *Engine) SetIssuer(issuer issuance.Service, collection []byte) {
	e.issuer = issuer
	e.collection = append([]byte(nil), collection...)
}

// SetConfig replaces the engine configuration.
func (e *Engine) SetConfig(cfg Config) { e.cfg = cfg }

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) height() uint64 {
	if e == nil || e.heightFn == nil {
		return 0
	}
	return e.heightFn()
}

// Start (re)initialises the caller's era. Any progress of a running era is
// forfeited.
func (e *Engine) Start(caller crypto.Address, era uint8) (*Profile, error) {
	if e.state == nil {
		return nil, errNilState
	}
	height := e.height()
	profile := &Profile{
		ClaimEra:      era,
		StartBlock:    height,
		BadgesClaimed: 0,
		NftClaimed:    false,
	}
	if err := e.state.MaginkProfilePut(caller.Array(), profile); err != nil {
		return nil, err
	}
	e.emit(EraStartedEvent(caller, era, height))
	return e.project(caller, profile)
}

// Remaining returns the number of blocks the caller has to wait before the
// next claim.
func (e *Engine) Remaining(caller crypto.Address) (uint8, error) {
	return e.RemainingFor(caller)
}

// RemainingFor returns the number of blocks account has to wait before its
// next claim. Accounts without a profile report 0.
func (e *Engine) RemainingFor(account crypto.Address) (uint8, error) {
	if e.state == nil {
		return 0, errNilState
	}
	profile, ok, err := e.state.MaginkProfileGet(account.Array())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return remaining(profile, e.height()), nil
}

func remaining(profile *Profile, height uint64) uint8 {
	if profile == nil {
		return 0
	}
	var elapsed uint64
	if height > profile.StartBlock {
		elapsed = height - profile.StartBlock
	}
	if elapsed >= uint64(profile.ClaimEra) {
		return 0
	}
	return profile.ClaimEra - uint8(elapsed)
}

// Claim awards one badge once the caller's era has elapsed and starts a new
// era of the same length.
func (e *Engine) Claim(caller crypto.Address) (*Profile, error) {
	if e.state == nil {
		return nil, errNilState
	}
	left, err := e.Remaining(caller)
	if err != nil {
		return nil, err
	}
	if left != 0 {
		return nil, ErrTooEarlyToClaim
	}
	// Accounts without a profile also report 0 remaining, so they reach
	// this second check.
	profile, ok, err := e.state.MaginkProfileGet(caller.Array())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	if profile.BadgesClaimed == math.MaxUint8 {
		return nil, ErrBadgeOverflow
	}
	height := e.height()
	profile.BadgesClaimed++
	profile.StartBlock = height
	if err := e.state.MaginkProfilePut(caller.Array(), profile); err != nil {
		return nil, err
	}
	e.emit(BadgeClaimedEvent(caller, profile.BadgesClaimed, height))
	return e.project(caller, profile)
}

// Badges returns the caller's badge count, 0 without a profile.
func (e *Engine) Badges(caller crypto.Address) (uint8, error) {
	return e.BadgesFor(caller)
}

// BadgesFor returns the badge count of account, 0 without a profile.
func (e *Engine) BadgesFor(account crypto.Address) (uint8, error) {
	if e.state == nil {
		return 0, errNilState
	}
	profile, ok, err := e.state.MaginkProfileGet(account.Array())
	if err != nil || !ok {
		return 0, err
	}
	return profile.BadgesClaimed, nil
}

// Profile returns the caller's profile or nil when the caller never started.
func (e *Engine) Profile(caller crypto.Address) (*Profile, error) {
	return e.AccountProfile(caller)
}

// AccountProfile returns account's profile or nil when it never started.
func (e *Engine) AccountProfile(account crypto.Address) (*Profile, error) {
	if e.state == nil {
		return nil, errNilState
	}
	profile, ok, err := e.state.MaginkProfileGet(account.Array())
	if err != nil || !ok {
		return nil, err
	}
	return e.project(account, profile)
}

// project folds the never-cleared minted flag into the stored profile.
func (e *Engine) project(account crypto.Address, profile *Profile) (*Profile, error) {
	out := profile.Clone()
	if out.NftClaimed {
		return out, nil
	}
	minted, err := e.state.MaginkMinted(account.Array())
	if err != nil {
		return nil, err
	}
	out.NftClaimed = minted
	return out, nil
}
