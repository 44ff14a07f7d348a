package wizard

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"

	"magink/core/events"
	"magink/core/types"
	"magink/crypto"
)

// ModuleName identifies the collection's module account.
const ModuleName = "wizard"

const (
	CollectionName   = "Wizard"
	CollectionSymbol = "WZD"
)

var (
	ErrNotOwner            = errors.New("wizard: caller is not owner")
	ErrTokenExists         = errors.New("wizard: token exists")
	ErrTokenNotFound       = errors.New("wizard: token not found")
	ErrNotInstantiated     = errors.New("wizard: collection not instantiated")
	ErrAlreadyInstantiated = errors.New("wizard: collection already instantiated")
	ErrZeroAddress         = errors.New("wizard: zero address")

	errNilState = errors.New("wizard: state not configured")
)

type collectionState interface {
	WizardOwner() ([20]byte, bool, error)
	WizardSetOwner(owner [20]byte) error
	WizardTokenOwner(id *uint256.Int) ([20]byte, bool, error)
	WizardSetTokenOwner(id *uint256.Int, owner [20]byte) error
	WizardBalance(owner [20]byte) (uint32, error)
	WizardSetBalance(owner [20]byte, balance uint32) error
	WizardSupply() (*uint256.Int, error)
	WizardSetSupply(supply *uint256.Int) error
	WizardAttribute(collection []byte, key string) (string, bool, error)
	WizardSetAttribute(collection []byte, key, value string) error
}

// Collection is an ownable, mintable non-fungible token collection with
// per-collection metadata attributes.
type Collection struct {
	state   collectionState
	emitter events.Emitter
	account crypto.Address
}

// NewCollection constructs a collection bound to its module account.
func NewCollection() *Collection {
	return &Collection{
		emitter: events.NoopEmitter{},
		account: crypto.ModuleAddress(ModuleName),
	}
}

// SetState configures the state backend used by the collection.
func (c *Collection) SetState(state collectionState) { c.state = state }

// SetEmitter configures the event emitter used by the collection.
func (c *Collection) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// Account returns the collection's module account.
func (c *Collection) Account() crypto.Address { return c.account }

// ID returns the collection id under which metadata attributes are stored.
func (c *Collection) ID() []byte { return c.account.Bytes() }

func (c *Collection) emit(evt *types.Event) {
	if c == nil || evt == nil || c.emitter == nil {
		return
	}
	c.emitter.Emit(WrapEvent(evt))
}

// Instantiate sets the deployer as owner and publishes the name, symbol and
// image attributes.
func (c *Collection) Instantiate(deployer crypto.Address, image string) error {
	if c.state == nil {
		return errNilState
	}
	if deployer.IsZero() {
		return ErrZeroAddress
	}
	if _, ok, err := c.state.WizardOwner(); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInstantiated
	}
	if err := c.state.WizardSetOwner(deployer.Array()); err != nil {
		return err
	}
	attrs := [][2]string{{"name", CollectionName}, {"symbol", CollectionSymbol}}
	if image = strings.TrimSpace(image); image != "" {
		attrs = append(attrs, [2]string{"image", image})
	}
	for _, kv := range attrs {
		if err := c.state.WizardSetAttribute(c.ID(), kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// Owner returns the current owner. ok is false before instantiation.
func (c *Collection) Owner() (crypto.Address, bool, error) {
	if c.state == nil {
		return crypto.Address{}, false, errNilState
	}
	owner, ok, err := c.state.WizardOwner()
	if err != nil || !ok {
		return crypto.Address{}, ok, err
	}
	return crypto.FromArray(owner), true, nil
}

func (c *Collection) requireOwner(caller crypto.Address) error {
	owner, ok, err := c.Owner()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInstantiated
	}
	if !owner.Equal(caller) {
		return ErrNotOwner
	}
	return nil
}

// TransferOwnership hands the collection to newOwner. Only the current
// owner may call it.
func (c *Collection) TransferOwnership(caller, newOwner crypto.Address) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return ErrZeroAddress
	}
	if err := c.state.WizardSetOwner(newOwner.Array()); err != nil {
		return err
	}
	c.emit(OwnershipTransferredEvent(caller, newOwner))
	return nil
}

// Mint creates token id for to. Only the owner may mint and ids are never
// reused.
func (c *Collection) Mint(caller, to crypto.Address, id *uint256.Int) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	if id == nil {
		id = uint256.NewInt(0)
	}
	if _, exists, err := c.state.WizardTokenOwner(id); err != nil {
		return err
	} else if exists {
		return ErrTokenExists
	}
	balance, err := c.state.WizardBalance(to.Array())
	if err != nil {
		return err
	}
	supply, err := c.state.WizardSupply()
	if err != nil {
		return err
	}
	if err := c.state.WizardSetTokenOwner(id, to.Array()); err != nil {
		return err
	}
	if err := c.state.WizardSetBalance(to.Array(), balance+1); err != nil {
		return err
	}
	if err := c.state.WizardSetSupply(new(uint256.Int).AddUint64(supply, 1)); err != nil {
		return err
	}
	c.emit(TransferEvent(nil, &to, id))
	return nil
}

// TotalSupply returns the number of minted tokens.
func (c *Collection) TotalSupply() (*uint256.Int, error) {
	if c.state == nil {
		return nil, errNilState
	}
	return c.state.WizardSupply()
}

// BalanceOf returns the number of tokens held by owner.
func (c *Collection) BalanceOf(owner crypto.Address) (uint32, error) {
	if c.state == nil {
		return 0, errNilState
	}
	return c.state.WizardBalance(owner.Array())
}

// OwnerOf returns the holder of token id.
func (c *Collection) OwnerOf(id *uint256.Int) (crypto.Address, error) {
	if c.state == nil {
		return crypto.Address{}, errNilState
	}
	owner, ok, err := c.state.WizardTokenOwner(id)
	if err != nil {
		return crypto.Address{}, err
	}
	if !ok {
		return crypto.Address{}, ErrTokenNotFound
	}
	return crypto.FromArray(owner), nil
}

// Attribute reads a metadata attribute of collection.
func (c *Collection) Attribute(collection []byte, key string) (string, bool, error) {
	if c.state == nil {
		return "", false, errNilState
	}
	return c.state.WizardAttribute(collection, key)
}

// SetAttribute publishes a metadata attribute on this collection. Only the
// owner may call it.
func (c *Collection) SetAttribute(caller crypto.Address, key, value string) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	return c.state.WizardSetAttribute(c.ID(), key, value)
}
