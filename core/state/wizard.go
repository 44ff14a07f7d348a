package state

import (
	"errors"

	"github.com/holiman/uint256"
)

var errUint256Overflow = errors.New("state: stored value exceeds 256 bits")

var (
	wizardOwnerKey      = []byte("wizard/owner")
	wizardSupplyKey     = []byte("wizard/supply")
	wizardTokenPrefix   = []byte("wizard/token/")
	wizardBalancePrefix = []byte("wizard/balance/")
	wizardAttrPrefix    = []byte("wizard/attr/")
	wizardAttrSeparator = []byte{0}
)

func wizardTokenKey(id *uint256.Int) []byte {
	b := id.Bytes32()
	return prefixedKey(wizardTokenPrefix, b[:])
}

func wizardBalanceKey(owner [20]byte) []byte {
	return prefixedKey(wizardBalancePrefix, owner[:])
}

func wizardAttrKey(collection []byte, key string) []byte {
	return prefixedKey(wizardAttrPrefix, collection, wizardAttrSeparator, []byte(key))
}

// WizardOwner returns the collection owner.
func (m *Manager) WizardOwner() ([20]byte, bool, error) {
	var owner [20]byte
	ok, err := m.KVGet(wizardOwnerKey, &owner)
	return owner, ok, err
}

// WizardSetOwner stores the collection owner.
func (m *Manager) WizardSetOwner(owner [20]byte) error {
	return m.KVPut(wizardOwnerKey, owner)
}

// WizardTokenOwner returns the holder of token id.
func (m *Manager) WizardTokenOwner(id *uint256.Int) ([20]byte, bool, error) {
	var owner [20]byte
	if id == nil {
		id = uint256.NewInt(0)
	}
	ok, err := m.KVGet(wizardTokenKey(id), &owner)
	return owner, ok, err
}

// WizardSetTokenOwner records the holder of token id.
func (m *Manager) WizardSetTokenOwner(id *uint256.Int, owner [20]byte) error {
	if id == nil {
		id = uint256.NewInt(0)
	}
	return m.KVPut(wizardTokenKey(id), owner)
}

// WizardBalance returns the number of tokens held by owner.
func (m *Manager) WizardBalance(owner [20]byte) (uint32, error) {
	var balance uint32
	_, err := m.KVGet(wizardBalanceKey(owner), &balance)
	return balance, err
}

// WizardSetBalance stores the number of tokens held by owner.
func (m *Manager) WizardSetBalance(owner [20]byte, balance uint32) error {
	return m.KVPut(wizardBalanceKey(owner), balance)
}

// WizardSupply returns the number of minted tokens.
func (m *Manager) WizardSupply() (*uint256.Int, error) {
	return m.loadUint256(wizardSupplyKey)
}

// WizardSetSupply stores the number of minted tokens.
func (m *Manager) WizardSetSupply(supply *uint256.Int) error {
	return m.storeUint256(wizardSupplyKey, supply)
}

// WizardAttribute reads a metadata attribute.
func (m *Manager) WizardAttribute(collection []byte, key string) (string, bool, error) {
	var value string
	ok, err := m.KVGet(wizardAttrKey(collection, key), &value)
	return value, ok, err
}

// WizardSetAttribute stores a metadata attribute.
func (m *Manager) WizardSetAttribute(collection []byte, key, value string) error {
	return m.KVPut(wizardAttrKey(collection, key), value)
}
