package state

import (
	"math/big"

	"github.com/holiman/uint256"

	"magink/native/magink"
)

var (
	maginkProfilePrefix = []byte("magink/profile/")
	maginkMintedPrefix  = []byte("magink/minted/")
	maginkNextIDKey     = []byte("magink/next-id")
)

func maginkProfileKey(addr [20]byte) []byte {
	return prefixedKey(maginkProfilePrefix, addr[:])
}

func maginkMintedKey(addr [20]byte) []byte {
	return prefixedKey(maginkMintedPrefix, addr[:])
}

type storedProfile struct {
	ClaimEra      uint8
	StartBlock    uint64
	BadgesClaimed uint8
	NftClaimed    bool
}

func newStoredProfile(p *magink.Profile) *storedProfile {
	return &storedProfile{
		ClaimEra:      p.ClaimEra,
		StartBlock:    p.StartBlock,
		BadgesClaimed: p.BadgesClaimed,
		NftClaimed:    p.NftClaimed,
	}
}

func (s *storedProfile) toProfile() *magink.Profile {
	return &magink.Profile{
		ClaimEra:      s.ClaimEra,
		StartBlock:    s.StartBlock,
		BadgesClaimed: s.BadgesClaimed,
		NftClaimed:    s.NftClaimed,
	}
}

// MaginkProfileGet loads the profile of addr.
func (m *Manager) MaginkProfileGet(addr [20]byte) (*magink.Profile, bool, error) {
	var stored storedProfile
	ok, err := m.KVGet(maginkProfileKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toProfile(), true, nil
}

// MaginkProfilePut stores the profile of addr.
func (m *Manager) MaginkProfilePut(addr [20]byte, profile *magink.Profile) error {
	if profile == nil {
		profile = &magink.Profile{}
	}
	return m.KVPut(maginkProfileKey(addr), newStoredProfile(profile))
}

// MaginkMinted reports whether addr has been marked as minted.
func (m *Manager) MaginkMinted(addr [20]byte) (bool, error) {
	var flag bool
	ok, err := m.KVGet(maginkMintedKey(addr), &flag)
	if err != nil || !ok {
		return false, err
	}
	return flag, nil
}

// MaginkSetMinted marks addr as minted. There is no way to clear the flag.
func (m *Manager) MaginkSetMinted(addr [20]byte) error {
	return m.KVPut(maginkMintedKey(addr), true)
}

// MaginkNextID returns the locally owned token id counter.
func (m *Manager) MaginkNextID() (*uint256.Int, error) {
	return m.loadUint256(maginkNextIDKey)
}

// MaginkSetNextID stores the locally owned token id counter.
func (m *Manager) MaginkSetNextID(id *uint256.Int) error {
	return m.storeUint256(maginkNextIDKey, id)
}

func (m *Manager) loadUint256(key []byte) (*uint256.Int, error) {
	value := new(big.Int)
	ok, err := m.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return uint256.NewInt(0), nil
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, errUint256Overflow
	}
	return out, nil
}

func (m *Manager) storeUint256(key []byte, value *uint256.Int) error {
	if value == nil {
		value = uint256.NewInt(0)
	}
	return m.KVPut(key, value.ToBig())
}
