package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part of an encoded address.
type AddressPrefix string

const (
	// AccountPrefix marks externally owned accounts.
	AccountPrefix AddressPrefix = "mgk"
	// ModulePrefix marks accounts owned by native modules such as the
	// magink coordinator or the wizard collection.
	ModulePrefix AddressPrefix = "mgkm"
)

// AddressLength is the size of an address payload in bytes.
const AddressLength = 20

var ErrInvalidAddress = errors.New("crypto: invalid address")

// Address is a 20-byte account identifier. The zero value is the empty
// address. Address is comparable and may be used as a map key.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

// NewAddress builds an address from a 20-byte payload.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	var out Address
	out.prefix = prefix
	copy(out.bytes[:], b)
	return out
}

var moduleAccounts sync.Map

// ModuleAddress derives the deterministic account of a native module.
func ModuleAddress(name string) Address {
	sum := crypto.Keccak256([]byte("module:" + name))
	addr := NewAddress(ModulePrefix, sum[len(sum)-AddressLength:])
	moduleAccounts.Store(addr.bytes, struct{}{})
	return addr
}

// FromArray rebuilds an address from its stored payload, restoring the
// module prefix for payloads derived by ModuleAddress.
func FromArray(raw [AddressLength]byte) Address {
	if _, ok := moduleAccounts.Load(raw); ok {
		return Address{prefix: ModulePrefix, bytes: raw}
	}
	return Address{prefix: AccountPrefix, bytes: raw}
}

// FromCommon converts an EVM address.
func FromCommon(addr common.Address) Address {
	return NewAddress(AccountPrefix, addr.Bytes())
}

func (a Address) String() string {
	if a.IsZero() && a.prefix == "" {
		return ""
	}
	prefix := a.prefix
	if prefix == "" {
		prefix = AccountPrefix
	}
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the 20-byte payload.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Array returns the raw payload.
func (a Address) Array() [AddressLength]byte {
	return a.bytes
}

// Common converts the address to its EVM form.
func (a Address) Common() common.Address {
	return common.BytesToAddress(a.bytes[:])
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the payload is all zeroes.
func (a Address) IsZero() bool {
	return a.bytes == [AddressLength]byte{}
}

// Equal compares payloads and ignores the prefix.
func (a Address) Equal(other Address) bool {
	return a.bytes == other.bytes
}

// MarshalText encodes the address in bech32.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts bech32 or 0x-prefixed hex.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, ErrInvalidAddress
	}
	switch AddressPrefix(prefix) {
	case AccountPrefix, ModulePrefix:
	default:
		return Address{}, fmt.Errorf("%w: unsupported prefix %q", ErrInvalidAddress, prefix)
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// ParseAddress decodes a bech32 address or a 0x-prefixed hex address.
func ParseAddress(value string) (Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Address{}, ErrInvalidAddress
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return Address{}, ErrInvalidAddress
		}
		return FromCommon(common.HexToAddress(trimmed)), nil
	}
	return DecodeAddress(trimmed)
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(AccountPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a hex encoded secp256k1 key with an optional 0x prefix.
func PrivateKeyFromHex(value string) (*PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return &PrivateKey{key}, nil
}
