package wizard

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"magink/core/issuance"
	"magink/crypto"
)

// Issuer exposes the collection as an issuance.Service acting on behalf of
// a fixed caller, normally the magink module account that owns the
// collection after bootstrap.
type Issuer struct {
	collection *Collection
	caller     crypto.Address
}

var (
	_ issuance.Service     = (*Issuer)(nil)
	_ issuance.OwnerLookup = (*Issuer)(nil)
)

// NewIssuer binds the collection to the account that calls Mint.
func NewIssuer(collection *Collection, caller crypto.Address) *Issuer {
	return &Issuer{collection: collection, caller: caller}
}

// Mint mints through the collection. Refusals by the collection are
// reported as application errors; state failures propagate unchanged.
func (i *Issuer) Mint(ctx context.Context, to crypto.Address, id *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := i.collection.Mint(i.caller, to, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrTokenExists),
		errors.Is(err, ErrNotInstantiated), errors.Is(err, ErrZeroAddress):
		return issuance.Rejected("wizard mint", err)
	default:
		return err
	}
}

// TotalSupply implements issuance.Service.
func (i *Issuer) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return i.collection.TotalSupply()
}

// BalanceOf implements issuance.Service.
func (i *Issuer) BalanceOf(ctx context.Context, owner crypto.Address) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return i.collection.BalanceOf(owner)
}

// Attribute implements issuance.Service.
func (i *Issuer) Attribute(ctx context.Context, collection []byte, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	return i.collection.Attribute(collection, key)
}

// OwnerOf implements issuance.OwnerLookup.
func (i *Issuer) OwnerOf(ctx context.Context, id *uint256.Int) (crypto.Address, bool, error) {
	if err := ctx.Err(); err != nil {
		return crypto.Address{}, false, err
	}
	owner, err := i.collection.OwnerOf(id)
	if errors.Is(err, ErrTokenNotFound) {
		return crypto.Address{}, false, nil
	}
	if err != nil {
		return crypto.Address{}, false, err
	}
	return owner, true, nil
}
