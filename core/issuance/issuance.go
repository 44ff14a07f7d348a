// Package issuance defines the contract between the magink coordinator and
// the service that mints Wizard tokens.
package issuance

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"magink/crypto"
)

// Service captures what the mint coordinator requires from a token issuer.
//
// Mint must return an *ApplicationError when the issuer answered and
// refused the mint. Any other non-nil error is treated by callers as an
// aborted call whose outcome is unknown.
type Service interface {
	Mint(ctx context.Context, to crypto.Address, id *uint256.Int) error
	TotalSupply(ctx context.Context) (*uint256.Int, error)
	BalanceOf(ctx context.Context, owner crypto.Address) (uint32, error)
	Attribute(ctx context.Context, collection []byte, key string) (string, bool, error)
}

// OwnerLookup is implemented by issuers that can report the holder of a
// token. held is false when the token does not exist.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, id *uint256.Int) (owner crypto.Address, held bool, err error)
}

// ApplicationError is a confirmed refusal from the issuer. No token was
// minted.
type ApplicationError struct {
	Reason string
	Err    error
}

func (e *ApplicationError) Error() string {
	if e == nil {
		return "issuance: application error"
	}
	if e.Err != nil && e.Reason != "" {
		return fmt.Sprintf("issuance: %s: %v", e.Reason, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("issuance: %v", e.Err)
	}
	if e.Reason != "" {
		return "issuance: " + e.Reason
	}
	return "issuance: application error"
}

func (e *ApplicationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Rejected wraps err as an application-level refusal.
func Rejected(reason string, err error) error {
	return &ApplicationError{Reason: reason, Err: err}
}

// IsApplicationError reports whether err carries an *ApplicationError.
func IsApplicationError(err error) bool {
	var target *ApplicationError
	return errors.As(err, &target)
}

// FuncService adapts callback functions to the Service interface.
type FuncService struct {
	MintFunc        func(ctx context.Context, to crypto.Address, id *uint256.Int) error
	TotalSupplyFunc func(ctx context.Context) (*uint256.Int, error)
	BalanceOfFunc   func(ctx context.Context, owner crypto.Address) (uint32, error)
	AttributeFunc   func(ctx context.Context, collection []byte, key string) (string, bool, error)
	OwnerOfFunc     func(ctx context.Context, id *uint256.Int) (crypto.Address, bool, error)
}

// Mint delegates to the configured callback.
func (s FuncService) Mint(ctx context.Context, to crypto.Address, id *uint256.Int) error {
	if s.MintFunc == nil {
		return nil
	}
	return s.MintFunc(ctx, to, id)
}

// TotalSupply delegates to the configured callback.
func (s FuncService) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	if s.TotalSupplyFunc == nil {
		return uint256.NewInt(0), nil
	}
	return s.TotalSupplyFunc(ctx)
}

// BalanceOf delegates to the configured callback.
func (s FuncService) BalanceOf(ctx context.Context, owner crypto.Address) (uint32, error) {
	if s.BalanceOfFunc == nil {
		return 0, nil
	}
	return s.BalanceOfFunc(ctx, owner)
}

// Attribute delegates to the configured callback.
func (s FuncService) Attribute(ctx context.Context, collection []byte, key string) (string, bool, error) {
	if s.AttributeFunc == nil {
		return "", false, nil
	}
	return s.AttributeFunc(ctx, collection, key)
}

// OwnerOf delegates to the configured callback.
func (s FuncService) OwnerOf(ctx context.Context, id *uint256.Int) (crypto.Address, bool, error) {
	if s.OwnerOfFunc == nil {
		return crypto.Address{}, false, nil
	}
	return s.OwnerOfFunc(ctx, id)
}
