package magink

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"magink/core/issuance"
	"magink/crypto"
)

// ImageAttribute is the metadata key holding the Wizard artwork URL.
const ImageAttribute = "image"

// MintWizard mints the caller's Wizard once the quota is reached.
//
// Nothing is written before the issuer confirms the mint. A refusal from the
// issuer returns ErrMintError with state untouched; any other issuer error
// returns ErrIssuanceAborted and the caller must discard the operation. On
// success the minted flag and the id counter are staged before returning.
func (e *Engine) MintWizard(ctx context.Context, caller crypto.Address) (*uint256.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if e.issuer == nil {
		return nil, errNilIssuer
	}
	profile, ok, err := e.state.MaginkProfileGet(caller.Array())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	minted, err := e.alreadyMinted(ctx, caller)
	if err != nil {
		return nil, err
	}
	if minted {
		return nil, ErrNftAlreadyClaimed
	}
	if !e.cfg.Quota.Satisfied(profile.BadgesClaimed) {
		return nil, ErrNotEnoughBadges
	}
	id, err := e.nextID(ctx)
	if err != nil {
		return nil, err
	}

	if e.cfg.Mode == ModeLocal {
		issued, err := e.issuedTo(ctx, caller, id)
		if err != nil {
			return nil, err
		}
		if issued {
			if err := e.recordMint(caller, profile, id); err != nil {
				return nil, err
			}
			return id, nil
		}
	}

	if err := e.issuer.Mint(ctx, caller, id.Clone()); err != nil {
		if issuance.IsApplicationError(err) {
			return nil, fmt.Errorf("%w: %v", ErrMintError, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrIssuanceAborted, err)
	}
	if err := e.recordMint(caller, profile, id); err != nil {
		return nil, err
	}
	return id, nil
}

// issuedTo reports whether id already belongs to caller, which happens when
// an earlier mint was aborted after the issuer had accepted it. An id held
// by another account is a refusal.
func (e *Engine) issuedTo(ctx context.Context, caller crypto.Address, id *uint256.Int) (bool, error) {
	lookup, ok := e.issuer.(issuance.OwnerLookup)
	if !ok {
		return false, nil
	}
	owner, held, err := lookup.OwnerOf(ctx, id.Clone())
	if err != nil {
		return false, fmt.Errorf("%w: owner of %s: %v", ErrIssuerUnavailable, id.Dec(), err)
	}
	if !held {
		return false, nil
	}
	if owner.Equal(caller) {
		return true, nil
	}
	return false, fmt.Errorf("%w: token %s already held by %s", ErrMintError, id.Dec(), owner)
}

func (e *Engine) recordMint(caller crypto.Address, profile *Profile, id *uint256.Int) error {
	if err := e.state.MaginkSetMinted(caller.Array()); err != nil {
		return err
	}
	profile.NftClaimed = true
	if err := e.state.MaginkProfilePut(caller.Array(), profile); err != nil {
		return err
	}
	if e.cfg.Mode == ModeLocal {
		next := new(uint256.Int).AddUint64(id, 1)
		if err := e.state.MaginkSetNextID(next); err != nil {
			return err
		}
	}
	e.emit(WizardMintedEvent(caller, id, e.cfg.Mode, e.height()))
	return nil
}

// NextID returns the id the next successful mint will use.
func (e *Engine) NextID(ctx context.Context) (*uint256.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	return e.nextID(ctx)
}

func (e *Engine) nextID(ctx context.Context) (*uint256.Int, error) {
	if e.cfg.Mode == ModeQueried {
		if e.issuer == nil {
			return nil, errNilIssuer
		}
		supply, err := e.issuer.TotalSupply(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: total supply: %v", ErrIssuerUnavailable, err)
		}
		if supply == nil {
			return uint256.NewInt(0), nil
		}
		return supply.Clone(), nil
	}
	id, err := e.state.MaginkNextID()
	if err != nil {
		return nil, err
	}
	if id == nil {
		return uint256.NewInt(0), nil
	}
	return id, nil
}

// IsAlreadyMinted reports whether account already received its Wizard.
func (e *Engine) IsAlreadyMinted(ctx context.Context, account crypto.Address) (bool, error) {
	if e.state == nil {
		return false, errNilState
	}
	return e.alreadyMinted(ctx, account)
}

// alreadyMinted consults the local flag and, in ModeQueried, the issuer's
// balance for the account.
func (e *Engine) alreadyMinted(ctx context.Context, account crypto.Address) (bool, error) {
	minted, err := e.state.MaginkMinted(account.Array())
	if err != nil {
		return false, err
	}
	if minted || e.cfg.Mode != ModeQueried {
		return minted, nil
	}
	if e.issuer == nil {
		return false, errNilIssuer
	}
	balance, err := e.issuer.BalanceOf(ctx, account)
	if err != nil {
		return false, fmt.Errorf("%w: balance: %v", ErrIssuerUnavailable, err)
	}
	return balance >= 1, nil
}

// TokenImage returns the collection image URL published by the issuer.
func (e *Engine) TokenImage(ctx context.Context) (string, error) {
	if e.issuer == nil {
		return "", errNilIssuer
	}
	image, ok, err := e.issuer.Attribute(ctx, e.collection, ImageAttribute)
	if err != nil {
		return "", fmt.Errorf("%w: attribute: %v", ErrIssuerUnavailable, err)
	}
	if !ok {
		return "", ErrNoMetadata
	}
	return image, nil
}
