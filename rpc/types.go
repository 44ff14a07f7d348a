package rpc

import (
	"magink/crypto"
	"magink/native/magink"
)

// ProfileResult is the JSON form of an account profile.
type ProfileResult struct {
	Account       string `json:"account"`
	ClaimEra      uint8  `json:"claimEra"`
	StartBlock    uint64 `json:"startBlock"`
	BadgesClaimed uint8  `json:"badgesClaimed"`
	NftClaimed    bool   `json:"nftClaimed"`
}

// MintResult reports the id assigned by magink_mintWizard.
type MintResult struct {
	TokenID string `json:"tokenId"`
	DryRun  bool   `json:"dryRun,omitempty"`
}

func profileResult(account crypto.Address, profile *magink.Profile) *ProfileResult {
	if profile == nil {
		return nil
	}
	return &ProfileResult{
		Account:       account.String(),
		ClaimEra:      profile.ClaimEra,
		StartBlock:    profile.StartBlock,
		BadgesClaimed: profile.BadgesClaimed,
		NftClaimed:    profile.NftClaimed,
	}
}
