package magink

import (
	"fmt"
	"strings"
)

// Profile tracks an account's claim era and badge progress.
type Profile struct {
	// ClaimEra is the number of blocks between claims.
	ClaimEra uint8 `json:"claimEra"`
	// StartBlock is the height at which the current era began.
	StartBlock uint64 `json:"startBlock"`
	// BadgesClaimed counts successful claims since the last start.
	BadgesClaimed uint8 `json:"badgesClaimed"`
	// NftClaimed mirrors the account's minted flag.
	NftClaimed bool `json:"nftClaimed"`
}

// Clone returns a copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// IDMode selects where the coordinator takes the next token id from and
// how it answers "already minted".
type IDMode uint8

const (
	// ModeLocal keeps a local counter and a local per-account flag. The
	// counter only advances inside the same commit that records the
	// minted flag.
	ModeLocal IDMode = iota
	// ModeQueried derives the id from the issuer's total supply and checks
	// idempotency with a balance query. The id is recomputed rather than
	// reserved, so it is only correct while nothing else mints on the
	// issuer between the query and the mint call.
	ModeQueried
)

func (m IDMode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeQueried:
		return "queried"
	default:
		return "unknown"
	}
}

// Valid reports whether the mode is known.
func (m IDMode) Valid() bool {
	return m == ModeLocal || m == ModeQueried
}

// ParseIDMode parses the textual form used in configuration files.
func ParseIDMode(value string) (IDMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "local":
		return ModeLocal, nil
	case "queried", "supply":
		return ModeQueried, nil
	default:
		return ModeLocal, fmt.Errorf("magink: unknown id mode %q", value)
	}
}

// Config bundles the tunable behaviour of the engine.
type Config struct {
	Quota QuotaPolicy
	Mode  IDMode
}

// DefaultConfig returns the production defaults: at least nine badges and a
// locally owned id counter.
func DefaultConfig() Config {
	return Config{Quota: DefaultQuotaPolicy(), Mode: ModeLocal}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if err := c.Quota.Validate(); err != nil {
		return err
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("magink: invalid id mode %d", c.Mode)
	}
	return nil
}
