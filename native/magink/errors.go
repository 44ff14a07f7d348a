package magink

import "errors"

var (
	ErrTooEarlyToClaim   = errors.New("magink: too early to claim")
	ErrUserNotFound      = errors.New("magink: user not found")
	ErrNotEnoughBadges   = errors.New("magink: not enough badges")
	ErrNftAlreadyClaimed = errors.New("magink: nft already claimed")
	ErrMintError         = errors.New("magink: mint error")

	// ErrNoMetadata is returned by TokenImage when the issuer has no image
	// attribute for the collection.
	ErrNoMetadata = errors.New("magink: no metadata")

	// The errors below abort the operation. They are not part of the
	// caller-facing taxonomy.
	ErrBadgeOverflow     = errors.New("magink: badge counter overflow")
	ErrIssuanceAborted   = errors.New("magink: issuance call aborted")
	ErrIssuerUnavailable = errors.New("magink: issuer query failed")

	errNilState  = errors.New("magink: state not configured")
	errNilIssuer = errors.New("magink: issuer not configured")
)

var domainErrors = []struct {
	err  error
	name string
}{
	{ErrTooEarlyToClaim, "TooEarlyToClaim"},
	{ErrUserNotFound, "UserNotFound"},
	{ErrNotEnoughBadges, "NotEnoughBadges"},
	{ErrNftAlreadyClaimed, "NftAlreadyClaimed"},
	{ErrMintError, "MintError"},
}

// IsDomainError reports whether err belongs to the caller-facing taxonomy.
// Operations failing with such an error leave state consistent and are
// committed; anything else aborts.
func IsDomainError(err error) bool {
	return ErrorName(err) != ""
}

// ErrorName returns the taxonomy name of err, or "" when err is not a
// domain error.
func ErrorName(err error) string {
	if err == nil {
		return ""
	}
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.name
		}
	}
	return ""
}
