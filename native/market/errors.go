package market

import "errors"

var (
	// ErrAlreadyClaimed rejects a discounted claim by a principal that has
	// already redeemed one, regardless of asset.
	ErrAlreadyClaimed = errors.New("market: already claimed")
	// ErrInvalidProof rejects a claim whose membership proof does not
	// verify against the current whitelist root.
	ErrInvalidProof = errors.New("market: invalid proof")
	// ErrNotListed rejects operations on an asset without an active listing.
	ErrNotListed = errors.New("market: not listed")
	// ErrAlreadyListed rejects a second listing for an asset that already
	// has an active one.
	ErrAlreadyListed = errors.New("market: already listed")
	// ErrStaleOwnership rejects a sale whose recorded seller no longer owns
	// the asset, or whose asset transfer fails at settlement time.
	ErrStaleOwnership = errors.New("market: stale ownership")
	// ErrInsufficientAuthorization rejects a sale not covered by the
	// buyer's token allowance.
	ErrInsufficientAuthorization = errors.New("market: insufficient authorization")
	// ErrUnauthorized rejects callers lacking permission for an operation.
	ErrUnauthorized = errors.New("market: unauthorized")
	// ErrInvalidPrice rejects listings without a positive price.
	ErrInvalidPrice = errors.New("market: invalid price")
	// ErrNotApproved rejects a listing when the seller has not granted the
	// market transfer rights over the asset.
	ErrNotApproved = errors.New("market: transfer approval missing")
)
