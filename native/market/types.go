package market

import (
	"fmt"
	"math/big"
)

// Listing captures one asset offered for sale. At most one active listing
// exists per asset at any time; a closed listing stays in state with
// Active=false until a fresh ListNFT overwrites it.
type Listing struct {
	AssetID   uint64
	Seller    [20]byte
	Price     *big.Int
	Active    bool
	CreatedAt int64
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// SanitizeListing validates the supplied listing and returns a cloned
// instance with a non-nil price. The original value is not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	clone := l.Clone()
	if clone.Price.Sign() <= 0 {
		return nil, fmt.Errorf("market: listing price must be positive")
	}
	return clone, nil
}

// Authorization records the latest payment authorization forwarded through
// the market, kept for observability only; the allowance itself lives in
// the token ledger.
type Authorization struct {
	Owner      [20]byte
	Spender    [20]byte
	Value      *big.Int
	Deadline   int64
	RecordedAt int64
}

// Clone returns a deep copy of the authorization record.
func (a *Authorization) Clone() *Authorization {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Value != nil {
		clone.Value = new(big.Int).Set(a.Value)
	} else {
		clone.Value = big.NewInt(0)
	}
	return &clone
}
