package events

import (
	"encoding/hex"
	"math/big"

	"claimmarket/core/types"
	"claimmarket/crypto"
)

const (
	TypeRootUpdated           = "market.root_updated"
	TypeListed                = "market.listed"
	TypeDelisted              = "market.delisted"
	TypeAuthorizationRecorded = "market.authorization_recorded"
	TypeClaimed               = "market.claimed"
	TypeSold                  = "market.sold"
)

// RootUpdated is emitted when the controller rotates the whitelist root.
type RootUpdated struct {
	Controller [20]byte
	Root       [32]byte
	Version    uint64
}

func (RootUpdated) EventType() string { return TypeRootUpdated }

func (e RootUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRootUpdated,
		Attributes: map[string]string{
			"controller": crypto.NewAddress(crypto.CLMPrefix, e.Controller[:]).String(),
			"root":       hex.EncodeToString(e.Root[:]),
			"version":    uintToString(e.Version),
		},
	}
}

// Listed is emitted when a seller puts an asset up for sale.
type Listed struct {
	AssetID uint64
	Seller  [20]byte
	Price   *big.Int
}

func (Listed) EventType() string { return TypeListed }

func (e Listed) Event() *types.Event {
	return &types.Event{
		Type: TypeListed,
		Attributes: map[string]string{
			"assetId": uintToString(e.AssetID),
			"seller":  crypto.NewAddress(crypto.CLMPrefix, e.Seller[:]).String(),
			"price":   formatAmount(e.Price),
		},
	}
}

// Delisted is emitted when a seller withdraws an active listing.
type Delisted struct {
	AssetID uint64
	Seller  [20]byte
}

func (Delisted) EventType() string { return TypeDelisted }

func (e Delisted) Event() *types.Event {
	return &types.Event{
		Type: TypeDelisted,
		Attributes: map[string]string{
			"assetId": uintToString(e.AssetID),
			"seller":  crypto.NewAddress(crypto.CLMPrefix, e.Seller[:]).String(),
		},
	}
}

// AuthorizationRecorded is emitted after a payment authorization has been
// forwarded to the token and accepted.
type AuthorizationRecorded struct {
	Owner    [20]byte
	Spender  [20]byte
	Value    *big.Int
	Deadline int64
}

func (AuthorizationRecorded) EventType() string { return TypeAuthorizationRecorded }

func (e AuthorizationRecorded) Event() *types.Event {
	return &types.Event{
		Type: TypeAuthorizationRecorded,
		Attributes: map[string]string{
			"owner":    crypto.NewAddress(crypto.CLMPrefix, e.Owner[:]).String(),
			"spender":  crypto.NewAddress(crypto.CLMPrefix, e.Spender[:]).String(),
			"value":    formatAmount(e.Value),
			"deadline": intToString(e.Deadline),
		},
	}
}

// Claimed is emitted when a whitelisted buyer redeems the discounted path.
type Claimed struct {
	AssetID uint64
	Buyer   [20]byte
	Seller  [20]byte
	Paid    *big.Int
}

func (Claimed) EventType() string { return TypeClaimed }

func (e Claimed) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimed,
		Attributes: map[string]string{
			"assetId": uintToString(e.AssetID),
			"buyer":   crypto.NewAddress(crypto.CLMPrefix, e.Buyer[:]).String(),
			"seller":  crypto.NewAddress(crypto.CLMPrefix, e.Seller[:]).String(),
			"paid":    formatAmount(e.Paid),
		},
	}
}

// Sold is emitted whenever a listing closes through a sale, discounted or
// full price.
type Sold struct {
	AssetID uint64
	Buyer   [20]byte
	Seller  [20]byte
	Price   *big.Int
}

func (Sold) EventType() string { return TypeSold }

func (e Sold) Event() *types.Event {
	return &types.Event{
		Type: TypeSold,
		Attributes: map[string]string{
			"assetId": uintToString(e.AssetID),
			"buyer":   crypto.NewAddress(crypto.CLMPrefix, e.Buyer[:]).String(),
			"seller":  crypto.NewAddress(crypto.CLMPrefix, e.Seller[:]).String(),
			"price":   formatAmount(e.Price),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string {
	return big.NewInt(v).String()
}

func uintToString(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}
