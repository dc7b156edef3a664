package market

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"claimmarket/core/events"
	"claimmarket/merkle"
)

var (
	errNilState  = errors.New("market engine: state not configured")
	errNilToken  = errors.New("market engine: payment token not configured")
	errNilAssets = errors.New("market engine: asset ledger not configured")
)

// MarketState is the state access required by the engine. Snapshot and
// RevertToSnapshot delimit one entry point: every mutating operation either
// completes fully or leaves no observable trace.
type MarketState interface {
	Snapshot() int
	RevertToSnapshot(int)
	MarketController() ([20]byte, bool, error)
	MarketRoot() (root [32]byte, version uint64, err error)
	MarketPutRoot(root [32]byte, version uint64) error
	ListingGet(assetID uint64) (*Listing, bool, error)
	ListingPut(*Listing) error
	Claimed(addr [20]byte) (bool, error)
	SetClaimed(addr [20]byte) error
	AuthorizationGet(owner [20]byte) (*Authorization, bool, error)
	AuthorizationPut(*Authorization) error
}

// PaymentToken is the fungible-asset surface the engine settles against.
// The caller argument names the principal on whose authority the transfer
// draws; for market settlements that is the market's own address.
type PaymentToken interface {
	Permit(owner, spender [20]byte, value *big.Int, deadline int64, sig []byte) error
	Allowance(owner, spender [20]byte) (*big.Int, error)
	TransferFrom(caller, from, to [20]byte, amount *big.Int) error
}

// AssetLedger is the non-fungible ownership surface the engine settles
// against.
type AssetLedger interface {
	OwnerOf(assetID uint64) ([20]byte, error)
	GetApproved(assetID uint64) ([20]byte, bool, error)
	IsApprovedForAll(owner, operator [20]byte) (bool, error)
	TransferFrom(caller, from, to [20]byte, assetID uint64) error
}

// Engine implements the claim/listing state machine. It owns the whitelist
// root, the listings and the one-shot claim record, and settles sales
// through the payment token and the asset ledger.
type Engine struct {
	state   MarketState
	token   PaymentToken
	assets  AssetLedger
	emitter events.Emitter
	self    [20]byte
	nowFn   func() int64
}

// NewEngine creates a market engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine(self [20]byte) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		self:    self,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state MarketState) { e.state = state }

// SetToken configures the payment token the engine settles against.
func (e *Engine) SetToken(token PaymentToken) { e.token = token }

// SetAssets configures the asset ledger the engine settles against.
func (e *Engine) SetAssets(assets AssetLedger) { e.assets = assets }

// Self returns the market's own principal address, the spender sellers and
// buyers grant their approvals to.
func (e *Engine) Self() [20]byte { return e.self }

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	if e.assets == nil {
		return errNilAssets
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// guarded wraps a mutating entry point so a failure reverts every write the
// operation made, leaving zero partial effect.
func (e *Engine) guarded(fn func() error) error {
	snap := e.state.Snapshot()
	if err := fn(); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// SetWhitelistRoot replaces the whitelist root unconditionally. Only the
// configured controller may rotate the root; the change takes effect for
// every subsequent operation immediately.
func (e *Engine) SetWhitelistRoot(caller [20]byte, newRoot [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.guarded(func() error {
		controller, ok, err := e.state.MarketController()
		if err != nil {
			return err
		}
		if !ok || caller != controller {
			return fmt.Errorf("%w: caller is not the controller", ErrUnauthorized)
		}
		_, version, err := e.state.MarketRoot()
		if err != nil {
			return err
		}
		version++
		if err := e.state.MarketPutRoot(newRoot, version); err != nil {
			return err
		}
		e.emit(events.RootUpdated{Controller: caller, Root: newRoot, Version: version})
		return nil
	})
}

// WhitelistRoot returns the current root and its rotation version.
func (e *Engine) WhitelistRoot() ([32]byte, uint64, error) {
	if e == nil || e.state == nil {
		return [32]byte{}, 0, errNilState
	}
	return e.state.MarketRoot()
}

// ListNFT creates an active listing for an asset the caller owns and has
// approved the market to transfer.
func (e *Engine) ListNFT(caller [20]byte, assetID uint64, price *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.guarded(func() error {
		if price == nil || price.Sign() <= 0 {
			return ErrInvalidPrice
		}
		existing, ok, err := e.state.ListingGet(assetID)
		if err != nil {
			return err
		}
		if ok && existing.Active {
			return ErrAlreadyListed
		}
		owner, err := e.assets.OwnerOf(assetID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		if owner != caller {
			return fmt.Errorf("%w: caller does not own asset %d", ErrUnauthorized, assetID)
		}
		if err := e.requireTransferRights(caller, assetID); err != nil {
			return err
		}
		listing := &Listing{
			AssetID:   assetID,
			Seller:    caller,
			Price:     cloneBigInt(price),
			Active:    true,
			CreatedAt: e.now(),
		}
		if err := e.state.ListingPut(listing); err != nil {
			return err
		}
		e.emit(events.Listed{AssetID: assetID, Seller: caller, Price: cloneBigInt(price)})
		return nil
	})
}

func (e *Engine) requireTransferRights(owner [20]byte, assetID uint64) error {
	approved, ok, err := e.assets.GetApproved(assetID)
	if err != nil {
		return err
	}
	if ok && approved == e.self {
		return nil
	}
	operator, err := e.assets.IsApprovedForAll(owner, e.self)
	if err != nil {
		return err
	}
	if !operator {
		return ErrNotApproved
	}
	return nil
}

// DelistNFT deactivates an active listing. Only the recorded seller may
// delist.
func (e *Engine) DelistNFT(caller [20]byte, assetID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.guarded(func() error {
		listing, ok, err := e.state.ListingGet(assetID)
		if err != nil {
			return err
		}
		if !ok || !listing.Active {
			return ErrNotListed
		}
		if listing.Seller != caller {
			return fmt.Errorf("%w: caller is not the seller", ErrUnauthorized)
		}
		listing.Active = false
		if err := e.state.ListingPut(listing); err != nil {
			return err
		}
		e.emit(events.Delisted{AssetID: assetID, Seller: listing.Seller})
		return nil
	})
}

// AuthorizePayment forwards a signature authorization verbatim to the
// payment token and records it for observability. Signature, expiry and
// nonce checks live entirely in the token.
func (e *Engine) AuthorizePayment(owner, spender [20]byte, value *big.Int, deadline int64, sig []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.token == nil {
		return errNilToken
	}
	return e.guarded(func() error {
		if err := e.token.Permit(owner, spender, value, deadline, sig); err != nil {
			return err
		}
		auth := &Authorization{
			Owner:      owner,
			Spender:    spender,
			Value:      cloneBigInt(value),
			Deadline:   deadline,
			RecordedAt: e.now(),
		}
		if err := e.state.AuthorizationPut(auth); err != nil {
			return err
		}
		e.emit(events.AuthorizationRecorded{
			Owner:    owner,
			Spender:  spender,
			Value:    cloneBigInt(value),
			Deadline: deadline,
		})
		return nil
	})
}

// VerifyWhitelist reports whether a proof admits the principal under the
// current root. It never mutates state.
func (e *Engine) VerifyWhitelist(principal [20]byte, proof [][32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	root, _, err := e.state.MarketRoot()
	if err != nil {
		return false, err
	}
	return merkle.Verify(proof, root, merkle.LeafForAddress(principal)), nil
}

// ClaimNFT redeems an active listing at the discounted price for a
// whitelisted caller. The claim record and the listing close before either
// external transfer runs, so a reentrant call can never observe a
// still-claimable listing; any failure reverts the whole operation.
func (e *Engine) ClaimNFT(caller [20]byte, assetID uint64, proof [][32]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.guarded(func() error {
		claimed, err := e.state.Claimed(caller)
		if err != nil {
			return err
		}
		if claimed {
			return ErrAlreadyClaimed
		}
		eligible, err := e.VerifyWhitelist(caller, proof)
		if err != nil {
			return err
		}
		if !eligible {
			return ErrInvalidProof
		}
		listing, err := e.activeListing(assetID)
		if err != nil {
			return err
		}
		if err := e.requireCurrentOwner(listing); err != nil {
			return err
		}
		discounted := discountedPrice(listing.Price)
		if err := e.requireAllowance(caller, discounted); err != nil {
			return err
		}
		if err := e.state.SetClaimed(caller); err != nil {
			return err
		}
		listing.Active = false
		if err := e.state.ListingPut(listing); err != nil {
			return err
		}
		// Truncating division can bring a price-1 listing to zero; the
		// claim still settles, just with nothing to move.
		if discounted.Sign() > 0 {
			if err := e.token.TransferFrom(e.self, caller, listing.Seller, discounted); err != nil {
				return err
			}
		}
		if err := e.assets.TransferFrom(e.self, listing.Seller, caller, assetID); err != nil {
			return fmt.Errorf("%w: %v", ErrStaleOwnership, err)
		}
		e.emit(events.Claimed{AssetID: assetID, Buyer: caller, Seller: listing.Seller, Paid: discounted})
		e.emit(events.Sold{AssetID: assetID, Buyer: caller, Seller: listing.Seller, Price: discounted})
		return nil
	})
}

// BuyNFT purchases an active listing at full price. The path is open to any
// principal and never touches the claim record.
func (e *Engine) BuyNFT(caller [20]byte, assetID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.guarded(func() error {
		listing, err := e.activeListing(assetID)
		if err != nil {
			return err
		}
		if err := e.requireCurrentOwner(listing); err != nil {
			return err
		}
		price := cloneBigInt(listing.Price)
		if err := e.requireAllowance(caller, price); err != nil {
			return err
		}
		listing.Active = false
		if err := e.state.ListingPut(listing); err != nil {
			return err
		}
		if err := e.token.TransferFrom(e.self, caller, listing.Seller, price); err != nil {
			return err
		}
		if err := e.assets.TransferFrom(e.self, listing.Seller, caller, assetID); err != nil {
			return fmt.Errorf("%w: %v", ErrStaleOwnership, err)
		}
		e.emit(events.Sold{AssetID: assetID, Buyer: caller, Seller: listing.Seller, Price: price})
		return nil
	})
}

func (e *Engine) activeListing(assetID uint64) (*Listing, error) {
	listing, ok, err := e.state.ListingGet(assetID)
	if err != nil {
		return nil, err
	}
	if !ok || !listing.Active {
		return nil, ErrNotListed
	}
	return listing, nil
}

func (e *Engine) requireCurrentOwner(listing *Listing) error {
	owner, err := e.assets.OwnerOf(listing.AssetID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleOwnership, err)
	}
	if owner != listing.Seller {
		return ErrStaleOwnership
	}
	return nil
}

func (e *Engine) requireAllowance(buyer [20]byte, amount *big.Int) error {
	allowance, err := e.token.Allowance(buyer, e.self)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAuthorization
	}
	return nil
}

func discountedPrice(price *big.Int) *big.Int {
	return new(big.Int).Quo(cloneBigInt(price), big.NewInt(2))
}

// GetDiscountedPrice mirrors the pricing rule inside ClaimNFT so buyers can
// size an authorization signature before submitting.
func (e *Engine) GetDiscountedPrice(assetID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, err := e.activeListing(assetID)
	if err != nil {
		return nil, err
	}
	return discountedPrice(listing.Price), nil
}

// GetListing returns the stored listing for an asset, active or not.
func (e *Engine) GetListing(assetID uint64) (*Listing, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	return e.state.ListingGet(assetID)
}

// HasUserClaimed reports whether a principal has already redeemed its
// lifetime discounted claim.
func (e *Engine) HasUserClaimed(principal [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.Claimed(principal)
}

// GetAuthorization returns the latest recorded payment authorization for an
// owner, if any.
func (e *Engine) GetAuthorization(owner [20]byte) (*Authorization, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	return e.state.AuthorizationGet(owner)
}
