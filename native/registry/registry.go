package registry

import (
	"errors"
	"fmt"
)

var (
	ErrNilState         = errors.New("registry: state not configured")
	ErrUnknownAsset     = errors.New("registry: unknown asset")
	ErrAssetExists      = errors.New("registry: asset already minted")
	ErrUnauthorized     = errors.New("registry: unauthorized")
	ErrWrongOwner       = errors.New("registry: from is not the owner")
	ErrUnauthorizedMint = errors.New("registry: unauthorized mint")
)

// State is the persistence surface the asset ledger runs on.
type State interface {
	Snapshot() int
	RevertToSnapshot(int)
	AssetOwner(assetID uint64) ([20]byte, bool, error)
	AssetSetOwner(assetID uint64, owner [20]byte) error
	AssetApproval(assetID uint64) ([20]byte, bool, error)
	AssetSetApproval(assetID uint64, approved [20]byte) error
	AssetClearApproval(assetID uint64) error
	AssetOperator(owner, operator [20]byte) (bool, error)
	AssetSetOperator(owner, operator [20]byte, approved bool) error
	AssetAuthority() ([20]byte, bool, error)
}

// Ledger tracks ownership and transfer approvals of unique assets.
type Ledger struct {
	state State
}

// NewLedger creates an asset ledger over the given state backend.
func NewLedger(state State) *Ledger {
	return &Ledger{state: state}
}

func (l *Ledger) guarded(fn func() error) error {
	snap := l.state.Snapshot()
	if err := fn(); err != nil {
		l.state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// Mint assigns a fresh asset to an owner. Only the configured mint
// authority may mint.
func (l *Ledger) Mint(caller, to [20]byte, assetID uint64) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return l.guarded(func() error {
		authority, ok, err := l.state.AssetAuthority()
		if err != nil {
			return err
		}
		if !ok || caller != authority {
			return ErrUnauthorizedMint
		}
		if _, exists, err := l.state.AssetOwner(assetID); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %d", ErrAssetExists, assetID)
		}
		return l.state.AssetSetOwner(assetID, to)
	})
}

// OwnerOf returns the current owner of an asset.
func (l *Ledger) OwnerOf(assetID uint64) ([20]byte, error) {
	if l == nil || l.state == nil {
		return [20]byte{}, ErrNilState
	}
	owner, ok, err := l.state.AssetOwner(assetID)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, fmt.Errorf("%w: %d", ErrUnknownAsset, assetID)
	}
	return owner, nil
}

// Approve grants one principal transfer rights over a single asset. The
// caller must be the owner or an operator of the owner.
func (l *Ledger) Approve(caller, approved [20]byte, assetID uint64) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return l.guarded(func() error {
		owner, err := l.OwnerOf(assetID)
		if err != nil {
			return err
		}
		if err := l.requireOwnerOrOperator(caller, owner); err != nil {
			return err
		}
		return l.state.AssetSetApproval(assetID, approved)
	})
}

// GetApproved returns the single-asset approval, if any.
func (l *Ledger) GetApproved(assetID uint64) ([20]byte, bool, error) {
	if l == nil || l.state == nil {
		return [20]byte{}, false, ErrNilState
	}
	return l.state.AssetApproval(assetID)
}

// SetApprovalForAll grants or revokes operator rights over every asset the
// caller owns now or later.
func (l *Ledger) SetApprovalForAll(caller, operator [20]byte, approved bool) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return l.state.AssetSetOperator(caller, operator, approved)
}

// IsApprovedForAll reports whether operator may move every asset of owner.
func (l *Ledger) IsApprovedForAll(owner, operator [20]byte) (bool, error) {
	if l == nil || l.state == nil {
		return false, ErrNilState
	}
	return l.state.AssetOperator(owner, operator)
}

// TransferFrom moves an asset between principals. The caller must be the
// owner, the approved principal for the asset, or an operator of the owner.
// Any single-asset approval is cleared by the transfer.
func (l *Ledger) TransferFrom(caller, from, to [20]byte, assetID uint64) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return l.guarded(func() error {
		owner, err := l.OwnerOf(assetID)
		if err != nil {
			return err
		}
		if owner != from {
			return ErrWrongOwner
		}
		if err := l.requireTransferRights(caller, owner, assetID); err != nil {
			return err
		}
		if err := l.state.AssetClearApproval(assetID); err != nil {
			return err
		}
		return l.state.AssetSetOwner(assetID, to)
	})
}

func (l *Ledger) requireOwnerOrOperator(caller, owner [20]byte) error {
	if caller == owner {
		return nil
	}
	operator, err := l.state.AssetOperator(owner, caller)
	if err != nil {
		return err
	}
	if !operator {
		return ErrUnauthorized
	}
	return nil
}

func (l *Ledger) requireTransferRights(caller, owner [20]byte, assetID uint64) error {
	if caller == owner {
		return nil
	}
	approved, ok, err := l.state.AssetApproval(assetID)
	if err != nil {
		return err
	}
	if ok && approved == caller {
		return nil
	}
	operator, err := l.state.AssetOperator(owner, caller)
	if err != nil {
		return err
	}
	if !operator {
		return ErrUnauthorized
	}
	return nil
}
