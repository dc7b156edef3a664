package token

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PermitDomainV1 is the domain separator mixed into every permit digest.
const PermitDomainV1 = "CLAIMMARKET_PERMIT_V1"

var (
	ErrNilState              = errors.New("token: state not configured")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrPermitExpired         = errors.New("token: permit expired")
	ErrInvalidSignature      = errors.New("token: invalid permit signature")
	ErrUnauthorizedMint      = errors.New("token: unauthorized mint")
)

// State is the persistence surface the ledger runs on.
type State interface {
	Snapshot() int
	RevertToSnapshot(int)
	TokenBalance(addr [20]byte) (*big.Int, error)
	TokenSetBalance(addr [20]byte, amount *big.Int) error
	TokenAllowance(owner, spender [20]byte) (*big.Int, error)
	TokenSetAllowance(owner, spender [20]byte, amount *big.Int) error
	TokenNonce(owner [20]byte) (uint64, error)
	TokenSetNonce(owner [20]byte, nonce uint64) error
	TokenSupply() (*big.Int, error)
	TokenSetSupply(*big.Int) error
	TokenAuthority() ([20]byte, bool, error)
}

// Ledger is the fungible payment asset: balances, allowances and the
// signature-based allowance primitive the discounted claim path relies on.
type Ledger struct {
	state   State
	chainID uint64
	nowFn   func() int64
}

// NewLedger creates a ledger bound to a chain identifier; the identifier is
// part of every permit digest so signatures cannot travel across networks.
func NewLedger(state State, chainID uint64) *Ledger {
	return &Ledger{
		state:   state,
		chainID: chainID,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used for permit expiry, primarily
// for deterministic tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (l *Ledger) guarded(fn func() error) error {
	snap := l.state.Snapshot()
	if err := fn(); err != nil {
		l.state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// PermitDigest reconstructs the canonical message an owner signs to grant a
// spender an allowance. Exported so off-chain clients can produce the
// signature the ledger expects.
func PermitDigest(chainID uint64, owner, spender [20]byte, value *big.Int, nonce uint64, deadline int64) [32]byte {
	amount := "0"
	if value != nil {
		amount = value.String()
	}
	payload := fmt.Sprintf("%s|chain=%d|owner=%s|spender=%s|value=%s|nonce=%d|deadline=%d",
		PermitDomainV1,
		chainID,
		hex.EncodeToString(owner[:]),
		hex.EncodeToString(spender[:]),
		amount,
		nonce,
		deadline,
	)
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256([]byte(payload)))
	return digest
}

// Permit consumes a 65-byte [R || S || V] signature over the current owner
// nonce and, when valid and unexpired, sets the spender allowance to value
// and bumps the nonce.
func (l *Ledger) Permit(owner, spender [20]byte, value *big.Int, deadline int64, sig []byte) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return l.guarded(func() error {
		if deadline < l.now() {
			return ErrPermitExpired
		}
		if len(sig) != 65 {
			return ErrInvalidSignature
		}
		nonce, err := l.state.TokenNonce(owner)
		if err != nil {
			return err
		}
		digest := PermitDigest(l.chainID, owner, spender, value, nonce, deadline)
		pubKey, err := ethcrypto.SigToPub(digest[:], sig)
		if err != nil {
			return ErrInvalidSignature
		}
		recovered := ethcrypto.PubkeyToAddress(*pubKey)
		if recovered != ethcommon.BytesToAddress(owner[:]) {
			return ErrInvalidSignature
		}
		if err := l.state.TokenSetNonce(owner, nonce+1); err != nil {
			return err
		}
		return l.state.TokenSetAllowance(owner, spender, cloneBigInt(value))
	})
}

// Approve sets an allowance directly, the non-signature path.
func (l *Ledger) Approve(owner, spender [20]byte, value *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return l.state.TokenSetAllowance(owner, spender, cloneBigInt(value))
}

// Allowance returns the remaining amount a spender may draw from an owner.
func (l *Ledger) Allowance(owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	return l.state.TokenAllowance(owner, spender)
}

// BalanceOf returns the balance of an account.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	return l.state.TokenBalance(addr)
}

// Nonce returns the next permit nonce for an owner.
func (l *Ledger) Nonce(owner [20]byte) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, ErrNilState
	}
	return l.state.TokenNonce(owner)
}

// ChainID returns the identifier mixed into permit digests.
func (l *Ledger) ChainID() uint64 { return l.chainID }

// Transfer moves funds directly from the caller to another account.
func (l *Ledger) Transfer(caller, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return l.guarded(func() error {
		return l.move(caller, to, amount)
	})
}

// TransferFrom moves funds on the authority of a previously granted
// allowance. The caller spends its own allowance unless it is the owner.
func (l *Ledger) TransferFrom(caller, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return l.guarded(func() error {
		amt := cloneBigInt(amount)
		if amt.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if caller != from {
			allowance, err := l.state.TokenAllowance(from, caller)
			if err != nil {
				return err
			}
			if allowance.Cmp(amt) < 0 {
				return ErrInsufficientAllowance
			}
			remaining := new(big.Int).Sub(allowance, amt)
			if err := l.state.TokenSetAllowance(from, caller, remaining); err != nil {
				return err
			}
		}
		return l.move(from, to, amt)
	})
}

// Mint credits new supply to an account. Only the configured mint authority
// may mint.
func (l *Ledger) Mint(caller, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	return l.guarded(func() error {
		authority, ok, err := l.state.TokenAuthority()
		if err != nil {
			return err
		}
		if !ok || caller != authority {
			return ErrUnauthorizedMint
		}
		amt := cloneBigInt(amount)
		if amt.Sign() <= 0 {
			return ErrInvalidAmount
		}
		balance, err := l.state.TokenBalance(to)
		if err != nil {
			return err
		}
		if err := l.state.TokenSetBalance(to, new(big.Int).Add(balance, amt)); err != nil {
			return err
		}
		supply, err := l.state.TokenSupply()
		if err != nil {
			return err
		}
		return l.state.TokenSetSupply(new(big.Int).Add(supply, amt))
	})
}

func (l *Ledger) move(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := l.state.TokenBalance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	toBalance, err := l.state.TokenBalance(to)
	if err != nil {
		return err
	}
	if err := l.state.TokenSetBalance(from, new(big.Int).Sub(fromBalance, amt)); err != nil {
		return err
	}
	return l.state.TokenSetBalance(to, new(big.Int).Add(toBalance, amt))
}
