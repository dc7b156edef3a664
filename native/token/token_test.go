package token

import (
	"errors"
	"math/big"
	"testing"

	"claimmarket/core/state"
	"claimmarket/crypto"
	"claimmarket/storage"
)

const testChainID = 1337

func newTestLedger(t *testing.T) (*Ledger, *state.Manager) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := NewLedger(manager, testChainID)
	ledger.SetNowFunc(func() int64 { return 1_000 })
	return ledger, manager
}

func newTestKey(t *testing.T) (*crypto.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var addr [20]byte
	copy(addr[:], key.PubKey().Address().Bytes())
	return key, addr
}

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func signPermit(t *testing.T, key *crypto.PrivateKey, owner, spender [20]byte, value *big.Int, nonce uint64, deadline int64) []byte {
	t.Helper()
	digest := PermitDigest(testChainID, owner, spender, value, nonce, deadline)
	sig, err := key.Sign(digest[:])
	if err != nil {
		t.Fatalf("sign permit: %v", err)
	}
	return sig
}

func TestPermitGrantsAllowance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	key, owner := newTestKey(t)
	spender := addr(0xB2)
	value := big.NewInt(50)

	sig := signPermit(t, key, owner, spender, value, 0, 2_000)
	if err := ledger.Permit(owner, spender, value, 2_000, sig); err != nil {
		t.Fatalf("permit: %v", err)
	}
	allowance, err := ledger.Allowance(owner, spender)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Cmp(value) != 0 {
		t.Fatalf("allowance = %s, want %s", allowance, value)
	}
	nonce, err := ledger.Nonce(owner)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 1 {
		t.Fatalf("nonce = %d, want 1", nonce)
	}
}

func TestPermitRejectsReplay(t *testing.T) {
	ledger, _ := newTestLedger(t)
	key, owner := newTestKey(t)
	spender := addr(0xB2)
	value := big.NewInt(50)

	sig := signPermit(t, key, owner, spender, value, 0, 2_000)
	if err := ledger.Permit(owner, spender, value, 2_000, sig); err != nil {
		t.Fatalf("permit: %v", err)
	}
	// The nonce has advanced so the same signature no longer recovers.
	if err := ledger.Permit(owner, spender, value, 2_000, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("replayed permit: got %v, want %v", err, ErrInvalidSignature)
	}
}

func TestPermitRejectsExpiredDeadline(t *testing.T) {
	ledger, _ := newTestLedger(t)
	key, owner := newTestKey(t)
	spender := addr(0xB2)

	sig := signPermit(t, key, owner, spender, big.NewInt(50), 0, 999)
	if err := ledger.Permit(owner, spender, big.NewInt(50), 999, sig); !errors.Is(err, ErrPermitExpired) {
		t.Fatalf("expired permit: got %v, want %v", err, ErrPermitExpired)
	}
}

func TestPermitRejectsWrongSigner(t *testing.T) {
	ledger, _ := newTestLedger(t)
	_, owner := newTestKey(t)
	otherKey, _ := newTestKey(t)
	spender := addr(0xB2)
	value := big.NewInt(50)

	sig := signPermit(t, otherKey, owner, spender, value, 0, 2_000)
	if err := ledger.Permit(owner, spender, value, 2_000, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("foreign signature: got %v, want %v", err, ErrInvalidSignature)
	}
}

func TestPermitRejectsMalformedSignature(t *testing.T) {
	ledger, _ := newTestLedger(t)
	_, owner := newTestKey(t)
	if err := ledger.Permit(owner, addr(0xB2), big.NewInt(1), 2_000, []byte{0x01, 0x02}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("short signature: got %v, want %v", err, ErrInvalidSignature)
	}
}

func TestPermitRejectsTamperedValue(t *testing.T) {
	ledger, _ := newTestLedger(t)
	key, owner := newTestKey(t)
	spender := addr(0xB2)

	sig := signPermit(t, key, owner, spender, big.NewInt(50), 0, 2_000)
	if err := ledger.Permit(owner, spender, big.NewInt(500), 2_000, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered value: got %v, want %v", err, ErrInvalidSignature)
	}
}

func TestMintRequiresAuthority(t *testing.T) {
	ledger, manager := newTestLedger(t)
	authority := addr(0xAA)
	if err := manager.SetTokenAuthority(authority); err != nil {
		t.Fatalf("set authority: %v", err)
	}
	holder := addr(0x11)

	if err := ledger.Mint(addr(0x99), holder, big.NewInt(10)); !errors.Is(err, ErrUnauthorizedMint) {
		t.Fatalf("unauthorized mint: got %v, want %v", err, ErrUnauthorizedMint)
	}
	if err := ledger.Mint(authority, holder, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	balance, err := ledger.BalanceOf(holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balance = %s, want 10", balance)
	}
	supply, err := manager.TokenSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("supply = %s, want 10", supply)
	}
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	ledger, manager := newTestLedger(t)
	authority := addr(0xAA)
	if err := manager.SetTokenAuthority(authority); err != nil {
		t.Fatalf("set authority: %v", err)
	}
	owner := addr(0x11)
	spender := addr(0x22)
	dest := addr(0x33)
	if err := ledger.Mint(authority, owner, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve(owner, spender, big.NewInt(60)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := ledger.TransferFrom(spender, owner, dest, big.NewInt(40)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, err := ledger.Allowance(owner, spender)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if remaining.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("allowance = %s, want 20", remaining)
	}
	balance, err := ledger.BalanceOf(dest)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("dest balance = %s, want 40", balance)
	}

	// The remaining allowance no longer covers another 40.
	if err := ledger.TransferFrom(spender, owner, dest, big.NewInt(40)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("overspend: got %v, want %v", err, ErrInsufficientAllowance)
	}
}

func TestTransferFromOwnerSkipsAllowance(t *testing.T) {
	ledger, manager := newTestLedger(t)
	authority := addr(0xAA)
	if err := manager.SetTokenAuthority(authority); err != nil {
		t.Fatalf("set authority: %v", err)
	}
	owner := addr(0x11)
	dest := addr(0x33)
	if err := ledger.Mint(authority, owner, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom(owner, owner, dest, big.NewInt(100)); err != nil {
		t.Fatalf("owner transferFrom: %v", err)
	}
	balance, err := ledger.BalanceOf(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("owner balance = %s, want 0", balance)
	}
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.Transfer(addr(0x11), addr(0x22), big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overdraft: got %v, want %v", err, ErrInsufficientBalance)
	}
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	ledger, manager := newTestLedger(t)
	authority := addr(0xAA)
	if err := manager.SetTokenAuthority(authority); err != nil {
		t.Fatalf("set authority: %v", err)
	}
	owner := addr(0x11)
	if err := ledger.Mint(authority, owner, big.NewInt(75)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(owner, owner, big.NewInt(75)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	balance, err := ledger.BalanceOf(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("balance = %s, want 75", balance)
	}
}

func TestTransferRejectsNonPositiveAmount(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.Transfer(addr(0x11), addr(0x22), big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v, want %v", err, ErrInvalidAmount)
	}
	if err := ledger.Transfer(addr(0x11), addr(0x22), big.NewInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v, want %v", err, ErrInvalidAmount)
	}
}
