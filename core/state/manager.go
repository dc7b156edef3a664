package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"claimmarket/native/market"
	"claimmarket/storage"
)

// Manager persists every market, token and registry record as an RLP value
// under a keccak-hashed prefixed key. All writes pass through an undo
// journal so callers can bracket an operation with Snapshot and
// RevertToSnapshot; reverting restores each touched key to its prior value
// in reverse write order.
type Manager struct {
	db      storage.Database
	journal []journalEntry
}

type journalEntry struct {
	key     []byte
	prev    []byte
	existed bool
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Snapshot marks the current journal position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write made after the given snapshot.
func (m *Manager) RevertToSnapshot(snap int) {
	if snap < 0 || snap > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= snap; i-- {
		entry := m.journal[i]
		if entry.existed {
			_ = m.db.Put(entry.key, entry.prev)
		} else {
			_ = m.db.Delete(entry.key)
		}
	}
	m.journal = m.journal[:snap]
}

func (m *Manager) put(key, value []byte) error {
	prev, err := m.db.Get(key)
	existed := true
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		existed = false
		prev = nil
	}
	if err := m.db.Put(key, value); err != nil {
		return err
	}
	m.journal = append(m.journal, journalEntry{key: append([]byte(nil), key...), prev: prev, existed: existed})
	return nil
}

func (m *Manager) delete(key []byte) error {
	prev, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := m.db.Delete(key); err != nil {
		return err
	}
	m.journal = append(m.journal, journalEntry{key: append([]byte(nil), key...), prev: prev, existed: true})
	return nil
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	value, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func assetIDBytes(assetID uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, assetID)
	return buf
}

func (m *Manager) putAddress(key []byte, addr [20]byte) error {
	return m.put(key, addr[:])
}

func (m *Manager) getAddress(key []byte) ([20]byte, bool, error) {
	var addr [20]byte
	value, ok, err := m.get(key)
	if err != nil || !ok {
		return addr, false, err
	}
	if len(value) != 20 {
		return addr, false, fmt.Errorf("state: malformed address record")
	}
	copy(addr[:], value)
	return addr, true, nil
}

func (m *Manager) putBigInt(key []byte, v *big.Int) error {
	amount := v
	if amount == nil {
		amount = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.put(key, encoded)
}

func (m *Manager) getBigInt(key []byte) (*big.Int, error) {
	value, ok, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	out := new(big.Int)
	if err := rlp.DecodeBytes(value, out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- Market records ---

type storedRoot struct {
	Root    [32]byte
	Version uint64
}

type storedListing struct {
	AssetID   uint64
	Seller    [20]byte
	Price     *big.Int
	Active    bool
	CreatedAt *big.Int
}

type storedAuthorization struct {
	Owner      [20]byte
	Spender    [20]byte
	Value      *big.Int
	Deadline   *big.Int
	RecordedAt *big.Int
}

// MarketController returns the principal allowed to rotate the whitelist
// root.
func (m *Manager) MarketController() ([20]byte, bool, error) {
	return m.getAddress(marketControllerKey)
}

// SetMarketController configures the controller principal, normally once at
// genesis.
func (m *Manager) SetMarketController(addr [20]byte) error {
	return m.putAddress(marketControllerKey, addr)
}

// MarketRoot returns the current whitelist root and its rotation version.
// An unset root reads as the zero hash at version zero.
func (m *Manager) MarketRoot() ([32]byte, uint64, error) {
	value, ok, err := m.get(marketRootKey)
	if err != nil || !ok {
		return [32]byte{}, 0, err
	}
	var stored storedRoot
	if err := rlp.DecodeBytes(value, &stored); err != nil {
		return [32]byte{}, 0, err
	}
	return stored.Root, stored.Version, nil
}

// MarketPutRoot stores a new whitelist root under the given version.
func (m *Manager) MarketPutRoot(root [32]byte, version uint64) error {
	encoded, err := rlp.EncodeToBytes(&storedRoot{Root: root, Version: version})
	if err != nil {
		return err
	}
	return m.put(marketRootKey, encoded)
}

// ListingGet loads the stored listing for an asset.
func (m *Manager) ListingGet(assetID uint64) (*market.Listing, bool, error) {
	key := prefixedKey(marketListingPrefix, assetIDBytes(assetID))
	value, ok, err := m.get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedListing
	if err := rlp.DecodeBytes(value, &stored); err != nil {
		return nil, false, err
	}
	listing := &market.Listing{
		AssetID: stored.AssetID,
		Seller:  stored.Seller,
		Price:   stored.Price,
		Active:  stored.Active,
	}
	if stored.CreatedAt != nil {
		listing.CreatedAt = stored.CreatedAt.Int64()
	}
	return listing, true, nil
}

// ListingPut persists a listing after sanitising it.
func (m *Manager) ListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	stored := &storedListing{
		AssetID:   sanitized.AssetID,
		Seller:    sanitized.Seller,
		Price:     sanitized.Price,
		Active:    sanitized.Active,
		CreatedAt: big.NewInt(sanitized.CreatedAt),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.put(prefixedKey(marketListingPrefix, assetIDBytes(sanitized.AssetID)), encoded)
}

// Claimed reports whether a principal has redeemed its discounted claim.
func (m *Manager) Claimed(addr [20]byte) (bool, error) {
	_, ok, err := m.get(prefixedKey(marketClaimedPrefix, addr[:]))
	return ok, err
}

// SetClaimed marks a principal's lifetime claim as used. The flag is never
// reset.
func (m *Manager) SetClaimed(addr [20]byte) error {
	return m.put(prefixedKey(marketClaimedPrefix, addr[:]), []byte{1})
}

// AuthorizationGet loads the latest recorded payment authorization for an
// owner.
func (m *Manager) AuthorizationGet(owner [20]byte) (*market.Authorization, bool, error) {
	value, ok, err := m.get(prefixedKey(marketAuthPrefix, owner[:]))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedAuthorization
	if err := rlp.DecodeBytes(value, &stored); err != nil {
		return nil, false, err
	}
	auth := &market.Authorization{
		Owner:   stored.Owner,
		Spender: stored.Spender,
		Value:   stored.Value,
	}
	if stored.Deadline != nil {
		auth.Deadline = stored.Deadline.Int64()
	}
	if stored.RecordedAt != nil {
		auth.RecordedAt = stored.RecordedAt.Int64()
	}
	return auth, true, nil
}

// AuthorizationPut persists the latest authorization record for its owner.
func (m *Manager) AuthorizationPut(a *market.Authorization) error {
	if a == nil {
		return fmt.Errorf("state: nil authorization")
	}
	clone := a.Clone()
	stored := &storedAuthorization{
		Owner:      clone.Owner,
		Spender:    clone.Spender,
		Value:      clone.Value,
		Deadline:   big.NewInt(clone.Deadline),
		RecordedAt: big.NewInt(clone.RecordedAt),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.put(prefixedKey(marketAuthPrefix, clone.Owner[:]), encoded)
}

// --- Token records ---

// TokenBalance returns the fungible balance of an account, zero when unset.
func (m *Manager) TokenBalance(addr [20]byte) (*big.Int, error) {
	return m.getBigInt(prefixedKey(tokenBalancePrefix, addr[:]))
}

// TokenSetBalance stores the fungible balance of an account.
func (m *Manager) TokenSetBalance(addr [20]byte, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance")
	}
	return m.putBigInt(prefixedKey(tokenBalancePrefix, addr[:]), amount)
}

// TokenAllowance returns the remaining allowance from owner to spender.
func (m *Manager) TokenAllowance(owner, spender [20]byte) (*big.Int, error) {
	return m.getBigInt(prefixedKey(tokenAllowPrefix, owner[:], spender[:]))
}

// TokenSetAllowance stores the allowance from owner to spender.
func (m *Manager) TokenSetAllowance(owner, spender [20]byte, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return fmt.Errorf("state: negative allowance")
	}
	return m.putBigInt(prefixedKey(tokenAllowPrefix, owner[:], spender[:]), amount)
}

// TokenNonce returns the next permit nonce for an owner.
func (m *Manager) TokenNonce(owner [20]byte) (uint64, error) {
	value, ok, err := m.get(prefixedKey(tokenNoncePrefix, owner[:]))
	if err != nil || !ok {
		return 0, err
	}
	var nonce uint64
	if err := rlp.DecodeBytes(value, &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// TokenSetNonce stores the next permit nonce for an owner.
func (m *Manager) TokenSetNonce(owner [20]byte, nonce uint64) error {
	encoded, err := rlp.EncodeToBytes(nonce)
	if err != nil {
		return err
	}
	return m.put(prefixedKey(tokenNoncePrefix, owner[:]), encoded)
}

// TokenSupply returns the total minted supply.
func (m *Manager) TokenSupply() (*big.Int, error) {
	return m.getBigInt(tokenSupplyKey)
}

// TokenSetSupply stores the total minted supply.
func (m *Manager) TokenSetSupply(amount *big.Int) error {
	return m.putBigInt(tokenSupplyKey, amount)
}

// TokenAuthority returns the principal allowed to mint payment tokens.
func (m *Manager) TokenAuthority() ([20]byte, bool, error) {
	return m.getAddress(tokenAuthorityKey)
}

// SetTokenAuthority configures the token mint authority.
func (m *Manager) SetTokenAuthority(addr [20]byte) error {
	return m.putAddress(tokenAuthorityKey, addr)
}

// --- Registry records ---

// AssetOwner returns the owner of an asset, if minted.
func (m *Manager) AssetOwner(assetID uint64) ([20]byte, bool, error) {
	return m.getAddress(prefixedKey(assetOwnerPrefix, assetIDBytes(assetID)))
}

// AssetSetOwner stores the owner of an asset.
func (m *Manager) AssetSetOwner(assetID uint64, owner [20]byte) error {
	return m.putAddress(prefixedKey(assetOwnerPrefix, assetIDBytes(assetID)), owner)
}

// AssetApproval returns the single-asset transfer approval, if any.
func (m *Manager) AssetApproval(assetID uint64) ([20]byte, bool, error) {
	return m.getAddress(prefixedKey(assetApprovalPrefix, assetIDBytes(assetID)))
}

// AssetSetApproval stores a single-asset transfer approval.
func (m *Manager) AssetSetApproval(assetID uint64, approved [20]byte) error {
	return m.putAddress(prefixedKey(assetApprovalPrefix, assetIDBytes(assetID)), approved)
}

// AssetClearApproval removes the single-asset approval.
func (m *Manager) AssetClearApproval(assetID uint64) error {
	return m.delete(prefixedKey(assetApprovalPrefix, assetIDBytes(assetID)))
}

// AssetOperator reports whether operator may move every asset of owner.
func (m *Manager) AssetOperator(owner, operator [20]byte) (bool, error) {
	value, ok, err := m.get(prefixedKey(assetOperatorPrefix, owner[:], operator[:]))
	if err != nil || !ok {
		return false, err
	}
	var approved bool
	if err := rlp.DecodeBytes(value, &approved); err != nil {
		return false, err
	}
	return approved, nil
}

// AssetSetOperator grants or revokes operator rights.
func (m *Manager) AssetSetOperator(owner, operator [20]byte, approved bool) error {
	key := prefixedKey(assetOperatorPrefix, owner[:], operator[:])
	if !approved {
		return m.delete(key)
	}
	encoded, err := rlp.EncodeToBytes(approved)
	if err != nil {
		return err
	}
	return m.put(key, encoded)
}

// AssetAuthority returns the principal allowed to mint assets.
func (m *Manager) AssetAuthority() ([20]byte, bool, error) {
	return m.getAddress(assetAuthorityKey)
}

// SetAssetAuthority configures the asset mint authority.
func (m *Manager) SetAssetAuthority(addr [20]byte) error {
	return m.putAddress(assetAuthorityKey, addr)
}
