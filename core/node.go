package core

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"claimmarket/core/batch"
	"claimmarket/core/events"
	"claimmarket/core/state"
	"claimmarket/crypto"
	"claimmarket/native/market"
	"claimmarket/native/registry"
	"claimmarket/native/token"
	"claimmarket/storage"
)

// Config carries the principals and chain parameters the node seeds into
// state on first start.
type Config struct {
	ChainID        uint64
	Controller     [20]byte
	TokenAuthority [20]byte
	AssetAuthority [20]byte
}

// Node owns the storage, the state manager and the three engines, and
// serializes every mutating operation behind one mutex: each entry point
// runs fully to completion or reverts, with no interleaving.
type Node struct {
	mu sync.Mutex

	db        storage.Database
	state     *state.Manager
	market    *market.Engine
	token     *token.Ledger
	assets    *registry.Ledger
	processor *batch.Processor
	emitter   *events.Memory
}

// MarketAddress is the market's own principal: the spender buyers authorize
// and the operator sellers approve. It is derived from a fixed tag so every
// deployment agrees on it.
func MarketAddress() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("claimmarket/market"))[12:])
	return addr
}

// NewNode wires a node over the given database, seeding the controller and
// mint authorities when state is fresh.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	manager := state.NewManager(db)

	if _, ok, err := manager.MarketController(); err != nil {
		return nil, err
	} else if !ok {
		if err := manager.SetMarketController(cfg.Controller); err != nil {
			return nil, err
		}
	}
	if _, ok, err := manager.TokenAuthority(); err != nil {
		return nil, err
	} else if !ok {
		if err := manager.SetTokenAuthority(cfg.TokenAuthority); err != nil {
			return nil, err
		}
	}
	if _, ok, err := manager.AssetAuthority(); err != nil {
		return nil, err
	} else if !ok {
		if err := manager.SetAssetAuthority(cfg.AssetAuthority); err != nil {
			return nil, err
		}
	}

	emitter := events.NewMemory()
	ledger := token.NewLedger(manager, cfg.ChainID)
	assets := registry.NewLedger(manager)
	engine := market.NewEngine(MarketAddress())
	engine.SetState(manager)
	engine.SetToken(ledger)
	engine.SetAssets(assets)
	engine.SetEmitter(emitter)

	node := &Node{
		db:        db,
		state:     manager,
		market:    engine,
		token:     ledger,
		assets:    assets,
		processor: batch.NewProcessor(manager),
		emitter:   emitter,
	}
	node.registerBatchHandlers()
	return node, nil
}

// Market returns the market engine, primarily for tests.
func (n *Node) Market() *market.Engine { return n.market }

// Token returns the payment token ledger.
func (n *Node) Token() *token.Ledger { return n.token }

// Assets returns the asset registry ledger.
func (n *Node) Assets() *registry.Ledger { return n.assets }

// Events returns every event emitted so far.
func (n *Node) Events() []events.Event {
	return n.emitter.Events()
}

// --- Market operations ---

func (n *Node) SetWhitelistRoot(caller [20]byte, newRoot [32]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.SetWhitelistRoot(caller, newRoot)
}

func (n *Node) WhitelistRoot() ([32]byte, uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.WhitelistRoot()
}

func (n *Node) ListNFT(caller [20]byte, assetID uint64, price *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.ListNFT(caller, assetID, price)
}

func (n *Node) DelistNFT(caller [20]byte, assetID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.DelistNFT(caller, assetID)
}

func (n *Node) AuthorizePayment(owner, spender [20]byte, value *big.Int, deadline int64, sig []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.AuthorizePayment(owner, spender, value, deadline, sig)
}

func (n *Node) VerifyWhitelist(principal [20]byte, proof [][32]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.VerifyWhitelist(principal, proof)
}

func (n *Node) ClaimNFT(caller [20]byte, assetID uint64, proof [][32]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.ClaimNFT(caller, assetID, proof)
}

func (n *Node) BuyNFT(caller [20]byte, assetID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.BuyNFT(caller, assetID)
}

func (n *Node) GetDiscountedPrice(assetID uint64) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.GetDiscountedPrice(assetID)
}

func (n *Node) GetListing(assetID uint64) (*market.Listing, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.GetListing(assetID)
}

func (n *Node) HasUserClaimed(principal [20]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.HasUserClaimed(principal)
}

func (n *Node) GetAuthorization(owner [20]byte) (*market.Authorization, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.market.GetAuthorization(owner)
}

// --- Batch operations ---

// Multicall runs an atomic batch. A failed batch reverts state through the
// processor and must also drop the events its earlier elements emitted, or
// the served history would report effects that never took.
func (n *Node) Multicall(caller [20]byte, calls []batch.Call) ([][]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	mark := n.emitter.Mark()
	results, err := n.processor.Run(caller, calls)
	if err != nil {
		n.emitter.Rollback(mark)
		return nil, err
	}
	return results, nil
}

func (n *Node) TryMulticall(caller [20]byte, calls []batch.Call) ([]bool, [][]byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.processor.TryRun(caller, calls)
}

func (n *Node) MulticallWithGasLimit(caller [20]byte, calls []batch.Call, gasLimits []uint64) ([][]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	mark := n.emitter.Mark()
	results, err := n.processor.RunWithGasLimit(caller, calls, gasLimits)
	if err != nil {
		n.emitter.Rollback(mark)
		return nil, err
	}
	return results, nil
}

// --- Batch handler wiring ---

type listNFTParams struct {
	AssetID uint64 `json:"assetId"`
	Price   string `json:"price"`
}

type delistNFTParams struct {
	AssetID uint64 `json:"assetId"`
}

type authorizePaymentParams struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Value     string `json:"value"`
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

type claimNFTParams struct {
	AssetID uint64   `json:"assetId"`
	Proof   []string `json:"proof"`
}

type buyNFTParams struct {
	AssetID uint64 `json:"assetId"`
}

type setRootParams struct {
	Root string `json:"root"`
}

var okResult = []byte(`{"ok":true}`)

func decodeParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing params")
	}
	return json.Unmarshal(raw, out)
}

// ParseAmount parses a non-negative decimal token amount.
func ParseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

// ParseHash parses a 32-byte hex hash, with or without 0x prefix.
func ParseHash(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := value
	if len(trimmed) >= 2 && trimmed[0] == '0' && (trimmed[1] == 'x' || trimmed[1] == 'X') {
		trimmed = trimmed[2:]
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid hash: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("hash must be 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// ParseProof parses a hex-encoded sibling path.
func ParseProof(values []string) ([][32]byte, error) {
	proof := make([][32]byte, len(values))
	for i, v := range values {
		node, err := ParseHash(v)
		if err != nil {
			return nil, fmt.Errorf("proof element %d: %w", i, err)
		}
		proof[i] = node
	}
	return proof, nil
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func (n *Node) registerBatchHandlers() {
	n.processor.Register("listNFT", func(caller [20]byte, raw json.RawMessage) ([]byte, error) {
		var params listNFTParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		price, err := ParseAmount(params.Price)
		if err != nil {
			return nil, err
		}
		if err := n.market.ListNFT(caller, params.AssetID, price); err != nil {
			return nil, err
		}
		return okResult, nil
	})
	n.processor.Register("delistNFT", func(caller [20]byte, raw json.RawMessage) ([]byte, error) {
		var params delistNFTParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		if err := n.market.DelistNFT(caller, params.AssetID); err != nil {
			return nil, err
		}
		return okResult, nil
	})
	n.processor.Register("authorizePayment", func(caller [20]byte, raw json.RawMessage) ([]byte, error) {
		var params authorizePaymentParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		owner, err := parseAddress(params.Owner)
		if err != nil {
			return nil, fmt.Errorf("owner: %w", err)
		}
		spender, err := parseAddress(params.Spender)
		if err != nil {
			return nil, fmt.Errorf("spender: %w", err)
		}
		value, err := ParseAmount(params.Value)
		if err != nil {
			return nil, err
		}
		sig, err := hex.DecodeString(params.Signature)
		if err != nil {
			return nil, fmt.Errorf("signature: %w", err)
		}
		if err := n.market.AuthorizePayment(owner, spender, value, params.Deadline, sig); err != nil {
			return nil, err
		}
		return okResult, nil
	})
	n.processor.Register("claimNFT", func(caller [20]byte, raw json.RawMessage) ([]byte, error) {
		var params claimNFTParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		proof, err := ParseProof(params.Proof)
		if err != nil {
			return nil, err
		}
		if err := n.market.ClaimNFT(caller, params.AssetID, proof); err != nil {
			return nil, err
		}
		return okResult, nil
	})
	n.processor.Register("buyNFT", func(caller [20]byte, raw json.RawMessage) ([]byte, error) {
		var params buyNFTParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		if err := n.market.BuyNFT(caller, params.AssetID); err != nil {
			return nil, err
		}
		return okResult, nil
	})
	n.processor.Register("setWhitelistRoot", func(caller [20]byte, raw json.RawMessage) ([]byte, error) {
		var params setRootParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		root, err := ParseHash(params.Root)
		if err != nil {
			return nil, err
		}
		if err := n.market.SetWhitelistRoot(caller, root); err != nil {
			return nil, err
		}
		return okResult, nil
	})
}
