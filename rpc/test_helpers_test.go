package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"claimmarket/core"
	"claimmarket/crypto"
	"claimmarket/merkle"
	"claimmarket/storage"
)

const (
	testAuthToken = "test-secret"
	testChainID   = 1337
	testAssetID   = 7
)

type testEnv struct {
	node   *core.Node
	server *Server

	controller [20]byte
	seller     [20]byte
	buyer      [20]byte
	buyerKey   *crypto.PrivateKey
	tree       *merkle.Tree
}

func fillAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func bech32Addr(addr [20]byte) string {
	return crypto.NewAddress(crypto.CLMPrefix, addr[:]).String()
}

// newTestEnv boots a node with asset 7 listed at 100 by the seller and the
// buyer whitelisted and funded.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	buyerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var buyer [20]byte
	copy(buyer[:], buyerKey.PubKey().Address().Bytes())

	env := &testEnv{
		controller: fillAddr(0xC0),
		seller:     fillAddr(0x51),
		buyer:      buyer,
		buyerKey:   buyerKey,
	}
	authority := fillAddr(0xC1)
	node, err := core.NewNode(storage.NewMemDB(), core.Config{
		ChainID:        testChainID,
		Controller:     env.controller,
		TokenAuthority: authority,
		AssetAuthority: authority,
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	env.node = node
	env.server = &Server{node: node, authToken: testAuthToken}

	tree, err := merkle.NewTree([][20]byte{buyer, fillAddr(0x62)})
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	env.tree = tree
	if err := node.SetWhitelistRoot(env.controller, tree.Root()); err != nil {
		t.Fatalf("set root: %v", err)
	}
	if err := node.Assets().Mint(authority, env.seller, testAssetID); err != nil {
		t.Fatalf("mint asset: %v", err)
	}
	if err := node.Assets().Approve(env.seller, core.MarketAddress(), testAssetID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := node.ListNFT(env.seller, testAssetID, big.NewInt(100)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := node.Token().Mint(authority, buyer, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	return env
}

func (env *testEnv) newRequest() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/", nil)
}

func (env *testEnv) authedRequest() *http.Request {
	req := env.newRequest()
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	return req
}

func marshalParam(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

func newRPCRequest(t *testing.T, params interface{}) *RPCRequest {
	t.Helper()
	return &RPCRequest{JSONRPC: jsonRPCVersion, ID: 1, Params: []json.RawMessage{marshalParam(t, params)}}
}

func decodeRPCResponse(t *testing.T, rec *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return resp.Result, resp.Error
}
