package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"testing"

	"claimmarket/core"
	"claimmarket/core/batch"
	"claimmarket/native/market"
	"claimmarket/native/token"
)

func batchCall(method string, params json.RawMessage) batch.Call {
	return batch.Call{Method: method, Params: params}
}

func (env *testEnv) buyerProof(t *testing.T) []string {
	t.Helper()
	proof, err := env.tree.Prove(env.buyer)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	encoded := make([]string, len(proof))
	for i, node := range proof {
		encoded[i] = hex.EncodeToString(node[:])
	}
	return encoded
}

func (env *testEnv) signAuthorization(t *testing.T, value int64, deadline int64) string {
	t.Helper()
	nonce, err := env.node.Token().Nonce(env.buyer)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	digest := token.PermitDigest(testChainID, env.buyer, core.MarketAddress(), big.NewInt(value), nonce, deadline)
	sig, err := env.buyerKey.Sign(digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return hex.EncodeToString(sig)
}

func TestAuthorizeAndClaimFlow(t *testing.T) {
	env := newTestEnv(t)

	authReq := newRPCRequest(t, authorizeParams{
		Owner:     bech32Addr(env.buyer),
		Spender:   bech32Addr(core.MarketAddress()),
		Value:     "50",
		Deadline:  1 << 40,
		Signature: env.signAuthorization(t, 50, 1<<40),
	})
	authRec := httptest.NewRecorder()
	env.server.handleAuthorizePayment(authRec, authReq)
	if _, rpcErr := decodeRPCResponse(t, authRec); rpcErr != nil {
		t.Fatalf("authorize error: %+v", rpcErr)
	}

	priceReq := newRPCRequest(t, assetParams{AssetID: testAssetID})
	priceRec := httptest.NewRecorder()
	env.server.handleGetDiscountedPrice(priceRec, priceReq)
	priceResult, rpcErr := decodeRPCResponse(t, priceRec)
	if rpcErr != nil {
		t.Fatalf("price error: %+v", rpcErr)
	}
	var priceResp map[string]string
	if err := json.Unmarshal(priceResult, &priceResp); err != nil {
		t.Fatalf("decode price: %v", err)
	}
	if priceResp["price"] != "50" {
		t.Fatalf("discounted price = %q, want 50", priceResp["price"])
	}

	claimReq := newRPCRequest(t, claimParams{
		Caller:  bech32Addr(env.buyer),
		AssetID: testAssetID,
		Proof:   env.buyerProof(t),
	})
	claimRec := httptest.NewRecorder()
	env.server.handleClaimNFT(claimRec, claimReq)
	if _, rpcErr := decodeRPCResponse(t, claimRec); rpcErr != nil {
		t.Fatalf("claim error: %+v", rpcErr)
	}

	claimedReq := newRPCRequest(t, addressParams{Address: bech32Addr(env.buyer)})
	claimedRec := httptest.NewRecorder()
	env.server.handleHasUserClaimed(claimedRec, claimedReq)
	claimedResult, rpcErr := decodeRPCResponse(t, claimedRec)
	if rpcErr != nil {
		t.Fatalf("hasUserClaimed error: %+v", rpcErr)
	}
	var claimedResp map[string]bool
	if err := json.Unmarshal(claimedResult, &claimedResp); err != nil {
		t.Fatalf("decode claimed: %v", err)
	}
	if !claimedResp["claimed"] {
		t.Fatalf("claim not recorded")
	}
}

func TestClaimRejectionCarriesMarketCode(t *testing.T) {
	env := newTestEnv(t)

	// No authorization in place, so the claim is rejected by the market.
	claimReq := newRPCRequest(t, claimParams{
		Caller:  bech32Addr(env.buyer),
		AssetID: testAssetID,
		Proof:   env.buyerProof(t),
	})
	rec := httptest.NewRecorder()
	env.server.handleClaimNFT(rec, claimReq)
	_, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr == nil {
		t.Fatalf("underfunded claim accepted")
	}
	if rpcErr.Code != codeMarketRejected {
		t.Fatalf("code = %d, want %d", rpcErr.Code, codeMarketRejected)
	}
}

func TestSetWhitelistRootRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	var root [32]byte
	root[0] = 0xAB
	req := newRPCRequest(t, setRootParams{
		Caller: bech32Addr(env.controller),
		Root:   hex.EncodeToString(root[:]),
	})

	rec := httptest.NewRecorder()
	env.server.handleSetWhitelistRoot(rec, env.newRequest(), req)
	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	_, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr == nil || rpcErr.Code != codeUnauthorized {
		t.Fatalf("unauthenticated rotation: %+v", rpcErr)
	}

	rec = httptest.NewRecorder()
	env.server.handleSetWhitelistRoot(rec, env.authedRequest(), req)
	if _, rpcErr := decodeRPCResponse(t, rec); rpcErr != nil {
		t.Fatalf("authed rotation: %+v", rpcErr)
	}

	rootRec := httptest.NewRecorder()
	env.server.handleGetWhitelistRoot(rootRec, &RPCRequest{ID: 2})
	rootRaw, rpcErr := decodeRPCResponse(t, rootRec)
	if rpcErr != nil {
		t.Fatalf("get root: %+v", rpcErr)
	}
	var resp rootResult
	if err := json.Unmarshal(rootRaw, &resp); err != nil {
		t.Fatalf("decode root: %v", err)
	}
	if resp.Root != hex.EncodeToString(root[:]) {
		t.Fatalf("root = %s, want rotated value", resp.Root)
	}
}

func TestGetListingNotFound(t *testing.T) {
	env := newTestEnv(t)
	req := newRPCRequest(t, assetParams{AssetID: 999})
	rec := httptest.NewRecorder()
	env.server.handleGetListing(rec, req)
	_, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr == nil || rpcErr.Code != codeMarketRejected {
		t.Fatalf("missing listing: %+v", rpcErr)
	}
	if rpcErr.Message != market.ErrNotListed.Error() {
		t.Fatalf("message = %q", rpcErr.Message)
	}
}

func TestVerifyWhitelistEndpoint(t *testing.T) {
	env := newTestEnv(t)

	req := newRPCRequest(t, verifyParams{
		Address: bech32Addr(env.buyer),
		Proof:   env.buyerProof(t),
	})
	rec := httptest.NewRecorder()
	env.server.handleVerifyWhitelist(rec, req)
	result, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr != nil {
		t.Fatalf("verify: %+v", rpcErr)
	}
	var resp map[string]bool
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp["eligible"] {
		t.Fatalf("member reported ineligible")
	}

	// Someone else's proof does not admit a stranger.
	req = newRPCRequest(t, verifyParams{
		Address: bech32Addr(fillAddr(0x99)),
		Proof:   env.buyerProof(t),
	})
	rec = httptest.NewRecorder()
	env.server.handleVerifyWhitelist(rec, req)
	result, rpcErr = decodeRPCResponse(t, rec)
	if rpcErr != nil {
		t.Fatalf("verify: %+v", rpcErr)
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["eligible"] {
		t.Fatalf("stranger reported eligible")
	}
}

func TestMulticallEndpointAtomicity(t *testing.T) {
	env := newTestEnv(t)

	params := multicallParams{
		Caller: bech32Addr(env.buyer),
		Calls:  nil,
	}
	// The authorization covers only 49 of the discounted 50, so the whole
	// batch reverts with the market code.
	authCall, _ := json.Marshal(map[string]interface{}{
		"owner":     bech32Addr(env.buyer),
		"spender":   bech32Addr(core.MarketAddress()),
		"value":     "49",
		"deadline":  int64(1 << 40),
		"signature": env.signAuthorization(t, 49, 1<<40),
	})
	claimCall, _ := json.Marshal(map[string]interface{}{
		"assetId": testAssetID,
		"proof":   env.buyerProof(t),
	})
	params.Calls = append(params.Calls,
		batchCall("authorizePayment", authCall),
		batchCall("claimNFT", claimCall),
	)

	rec := httptest.NewRecorder()
	env.server.handleMulticall(rec, newRPCRequest(t, params))
	_, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr == nil || rpcErr.Code != codeMarketRejected {
		t.Fatalf("underfunded batch: %+v", rpcErr)
	}
	nonce, err := env.node.Token().Nonce(env.buyer)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("nonce = %d, want authorize rolled back", nonce)
	}

	// With a sufficient authorization the same batch settles.
	authCall, _ = json.Marshal(map[string]interface{}{
		"owner":     bech32Addr(env.buyer),
		"spender":   bech32Addr(core.MarketAddress()),
		"value":     "50",
		"deadline":  int64(1 << 40),
		"signature": env.signAuthorization(t, 50, 1<<40),
	})
	params.Calls[0] = batchCall("authorizePayment", authCall)
	rec = httptest.NewRecorder()
	env.server.handleMulticall(rec, newRPCRequest(t, params))
	result, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr != nil {
		t.Fatalf("funded batch: %+v", rpcErr)
	}
	var resp multicallResult
	if err := json.Unmarshal(result, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
}

func TestInvalidParamsRejected(t *testing.T) {
	env := newTestEnv(t)

	// Missing params array.
	rec := httptest.NewRecorder()
	env.server.handleClaimNFT(rec, &RPCRequest{ID: 1})
	_, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("missing params: %+v", rpcErr)
	}

	// Malformed bech32 caller.
	rec = httptest.NewRecorder()
	env.server.handleBuyNFT(rec, newRPCRequest(t, buyParams{Caller: "nope", AssetID: testAssetID}))
	_, rpcErr = decodeRPCResponse(t, rec)
	if rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("bad caller: %+v", rpcErr)
	}
}
