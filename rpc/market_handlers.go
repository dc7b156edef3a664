package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"claimmarket/core"
	"claimmarket/core/batch"
	"claimmarket/core/events"
	"claimmarket/crypto"
	"claimmarket/native/market"
)

type setRootParams struct {
	Caller string `json:"caller"`
	Root   string `json:"root"`
}

type listParams struct {
	Caller  string `json:"caller"`
	AssetID uint64 `json:"assetId"`
	Price   string `json:"price"`
}

type delistParams struct {
	Caller  string `json:"caller"`
	AssetID uint64 `json:"assetId"`
}

type authorizeParams struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Value     string `json:"value"`
	Deadline  int64  `json:"deadline"`
	Signature string `json:"signature"`
}

type verifyParams struct {
	Address string   `json:"address"`
	Proof   []string `json:"proof"`
}

type claimParams struct {
	Caller  string   `json:"caller"`
	AssetID uint64   `json:"assetId"`
	Proof   []string `json:"proof"`
}

type buyParams struct {
	Caller  string `json:"caller"`
	AssetID uint64 `json:"assetId"`
}

type assetParams struct {
	AssetID uint64 `json:"assetId"`
}

type addressParams struct {
	Address string `json:"address"`
}

type multicallParams struct {
	Caller    string       `json:"caller"`
	Calls     []batch.Call `json:"calls"`
	GasLimits []uint64     `json:"gasLimits,omitempty"`
}

type rootResult struct {
	Root    string `json:"root"`
	Version uint64 `json:"version"`
}

type okResult struct {
	OK bool `json:"ok"`
}

type listingJSON struct {
	AssetID   uint64 `json:"assetId"`
	Seller    string `json:"seller"`
	Price     string `json:"price"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"createdAt"`
}

type authorizationJSON struct {
	Owner      string `json:"owner"`
	Spender    string `json:"spender"`
	Value      string `json:"value"`
	Deadline   int64  `json:"deadline"`
	RecordedAt int64  `json:"recordedAt"`
}

type multicallResult struct {
	Results []json.RawMessage `json:"results"`
}

type tryMulticallResult struct {
	OK      []bool   `json:"ok"`
	Results []string `json:"results"`
}

func unmarshalParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "expected one parameter object")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, err.Error())
		return false
	}
	return true
}

func parseAddrParam(w http.ResponseWriter, req *RPCRequest, field, value string) ([20]byte, bool) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, field+": "+err.Error())
		return out, false
	}
	copy(out[:], addr.Bytes())
	return out, true
}

func formatListing(l *market.Listing) listingJSON {
	return listingJSON{
		AssetID:   l.AssetID,
		Seller:    crypto.NewAddress(crypto.CLMPrefix, l.Seller[:]).String(),
		Price:     l.Price.String(),
		Active:    l.Active,
		CreatedAt: l.CreatedAt,
	}
}

func (s *Server) handleSetWhitelistRoot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if err := s.requireAuth(r); err != nil {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, err.Error())
		return
	}
	var params setRootParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	caller, ok := parseAddrParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	root, err := core.ParseHash(params.Root)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, err.Error())
		return
	}
	if err := s.node.SetWhitelistRoot(caller, root); err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleGetWhitelistRoot(w http.ResponseWriter, req *RPCRequest) {
	root, version, err := s.node.WhitelistRoot()
	if err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, rootResult{Root: hex.EncodeToString(root[:]), Version: version})
}

func (s *Server) handleListNFT(w http.ResponseWriter, req *RPCRequest) {
	var params listParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	caller, ok := parseAddrParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	price, err := core.ParseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, err.Error())
		return
	}
	if err := s.node.ListNFT(caller, params.AssetID, price); err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleDelistNFT(w http.ResponseWriter, req *RPCRequest) {
	var params delistParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	caller, ok := parseAddrParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	if err := s.node.DelistNFT(caller, params.AssetID); err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleAuthorizePayment(w http.ResponseWriter, req *RPCRequest) {
	var params authorizeParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	owner, ok := parseAddrParam(w, req, "owner", params.Owner)
	if !ok {
		return
	}
	spender, ok := parseAddrParam(w, req, "spender", params.Spender)
	if !ok {
		return
	}
	value, err := core.ParseAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, err.Error())
		return
	}
	sig, err := hex.DecodeString(params.Signature)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, "signature: "+err.Error())
		return
	}
	if err := s.node.AuthorizePayment(owner, spender, value, params.Deadline, sig); err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleVerifyWhitelist(w http.ResponseWriter, req *RPCRequest) {
	var params verifyParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	principal, ok := parseAddrParam(w, req, "address", params.Address)
	if !ok {
		return
	}
	proof, err := core.ParseProof(params.Proof)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, err.Error())
		return
	}
	eligible, err := s.node.VerifyWhitelist(principal, proof)
	if err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"eligible": eligible})
}

func (s *Server) handleClaimNFT(w http.ResponseWriter, req *RPCRequest) {
	var params claimParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	caller, ok := parseAddrParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	proof, err := core.ParseProof(params.Proof)
	if err != nil {
		writeError(w, http.StatusOK, req.ID, codeInvalidParams, err.Error())
		return
	}
	if err := s.node.ClaimNFT(caller, params.AssetID, proof); err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleBuyNFT(w http.ResponseWriter, req *RPCRequest) {
	var params buyParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	caller, ok := parseAddrParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	if err := s.node.BuyNFT(caller, params.AssetID); err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, okResult{OK: true})
}

func (s *Server) handleGetListing(w http.ResponseWriter, req *RPCRequest) {
	var params assetParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	listing, ok, err := s.node.GetListing(params.AssetID)
	if err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusOK, req.ID, codeMarketRejected, market.ErrNotListed.Error())
		return
	}
	writeResult(w, req.ID, formatListing(listing))
}

func (s *Server) handleGetDiscountedPrice(w http.ResponseWriter, req *RPCRequest) {
	var params assetParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	price, err := s.node.GetDiscountedPrice(params.AssetID)
	if err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"price": price.String()})
}

func (s *Server) handleHasUserClaimed(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	principal, ok := parseAddrParam(w, req, "address", params.Address)
	if !ok {
		return
	}
	claimed, err := s.node.HasUserClaimed(principal)
	if err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"claimed": claimed})
}

func (s *Server) handleGetAuthorization(w http.ResponseWriter, req *RPCRequest) {
	var params addressParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	owner, ok := parseAddrParam(w, req, "address", params.Address)
	if !ok {
		return
	}
	auth, found, err := s.node.GetAuthorization(owner)
	if err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	if !found {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, authorizationJSON{
		Owner:      crypto.NewAddress(crypto.CLMPrefix, auth.Owner[:]).String(),
		Spender:    crypto.NewAddress(crypto.CLMPrefix, auth.Spender[:]).String(),
		Value:      auth.Value.String(),
		Deadline:   auth.Deadline,
		RecordedAt: auth.RecordedAt,
	})
}

func (s *Server) handleMulticall(w http.ResponseWriter, req *RPCRequest) {
	var params multicallParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	caller, ok := parseAddrParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	results, err := s.node.Multicall(caller, params.Calls)
	if err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, multicallResult{Results: rawResults(results)})
}

func (s *Server) handleTryMulticall(w http.ResponseWriter, req *RPCRequest) {
	var params multicallParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	caller, ok := parseAddrParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	oks, results := s.node.TryMulticall(caller, params.Calls)
	out := tryMulticallResult{OK: oks, Results: make([]string, len(results))}
	for i, r := range results {
		out.Results[i] = string(r)
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleMulticallWithGasLimit(w http.ResponseWriter, req *RPCRequest) {
	var params multicallParams
	if !unmarshalParams(w, req, &params) {
		return
	}
	caller, ok := parseAddrParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	results, err := s.node.MulticallWithGasLimit(caller, params.Calls, params.GasLimits)
	if err != nil {
		writeOperationError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, multicallResult{Results: rawResults(results)})
}

func (s *Server) handleEvents(w http.ResponseWriter, req *RPCRequest) {
	emitted := s.node.Events()
	out := make([]interface{}, 0, len(emitted))
	for _, evt := range emitted {
		if payload, ok := evt.(events.Payload); ok {
			out = append(out, payload.Event())
			continue
		}
		out = append(out, map[string]string{"type": evt.EventType()})
	}
	writeResult(w, req.ID, out)
}

func rawResults(results [][]byte) []json.RawMessage {
	out := make([]json.RawMessage, len(results))
	for i, r := range results {
		out[i] = json.RawMessage(r)
	}
	return out
}
