package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"claimmarket/core"
	"claimmarket/native/market"
	"claimmarket/native/token"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "CLM_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeMarketRejected = -32050
	codeTokenRejected  = -32051
)

type Server struct {
	node      *core.Node
	authToken string
}

func NewServer(node *core.Node) *Server {
	return &Server{
		node:      node,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
	}
}

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message}}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) error {
	if s.authToken == "" {
		return fmt.Errorf("rpc auth token not configured")
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("missing bearer token")
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return fmt.Errorf("invalid bearer token")
	}
	return nil
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required")
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body")
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request")
		return
	}

	switch req.Method {
	case "market_setWhitelistRoot":
		s.handleSetWhitelistRoot(w, r, &req)
	case "market_getWhitelistRoot":
		s.handleGetWhitelistRoot(w, &req)
	case "market_listNFT":
		s.handleListNFT(w, &req)
	case "market_delistNFT":
		s.handleDelistNFT(w, &req)
	case "market_authorizePayment":
		s.handleAuthorizePayment(w, &req)
	case "market_verifyWhitelist":
		s.handleVerifyWhitelist(w, &req)
	case "market_claimNFT":
		s.handleClaimNFT(w, &req)
	case "market_buyNFT":
		s.handleBuyNFT(w, &req)
	case "market_getListing":
		s.handleGetListing(w, &req)
	case "market_getDiscountedPrice":
		s.handleGetDiscountedPrice(w, &req)
	case "market_hasUserClaimed":
		s.handleHasUserClaimed(w, &req)
	case "market_getAuthorization":
		s.handleGetAuthorization(w, &req)
	case "market_multicall":
		s.handleMulticall(w, &req)
	case "market_tryMulticall":
		s.handleTryMulticall(w, &req)
	case "market_multicallWithGasLimit":
		s.handleMulticallWithGasLimit(w, &req)
	case "market_events":
		s.handleEvents(w, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

// errorCode maps an operation failure onto a JSON-RPC error code so batch
// initiators can distinguish which class of check rejected the call.
func errorCode(err error) int {
	switch {
	case errors.Is(err, market.ErrAlreadyClaimed),
		errors.Is(err, market.ErrInvalidProof),
		errors.Is(err, market.ErrNotListed),
		errors.Is(err, market.ErrAlreadyListed),
		errors.Is(err, market.ErrStaleOwnership),
		errors.Is(err, market.ErrInsufficientAuthorization),
		errors.Is(err, market.ErrUnauthorized),
		errors.Is(err, market.ErrInvalidPrice),
		errors.Is(err, market.ErrNotApproved):
		return codeMarketRejected
	case errors.Is(err, token.ErrPermitExpired),
		errors.Is(err, token.ErrInvalidSignature),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		return codeTokenRejected
	default:
		return codeServerError
	}
}

func writeOperationError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusOK, id, errorCode(err), err.Error())
}
