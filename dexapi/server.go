// Package dexapi exposes the DexVM debug REST surface. Counter mutations
// made here hit the receiving node's in-memory state directly and do NOT go
// through the block pipeline: nodes diverge if this is used for anything but
// local inspection.
package dexapi

import (
	"encoding/binary"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/dexchain/dex-geth/core/dexvm"
	"github.com/dexchain/dex-geth/params"
)

// Server is the REST API handler set.
type Server struct {
	executor *dexvm.Executor
	version  string
	logger   log.Logger
}

// NewServer creates the REST service over the node's counter executor.
func NewServer(executor *dexvm.Executor, version string) *Server {
	return &Server{
		executor: executor,
		version:  version,
		logger:   log.New("module", "dexapi"),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/counter/{address}", s.handleGetCounter).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/counter/{address}/increment", s.handleIncrement).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/counter/{address}/decrement", s.handleDecrement).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/state-root", s.handleStateRoot).Methods(http.MethodGet)
	return r
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

type counterResponse struct {
	Address common.Address `json:"address"`
	Counter uint64         `json:"counter"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type operationResponse struct {
	Success    bool        `json:"success"`
	TxHash     common.Hash `json:"tx_hash"`
	OldCounter uint64      `json:"old_counter"`
	NewCounter uint64      `json:"new_counter"`
	GasUsed    uint64      `json:"gas_used"`
	Error      *string     `json:"error"`
}

type stateRootResponse struct {
	StateRoot common.Hash `json:"state_root"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseAddress(r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &healthResponse{
		Status:  "ok",
		Service: "dexvm-api",
		Version: s.version,
	})
}

func (s *Server) handleGetCounter(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, &errorResponse{Error: "invalid address"})
		return
	}
	writeJSON(w, http.StatusOK, &counterResponse{
		Address: addr,
		Counter: s.executor.CommittedCounter(addr),
	})
}

func (s *Server) handleStateRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &stateRootResponse{StateRoot: s.executor.StateRoot()})
}

func (s *Server) handleIncrement(w http.ResponseWriter, r *http.Request) {
	s.handleMutation(w, r, params.OpIncrement)
}

func (s *Server) handleDecrement(w http.ResponseWriter, r *http.Request) {
	s.handleMutation(w, r, params.OpDecrement)
}

// handleMutation applies a debug mutation to the pending overlay and
// promotes it immediately: the chain never sees this change.
func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request, op byte) {
	addr, ok := parseAddress(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, &errorResponse{Error: "invalid address"})
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &errorResponse{Error: "invalid request body"})
		return
	}
	res := s.executor.ExecuteOperation(addr, dexvm.Operation{Op: op, Amount: req.Amount})
	s.executor.SyncPendingToState()

	resp := &operationResponse{
		Success:    res.Success,
		TxHash:     debugTxHash(addr, op, req.Amount),
		OldCounter: res.OldCounter,
		NewCounter: res.NewCounter,
		GasUsed:    res.GasUsed,
	}
	if res.Err != nil {
		msg := res.Err.Error()
		resp.Error = &msg
	}
	s.logger.Debug("Debug counter mutation", "addr", addr, "op", op, "amount", req.Amount, "success", res.Success)
	writeJSON(w, http.StatusOK, resp)
}

// debugTxHash mirrors the hash shape of a native counter transaction so the
// response stays comparable with on-chain receipts.
func debugTxHash(addr common.Address, op byte, amount uint64) common.Hash {
	payload := make([]byte, 0, common.AddressLength+params.CalldataLen)
	payload = append(payload, addr.Bytes()...)
	payload = append(payload, op)
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], amount)
	payload = append(payload, amt[:]...)
	return crypto.Keccak256Hash(payload)
}
