package api

import (
	"net/http"

	"github.com/better-wallet/multikey/internal/validation"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// EVMResponse is the EVM sub-account view of one network
type EVMResponse struct {
	Network     string            `json:"network"`
	Supported   bool              `json:"supported"`
	ShowEnable  bool              `json:"show_enable"`
	ShowAccount bool              `json:"show_account"`
	Account     *types.EVMAccount `json:"account,omitempty"`
}

// EVMTransferRequest moves an amount between the account and its EVM
// sub-account
type EVMTransferRequest struct {
	Amount string `json:"amount"`
}

// EVMTransferResponse reports an executed transfer
type EVMTransferResponse struct {
	TxID string `json:"tx_id"`
}

func (s *Server) handleGetEVM(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Registry == nil {
		s.writeError(w, r, apperrors.ErrNotFound)
		return
	}
	network := r.PathValue("network")
	if err := validation.ValidateNetwork(network); err != nil {
		s.writeError(w, r, invalid("Invalid network", err))
		return
	}
	s.writeEVM(w, r, network)
}

// handleFetchEVM resolves the network's address with the account service.
// A failed fetch leaves the cached address untouched.
func (s *Server) handleFetchEVM(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Registry == nil {
		s.writeError(w, r, apperrors.ErrNotFound)
		return
	}
	network := r.PathValue("network")
	if err := validation.ValidateNetwork(network); err != nil {
		s.writeError(w, r, invalid("Invalid network", err))
		return
	}
	if err := s.cfg.Registry.Fetch(r.Context(), network); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeEVM(w, r, network)
}

func (s *Server) handleFundEVM(w http.ResponseWriter, r *http.Request) {
	s.transferEVM(w, r, true)
}

func (s *Server) handleWithdrawEVM(w http.ResponseWriter, r *http.Request) {
	s.transferEVM(w, r, false)
}

func (s *Server) transferEVM(w http.ResponseWriter, r *http.Request, fund bool) {
	if s.cfg.Mover == nil {
		s.writeError(w, r, apperrors.ErrNotFound)
		return
	}

	var req EVMTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validation.ValidateAmount(req.Amount, validation.MaxAmountUnits); err != nil {
		s.writeError(w, r, invalid("Invalid amount", err))
		return
	}

	move := s.cfg.Mover.Withdraw
	if fund {
		move = s.cfg.Mover.Fund
	}
	txID, err := move(r.Context(), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, EVMTransferResponse{TxID: txID})
}

func (s *Server) writeEVM(w http.ResponseWriter, r *http.Request, network string) {
	reg := s.cfg.Registry
	resp := EVMResponse{
		Network:     network,
		Supported:   reg.Supported(network),
		ShowEnable:  reg.ShowEnable(network),
		ShowAccount: reg.ShowAccount(network),
	}
	if resp.ShowAccount {
		acct, err := reg.Account(r.Context(), network)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Account = acct
	}
	s.writeJSON(w, http.StatusOK, resp)
}
