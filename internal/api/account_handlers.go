package api

import (
	"context"
	"net/http"

	"github.com/better-wallet/multikey/internal/logger"
	"github.com/better-wallet/multikey/internal/provider"
	"github.com/better-wallet/multikey/internal/validation"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// AccountManager is the device account state as used by the API
type AccountManager interface {
	Accounts(ctx context.Context) ([]*types.Account, error)
	ActiveAccount(ctx context.Context) (*types.Account, error)
	Current(ctx context.Context) (provider.CryptoProvider, error)
	Switch(ctx context.Context, address string) error
	Logout(ctx context.Context) error
}

// KeyLister lists the keys of the signed-in user with their holders
type KeyLister interface {
	KeyDevices(ctx context.Context) ([]types.KeyDeviceInfo, error)
}

// AccountResponse represents a device account in API responses
type AccountResponse struct {
	Address  string `json:"address"`
	Username string `json:"username,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Active   bool   `json:"active"`
	// StoredKey is set for accounts signing from the secure key store
	StoredKey bool `json:"stored_key"`
}

// ActiveAccountResponse is the active account with its signing key
type ActiveAccountResponse struct {
	AccountResponse
	ProviderKind string `json:"provider_kind"`
	PublicKey    string `json:"public_key"`
	Weight       int    `json:"weight"`
}

// ListAccountsResponse lists the accounts known on this device
type ListAccountsResponse struct {
	Data []AccountResponse `json:"data"`
}

// SwitchAccountRequest activates a known account
type SwitchAccountRequest struct {
	Address string `json:"address"`
}

// ListKeysResponse lists the keys registered on the account
type ListKeysResponse struct {
	Data []types.KeyDeviceInfo `json:"data"`
}

func convertAccountToResponse(acct *types.Account) AccountResponse {
	return AccountResponse{
		Address:   acct.Address,
		Username:  acct.Username,
		UserID:    acct.UserID,
		Active:    acct.IsActive,
		StoredKey: acct.HasStoredKey(),
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.cfg.Accounts.Accounts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := ListAccountsResponse{Data: make([]AccountResponse, 0, len(accounts))}
	for _, a := range accounts {
		resp.Data = append(resp.Data, convertAccountToResponse(a))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleActiveAccount returns the active account and resolves its provider
func (s *Server) handleActiveAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.cfg.Accounts.ActiveAccount(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.cfg.Accounts.Current(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ActiveAccountResponse{
		AccountResponse: convertAccountToResponse(acct),
		ProviderKind:    p.Kind().String(),
		PublicKey:       p.PublicKeyHex(),
		Weight:          p.KeyWeight(),
	})
}

func (s *Server) handleSwitchAccount(w http.ResponseWriter, r *http.Request) {
	var req SwitchAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validation.ValidateAccountAddress(req.Address); err != nil {
		s.writeError(w, r, invalid("Invalid address", err))
		return
	}

	if err := s.cfg.Accounts.Switch(r.Context(), req.Address); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleActiveAccount(w, r)
}

// handleLogout deactivates the active account and drops the identity
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Accounts.Logout(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.cfg.OnLogout != nil {
		s.cfg.OnLogout()
	}
	logger.Info(r.Context(), "logged out")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Keys == nil {
		s.writeError(w, r, apperrors.ErrNotFound)
		return
	}
	keys, err := s.cfg.Keys.KeyDevices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []types.KeyDeviceInfo{}
	}
	s.writeJSON(w, http.StatusOK, ListKeysResponse{Data: keys})
}
