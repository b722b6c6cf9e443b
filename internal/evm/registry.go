// Package evm holds the EVM sub-account of the current identity: the
// per-network address cache and the seed-derived EVM signer.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/better-wallet/multikey/internal/crypto"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// DefaultAccountName is the display name of an EVM sub-account.
const DefaultAccountName = "EVM Account"

var (
	// ErrUnsupportedNetwork is returned for networks without EVM sub-accounts
	ErrUnsupportedNetwork = errors.New("network has no EVM support")

	// ErrNotCached is returned when no address is cached for a network
	ErrNotCached = errors.New("no EVM address cached")

	// ErrCleared is returned by a fetch that raced a Clear; its result
	// belongs to the previous identity and is dropped
	ErrCleared = errors.New("EVM addresses cleared during fetch")
)

// AddressSource resolves the EVM address linked to the current identity
type AddressSource interface {
	EVMAddress(ctx context.Context, network string) (*types.EVMAddress, error)
}

// BalanceReader reads an address balance in wei
type BalanceReader interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// RegistryConfig configures a Registry
type RegistryConfig struct {
	Networks []string
	Source   AddressSource
	// Balances is optional
	Balances BalanceReader
	Logger   *slog.Logger
}

// Registry caches one verified EVM address per network. The map is never
// mutated in place: every change installs a fresh copy with a single atomic
// store, so lookups never block.
type Registry struct {
	networks map[string]struct{}
	source   AddressSource
	balances BalanceReader
	log      *slog.Logger

	cache atomic.Pointer[map[string]string]
	// gen counts clears
	gen atomic.Uint64
}

// NewRegistry creates an empty registry
func NewRegistry(cfg RegistryConfig) *Registry {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	networks := make(map[string]struct{}, len(cfg.Networks))
	for _, n := range cfg.Networks {
		networks[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}

	r := &Registry{
		networks: networks,
		source:   cfg.Source,
		balances: cfg.Balances,
		log:      log.With("component", "evm_registry"),
	}
	r.cache.Store(&map[string]string{})
	return r
}

// Fetch resolves and caches the address for network. On any failure the
// cache is left as it was.
func (r *Registry) Fetch(ctx context.Context, network string) error {
	network = normalizeNetwork(network)
	if !r.Supported(network) {
		return fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}

	gen := r.gen.Load()
	res, err := r.source.EVMAddress(ctx, network)
	if err != nil {
		r.log.Warn("evm address fetch failed", "network", network, "error", err)
		return apperrors.NetworkFailure("evm address", err)
	}
	if res == nil || strings.TrimSpace(res.Address) == "" {
		return apperrors.NetworkFailure("evm address", fmt.Errorf("no address for %s", network))
	}
	if res.Network != "" && normalizeNetwork(res.Network) != network {
		return apperrors.NetworkFailure("evm address",
			fmt.Errorf("address resolved for %s, requested %s", res.Network, network))
	}

	addr, err := crypto.NormalizeEVMAddress(res.Address)
	if err != nil {
		return apperrors.NetworkFailure("evm address", err)
	}

	if !r.store(gen, network, addr) {
		r.log.Debug("evm address dropped after clear", "network", network)
		return fmt.Errorf("%w: %s", ErrCleared, network)
	}
	r.log.Debug("evm address cached", "network", network, "address", addr)
	return nil
}

// Have reports whether a non-blank address is cached for network
func (r *Registry) Have(network string) bool {
	return r.Get(network) != ""
}

// Get returns the cached address for network, or "" when none
func (r *Registry) Get(network string) string {
	return (*r.cache.Load())[normalizeNetwork(network)]
}

// IsLinked reports whether address is the cached EVM address of any network
func (r *Registry) IsLinked(address string) bool {
	addr, err := crypto.NormalizeEVMAddress(address)
	if err != nil {
		return false
	}
	for _, v := range *r.cache.Load() {
		if v == addr {
			return true
		}
	}
	return false
}

// Clear wipes every cached address
func (r *Registry) Clear() {
	r.gen.Add(1)
	r.cache.Store(&map[string]string{})
}

// Supported reports whether network has EVM sub-accounts
func (r *Registry) Supported(network string) bool {
	_, ok := r.networks[normalizeNetwork(network)]
	return ok
}

// ShowEnable is true on a supported network with no address yet
func (r *Registry) ShowEnable(network string) bool {
	return r.Supported(network) && !r.Have(network)
}

// ShowAccount is true on a supported network with a cached address
func (r *Registry) ShowAccount(network string) bool {
	return r.Supported(network) && r.Have(network)
}

// Account returns the display view of the cached address on network
func (r *Registry) Account(ctx context.Context, network string) (*types.EVMAccount, error) {
	network = normalizeNetwork(network)
	addr := r.Get(network)
	if addr == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, network)
	}

	acct := &types.EVMAccount{Network: network, Address: addr, Name: DefaultAccountName}
	if r.balances != nil {
		bal, err := r.balances.Balance(ctx, addr)
		if err != nil {
			return nil, apperrors.NetworkFailure("evm balance", err)
		}
		acct.Balance = bal.String()
	}
	return acct, nil
}

// store installs addr unless a Clear happened since gen was read
func (r *Registry) store(gen uint64, network, addr string) bool {
	for {
		old := r.cache.Load()
		if r.gen.Load() != gen {
			return false
		}
		next := make(map[string]string, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[network] = addr
		if r.cache.CompareAndSwap(old, &next) {
			return true
		}
	}
}

func normalizeNetwork(n string) string {
	return strings.ToLower(strings.TrimSpace(n))
}
