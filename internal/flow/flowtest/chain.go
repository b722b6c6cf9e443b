// Package flowtest provides an in-memory chain for tests.
package flowtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/better-wallet/multikey/internal/flow"
	"github.com/better-wallet/multikey/internal/provider"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

// Chain is an in-memory flow.Chain. Statuses are scripted per transaction
// id; every poll pops the next scripted status and repeats the last one.
type Chain struct {
	mu       sync.Mutex
	accounts map[flow.Address]*flow.Account
	scripts  map[string][]types.TxStatus
	sent     []*flow.Transaction
	polls    map[string]int
	nextID   int

	// SendErr, when set, fails every submission
	SendErr error
	// PollErr, when set, fails every status poll
	PollErr error
	// DefaultStatus is reported for ids without a script
	DefaultStatus types.TxStatus
}

// NewChain returns an empty chain
func NewChain() *Chain {
	return &Chain{
		accounts:      make(map[flow.Address]*flow.Account),
		scripts:       make(map[string][]types.TxStatus),
		polls:         make(map[string]int),
		DefaultStatus: types.TxStatusPending,
	}
}

// AddKey registers p's public key on addr at weight and returns its index
func (c *Chain) AddKey(addr flow.Address, p provider.CryptoProvider, weight int) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct, ok := c.accounts[addr]
	if !ok {
		acct = &flow.Account{Address: addr, Balance: "0"}
		c.accounts[addr] = acct
	}
	idx := uint32(len(acct.Keys))
	acct.Keys = append(acct.Keys, flow.AccountKey{
		Index:     idx,
		PublicKey: p.PublicKeyHex(),
		SigAlgo:   p.SignatureAlgorithm(),
		HashAlgo:  p.HashAlgorithm(),
		Weight:    weight,
	})
	return idx
}

// Script sets the statuses successive polls of id return
func (c *Chain) Script(id string, statuses ...types.TxStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[id] = statuses
}

// Sent returns every submitted transaction in order
func (c *Chain) Sent() []*flow.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*flow.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}

// Polls returns how often id was polled
func (c *Chain) Polls(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls[id]
}

// NextID returns the id the next submission will receive
func (c *Chain) NextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return txID(c.nextID + 1)
}

func (c *Chain) GetAccount(_ context.Context, addr flow.Address) (*flow.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct, ok := c.accounts[addr]
	if !ok {
		return nil, apperrors.NetworkFailure("get account", fmt.Errorf("account %s not found", addr))
	}
	cp := *acct
	cp.Keys = append([]flow.AccountKey(nil), acct.Keys...)
	return &cp, nil
}

func (c *Chain) LatestBlockID(context.Context) (flow.Identifier, error) {
	return flow.Identifier{0x01, 0x02, 0x03}, nil
}

func (c *Chain) SendTransaction(_ context.Context, tx *flow.Transaction) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SendErr != nil {
		return "", apperrors.NetworkFailure("send transaction", c.SendErr)
	}
	c.nextID++
	c.sent = append(c.sent, tx)
	if acct, ok := c.accounts[tx.ProposalKey.Address]; ok {
		for i := range acct.Keys {
			if acct.Keys[i].Index == tx.ProposalKey.KeyIndex {
				acct.Keys[i].SequenceNumber++
			}
		}
	}
	return txID(c.nextID), nil
}

func (c *Chain) TransactionStatus(_ context.Context, id string) (*flow.TransactionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.polls[id]++
	if c.PollErr != nil {
		return nil, apperrors.NetworkFailure("transaction status", c.PollErr)
	}

	script, ok := c.scripts[id]
	if !ok || len(script) == 0 {
		return &flow.TransactionResult{Status: c.DefaultStatus}, nil
	}
	status := script[0]
	if len(script) > 1 {
		c.scripts[id] = script[1:]
	}
	return &flow.TransactionResult{Status: status}, nil
}

func txID(n int) string {
	return fmt.Sprintf("%064x", n)
}
