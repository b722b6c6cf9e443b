// Package composer builds and submits transactions co-signed by an ordered
// set of providers.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/better-wallet/multikey/internal/flow"
	"github.com/better-wallet/multikey/internal/metrics"
	"github.com/better-wallet/multikey/internal/provider"
	apperrors "github.com/better-wallet/multikey/pkg/errors"
	"github.com/better-wallet/multikey/pkg/types"
)

var (
	// ErrNoSigners is returned for a request with an empty signer list
	ErrNoSigners = errors.New("at least one signer is required")

	// ErrKeyNotOnAccount is returned when a signer has no active key on
	// the target account
	ErrKeyNotOnAccount = errors.New("signer key not registered on account")

	// ErrDuplicateSigner is returned when the same key signs twice
	ErrDuplicateSigner = errors.New("duplicate signer")
)

// Request is one composition
type Request struct {
	// Target is proposer, payer and sole authorizer
	Target   flow.Address
	Template flow.Template
	// Signers sign in this order
	Signers []provider.CryptoProvider
}

// Result describes a composed transaction. TxID is empty until submitted.
type Result struct {
	TxID            string
	Type            types.TxType
	TotalWeight     int
	FullyAuthorized bool
	Transaction     *flow.Transaction
}

// Config configures a Composer
type Config struct {
	Chain   flow.Chain
	Network string
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Composer turns templates into signed transactions
type Composer struct {
	chain   flow.Chain
	network string
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New creates a Composer
func New(cfg Config) *Composer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Composer{
		chain:   cfg.Chain,
		network: cfg.Network,
		metrics: cfg.Metrics,
		log:     log.With("component", "composer"),
	}
}

// Compose builds the transaction and collects every signature. Nothing is
// sent to the chain. If any signer fails no signature set is returned.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	if len(req.Signers) == 0 {
		return nil, apperrors.CompositionFailure(0, ErrNoSigners)
	}

	script, err := req.Template.Resolve(c.network)
	if err != nil {
		return nil, apperrors.CompositionFailure(0, err)
	}
	args, err := req.Template.EncodeArguments()
	if err != nil {
		return nil, apperrors.CompositionFailure(0, err)
	}

	acct, err := c.chain.GetAccount(ctx, req.Target)
	if err != nil {
		return nil, err
	}

	keys, total, err := matchKeys(acct, req.Signers)
	if err != nil {
		return nil, err
	}

	ref, err := c.chain.LatestBlockID(ctx)
	if err != nil {
		return nil, err
	}

	gas := req.Template.GasLimit
	if gas == 0 {
		gas = flow.DefaultGasLimit
	}

	tx := &flow.Transaction{
		Script:           script,
		Arguments:        args,
		ReferenceBlockID: ref,
		GasLimit:         gas,
		ProposalKey: flow.ProposalKey{
			Address:        req.Target,
			KeyIndex:       keys[0].Index,
			SequenceNumber: keys[0].SequenceNumber,
		},
		Payer:       req.Target,
		Authorizers: []flow.Address{req.Target},
	}

	msg, err := tx.EnvelopeSigningMessage()
	if err != nil {
		return nil, apperrors.CompositionFailure(0, err)
	}

	sigs := make([][]byte, len(req.Signers))
	for i, signer := range req.Signers {
		sig, err := signer.Sign(ctx, msg)
		if err != nil {
			c.metrics.Composition("aborted", len(req.Signers))
			c.log.Warn("composition aborted", "signer", i, "kind", signer.Kind(), "error", err)
			return nil, apperrors.CompositionFailure(i, err)
		}
		sigs[i] = sig
	}
	for i, sig := range sigs {
		tx.AddEnvelopeSignature(req.Target, keys[i].Index, sig)
	}

	return &Result{
		Type:            req.Template.Type,
		TotalWeight:     total,
		FullyAuthorized: total >= types.FullWeight,
		Transaction:     tx,
	}, nil
}

// Submit composes and sends the transaction. A partial-weight composition
// is still sent; Result.FullyAuthorized tells the two apart.
func (c *Composer) Submit(ctx context.Context, req Request) (*Result, error) {
	res, err := c.Compose(ctx, req)
	if err != nil {
		return nil, err
	}

	id, err := c.chain.SendTransaction(ctx, res.Transaction)
	if err != nil {
		c.metrics.Composition("send_failed", len(req.Signers))
		return nil, err
	}

	res.TxID = id
	c.metrics.Composition("submitted", len(req.Signers))
	c.log.Info("composition submitted",
		"tx_id", id,
		"type", res.Type,
		"signers", len(req.Signers),
		"total_weight", res.TotalWeight,
		"fully_authorized", res.FullyAuthorized,
	)
	return res, nil
}

// matchKeys maps every signer to its on-chain key, in signer order
func matchKeys(acct *flow.Account, signers []provider.CryptoProvider) ([]flow.AccountKey, int, error) {
	keys := make([]flow.AccountKey, len(signers))
	seen := make(map[uint32]struct{}, len(signers))
	total := 0

	for i, s := range signers {
		key, ok := acct.KeyFor(s.PublicKeyHex())
		if !ok {
			return nil, 0, apperrors.CompositionFailure(i, fmt.Errorf("%w: %s", ErrKeyNotOnAccount, s.PublicKeyHex()))
		}
		if _, dup := seen[key.Index]; dup {
			return nil, 0, apperrors.CompositionFailure(i, fmt.Errorf("%w: key %d", ErrDuplicateSigner, key.Index))
		}
		if key.SigAlgo != s.SignatureAlgorithm() || key.HashAlgo != s.HashAlgorithm() {
			return nil, 0, apperrors.CompositionFailure(i,
				fmt.Errorf("key %d registered as %s/%s, signer uses %s/%s",
					key.Index, key.SigAlgo, key.HashAlgo, s.SignatureAlgorithm(), s.HashAlgorithm()))
		}
		seen[key.Index] = struct{}{}
		keys[i] = key
		total += key.Weight
	}
	return keys, total, nil
}
