// Package flow models the chain boundary: transaction envelopes, their
// canonical signing message and the access node client.
package flow

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/better-wallet/multikey/internal/crypto"
)

// AddressLength is the byte length of an account address
const AddressLength = 8

// DefaultGasLimit is used when a template sets none
const DefaultGasLimit = 9999

// Address is an account address
type Address [AddressLength]byte

// HexToAddress parses an address with or without 0x prefix. Short values
// are left-padded.
func HexToAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) > AddressLength {
		return a, fmt.Errorf("address %q longer than %d bytes", s, AddressLength)
	}
	copy(a[AddressLength-len(b):], b)
	return a, nil
}

// Hex returns the 0x-prefixed address
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string { return a.Hex() }

// Identifier is a block or transaction id
type Identifier [32]byte

// HexToID parses a hex identifier
func HexToID(s string) (Identifier, error) {
	var id Identifier
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("invalid identifier %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("identifier %q must be %d bytes", s, len(id))
	}
	copy(id[:], b)
	return id, nil
}

// Hex returns the identifier without prefix
func (id Identifier) Hex() string {
	return hex.EncodeToString(id[:])
}

// ProposalKey is the key whose sequence number the transaction consumes
type ProposalKey struct {
	Address        Address
	KeyIndex       uint32
	SequenceNumber uint64
}

// Signature is one envelope signature slot
type Signature struct {
	Address     Address
	SignerIndex int
	KeyIndex    uint32
	Signature   []byte
}

// Transaction is an unsigned or signed transaction
type Transaction struct {
	Script             []byte
	Arguments          [][]byte
	ReferenceBlockID   Identifier
	GasLimit           uint64
	ProposalKey        ProposalKey
	Payer              Address
	Authorizers        []Address
	PayloadSignatures  []Signature
	EnvelopeSignatures []Signature
}

type payloadCanonicalForm struct {
	Script                    []byte
	Arguments                 [][]byte
	ReferenceBlockID          []byte
	GasLimit                  uint64
	ProposalKeyAddress        []byte
	ProposalKeyIndex          uint32
	ProposalKeySequenceNumber uint64
	Payer                     []byte
	Authorizers               [][]byte
}

type signatureCanonicalForm struct {
	SignerIndex uint
	KeyIndex    uint32
	Signature   []byte
}

type envelopeCanonicalForm struct {
	Payload           payloadCanonicalForm
	PayloadSignatures []signatureCanonicalForm
}

func (tx *Transaction) payloadForm() payloadCanonicalForm {
	authorizers := make([][]byte, len(tx.Authorizers))
	for i, a := range tx.Authorizers {
		authorizers[i] = bytesOf(a)
	}
	args := tx.Arguments
	if args == nil {
		args = [][]byte{}
	}
	return payloadCanonicalForm{
		Script:                    tx.Script,
		Arguments:                 args,
		ReferenceBlockID:          tx.ReferenceBlockID[:],
		GasLimit:                  tx.GasLimit,
		ProposalKeyAddress:        bytesOf(tx.ProposalKey.Address),
		ProposalKeyIndex:          tx.ProposalKey.KeyIndex,
		ProposalKeySequenceNumber: tx.ProposalKey.SequenceNumber,
		Payer:                     bytesOf(tx.Payer),
		Authorizers:               authorizers,
	}
}

// PayloadMessage returns the RLP payload encoding
func (tx *Transaction) PayloadMessage() ([]byte, error) {
	return rlp.EncodeToBytes(tx.payloadForm())
}

// EnvelopeMessage returns the RLP encoding of the payload and its
// signatures.
func (tx *Transaction) EnvelopeMessage() ([]byte, error) {
	sigs := make([]signatureCanonicalForm, len(tx.PayloadSignatures))
	for i, s := range tx.PayloadSignatures {
		sigs[i] = signatureCanonicalForm{
			SignerIndex: uint(s.SignerIndex),
			KeyIndex:    s.KeyIndex,
			Signature:   s.Signature,
		}
	}
	return rlp.EncodeToBytes(envelopeCanonicalForm{Payload: tx.payloadForm(), PayloadSignatures: sigs})
}

// EnvelopeSigningMessage is the message every payer-side signer signs:
// the transaction domain tag followed by the envelope encoding.
func (tx *Transaction) EnvelopeSigningMessage() ([]byte, error) {
	msg, err := tx.EnvelopeMessage()
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return crypto.WithTag(crypto.TransactionDomainTag, msg), nil
}

// AddEnvelopeSignature appends a signature in caller order
func (tx *Transaction) AddEnvelopeSignature(addr Address, keyIndex uint32, sig []byte) {
	tx.EnvelopeSignatures = append(tx.EnvelopeSignatures, Signature{
		Address:     addr,
		SignerIndex: tx.signerIndex(addr),
		KeyIndex:    keyIndex,
		Signature:   sig,
	})
}

// signerIndex is the position of addr in the proposer, payer, authorizers
// de-duplicated signer list.
func (tx *Transaction) signerIndex(addr Address) int {
	seen := make(map[Address]int)
	add := func(a Address) {
		if _, ok := seen[a]; !ok {
			seen[a] = len(seen)
		}
	}
	add(tx.ProposalKey.Address)
	add(tx.Payer)
	for _, a := range tx.Authorizers {
		add(a)
	}
	if i, ok := seen[addr]; ok {
		return i
	}
	return -1
}

func bytesOf(a Address) []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}
