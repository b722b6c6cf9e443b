package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/better-wallet/multikey/pkg/types"
)

// DomainTagLength is the fixed width of a domain separation tag.
const DomainTagLength = 32

// Domain tags prepended to every signed message.
var (
	TransactionDomainTag = mustPadTag("FLOW-V0.0-transaction")
	UserDomainTag        = mustPadTag("FLOW-V0.0-user")
)

// PadDomainTag right-pads tag with zero bytes to DomainTagLength.
func PadDomainTag(tag string) ([]byte, error) {
	if len(tag) > DomainTagLength {
		return nil, fmt.Errorf("domain tag %q longer than %d bytes", tag, DomainTagLength)
	}
	out := make([]byte, DomainTagLength)
	copy(out, tag)
	return out, nil
}

func mustPadTag(tag string) []byte {
	out, err := PadDomainTag(tag)
	if err != nil {
		panic(err)
	}
	return out
}

// WithTag returns tag || message in a fresh slice.
func WithTag(tag, message []byte) []byte {
	out := make([]byte, 0, len(tag)+len(message))
	out = append(out, tag...)
	return append(out, message...)
}

// Hash digests data with the given algorithm.
func Hash(alg types.HashAlgorithm, data []byte) ([]byte, error) {
	switch alg {
	case types.HashAlgorithmSHA2256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case types.HashAlgorithmSHA3256:
		sum := sha3.Sum256(data)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %s", alg)
	}
}
