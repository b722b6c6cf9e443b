package crypto

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// Key store keys are split 2-of-2: neither share alone reveals the key.
const (
	shareThreshold = 2
	shareCount     = 2

	// shamir shares carry a one byte x-coordinate tag.
	shareTagLength = 1
)

// ShareSet holds the two halves of a split secret.
type ShareSet struct {
	// LocalShare is stored as-is next to the key record.
	LocalShare []byte

	// SealedShare is encrypted with the KMS before it is stored.
	SealedShare []byte
}

// SplitSecret splits secret into a 2-of-2 ShareSet.
func SplitSecret(secret []byte) (*ShareSet, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret cannot be empty")
	}

	shares, err := shamir.Split(secret, shareCount, shareThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	return &ShareSet{
		LocalShare:  shares[0],
		SealedShare: shares[1],
	}, nil
}

// CombineShares reconstructs the secret from both shares.
func CombineShares(local, sealed []byte) ([]byte, error) {
	if err := validateShare(local); err != nil {
		return nil, fmt.Errorf("local share: %w", err)
	}
	if err := validateShare(sealed); err != nil {
		return nil, fmt.Errorf("sealed share: %w", err)
	}
	if len(local) != len(sealed) {
		return nil, fmt.Errorf("share length mismatch: %d != %d", len(local), len(sealed))
	}

	secret, err := shamir.Combine([][]byte{local, sealed})
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return secret, nil
}

func validateShare(share []byte) error {
	if len(share) <= shareTagLength {
		return fmt.Errorf("share too short: %d bytes", len(share))
	}
	return nil
}

// Zero overwrites b in place.
func Zero(b []byte) {
	zero(b)
}
