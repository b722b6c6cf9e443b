package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// AccountAddressPattern is the regex pattern for chain account addresses
var AccountAddressPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{1,16}$`)

// UsernamePattern is the regex pattern for account service usernames
var UsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)

// NetworkPattern is the regex pattern for network names
var NetworkPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]{0,31}$`)

// BackupNamePattern is the regex pattern for stored backup names
var BackupNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

// amountPattern is a decimal with at most 8 fractional digits
var amountPattern = regexp.MustCompile(`^[0-9]{1,12}(\.[0-9]{1,8})?$`)

// AmountDecimals is the fixed-point precision of token amounts
const AmountDecimals = 8

// MaxAmountUnits is the largest representable amount in base units
var MaxAmountUnits = new(big.Int).SetUint64(^uint64(0))

// ValidateAccountAddress validates a chain account address
func ValidateAccountAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !AccountAddressPattern.MatchString(address) {
		return fmt.Errorf("invalid account address format: must be up to 16 hex characters")
	}

	// The zero address never holds keys
	if strings.Trim(strings.TrimPrefix(strings.ToLower(address), "0x"), "0") == "" {
		return fmt.Errorf("account address cannot be zero")
	}

	return nil
}

// ValidateUsername validates an account service username
func ValidateUsername(username string) error {
	if !UsernamePattern.MatchString(username) {
		return fmt.Errorf("invalid username: 1 to 64 letters, digits, '_', '.' or '-'")
	}
	return nil
}

// ValidateNetwork validates a network name
func ValidateNetwork(network string) error {
	if network == "" {
		return fmt.Errorf("network cannot be empty")
	}
	if !NetworkPattern.MatchString(network) {
		return fmt.Errorf("invalid network name %q", network)
	}
	return nil
}

// ValidateBackupName validates the name of a stored backup. Names are
// object keys and must never address a path outside the store.
func ValidateBackupName(name string) error {
	if !BackupNamePattern.MatchString(name) {
		return fmt.Errorf("invalid backup name: 1 to 128 letters, digits, '_', '.' or '-'")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("invalid backup name: must not contain '..'")
	}
	return nil
}

// ParseAmount converts a decimal amount into base units
func ParseAmount(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	if !amountPattern.MatchString(amount) {
		return nil, fmt.Errorf("invalid amount %q: at most %d decimal places", amount, AmountDecimals)
	}

	whole, frac, _ := strings.Cut(amount, ".")
	frac += strings.Repeat("0", AmountDecimals-len(frac))

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	return units, nil
}

// ValidateAmount validates a transfer amount
func ValidateAmount(amount string, maxUnits *big.Int) error {
	units, err := ParseAmount(amount)
	if err != nil {
		return err
	}

	if units.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	// Check against maximum value if specified
	if maxUnits != nil && units.Cmp(maxUnits) > 0 {
		return fmt.Errorf("amount exceeds maximum allowed: %s", amount)
	}

	return nil
}
