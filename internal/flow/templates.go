package flow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/better-wallet/multikey/pkg/types"
)

// Argument is a JSON-Cadence encoded value
type Argument struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// String returns a String argument
func String(v string) Argument { return Argument{Type: "String", Value: v} }

// UInt8 returns a UInt8 argument
func UInt8(v uint8) Argument { return Argument{Type: "UInt8", Value: strconv.Itoa(int(v))} }

// Int returns an Int argument
func Int(v int) Argument { return Argument{Type: "Int", Value: strconv.Itoa(v)} }

// UFix64 returns a UFix64 argument from a decimal string
func UFix64(v string) (Argument, error) {
	s, err := FormatUFix64(v)
	if err != nil {
		return Argument{}, err
	}
	return Argument{Type: "UFix64", Value: s}, nil
}

// FormatUFix64 normalises a non-negative decimal to eight fractional digits
func FormatUFix64(v string) (string, error) {
	v = strings.TrimSpace(v)
	whole, frac, _ := strings.Cut(v, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 8 {
		return "", fmt.Errorf("ufix64 %q has more than 8 fractional digits", v)
	}
	if _, err := strconv.ParseUint(whole, 10, 64); err != nil {
		return "", fmt.Errorf("invalid ufix64 %q", v)
	}
	if frac != "" {
		if _, err := strconv.ParseUint(frac, 10, 64); err != nil {
			return "", fmt.Errorf("invalid ufix64 %q", v)
		}
	}
	return whole + "." + frac + strings.Repeat("0", 8-len(frac)), nil
}

// Template is a transaction script with its arguments
type Template struct {
	Type      types.TxType
	Script    string
	Arguments []Argument
	GasLimit  uint64
}

// Resolve substitutes contract import placeholders for network
func (t Template) Resolve(network string) ([]byte, error) {
	addrs, ok := contractAddresses[strings.ToLower(network)]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	script := t.Script
	for placeholder, addr := range addrs {
		script = strings.ReplaceAll(script, placeholder, addr)
	}
	return []byte(script), nil
}

// EncodeArguments returns the JSON-Cadence encoding of each argument
func (t Template) EncodeArguments() ([][]byte, error) {
	out := make([][]byte, len(t.Arguments))
	for i, a := range t.Arguments {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

var contractAddresses = map[string]map[string]string{
	"mainnet": {
		"0xFungibleToken": "0xf233dcee88fe0abe",
		"0xFlowToken":     "0x1654653399040a61",
		"0xEVM":           "0xe467b9dd11fa00df",
	},
	"testnet": {
		"0xFungibleToken": "0x9a0766d93b6608b7",
		"0xFlowToken":     "0x7e60df042a9c0868",
		"0xEVM":           "0x8c5303eaa26202d6",
	},
	"previewnet": {
		"0xFungibleToken": "0xa0225e7000ac82a9",
		"0xFlowToken":     "0x4445e7ad11568276",
		"0xEVM":           "0xb6763b4399a888c8",
	},
	"emulator": {
		"0xFungibleToken": "0xee82856bf20e2aa6",
		"0xFlowToken":     "0x0ae53cb6e3f42a79",
		"0xEVM":           "0xf8d6e0586b0a20c7",
	},
}

const addPublicKeyScript = `transaction(publicKey: String, signatureAlgorithm: UInt8, hashAlgorithm: UInt8, weight: UFix64) {
    prepare(signer: auth(AddKey) &Account) {
        let key = PublicKey(
            publicKey: publicKey.decodeHex(),
            signatureAlgorithm: SignatureAlgorithm(rawValue: signatureAlgorithm)!
        )
        signer.keys.add(
            publicKey: key,
            hashAlgorithm: HashAlgorithm(rawValue: hashAlgorithm)!,
            weight: weight
        )
    }
}`

const revokeKeyScript = `transaction(keyIndex: Int) {
    prepare(signer: auth(RevokeKey) &Account) {
        if signer.keys.revoke(keyIndex: keyIndex) == nil {
            panic("no key at index ".concat(keyIndex.toString()))
        }
    }
}`

const fundEVMScript = `import FungibleToken from 0xFungibleToken
import FlowToken from 0xFlowToken
import EVM from 0xEVM

transaction(amount: UFix64) {
    let sentVault: @FlowToken.Vault
    let coa: &EVM.CadenceOwnedAccount

    prepare(signer: auth(BorrowValue) &Account) {
        let vault = signer.storage.borrow<auth(FungibleToken.Withdraw) &FlowToken.Vault>(from: /storage/flowTokenVault)
            ?? panic("missing flow token vault")
        self.sentVault <- vault.withdraw(amount: amount) as! @FlowToken.Vault
        self.coa = signer.storage.borrow<&EVM.CadenceOwnedAccount>(from: /storage/evm)
            ?? panic("missing evm account")
    }

    execute {
        self.coa.deposit(from: <-self.sentVault)
    }
}`

const withdrawEVMScript = `import FungibleToken from 0xFungibleToken
import FlowToken from 0xFlowToken
import EVM from 0xEVM

transaction(amount: UFix64) {
    prepare(signer: auth(BorrowValue) &Account) {
        let coa = signer.storage.borrow<auth(EVM.Withdraw) &EVM.CadenceOwnedAccount>(from: /storage/evm)
            ?? panic("missing evm account")
        let balance = EVM.Balance(attoflow: 0)
        balance.setFLOW(flow: amount)
        let vault <- coa.withdraw(balance: balance)
        let receiver = signer.storage.borrow<&{FungibleToken.Receiver}>(from: /storage/flowTokenVault)
            ?? panic("missing flow token vault")
        receiver.deposit(from: <-vault)
    }
}`

// cadence raw values differ from the account key encoding
func cadenceSignAlgo(a types.SignatureAlgorithm) (uint8, error) {
	switch a {
	case types.SignatureAlgorithmECDSAP256:
		return 1, nil
	case types.SignatureAlgorithmSecp256k1:
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported signature algorithm %s", a)
	}
}

func cadenceHashAlgo(h types.HashAlgorithm) (uint8, error) {
	switch h {
	case types.HashAlgorithmSHA2256:
		return 1, nil
	case types.HashAlgorithmSHA3256:
		return 3, nil
	default:
		return 0, fmt.Errorf("unsupported hash algorithm %s", h)
	}
}

// AddPublicKey registers pubKeyHex on the signing account at weight
func AddPublicKey(pubKeyHex string, signAlgo types.SignatureAlgorithm, hashAlgo types.HashAlgorithm, weight int) (Template, error) {
	sa, err := cadenceSignAlgo(signAlgo)
	if err != nil {
		return Template{}, err
	}
	ha, err := cadenceHashAlgo(hashAlgo)
	if err != nil {
		return Template{}, err
	}
	if weight <= 0 || weight > types.FullWeight {
		return Template{}, fmt.Errorf("weight %d out of range", weight)
	}
	w, err := UFix64(strconv.Itoa(weight))
	if err != nil {
		return Template{}, err
	}
	return Template{
		Type:      types.TxTypeAddPublicKey,
		Script:    addPublicKeyScript,
		Arguments: []Argument{String(strings.TrimPrefix(pubKeyHex, "0x")), UInt8(sa), UInt8(ha), w},
		GasLimit:  DefaultGasLimit,
	}, nil
}

// RevokeKey revokes the key at index on the signing account
func RevokeKey(index int) (Template, error) {
	if index < 0 {
		return Template{}, fmt.Errorf("invalid key index %d", index)
	}
	return Template{
		Type:      types.TxTypeRevokeKey,
		Script:    revokeKeyScript,
		Arguments: []Argument{Int(index)},
		GasLimit:  DefaultGasLimit,
	}, nil
}

// FundEVM moves amount from the account vault to its EVM sub-account
func FundEVM(amount string) (Template, error) {
	a, err := UFix64(amount)
	if err != nil {
		return Template{}, err
	}
	return Template{Type: types.TxTypeFundEVM, Script: fundEVMScript, Arguments: []Argument{a}, GasLimit: DefaultGasLimit}, nil
}

// WithdrawEVM moves amount from the EVM sub-account back to the account vault
func WithdrawEVM(amount string) (Template, error) {
	a, err := UFix64(amount)
	if err != nil {
		return Template{}, err
	}
	return Template{Type: types.TxTypeWithdrawEVM, Script: withdrawEVMScript, Arguments: []Argument{a}, GasLimit: DefaultGasLimit}, nil
}
