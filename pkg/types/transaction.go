package types

import "time"

// TxStatus is the chain status of a submitted transaction.
type TxStatus int

const (
	TxStatusUnknown TxStatus = iota
	TxStatusPending
	TxStatusFinalized
	TxStatusExecuted
	TxStatusSealed
	TxStatusExpired
	TxStatusError
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "PENDING"
	case TxStatusFinalized:
		return "FINALIZED"
	case TxStatusExecuted:
		return "EXECUTED"
	case TxStatusSealed:
		return "SEALED"
	case TxStatusExpired:
		return "EXPIRED"
	case TxStatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseTxStatus maps a status name back to its value.
func ParseTxStatus(s string) TxStatus {
	for st := TxStatusPending; st <= TxStatusError; st++ {
		if st.String() == s {
			return st
		}
	}
	return TxStatusUnknown
}

// Rank orders statuses along the status lattice. EXPIRED and ERROR share the
// top rank: both are terminal alternatives reachable from PENDING.
func (s TxStatus) Rank() int {
	switch s {
	case TxStatusPending:
		return 1
	case TxStatusFinalized:
		return 2
	case TxStatusExecuted:
		return 3
	case TxStatusSealed, TxStatusExpired, TxStatusError:
		return 4
	default:
		return 0
	}
}

// IsTerminal reports whether no further status change is expected.
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusSealed || s == TxStatusExpired || s == TxStatusError
}

// IsExecuteFinished is the success predicate: the transaction's effects are
// committed.
func (s TxStatus) IsExecuteFinished() bool {
	return s == TxStatusExecuted || s == TxStatusSealed
}

// IsFailed reports a terminal failure.
func (s TxStatus) IsFailed() bool {
	return s == TxStatusExpired || s == TxStatusError
}

// TxType tags what a ledger entry was submitted for.
type TxType string

const (
	TxTypeAddPublicKey TxType = "add_public_key"
	TxTypeRevokeKey    TxType = "revoke_key"
	TxTypeFundEVM      TxType = "fund_evm"
	TxTypeWithdrawEVM  TxType = "withdraw_evm"
)

// TransactionRecord is one entry of the transaction ledger. ID is assigned by
// the chain and never changes; Status only moves up the lattice.
type TransactionRecord struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	Status       TxStatus  `json:"status"`
	Type         TxType    `json:"type"`
	Data         string    `json:"data,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
