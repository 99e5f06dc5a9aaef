package model

import "time"

// TxState 交易提交状态机
type TxState string

const (
	TxBuilding  TxState = "BUILDING"
	TxSigned    TxState = "SIGNED"
	TxSubmitted TxState = "SUBMITTED"
	TxConfirmed TxState = "CONFIRMED"
	TxDropped   TxState = "DROPPED"
	TxFailed    TxState = "FAILED"
)

func (s TxState) Terminal() bool {
	return s == TxConfirmed || s == TxFailed
}

// NonceRecord is the per-address allocation record. Gaps are only reported
// within [Base, Next); Base moves forward on every resync with the chain.
type NonceRecord struct {
	Address string   `json:"address"`
	Base    uint64   `json:"base"`
	Next    uint64   `json:"next_nonce"`
	Used    []uint64 `json:"used"`
}

// TxRecord is one journaled state transition of a submission.
type TxRecord struct {
	ID          string    `json:"id"`      // submission id (UUID), shared by all attempts
	Address     string    `json:"address"` // signing address
	Nonce       uint64    `json:"nonce"`
	Attempt     int       `json:"attempt"`
	State       TxState   `json:"state"`
	Hash        string    `json:"tx_hash,omitempty"`
	MaxFeeWei   string    `json:"max_fee_wei,omitempty"`
	TipWei      string    `json:"tip_wei,omitempty"`
	GasLimit    uint64    `json:"gas_limit,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
