package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MiningRequest is the immutable input to one search
type MiningRequest struct {
	RequestedGas uint256.Int
	Address      common.Address
	Nonce        uint256.Int
}

// Target is the per-request difficulty anchor derived from address and nonce
type Target = uint256.Int

// ProofResult pairs a candidate with the external gas it implies
type ProofResult struct {
	Candidate   uint256.Int
	ExternalGas uint256.Int
}

// Outcome represents a successful search
type Outcome struct {
	Candidate   uint256.Int
	ExternalGas uint256.Int
	Elapsed     time.Duration
	Iterations  int64
}

// GasPrice returns the winning candidate as the transaction gas price
func (o *Outcome) GasPrice() *big.Int {
	return o.Candidate.ToBig()
}

// Rate returns attempts per second, zero when no time elapsed
func (o *Outcome) Rate() float64 {
	if o.Elapsed.Seconds() <= 0 {
		return 0
	}
	return float64(o.Iterations) / o.Elapsed.Seconds()
}

// ClaimReceipt records a submitted faucet transaction
type ClaimReceipt struct {
	TxHash     string        `json:"txHash"`
	Recipient  string        `json:"recipient"`
	Sender     string        `json:"sender"`
	Nonce      uint64        `json:"nonce"`
	GasPrice   string        `json:"gasPrice"`
	Iterations int64         `json:"iterations"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}
