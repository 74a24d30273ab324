// Package pow implements the fuel proof-of-work primitives: the per-request
// target, the external gas evaluation of a candidate and the candidate source.
//
// A candidate wins when
//
//	floor((2^256-1) / (target XOR keccak256(candidate))) >= requestedGas
//
// where target = keccak256(nonce) XOR keccak256(address). Integers are hashed
// as 32-byte big-endian words and the address as its 20 raw bytes.
package pow

import (
	"hash"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/screa/sfuel-miner/internal/crypto"
	"github.com/screa/sfuel-miner/pkg/types"
)

// HashFunc constructs the hasher used for targets and candidates
type HashFunc func() hash.Hash

var maxUint256 = new(uint256.Int).SetAllOne()

// MaxUint256 returns 2^256-1, the evaluation dividend
func MaxUint256() *uint256.Int {
	return new(uint256.Int).Set(maxUint256)
}

// DeriveTarget combines nonce and address into the search target using Keccak-256
func DeriveTarget(nonce *uint256.Int, addr common.Address) *types.Target {
	return DeriveTargetWith(crypto.NewKeccak256, nonce, addr)
}

// DeriveTargetWith is DeriveTarget with an explicit hash constructor
func DeriveTargetWith(newHash HashFunc, nonce *uint256.Int, addr common.Address) *types.Target {
	word := nonce.Bytes32()
	nonceHash := hashWord(newHash(), word[:])
	addressHash := hashWord(newHash(), addr.Bytes())
	return nonceHash.Xor(nonceHash, addressHash)
}

// Evaluate returns the external gas implied by candidate for target.
// ok is false for a degenerate draw, where the XOR of target and the
// candidate hash is zero; such a candidate never wins.
func Evaluate(target *types.Target, candidate *uint256.Int) (gas *uint256.Int, ok bool) {
	gas = new(uint256.Int)
	ok = NewEvaluator(target, nil).Evaluate(candidate, gas)
	return gas, ok
}

// Evaluator computes external gas for one target, reusing its hasher and
// buffers between calls. It is not safe for concurrent use.
type Evaluator struct {
	target  uint256.Int
	hasher  hash.Hash
	input   [crypto.WordLen]byte
	hashBuf [crypto.WordLen]byte
	result  uint256.Int
}

// NewEvaluator creates an evaluator for target. A nil newHash selects Keccak-256.
func NewEvaluator(target *types.Target, newHash HashFunc) *Evaluator {
	if newHash == nil {
		newHash = crypto.NewKeccak256
	}
	e := &Evaluator{hasher: newHash()}
	e.target.Set(target)
	return e
}

// Evaluate writes the external gas for candidate into gas
func (e *Evaluator) Evaluate(candidate, gas *uint256.Int) bool {
	e.input = candidate.Bytes32()
	crypto.Keccak256Into(e.hasher, e.input[:], e.hashBuf[:], &e.result)
	e.result.Xor(&e.result, &e.target)
	if e.result.IsZero() {
		return false
	}
	gas.Div(maxUint256, &e.result)
	return true
}

// Meets reports whether candidate yields at least required gas.
// The computed gas is written into gas for the caller to keep.
func (e *Evaluator) Meets(candidate, required, gas *uint256.Int) bool {
	if !e.Evaluate(candidate, gas) {
		return false
	}
	return !gas.Lt(required)
}

func hashWord(h hash.Hash, data []byte) *uint256.Int {
	_, _ = h.Write(data)
	return new(uint256.Int).SetBytes32(h.Sum(nil))
}
