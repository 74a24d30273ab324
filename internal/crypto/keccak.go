package crypto

import (
	"encoding/hex"
	"hash"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/screa/sfuel-miner/pkg/types"
)

const (
	// WordLen is the width of every hashed integer (nonce, candidate)
	WordLen = 32

	// AddressHexLen is the number of hex characters in an address without 0x
	AddressHexLen = 2 * common.AddressLength
)

// NewKeccak256 returns a fresh legacy Keccak-256 hasher
func NewKeccak256() hash.Hash {
	return sha3.NewLegacyKeccak256()
}

// Keccak256 calculates the keccak256 hash of the concatenated inputs
func Keccak256(data ...[]byte) []byte {
	h := NewKeccak256()
	for _, b := range data {
		_, _ = h.Write(b)
	}
	return h.Sum(nil)
}

// Keccak256Into hashes input with a reused hasher and writes the digest into out.
// hashBuf must have capacity for 32 bytes so Sum does not allocate.
func Keccak256Into(hasher hash.Hash, input, hashBuf []byte, out *uint256.Int) {
	hasher.Reset()
	hasher.Write(input)
	out.SetBytes32(hasher.Sum(hashBuf[:0]))
}

// Keccak256Word hashes data and interprets the digest as a big-endian 256-bit integer
func Keccak256Word(data []byte) *uint256.Int {
	return new(uint256.Int).SetBytes32(Keccak256(data))
}

// ParseAddress decodes a hex address (with or without 0x) into 20 raw bytes.
// Mixed-case input must carry a valid EIP-55 checksum; all-lower and all-upper
// input is accepted as is. Malformed input fails with *types.InvalidAddressError.
func ParseAddress(addr string) (common.Address, error) {
	h := trimHexPrefix(strings.TrimSpace(addr))
	if len(h) != AddressHexLen {
		return common.Address{}, &types.InvalidAddressError{
			Input:  addr,
			Reason: "got " + strconv.Itoa(len(h)) + " hex chars, want 40",
		}
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return common.Address{}, &types.InvalidAddressError{Input: addr, Reason: "not hex"}
	}
	a := common.BytesToAddress(b)
	if isMixedCase(h) && a.Hex()[2:] != h {
		return common.Address{}, &types.InvalidAddressError{Input: addr, Reason: "bad checksum"}
	}
	return a, nil
}

// ParseQuantity parses an unsigned integer given as 0x-prefixed hex or decimal
func ParseQuantity(s string) (*uint256.Int, error) {
	q := strings.TrimSpace(s)
	if q == "" {
		return nil, errors.Wrap(types.ErrInvalidQuantity, "empty")
	}

	base := 10
	if hasHexPrefix(q) {
		base = 16
		q = q[2:]
		if q == "" {
			return nil, errors.Wrapf(types.ErrInvalidQuantity, "%q has no digits", s)
		}
	}
	// big.Int would otherwise accept a sign
	if q[0] == '+' || q[0] == '-' {
		return nil, errors.Wrapf(types.ErrInvalidQuantity, "%q is signed", s)
	}

	b, ok := new(big.Int).SetString(q, base)
	if !ok {
		return nil, errors.Wrapf(types.ErrInvalidQuantity, "%q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, errors.Wrapf(types.ErrInvalidQuantity, "%q exceeds 256 bits", s)
	}
	return v, nil
}

// ---- helpers ----

func hasHexPrefix(s string) bool {
	return len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X")
}

func isMixedCase(h string) bool {
	return strings.ToLower(h) != h && strings.ToUpper(h) != h
}

func trimHexPrefix(s string) string {
	if hasHexPrefix(s) {
		return s[2:]
	}
	return s
}
