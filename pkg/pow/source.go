package pow

import (
	"crypto/rand"
	"io"

	"github.com/holiman/uint256"

	"github.com/screa/sfuel-miner/internal/crypto"
	"github.com/screa/sfuel-miner/pkg/types"
)

// CandidateSource draws fresh 256-bit candidates
type CandidateSource interface {
	// Generate overwrites z with a new candidate. Errors are fatal to the search.
	Generate(z *uint256.Int) error
}

// SourceFactory returns an independent source, one per worker
type SourceFactory func() CandidateSource

// ReaderSource draws candidates as 32 bytes read from an io.Reader.
// Each instance owns its buffer, so workers must not share one.
type ReaderSource struct {
	r   io.Reader
	buf [crypto.WordLen]byte
}

// NewCryptoSource returns a source backed by the operating system CSPRNG
func NewCryptoSource() CandidateSource {
	return NewReaderSource(rand.Reader)
}

// NewReaderSource returns a source reading from r; tests pass a seeded stream
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

// Generate fills z from the underlying reader
func (s *ReaderSource) Generate(z *uint256.Int) error {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return &types.RngUnavailableError{Err: err}
	}
	z.SetBytes32(s.buf[:])
	return nil
}
