package miner

import (
	"context"
	"errors"
	"hash"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screa/sfuel-miner/internal/config"
	"github.com/screa/sfuel-miner/internal/crypto"
	"github.com/screa/sfuel-miner/internal/logger"
	"github.com/screa/sfuel-miner/pkg/pow"
	"github.com/screa/sfuel-miner/pkg/types"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// countingSource wraps a seeded stream and counts draws across goroutines
type countingSource struct {
	mu    sync.Mutex
	inner *pow.ReaderSource
	draws *int64
}

func (s *countingSource) Generate(z *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	atomic.AddInt64(s.draws, 1)
	return s.inner.Generate(z)
}

func seededFactory(draws *int64) pow.SourceFactory {
	var seed atomic.Uint64
	return func() pow.CandidateSource {
		n := seed.Add(1)
		return &countingSource{
			inner: pow.NewReaderSource(rand.NewChaCha8([32]byte{byte(n)})),
			draws: draws,
		}
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Timeout = 0
	return cfg
}

func request(t *testing.T, nonce, gas uint64) *types.MiningRequest {
	t.Helper()
	req := &types.MiningRequest{Address: common.Address{}}
	req.Nonce.SetUint64(nonce)
	req.RequestedGas.SetUint64(gas)
	return req
}

func TestNewMiner(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 0
	cfg.YieldEvery = 0
	miner := NewMiner(cfg, logger.Nop())
	require.NotNil(t, miner)

	assert.Same(t, cfg, miner.config)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 5000, cfg.YieldEvery)
}

func TestMineEndToEnd(t *testing.T) {
	var draws int64
	miner := NewMiner(testConfig(), logger.Nop(), WithSource(seededFactory(&draws)))

	outcome, err := miner.MineFor(context.Background(), "0", "1", zeroAddress)
	require.NoError(t, err)

	target := pow.DeriveTarget(uint256.NewInt(0), common.Address{})
	gas, ok := pow.Evaluate(target, &outcome.Candidate)
	require.True(t, ok)
	assert.False(t, gas.Lt(uint256.NewInt(1)))
	assert.True(t, gas.Eq(&outcome.ExternalGas))

	assert.GreaterOrEqual(t, outcome.Elapsed, time.Duration(0), "elapsed must be end minus start")
	assert.LessOrEqual(t, outcome.Iterations, int64(10))
	assert.Equal(t, draws, outcome.Iterations)
	assert.Equal(t, outcome.Candidate.ToBig(), outcome.GasPrice())
}

func TestMineWithCryptoSource(t *testing.T) {
	miner := NewMiner(testConfig(), logger.Nop())

	outcome, err := miner.Mine(context.Background(), request(t, 5, 256))
	require.NoError(t, err)

	target := pow.DeriveTarget(uint256.NewInt(5), common.Address{})
	gas, ok := pow.Evaluate(target, &outcome.Candidate)
	require.True(t, ok)
	assert.False(t, gas.Lt(uint256.NewInt(256)))
	assert.GreaterOrEqual(t, outcome.Elapsed, time.Duration(0))
}

func TestMineInvalidAddressNeverDraws(t *testing.T) {
	var draws int64
	factoryCalls := 0
	factory := func() pow.CandidateSource {
		factoryCalls++
		return seededFactory(&draws)()
	}
	hashCalls := 0
	newHash := func() hash.Hash {
		hashCalls++
		return crypto.NewKeccak256()
	}
	miner := NewMiner(testConfig(), logger.Nop(), WithSource(factory), WithHash(newHash))

	_, err := miner.MineFor(context.Background(), "0", "1", "0xnot-an-address")

	var addrErr *types.InvalidAddressError
	require.ErrorAs(t, err, &addrErr)
	assert.Zero(t, factoryCalls)
	assert.Zero(t, draws)
	assert.Zero(t, hashCalls)
}

func TestMineYieldCadence(t *testing.T) {
	var draws, yields int64
	cfg := testConfig()
	cfg.YieldEvery = 100

	miner := NewMiner(cfg, logger.Nop(),
		WithSource(seededFactory(&draws)),
		WithYield(func() { atomic.AddInt64(&yields, 1) }),
	)

	// roughly one win in 4096 draws, so many batches run
	outcome, err := miner.Mine(context.Background(), request(t, 1, 4096))
	require.NoError(t, err)

	assert.Equal(t, draws, outcome.Iterations)
	assert.GreaterOrEqual(t, yields, int64(1), "first yield happens before any work")
	assert.GreaterOrEqual(t, yields*int64(cfg.YieldEvery), draws, "at least one yield per batch of draws")
}

func TestMineYieldCadenceDefault(t *testing.T) {
	tests := []struct {
		name        string
		cancelAfter int
	}{
		{name: "second yield", cancelAfter: 2},
		{name: "fourth yield", cancelAfter: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var draws int64
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cfg := testConfig()
			require.Equal(t, 5000, cfg.YieldEvery)

			yields := 0
			miner := NewMiner(cfg, logger.Nop(),
				WithSource(seededFactory(&draws)),
				WithYield(func() {
					yields++
					if yields == tt.cancelAfter {
						cancel()
					}
				}),
			)

			req := &types.MiningRequest{}
			req.RequestedGas.Set(pow.MaxUint256())

			_, err := miner.Mine(ctx, req)
			require.ErrorIs(t, err, types.ErrCancelled)
			assert.Equal(t, int64((tt.cancelAfter-1)*5000), draws)
		})
	}
}

func TestMineYieldsBeforeFirstDraw(t *testing.T) {
	var draws int64
	var drawsAtFirstYield int64 = -1
	miner := NewMiner(testConfig(), logger.Nop(),
		WithSource(seededFactory(&draws)),
		WithYield(func() {
			if drawsAtFirstYield < 0 {
				drawsAtFirstYield = atomic.LoadInt64(&draws)
			}
		}),
	)

	_, err := miner.Mine(context.Background(), request(t, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(0), drawsAtFirstYield)
}

func TestMineRandomSourceFailure(t *testing.T) {
	miner := NewMiner(testConfig(), logger.Nop(), WithSource(func() pow.CandidateSource {
		return pow.NewReaderSource(brokenReader{})
	}))

	outcome, err := miner.Mine(context.Background(), request(t, 0, 1))
	assert.Nil(t, outcome)

	var rngErr *types.RngUnavailableError
	require.ErrorAs(t, err, &rngErr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, types.ErrCancelled)
}

func TestMineCancelled(t *testing.T) {
	var draws int64
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	miner := NewMiner(testConfig(), logger.Nop(), WithSource(seededFactory(&draws)))
	outcome, err := miner.Mine(ctx, request(t, 0, 1))

	assert.Nil(t, outcome)
	require.ErrorIs(t, err, types.ErrCancelled)
	assert.Zero(t, draws, "cancellation is checked before the first draw")
}

func TestMineCancelledMidSearch(t *testing.T) {
	var draws int64
	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig()
	cfg.YieldEvery = 50

	yields := 0
	miner := NewMiner(cfg, logger.Nop(),
		WithSource(seededFactory(&draws)),
		WithYield(func() {
			yields++
			if yields == 3 {
				cancel()
			}
		}),
	)

	// unreachable threshold
	req := &types.MiningRequest{}
	req.RequestedGas.Set(pow.MaxUint256())

	_, err := miner.Mine(ctx, req)
	require.ErrorIs(t, err, types.ErrCancelled)
	assert.Equal(t, int64(100), draws)
}

func TestMineTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.YieldEvery = 64
	miner := NewMiner(cfg, logger.Nop())

	req := &types.MiningRequest{}
	req.RequestedGas.Set(pow.MaxUint256())

	start := time.Now()
	_, err := miner.Mine(context.Background(), req)
	require.ErrorIs(t, err, types.ErrTimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMineParallel(t *testing.T) {
	var draws int64
	cfg := testConfig()
	cfg.Workers = 4
	cfg.YieldEvery = 256

	miner := NewMiner(cfg, logger.Nop(), WithSource(seededFactory(&draws)))
	outcome, err := miner.Mine(context.Background(), request(t, 9, 2048))
	require.NoError(t, err)

	target := pow.DeriveTarget(uint256.NewInt(9), common.Address{})
	gas, ok := pow.Evaluate(target, &outcome.Candidate)
	require.True(t, ok)
	assert.False(t, gas.Lt(uint256.NewInt(2048)))
	assert.Equal(t, atomic.LoadInt64(&draws), outcome.Iterations)
}

func TestMineParallelCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 3
	cfg.YieldEvery = 32

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	miner := NewMiner(cfg, logger.Nop())
	req := &types.MiningRequest{}
	req.RequestedGas.Set(pow.MaxUint256())

	_, err := miner.Mine(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTimedOut) || errors.Is(err, types.ErrCancelled), "got %v", err)
}

func TestMineParallelSourceFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 2
	miner := NewMiner(cfg, logger.Nop(), WithSource(func() pow.CandidateSource {
		return pow.NewReaderSource(brokenReader{})
	}))

	_, err := miner.Mine(context.Background(), request(t, 0, 1))
	var rngErr *types.RngUnavailableError
	require.ErrorAs(t, err, &rngErr)
}

func TestMineConcurrentCalls(t *testing.T) {
	miner := NewMiner(testConfig(), logger.Nop())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = miner.Mine(context.Background(), request(t, uint64(i), 64))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "search %d", i)
	}
}
