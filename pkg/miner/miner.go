package miner

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/screa/sfuel-miner/internal/config"
	"github.com/screa/sfuel-miner/internal/crypto"
	"github.com/screa/sfuel-miner/internal/logger"
	"github.com/screa/sfuel-miner/pkg/pow"
	"github.com/screa/sfuel-miner/pkg/types"
	"github.com/screa/sfuel-miner/pkg/worker"
)

// Option customizes a Miner
type Option func(*Miner)

// WithSource replaces the candidate source factory (default: crypto/rand)
func WithSource(f pow.SourceFactory) Option {
	return func(m *Miner) { m.newSource = f }
}

// WithYield replaces the scheduler yield (default: runtime.Gosched)
func WithYield(f func()) Option {
	return func(m *Miner) { m.yield = f }
}

// WithHash replaces the hash constructor (default: Keccak-256)
func WithHash(h pow.HashFunc) Option {
	return func(m *Miner) { m.hash = h }
}

// Miner runs fuel searches. It holds only configuration, so Mine may be
// called from several goroutines at once.
type Miner struct {
	config    *config.Config
	logger    *logger.Logger
	newSource pow.SourceFactory
	yield     func()
	hash      pow.HashFunc
}

// search is the state of one Mine call
type search struct {
	attempts int64
	start    time.Time
}

// NewMiner creates a new miner instance
func NewMiner(cfg *config.Config, log *logger.Logger, opts ...Option) *Miner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.YieldEvery <= 0 {
		cfg.YieldEvery = 5000
	}

	m := &Miner{
		config:    cfg,
		logger:    log,
		newSource: pow.NewCryptoSource,
		yield:     runtime.Gosched,
		hash:      crypto.NewKeccak256,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MineFor parses textual inputs and mines. Input errors are returned before
// any candidate is drawn.
func (m *Miner) MineFor(ctx context.Context, nonce, gas, from string) (*types.Outcome, error) {
	req, err := pow.NewRequest(nonce, gas, from)
	if err != nil {
		return nil, err
	}
	return m.Mine(ctx, req)
}

// Mine searches for a candidate whose external gas reaches req.RequestedGas.
// It returns types.ErrCancelled or types.ErrTimedOut (wrapped) when ctx or the
// configured timeout ends the search, and *types.RngUnavailableError when the
// candidate source fails.
func (m *Miner) Mine(ctx context.Context, req *types.MiningRequest) (*types.Outcome, error) {
	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	wc := &worker.Config{Hash: m.hash}
	wc.Target.Set(pow.DeriveTargetWith(m.hash, &req.Nonce, req.Address))
	wc.RequestedGas.Set(&req.RequestedGas)

	s := &search{}

	// Start periodic logging if verbose mode is enabled
	var logDone chan struct{}
	if m.config.Verbose && m.config.LogEvery() > 0 {
		logDone = make(chan struct{})
		defer close(logDone)
	}

	s.start = time.Now()
	if logDone != nil {
		go m.periodicLogger(s, logDone)
	}

	var (
		result *types.ProofResult
		err    error
	)
	if m.config.Workers == 1 {
		result, err = m.loop(ctx, worker.NewWorker(wc, m.newSource(), &s.attempts))
	} else {
		result, err = m.mineParallel(ctx, wc, s)
	}
	end := time.Now()

	attempts := atomic.LoadInt64(&s.attempts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, interrupted(ctx, attempts)
		}
		m.logger.Error().Err(err).Int64("attempts", attempts).Msg("search aborted")
		return nil, err
	}

	outcome := &types.Outcome{
		Elapsed:    end.Sub(s.start),
		Iterations: attempts,
	}
	outcome.Candidate.Set(&result.Candidate)
	outcome.ExternalGas.Set(&result.ExternalGas)

	m.logger.Debug().
		Str("address", req.Address.Hex()).
		Str("nonce", req.Nonce.Dec()).
		Str("gas", req.RequestedGas.Dec()).
		Int64("attempts", outcome.Iterations).
		Dur("elapsed", outcome.Elapsed).
		Msg("proof found")
	return outcome, nil
}

// loop is the cooperative search: before every batch of YieldEvery draws,
// including the first, it yields to the scheduler and checks ctx.
func (m *Miner) loop(ctx context.Context, w *worker.Worker) (*types.ProofResult, error) {
	for {
		m.yield()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, _, err := w.ProcessBatch(m.config.YieldEvery)
		if err != nil || result != nil {
			return result, err
		}
	}
}

// mineParallel runs one loop per worker; the first winner stops the rest
func (m *Miner) mineParallel(ctx context.Context, wc *worker.Config, s *search) (*types.ProofResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		winner   *types.ProofResult
		firstErr error
	)

	for i := 0; i < m.config.Workers; i++ {
		w := worker.NewWorker(wc, m.newSource(), &s.attempts)
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			result, err := m.loop(ctx, w)
			if result == nil && errors.Is(err, context.Canceled) {
				return
			}
			once.Do(func() {
				winner, firstErr = result, err
				cancel()
			})
			if err != nil {
				m.logger.Debug().Int("worker", workerID).Err(err).Msg("worker stopped")
			}
		}(i)
	}

	wg.Wait()

	if winner != nil || firstErr != nil {
		return winner, firstErr
	}
	// Every worker saw the caller's cancellation
	return nil, ctx.Err()
}

// periodicLogger logs mining progress at regular intervals
func (m *Miner) periodicLogger(s *search, done <-chan struct{}) {
	ticker := time.NewTicker(m.config.LogEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			attempts := atomic.LoadInt64(&s.attempts)
			elapsed := time.Since(s.start)

			// Calculate rate safely
			rate := 0.0
			if elapsed.Seconds() > 0 {
				rate = float64(attempts) / elapsed.Seconds()
			}

			m.logger.Info().
				Int64("attempts", attempts).
				Float64("rate", rate).
				Msg("mining progress")
		case <-done:
			return
		}
	}
}

func interrupted(ctx context.Context, attempts int64) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrapf(types.ErrTimedOut, "after %d attempts", attempts)
	}
	return errors.Wrapf(types.ErrCancelled, "after %d attempts", attempts)
}
