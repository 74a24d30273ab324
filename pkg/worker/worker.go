package worker

import (
	"sync/atomic"

	"github.com/holiman/uint256"

	"github.com/screa/sfuel-miner/pkg/pow"
	"github.com/screa/sfuel-miner/pkg/types"
)

// Config contains the per-search values shared by every worker
type Config struct {
	Target       types.Target
	RequestedGas uint256.Int
	Hash         pow.HashFunc
}

// Worker draws and evaluates candidates for a single goroutine
type Worker struct {
	config    *Config
	source    pow.CandidateSource
	evaluator *pow.Evaluator
	attempts  *int64

	// Pre-allocated for the hot path
	candidate uint256.Int
	gas       uint256.Int
}

// NewWorker creates a new worker instance. attempts is shared with the
// coordinator and updated atomically.
func NewWorker(config *Config, source pow.CandidateSource, attempts *int64) *Worker {
	return &Worker{
		config:    config,
		source:    source,
		evaluator: pow.NewEvaluator(&config.Target, config.Hash),
		attempts:  attempts,
	}
}

// Attempt draws one candidate and reports whether it wins
func (w *Worker) Attempt() (*types.ProofResult, error) {
	if err := w.source.Generate(&w.candidate); err != nil {
		return nil, err
	}
	atomic.AddInt64(w.attempts, 1)

	if !w.evaluator.Meets(&w.candidate, &w.config.RequestedGas, &w.gas) {
		return nil, nil
	}
	result := &types.ProofResult{}
	result.Candidate.Set(&w.candidate)
	result.ExternalGas.Set(&w.gas)
	return result, nil
}

// ProcessBatch runs up to batchSize attempts and returns the first winner.
// done is the number of draws made, including the winning one.
func (w *Worker) ProcessBatch(batchSize int) (result *types.ProofResult, done int, err error) {
	for done < batchSize {
		result, err = w.Attempt()
		if err != nil {
			return nil, done, err
		}
		done++
		if result != nil {
			return result, done, nil
		}
	}
	return nil, done, nil
}
