// Package faucet turns a mined proof into an sFUEL claim: it builds the payer
// contract call, signs it with a throwaway (or configured) key using the mined
// candidate as gas price and submits it to the ledger node.
package faucet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/txpool"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/screa/sfuel-miner/internal/config"
	"github.com/screa/sfuel-miner/internal/crypto"
	"github.com/screa/sfuel-miner/internal/logger"
	"github.com/screa/sfuel-miner/pkg/types"
)

// PayerSelector is the 4-byte selector of the payer contract's pay(address)
var PayerSelector = []byte{0x0c, 0x11, 0xde, 0xdd}

// ChainClient is the subset of ethclient.Client the faucet needs
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// Miner is the proof-of-work search the claimer delegates to
type Miner interface {
	Mine(ctx context.Context, req *types.MiningRequest) (*types.Outcome, error)
}

// Claimer submits fuel claims
type Claimer struct {
	client       ChainClient
	miner        Miner
	logger       *logger.Logger
	payer        common.Address
	gasLimit     uint64
	requestedGas uint64
	key          *ecdsa.PrivateKey
}

// NewClaimer creates a claimer from configuration. When cfg.PrivateKey is
// empty every claim uses a freshly generated key.
func NewClaimer(cfg *config.Config, client ChainClient, miner Miner, log *logger.Logger) (*Claimer, error) {
	payer, err := crypto.ParseAddress(cfg.PayerAddress)
	if err != nil {
		return nil, errors.Wrap(err, "payer address")
	}

	c := &Claimer{
		client:       client,
		miner:        miner,
		logger:       log,
		payer:        payer,
		gasLimit:     cfg.GasLimit,
		requestedGas: cfg.RequestedGas,
	}

	if cfg.PrivateKey != "" {
		key, err := ethcrypto.HexToECDSA(trimHexPrefix(cfg.PrivateKey))
		if err != nil {
			return nil, errors.Wrap(err, "invalid private key")
		}
		c.key = key
	}
	return c, nil
}

// CallData encodes pay(recipient): selector followed by the 32-byte left-padded address
func CallData(recipient common.Address) []byte {
	data := make([]byte, 0, len(PayerSelector)+32)
	data = append(data, PayerSelector...)
	return append(data, common.LeftPadBytes(recipient.Bytes(), 32)...)
}

// Claim mines a proof for a sender account and submits the payer call that
// grants fuel to recipient.
func (c *Claimer) Claim(ctx context.Context, recipient string) (*types.ClaimReceipt, error) {
	to, err := crypto.ParseAddress(recipient)
	if err != nil {
		return nil, err
	}

	key, err := c.signingKey()
	if err != nil {
		return nil, err
	}
	from := ethcrypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch nonce")
	}
	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "unable to fetch chain id")
	}

	req := &types.MiningRequest{Address: from}
	req.Nonce.SetUint64(nonce)
	req.RequestedGas.SetUint64(c.requestedGas)

	c.logger.Info().
		Str("sender", from.Hex()).
		Str("recipient", to.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", c.requestedGas).
		Msg("mining fuel proof")

	outcome, err := c.miner.Mine(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "mining failed")
	}

	tx, err := c.buildTx(key, chainID, nonce, &outcome.Candidate, CallData(to))
	if err != nil {
		return nil, err
	}
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		if !alreadyKnown(err) {
			return nil, errors.Wrap(err, "unable to submit transaction")
		}
		// a retried submission of a transaction the node already holds
		c.logger.Warn().Err(err).Str("tx", tx.Hash().Hex()).Msg("transaction already in pool")
	}

	receipt := &types.ClaimReceipt{
		TxHash:     tx.Hash().Hex(),
		Recipient:  to.Hex(),
		Sender:     from.Hex(),
		Nonce:      nonce,
		GasPrice:   outcome.Candidate.Dec(),
		Iterations: outcome.Iterations,
		Duration:   outcome.Elapsed,
		Timestamp:  time.Now().UTC(),
	}

	c.logger.Info().
		Str("tx", receipt.TxHash).
		Int64("attempts", outcome.Iterations).
		Dur("elapsed", outcome.Elapsed).
		Msg("fuel claim submitted")
	return receipt, nil
}

func (c *Claimer) buildTx(key *ecdsa.PrivateKey, chainID *big.Int, nonce uint64, gasPrice *uint256.Int, data []byte) (*ethtypes.Transaction, error) {
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &c.payer,
		Gas:      c.gasLimit,
		GasPrice: gasPrice.ToBig(),
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(chainID), key)
	if err != nil {
		return nil, errors.Wrap(err, "unable to sign transaction")
	}
	return signed, nil
}

// alreadyKnown reports whether the node rejected tx as a duplicate. Errors
// arrive as JSON-RPC messages, so the match is on text.
func alreadyKnown(err error) bool {
	return strings.Contains(err.Error(), txpool.ErrAlreadyKnown.Error())
}

func (c *Claimer) signingKey() (*ecdsa.PrivateKey, error) {
	if c.key != nil {
		return c.key, nil
	}
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, &types.RngUnavailableError{Err: err}
	}
	return key, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		return s[2:]
	}
	return s
}
