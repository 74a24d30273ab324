package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/screa/sfuel-miner/internal/config"
	logpkg "github.com/screa/sfuel-miner/internal/logger"
	"github.com/screa/sfuel-miner/internal/storage"
	"github.com/screa/sfuel-miner/internal/webserver"
	"github.com/screa/sfuel-miner/pkg/faucet"
	minerpkg "github.com/screa/sfuel-miner/pkg/miner"
	"github.com/screa/sfuel-miner/pkg/types"
)

func main() {
	cfg, err := config.Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "sfuel-miner",
		Short: "Proof-of-work sFUEL miner",
		Long: `A command line utility for mining sFUEL on fee-less test networks.
The gas price of a transaction is replaced by a keccak256 proof of work
tied to the sender address and nonce.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "Number of worker goroutines")
	flags.IntVar(&cfg.YieldEvery, "yield-every", cfg.YieldEvery, "Attempts between scheduler yields and cancellation checks")
	flags.DurationVarP(&cfg.Timeout, "timeout", "T", cfg.Timeout, "Give up mining after this long (0 disables)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")
	flags.StringVarP(&cfg.LogFile, "log-file", "l", cfg.LogFile, "Log file for progress tracking (default: stderr)")
	flags.IntVarP(&cfg.LogInterval, "log-interval", "i", cfg.LogInterval, "Logging interval in seconds")
	flags.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "Ledger node JSON-RPC endpoint")
	flags.StringVar(&cfg.PayerAddress, "payer", cfg.PayerAddress, "Payer contract address")
	flags.Uint64Var(&cfg.GasLimit, "gas-limit", cfg.GasLimit, "Gas limit of the claim transaction")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Claim history database")

	rootCmd.AddCommand(
		newMineCmd(cfg),
		newClaimCmd(cfg),
		newServeCmd(cfg),
		newHistoryCmd(cfg),
	)
	return rootCmd
}

func newMineCmd(cfg *config.Config) *cobra.Command {
	var nonce, gas, address string

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine a gas price for a sender address and nonce",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, closeLog, err := setupLogging(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()

			miner := minerpkg.NewMiner(cfg, logger)
			logger.Info().Int("workers", cfg.Workers).Str("address", address).Str("nonce", nonce).Str("gas", gas).Msg("Starting sFUEL miner")

			outcome, err := miner.MineFor(ctx, nonce, gas, address)
			if err != nil {
				return err
			}
			logOutcome(logger, outcome)
			fmt.Fprintln(cmd.OutOrStdout(), outcome.Candidate.Hex())
			return nil
		},
	}

	cmd.Flags().StringVarP(&nonce, "nonce", "n", "0", "Transaction nonce (decimal or 0x hex)")
	cmd.Flags().StringVarP(&gas, "gas", "g", fmt.Sprint(cfg.RequestedGas), "Requested gas (decimal or 0x hex)")
	cmd.Flags().StringVarP(&address, "address", "a", "", "Sender address (required)")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func newClaimCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <recipient>",
		Short: "Mine and submit an sFUEL claim for recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateRPC(); err != nil {
				return err
			}
			logger, closeLog, err := setupLogging(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()

			client, err := faucet.Dial(ctx, cfg.RPCURL, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			claimer, err := faucet.NewClaimer(cfg, client, minerpkg.NewMiner(cfg, logger), logger)
			if err != nil {
				return err
			}

			receipt, err := claimer.Claim(ctx, args[0])
			if err != nil {
				return err
			}

			db, err := storage.Open(cfg.DBPath)
			if err != nil {
				logger.Warn().Err(err).Msg("Claim not recorded")
			} else {
				defer db.Close()
				if err := db.RecordClaim(receipt); err != nil {
					logger.Warn().Err(err).Msg("Claim not recorded")
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), receipt.TxHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.PrivateKey, "private-key", cfg.PrivateKey, "Sender key (hex); a throwaway key is generated when empty")
	return cmd
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mining and claim HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateRPC(); err != nil {
				return err
			}
			logger, closeLog, err := setupLogging(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()

			miner := minerpkg.NewMiner(cfg, logger)
			client, err := faucet.Dial(ctx, cfg.RPCURL, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			claimer, err := faucet.NewClaimer(cfg, client, miner, logger)
			if err != nil {
				return err
			}

			db, err := storage.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			srv := &webserver.Server{
				Miner:   miner,
				Claimer: claimer,
				Store:   db,
				Logger:  logger,
			}
			return srv.Start(ctx, cfg.ListenAddr)
		},
	}
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address")
	return cmd
}

func newHistoryCmd(cfg *config.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded sFUEL claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := storage.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			receipts, err := db.ListClaims(limit)
			if err != nil {
				return err
			}
			for _, r := range receipts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s -> %s  attempts=%d  duration=%v\n",
					r.Timestamp.Format("2006-01-02 15:04:05"), r.TxHash, r.Recipient, r.Iterations, r.Duration)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of claims to list (0 for all)")
	return cmd
}

// setupLogging keeps logs off stdout so results can be piped
func setupLogging(cmd *cobra.Command, cfg *config.Config) (*logpkg.Logger, func(), error) {
	logger := logpkg.New()
	if w := cmd.ErrOrStderr(); w != io.Writer(os.Stderr) {
		logger = logpkg.NewWriter(w)
	}
	closeLog := func() {}

	if cfg.LogFile != "" {
		// Log to file
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open log file")
		}
		logger = logpkg.NewWriter(file)
		closeLog = func() { file.Close() }
	}
	logger.SetVerbose(cfg.Verbose)
	return logger, closeLog, nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func logOutcome(logger *logpkg.Logger, outcome *types.Outcome) {
	logger.Info().
		Str("gasPrice", outcome.Candidate.Hex()).
		Str("externalGas", outcome.ExternalGas.Dec()).
		Int64("attempts", outcome.Iterations).
		Dur("duration", outcome.Elapsed).
		Float64("rate", outcome.Rate()).
		Msg("Found proof")
}
