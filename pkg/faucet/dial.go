package faucet

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/screa/sfuel-miner/internal/logger"
)

// Dial connects to a ledger node over JSON-RPC with retrying HTTP transport
func Dial(ctx context.Context, url string, log *logger.Logger) (*ethclient.Client, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.HTTPClient.Timeout = 30 * time.Second
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 20 * time.Second
	client.Logger = nil

	rc, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(client.StandardClient()))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to dial %s", url)
	}

	log.Debug().
		Str("url", url).
		Int("retry_max", client.RetryMax).
		Str("timeout", client.HTTPClient.Timeout.String()).
		Msg("rpc client initialized")
	return ethclient.NewClient(rc), nil
}
