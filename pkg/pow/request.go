package pow

import (
	"github.com/pkg/errors"

	"github.com/screa/sfuel-miner/internal/crypto"
	"github.com/screa/sfuel-miner/pkg/types"
)

// NewRequest normalizes textual inputs (hex or decimal quantities, hex address)
// into a MiningRequest. The address is checked first so a bad address fails
// before anything else is parsed or hashed.
func NewRequest(nonce, gas, from string) (*types.MiningRequest, error) {
	addr, err := crypto.ParseAddress(from)
	if err != nil {
		return nil, err
	}

	n, err := crypto.ParseQuantity(nonce)
	if err != nil {
		return nil, errors.Wrap(err, "nonce")
	}

	g, err := crypto.ParseQuantity(gas)
	if err != nil {
		return nil, errors.Wrap(err, "gas")
	}

	req := &types.MiningRequest{Address: addr}
	req.Nonce.Set(n)
	req.RequestedGas.Set(g)
	return req, nil
}
