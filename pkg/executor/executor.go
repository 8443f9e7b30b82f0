// Package executor signs, submits and confirms transactions for each supported chain family.
package executor

import (
	"context"
	"math/big"

	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
)

// Executor submits swaps and transfers for one chain with one signing key
type Executor interface {
	ChainID() int
	ChainType() models.ChainType
	// Address is the signer's address in the chain's native format
	Address() string
	// Execute submits a prepared swap payload and waits for it to be final
	Execute(ctx context.Context, payload *models.SwapPayload) (*models.SwapResult, error)
	// Transfer sends Amount of Token from the signer to Recipient
	Transfer(ctx context.Context, req TransferRequest) (*models.SwapResult, error)
}

// TransferRequest moves tokens out of the resolver's wallet, e.g. for a refund
type TransferRequest struct {
	Token     string
	Decimals  int
	Recipient string
	Amount    *big.Int
}
