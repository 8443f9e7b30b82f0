// Package approval makes sure the aggregator's router may spend the resolver's ERC20 tokens.
package approval

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/speedrun-hq/speedrun-resolver/pkg/blockchain"
	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/executor"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

// Result describes what EnsureApproval did
type Result struct {
	Required bool
	Spender  string
	TxHash   string
}

// Chain is the EVM signer the manager approves from
type Chain interface {
	Caller() bind.ContractCaller
	SignerAddress() common.Address
	Network() config.NetworkConfig
	Submit(ctx context.Context, call executor.Call) (*types.Receipt, error)
}

// ChainLookup resolves the signer for a chain id
type ChainLookup func(chainID int) (Chain, error)

// SpenderSource resolves the approval target from chain metadata
type SpenderSource interface {
	GetApprovalTarget(ctx context.Context, chainID int) (string, error)
}

type evmChain struct {
	*executor.EVMExecutor
}

func (c evmChain) Caller() bind.ContractCaller { return c.Client() }

// FromRegistry looks chains up in an executor registry
func FromRegistry(r *executor.Registry) ChainLookup {
	return func(chainID int) (Chain, error) {
		exec, err := r.EVM(chainID)
		if err != nil {
			return nil, err
		}
		return evmChain{exec}, nil
	}
}

// Manager checks allowances and submits approvals
type Manager struct {
	chains   ChainLookup
	spenders SpenderSource
	cache    SpenderCache
	logger   logger.Logger
}

// NewManager creates an approval manager
func NewManager(chains ChainLookup, spenders SpenderSource, cache SpenderCache, log logger.Logger) *Manager {
	return &Manager{chains: chains, spenders: spenders, cache: cache, logger: log}
}

// EnsureApproval approves the router for an unlimited amount of token when the
// current allowance does not cover amount. Native tokens never need approval.
func (m *Manager) EnsureApproval(ctx context.Context, chainID int, token common.Address, amount *big.Int) (*Result, error) {
	const op = "approval"
	if blockchain.IsNativeToken(token.Hex()) {
		return &Result{Required: false}, nil
	}

	chain, err := m.chains(chainID)
	if err != nil {
		return nil, err
	}

	spender, err := m.spender(ctx, chainID)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindApproval, op, err)
	}
	owner := chain.SignerAddress()

	allowance, err := m.allowance(ctx, chain, token, owner, spender)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindApproval, op, err)
	}
	if allowance.Cmp(amount) >= 0 {
		m.logger.DebugWithChain(chainID, "Allowance %s of %s covers %s", allowance, token.Hex(), amount)
		return &Result{Required: false, Spender: spender.Hex()}, nil
	}

	data, err := blockchain.ParsedERC20ABI.Pack("approve", spender, blockchain.MaxUint256)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.KindApproval, op, err)
	}

	m.logger.InfoWithChain(chainID, "Approving %s for %s (allowance %s, need %s)", spender.Hex(), token.Hex(), allowance, amount)
	receipt, err := chain.Submit(ctx, executor.Call{
		To:       token,
		Data:     data,
		Value:    big.NewInt(0),
		GasLimit: chain.Network().ApprovalGasLimit,
	})
	if err != nil {
		if alreadyApproved(err) {
			m.logger.NoticeWithChain(chainID, "Token %s already approved for %s", token.Hex(), spender.Hex())
			return &Result{Required: true, Spender: spender.Hex()}, nil
		}
		return nil, swaperr.Wrap(swaperr.KindApproval, op, err)
	}

	m.logger.InfoWithChain(chainID, "Approval confirmed: %s", receipt.TxHash.Hex())
	return &Result{Required: true, Spender: spender.Hex(), TxHash: receipt.TxHash.Hex()}, nil
}

func (m *Manager) spender(ctx context.Context, chainID int) (common.Address, error) {
	if cached, ok := m.cache.Get(ctx, chainID); ok {
		return common.HexToAddress(cached), nil
	}
	target, err := m.spenders.GetApprovalTarget(ctx, chainID)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(target) {
		return common.Address{}, fmt.Errorf("invalid approval target %q", target)
	}
	m.cache.Set(ctx, chainID, target)
	return common.HexToAddress(target), nil
}

func (m *Manager) allowance(ctx context.Context, chain Chain, token, owner, spender common.Address) (*big.Int, error) {
	contract := bind.NewBoundContract(token, blockchain.ParsedERC20ABI, chain.Caller(), nil, nil)

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx, From: owner}, &out, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("failed to read allowance: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty allowance response")
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", out[0])
	}
	return allowance, nil
}

func alreadyApproved(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already approved")
}
