package okxclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

const (
	pathQuote           = "/api/v5/dex/aggregator/quote"
	pathSwap            = "/api/v5/dex/aggregator/swap"
	pathSupportedChain  = "/api/v5/dex/aggregator/supported/chain"
	pathApproveTx       = "/api/v5/dex/aggregator/approve-transaction"
	pathHistory         = "/api/v5/dex/aggregator/history"
	pathSimulate        = "/api/v5/dex/pre-transaction/simulate"
	pathGasLimit        = "/api/v5/dex/pre-transaction/gas-limit"
	pathBroadcast       = "/api/v5/dex/pre-transaction/broadcast-transaction"
	pathCrossQuote      = "/api/v5/dex/cross-chain/quote"
	pathCrossBuildTx    = "/api/v5/dex/cross-chain/build-tx"
	pathSupportedTokens = "/api/v5/dex/cross-chain/supported/tokens"
	pathBridges         = "/api/v5/dex/cross-chain/supported/bridges"
)

// TokenInfo describes a token in aggregator responses
type TokenInfo struct {
	Decimal              string `json:"decimal"`
	Decimals             string `json:"decimals"`
	TokenContractAddress string `json:"tokenContractAddress"`
	TokenSymbol          string `json:"tokenSymbol"`
	TokenUnitPrice       string `json:"tokenUnitPrice"`
}

// DecimalsInt returns the token decimals; the API uses either field name
func (t TokenInfo) DecimalsInt() int {
	raw := t.Decimal
	if raw == "" {
		raw = t.Decimals
	}
	n, _ := strconv.Atoi(raw)
	return n
}

// DexProtocol is one venue share inside a route
type DexProtocol struct {
	DexName string `json:"dexName"`
	Percent string `json:"percent"`
}

// SubRouter is one hop of a route
type SubRouter struct {
	DexProtocol []DexProtocol `json:"dexProtocol"`
	FromToken   TokenInfo     `json:"fromToken"`
	ToToken     TokenInfo     `json:"toToken"`
}

// DexRouter is one split of the input amount
type DexRouter struct {
	Router        string      `json:"router"`
	RouterPercent string      `json:"routerPercent"`
	SubRouterList []SubRouter `json:"subRouterList"`
}

// QuoteCompare is an alternative venue quoted for comparison
type QuoteCompare struct {
	DexName   string `json:"dexName"`
	TradeFee  string `json:"tradeFee"`
	AmountOut string `json:"amountOut"`
}

// RouterResult is the body of a quote, also embedded in swap responses
type RouterResult struct {
	ChainID               string         `json:"chainId"`
	ChainIndex            string         `json:"chainIndex"`
	DexRouterList         []DexRouter    `json:"dexRouterList"`
	EstimateGasFee        string         `json:"estimateGasFee"`
	FromToken             TokenInfo      `json:"fromToken"`
	ToToken               TokenInfo      `json:"toToken"`
	FromTokenAmount       string         `json:"fromTokenAmount"`
	ToTokenAmount         string         `json:"toTokenAmount"`
	PriceImpactPercentage string         `json:"priceImpactPercentage"`
	QuoteCompareList      []QuoteCompare `json:"quoteCompareList"`
	TradeFee              string         `json:"tradeFee"`
}

// SwapTx is the unsigned transaction returned by the swap endpoint
type SwapTx struct {
	Data                 string `json:"data"`
	From                 string `json:"from"`
	To                   string `json:"to"`
	Gas                  string `json:"gas"`
	GasPrice             string `json:"gasPrice"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	MinReceiveAmount     string `json:"minReceiveAmount"`
	Slippage             string `json:"slippage"`
	Value                string `json:"value"`
}

// SwapData is one element of a swap response
type SwapData struct {
	RouterResult RouterResult `json:"routerResult"`
	Tx           SwapTx       `json:"tx"`
}

// ChainInfo is chain metadata including the approval spender
type ChainInfo struct {
	ChainID                string `json:"chainId"`
	ChainIndex             string `json:"chainIndex"`
	ChainName              string `json:"chainName"`
	DexTokenApproveAddress string `json:"dexTokenApproveAddress"`
}

// ApproveTxData is the approval payload built by the aggregator
type ApproveTxData struct {
	Data               string `json:"data"`
	DexContractAddress string `json:"dexContractAddress"`
	GasLimit           string `json:"gasLimit"`
	GasPrice           string `json:"gasPrice"`
}

// SimulationResult is the outcome of a pre-transaction simulation
type SimulationResult struct {
	Intention  string            `json:"intention"`
	GasUsed    string            `json:"gasUsed"`
	FailReason string            `json:"failReason"`
	Risks      []json.RawMessage `json:"risks"`
}

// BroadcastResult identifies a broadcast order
type BroadcastResult struct {
	OrderID string `json:"orderId"`
	TxHash  string `json:"txHash"`
}

// TxHistory is the aggregator's view of a past swap
type TxHistory struct {
	ChainID  string `json:"chainId"`
	TxHash   string `json:"txHash"`
	Status   string `json:"status"`
	TxFee    string `json:"txFee"`
	ErrorMsg string `json:"errorMsg"`
}

// CrossChainRoute is one bridge route in a cross-chain quote
type CrossChainRoute struct {
	BridgeID        int    `json:"bridgeId"`
	BridgeName      string `json:"bridgeName"`
	EstimateGasFee  string `json:"estimateGasFee"`
	EstimateTime    string `json:"estimateTime"`
	ToTokenAmount   string `json:"toTokenAmount"`
	MinimumReceived string `json:"minimumReceived"`
	CrossChainFee   string `json:"crossChainFee"`
}

// CrossChainQuote is the body of a cross-chain quote
type CrossChainQuote struct {
	FromChainID     string            `json:"fromChainId"`
	ToChainID       string            `json:"toChainId"`
	FromToken       TokenInfo         `json:"fromToken"`
	ToToken         TokenInfo         `json:"toToken"`
	FromTokenAmount string            `json:"fromTokenAmount"`
	RouterList      []CrossChainRoute `json:"routerList"`
}

// CrossChainTx is a built cross-chain transaction
type CrossChainTx struct {
	FromTokenAmount string          `json:"fromTokenAmount"`
	ToTokenAmount   string          `json:"toTokenAmount"`
	MinimumReceive  string          `json:"minmumReceive"`
	Router          CrossChainRoute `json:"router"`
	Tx              SwapTx          `json:"tx"`
}

// SupportedToken is a token usable on a bridge
type SupportedToken struct {
	ChainID              string `json:"chainId"`
	Decimals             string `json:"decimals"`
	TokenContractAddress string `json:"tokenContractAddress"`
	TokenName            string `json:"tokenName"`
	TokenSymbol          string `json:"tokenSymbol"`
}

// Bridge describes a bridge and the chains it serves
type Bridge struct {
	BridgeID        int      `json:"bridgeId"`
	BridgeName      string   `json:"bridgeName"`
	SupportedChains []string `json:"supportedChains"`
}

// first decodes the data array and returns its first element
func first[T any](op string, raw json.RawMessage) (*T, error) {
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, swaperr.Wrap(swaperr.KindApplication, op, fmt.Errorf("failed to decode data: %w", err))
	}
	if len(items) == 0 {
		return nil, swaperr.New(swaperr.KindApplication, op, "empty data in response")
	}
	return &items[0], nil
}

func all[T any](op string, raw json.RawMessage) ([]T, error) {
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, swaperr.Wrap(swaperr.KindApplication, op, fmt.Errorf("failed to decode data: %w", err))
	}
	return items, nil
}

// Quote fetches a same-chain quote
func (c *Client) Quote(ctx context.Context, params map[string]string) (*RouterResult, error) {
	raw, err := c.Get(ctx, pathQuote, params)
	if err != nil {
		return nil, err
	}
	return first[RouterResult]("quote", raw)
}

// Swap builds an unsigned swap transaction
func (c *Client) Swap(ctx context.Context, params map[string]string) (*SwapData, error) {
	raw, err := c.Get(ctx, pathSwap, params)
	if err != nil {
		return nil, err
	}
	return first[SwapData]("swap", raw)
}

// SupportedChain returns metadata for a chain
func (c *Client) SupportedChain(ctx context.Context, chainID int) (*ChainInfo, error) {
	raw, err := c.Get(ctx, pathSupportedChain, map[string]string{"chainId": strconv.Itoa(chainID)})
	if err != nil {
		return nil, err
	}
	return first[ChainInfo]("supported chain", raw)
}

// ApproveTransaction builds an approval payload for token and amount
func (c *Client) ApproveTransaction(ctx context.Context, chainID int, token, amount string) (*ApproveTxData, error) {
	raw, err := c.Get(ctx, pathApproveTx, map[string]string{
		"chainId":              strconv.Itoa(chainID),
		"tokenContractAddress": token,
		"approveAmount":        amount,
	})
	if err != nil {
		return nil, err
	}
	return first[ApproveTxData]("approve transaction", raw)
}

// TxHistory looks up a swap by hash
func (c *Client) TxHistory(ctx context.Context, chainID int, txHash string) (*TxHistory, error) {
	raw, err := c.Get(ctx, pathHistory, map[string]string{"chainId": strconv.Itoa(chainID), "txHash": txHash})
	if err != nil {
		return nil, err
	}
	var h TxHistory
	if err := json.Unmarshal(raw, &h); err == nil && h.TxHash != "" {
		return &h, nil
	}
	return first[TxHistory]("tx history", raw)
}

// PreTxRequest is the body shared by the simulate and gas-limit endpoints
type PreTxRequest struct {
	ChainIndex  string            `json:"chainIndex"`
	FromAddress string            `json:"fromAddress"`
	ToAddress   string            `json:"toAddress"`
	TxAmount    string            `json:"txAmount"`
	ExtJSON     map[string]string `json:"extJson"`
}

// Simulate dry-runs a transaction
func (c *Client) Simulate(ctx context.Context, req PreTxRequest) (*SimulationResult, error) {
	raw, err := c.Post(ctx, pathSimulate, req)
	if err != nil {
		return nil, err
	}
	return first[SimulationResult]("simulate", raw)
}

// GasLimit estimates the gas limit of a transaction
func (c *Client) GasLimit(ctx context.Context, req PreTxRequest) (uint64, error) {
	raw, err := c.Post(ctx, pathGasLimit, req)
	if err != nil {
		return 0, err
	}
	out, err := first[struct {
		GasLimit string `json:"gasLimit"`
	}]("gas limit", raw)
	if err != nil {
		return 0, err
	}
	limit, err := strconv.ParseUint(out.GasLimit, 10, 64)
	if err != nil {
		return 0, swaperr.Wrap(swaperr.KindApplication, "gas limit", fmt.Errorf("invalid gasLimit %q: %w", out.GasLimit, err))
	}
	return limit, nil
}

// Broadcast submits a signed transaction through the aggregator
func (c *Client) Broadcast(ctx context.Context, chainID int, address, signedTx string) (*BroadcastResult, error) {
	raw, err := c.Post(ctx, pathBroadcast, map[string]string{
		"chainIndex": strconv.Itoa(chainID),
		"address":    address,
		"signedTx":   signedTx,
	})
	if err != nil {
		return nil, err
	}
	return first[BroadcastResult]("broadcast", raw)
}

// CrossChainQuote fetches bridge routes
func (c *Client) CrossChainQuote(ctx context.Context, params map[string]string) (*CrossChainQuote, error) {
	raw, err := c.Get(ctx, pathCrossQuote, params)
	if err != nil {
		return nil, err
	}
	return first[CrossChainQuote]("cross-chain quote", raw)
}

// CrossChainBuildTx builds a bridge transaction
func (c *Client) CrossChainBuildTx(ctx context.Context, params map[string]string) (*CrossChainTx, error) {
	raw, err := c.Get(ctx, pathCrossBuildTx, params)
	if err != nil {
		return nil, err
	}
	return first[CrossChainTx]("cross-chain build tx", raw)
}

// SupportedTokens lists bridgeable tokens on a chain
func (c *Client) SupportedTokens(ctx context.Context, chainID int) ([]SupportedToken, error) {
	raw, err := c.Get(ctx, pathSupportedTokens, map[string]string{"chainId": strconv.Itoa(chainID)})
	if err != nil {
		return nil, err
	}
	return all[SupportedToken]("supported tokens", raw)
}

// SupportedBridges lists bridges available from a chain
func (c *Client) SupportedBridges(ctx context.Context, chainID int) ([]Bridge, error) {
	raw, err := c.Get(ctx, pathBridges, map[string]string{"chainId": strconv.Itoa(chainID)})
	if err != nil {
		return nil, err
	}
	return all[Bridge]("supported bridges", raw)
}
