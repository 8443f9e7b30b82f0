package models

// SwapResult is the evidence of one successful on-chain submission
type SwapResult struct {
	TxHash      string  `json:"tx_hash"`
	ExplorerURL string  `json:"explorer_url"`
	AmountIn    string  `json:"amount_in"`  // human-readable
	AmountOut   string  `json:"amount_out"` // human-readable
	PriceImpact *string `json:"price_impact,omitempty"`
	BlockNumber uint64  `json:"block_number"`
}

// ProcessingResult is what a processor hands back to the orchestrator
type ProcessingResult struct {
	Success         bool
	TxHash          string
	ActualAmountOut string
	BlockNumber     uint64
	ExchangeRate    string
	FeeAmount       string
	ErrorReason     string
	ErrorKind       string
}
