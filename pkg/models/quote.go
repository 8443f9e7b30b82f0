package models

// QuoteToken is one side of a quote
type QuoteToken struct {
	Symbol    string `json:"symbol"`
	Address   string `json:"address"`
	Amount    string `json:"amount"` // raw, smallest unit
	Decimals  int    `json:"decimals"`
	UnitPrice string `json:"unit_price"`
}

// VenueFee is one liquidity venue used to fill a quote
type VenueFee struct {
	Venue string `json:"venue"`
	Fee   string `json:"fee"`
}

// Quote is a price/route proposal from the aggregator
type Quote struct {
	ChainID            int        `json:"chain_id"`
	FromToken          QuoteToken `json:"from_token"`
	ToToken            QuoteToken `json:"to_token"`
	PriceImpactPercent string     `json:"price_impact_percent"`
	EstimateGasFee     string     `json:"estimate_gas_fee"`
	Routes             []VenueFee `json:"routes"`
	Tx                 *TxPayload `json:"tx,omitempty"`
}

// TxPayload is an unsigned transaction prepared by the aggregator.
// EVM payloads fill To/Data/Value/Gas; SUI payloads carry base64 TxBytes.
type TxPayload struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	Gas      uint64 `json:"gas"`
	GasPrice string `json:"gas_price"`
	TxBytes  string `json:"tx_bytes"`
}

// SwapPayload is what an executor needs to submit a swap
type SwapPayload struct {
	ChainID int
	Quote   *Quote
	Tx      *TxPayload
}
