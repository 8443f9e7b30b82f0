package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

// SuiMainnetChainID is the aggregator's chain index for SUI
const SuiMainnetChainID = 784

// NetworkConfig holds the per-chain settings used when quoting and submitting transactions
type NetworkConfig struct {
	ChainID             int              `yaml:"chainId"`
	ChainType           models.ChainType `yaml:"chainType"`
	Name                string           `yaml:"name"`
	RPCURL              string           `yaml:"rpcUrl"`
	ExplorerURL         string           `yaml:"explorerUrl"`
	DefaultSlippage     float64          `yaml:"defaultSlippage"`
	MaxSlippage         float64          `yaml:"maxSlippage"`
	ConfirmationTimeout time.Duration    `yaml:"confirmationTimeout"`
	MaxRetries          int              `yaml:"maxRetries"`

	// optional
	GasMultiplier    float64       `yaml:"gasMultiplier"`
	NativeToken      string        `yaml:"nativeToken"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	RetryBaseDelay   time.Duration `yaml:"retryBaseDelay"`
	GasBudget        uint64        `yaml:"gasBudget"`
	ApprovalGasLimit uint64        `yaml:"approvalGasLimit"`
}

// ExplorerTxURL renders the explorer link for a transaction hash or digest
func (n NetworkConfig) ExplorerTxURL(txHash string) string {
	if strings.Contains(n.ExplorerURL, "%s") {
		return fmt.Sprintf(n.ExplorerURL, txHash)
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/" + txHash
}

// MaxPollAttempts is the number of receipt polls that fit in the confirmation timeout
func (n NetworkConfig) MaxPollAttempts() int {
	if n.PollInterval <= 0 {
		return 1
	}
	attempts := int(n.ConfirmationTimeout / n.PollInterval)
	if attempts < 1 {
		return 1
	}
	return attempts
}

// Validate rejects entries with missing required fields
func (n NetworkConfig) Validate() error {
	var missing []string
	if n.ChainID <= 0 {
		missing = append(missing, "chainId")
	}
	if n.ChainType == "" {
		missing = append(missing, "chainType")
	}
	if n.Name == "" {
		missing = append(missing, "name")
	}
	if n.RPCURL == "" {
		missing = append(missing, "rpcUrl")
	}
	if n.ExplorerURL == "" {
		missing = append(missing, "explorerUrl")
	}
	if n.MaxSlippage <= 0 {
		missing = append(missing, "maxSlippage")
	}
	if n.ConfirmationTimeout <= 0 {
		missing = append(missing, "confirmationTimeout")
	}
	if n.MaxRetries <= 0 {
		missing = append(missing, "maxRetries")
	}
	if len(missing) > 0 {
		return fmt.Errorf("network %d: missing required fields: %s", n.ChainID, strings.Join(missing, ", "))
	}

	if !n.ChainType.Valid() {
		return fmt.Errorf("network %d: invalid chainType %s", n.ChainID, n.ChainType)
	}
	if n.DefaultSlippage < 0 || n.DefaultSlippage > n.MaxSlippage {
		return fmt.Errorf("network %d: defaultSlippage must be between 0 and maxSlippage", n.ChainID)
	}
	if n.MaxSlippage > 1 {
		return fmt.Errorf("network %d: maxSlippage must not exceed 1", n.ChainID)
	}
	if n.GasMultiplier < 0 {
		return fmt.Errorf("network %d: gasMultiplier must not be negative", n.ChainID)
	}
	return nil
}

// withDefaults fills optional fields
func (n NetworkConfig) withDefaults() NetworkConfig {
	if n.GasMultiplier == 0 {
		n.GasMultiplier = 1.2
	}
	if n.PollInterval == 0 {
		n.PollInterval = 3 * time.Second
	}
	if n.RetryBaseDelay == 0 {
		n.RetryBaseDelay = 2 * time.Second
	}
	if n.ChainType == models.ChainTypeEVM && n.ApprovalGasLimit == 0 {
		n.ApprovalGasLimit = 100000
	}
	if n.ChainType == models.ChainTypeSUI && n.GasBudget == 0 {
		n.GasBudget = 50_000_000
	}
	if n.NativeToken == "" {
		switch n.ChainType {
		case models.ChainTypeEVM:
			n.NativeToken = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
		case models.ChainTypeSUI:
			n.NativeToken = "0x2::sui::SUI"
		}
	}
	return n
}

func evmNetwork(chainID int, name, rpc, explorer string) NetworkConfig {
	return NetworkConfig{
		ChainID:             chainID,
		ChainType:           models.ChainTypeEVM,
		Name:                name,
		RPCURL:              rpc,
		ExplorerURL:         explorer,
		DefaultSlippage:     0.005,
		MaxSlippage:         0.05,
		ConfirmationTimeout: 3 * time.Minute,
		MaxRetries:          3,
	}
}

// defaultNetworks are used when no networks file is configured; RPC URLs may be
// overridden with <NAME>_RPC_URL
func defaultNetworks() []NetworkConfig {
	return []NetworkConfig{
		evmNetwork(1, "ETHEREUM", "https://eth.llamarpc.com", "https://etherscan.io/tx/%s"),
		evmNetwork(10, "OPTIMISM", "https://mainnet.optimism.io", "https://optimistic.etherscan.io/tx/%s"),
		evmNetwork(56, "BSC", "https://bsc-dataseed.bnbchain.org", "https://bscscan.com/tx/%s"),
		evmNetwork(137, "POLYGON", "https://polygon-rpc.com", "https://polygonscan.com/tx/%s"),
		evmNetwork(8453, "BASE", "https://mainnet.base.org", "https://basescan.org/tx/%s"),
		evmNetwork(42161, "ARBITRUM", "https://arb1.arbitrum.io/rpc", "https://arbiscan.io/tx/%s"),
		evmNetwork(43114, "AVALANCHE", "https://avalanche-c-chain-rpc.publicnode.com", "https://snowtrace.io/tx/%s"),
		{
			ChainID:             SuiMainnetChainID,
			ChainType:           models.ChainTypeSUI,
			Name:                "SUI",
			RPCURL:              "https://fullnode.mainnet.sui.io:443",
			ExplorerURL:         "https://suiscan.xyz/mainnet/tx/%s",
			DefaultSlippage:     0.005,
			MaxSlippage:         0.05,
			ConfirmationTimeout: time.Minute,
			MaxRetries:          3,
		},
	}
}

type networksFile struct {
	Networks []NetworkConfig `yaml:"networks"`
}

// Networks is the read-only network table keyed by chain id
type Networks struct {
	byID map[int]NetworkConfig
}

// NewNetworks validates entries and builds a table. Duplicate chain ids are rejected.
func NewNetworks(entries []NetworkConfig) (*Networks, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("at least one network configuration is required")
	}
	byID := make(map[int]NetworkConfig, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[e.ChainID]; dup {
			return nil, fmt.Errorf("duplicate network configuration for chain %d", e.ChainID)
		}
		byID[e.ChainID] = e.withDefaults()
	}
	return &Networks{byID: byID}, nil
}

// ParseNetworks decodes a YAML network document
func ParseNetworks(data []byte) (*Networks, error) {
	var f networksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse networks file: %w", err)
	}
	return NewNetworks(f.Networks)
}

// LoadNetworks reads the table from path, or returns the built-in defaults
// (with env RPC overrides) when path is empty.
func LoadNetworks(path string) (*Networks, error) {
	if path == "" {
		entries := defaultNetworks()
		for i := range entries {
			if rpc := os.Getenv(entries[i].Name + "_RPC_URL"); rpc != "" {
				entries[i].RPCURL = rpc
			}
		}
		return NewNetworks(entries)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read networks file %s: %w", path, err)
	}
	return ParseNetworks(data)
}

// Get returns the configuration for a chain id
func (n *Networks) Get(chainID int) (NetworkConfig, error) {
	cfg, ok := n.byID[chainID]
	if !ok {
		return NetworkConfig{}, swaperr.New(swaperr.KindConfiguration, "network lookup", "no network configuration for chain %d", chainID)
	}
	return cfg, nil
}

// All returns every entry ordered by chain id
func (n *Networks) All() []NetworkConfig {
	out := make([]NetworkConfig, 0, len(n.byID))
	for _, c := range n.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// MaxConfirmationTimeout is the longest confirmation wait across all networks
func (n *Networks) MaxConfirmationTimeout() time.Duration {
	var longest time.Duration
	for _, c := range n.byID {
		if c.ConfirmationTimeout > longest {
			longest = c.ConfirmationTimeout
		}
	}
	return longest
}
