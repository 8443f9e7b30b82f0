package blockchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// DialEVM connects to an EVM node and checks that it serves the expected chain
func DialEVM(ctx context.Context, rpcURL string, expectedChainID int) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	chainID, err := client.ChainID(timeoutCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Int64() != int64(expectedChainID) {
		client.Close()
		return nil, fmt.Errorf("rpc %s serves chain %s, expected %d", rpcURL, chainID, expectedChainID)
	}
	return client, nil
}

// ParseEVMKey parses a hex private key, with or without 0x prefix
func ParseEVMKey(privateKeyHex string) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// ScaleByMultiplier multiplies a wei amount by a float factor, rounding down
func ScaleByMultiplier(v *big.Int, multiplier float64) *big.Int {
	if v == nil {
		return nil
	}
	if multiplier <= 0 {
		return new(big.Int).Set(v)
	}
	// multiplier is applied with four decimal places of precision
	factor := big.NewInt(int64(math.Round(multiplier * 10000)))
	out := new(big.Int).Mul(v, factor)
	return out.Quo(out, big.NewInt(10000))
}
