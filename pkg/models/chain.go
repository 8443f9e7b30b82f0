package models

import (
	"fmt"
	"strings"
)

// ChainType is the family of a blockchain. The set is closed.
type ChainType string

const (
	ChainTypeEVM      ChainType = "EVM"
	ChainTypeSUI      ChainType = "SUI"
	ChainTypeSolana   ChainType = "SOLANA"
	ChainTypeAptos    ChainType = "APTOS"
	ChainTypeBitcoin  ChainType = "BITCOIN"
	ChainTypeMovement ChainType = "MOVEMENT"
	ChainTypeUmi      ChainType = "UMI"
	ChainTypeIota     ChainType = "IOTA"
	ChainTypeSupra    ChainType = "SUPRA"
	ChainTypeMassa    ChainType = "MASSA"
)

var knownChainTypes = map[ChainType]bool{
	ChainTypeEVM:      true,
	ChainTypeSUI:      true,
	ChainTypeSolana:   false,
	ChainTypeAptos:    false,
	ChainTypeBitcoin:  false,
	ChainTypeMovement: false,
	ChainTypeUmi:      false,
	ChainTypeIota:     false,
	ChainTypeSupra:    false,
	ChainTypeMassa:    false,
}

// ParseChainType parses a chain type name, case-insensitively.
func ParseChainType(s string) (ChainType, error) {
	ct := ChainType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := knownChainTypes[ct]; !ok {
		return "", fmt.Errorf("unknown chain type: %s", s)
	}
	return ct, nil
}

// Valid reports whether the chain type is one of the enumerated values.
func (c ChainType) Valid() bool {
	_, ok := knownChainTypes[c]
	return ok
}

// Executable reports whether the resolver can sign and submit transactions for the chain type.
func (c ChainType) Executable() bool {
	return knownChainTypes[c]
}

func (c ChainType) String() string {
	return string(c)
}
