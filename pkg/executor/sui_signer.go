package executor

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	suiEd25519Flag = 0x00
	// intent scope TransactionData, version V0, app id Sui
	suiTxIntent = "\x00\x00\x00"
)

// SuiSigner signs transaction bytes with an ed25519 key
type SuiSigner struct {
	key     ed25519.PrivateKey
	address string
}

// ParseSuiKey accepts a 32-byte seed as hex, or the keystore form
// base64(flag || seed) with the ed25519 flag.
func ParseSuiKey(s string) (*SuiSigner, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty SUI private key")
	}

	var seed []byte
	if raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err == nil {
		seed = raw
	} else if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		seed = raw
	} else {
		return nil, fmt.Errorf("SUI private key must be hex or base64")
	}

	if len(seed) == ed25519.SeedSize+1 {
		if seed[0] != suiEd25519Flag {
			return nil, fmt.Errorf("unsupported SUI key scheme flag 0x%02x", seed[0])
		}
		seed = seed[1:]
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("SUI private key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	key := ed25519.NewKeyFromSeed(seed)
	return &SuiSigner{key: key, address: suiAddress(key.Public().(ed25519.PublicKey))}, nil
}

// Address is the 0x-prefixed SUI address of the key
func (s *SuiSigner) Address() string {
	return s.address
}

// Sign returns the serialized signature flag || sig || pubkey, base64 encoded
func (s *SuiSigner) Sign(txBytes []byte) string {
	digest := blake2b.Sum256(append([]byte(suiTxIntent), txBytes...))
	sig := ed25519.Sign(s.key, digest[:])

	out := make([]byte, 0, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	out = append(out, suiEd25519Flag)
	out = append(out, sig...)
	out = append(out, s.key.Public().(ed25519.PublicKey)...)
	return base64.StdEncoding.EncodeToString(out)
}

func suiAddress(pub ed25519.PublicKey) string {
	h := blake2b.Sum256(append([]byte{suiEd25519Flag}, pub...))
	return "0x" + hex.EncodeToString(h[:])
}
