package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Credentials authenticate requests to the aggregator API
type Credentials struct {
	APIKey     string        `envconfig:"OKX_API_KEY" required:"true"`
	SecretKey  string        `envconfig:"OKX_SECRET_KEY" required:"true"`
	Passphrase string        `envconfig:"OKX_PASSPHRASE" required:"true"`
	ProjectID  string        `envconfig:"OKX_PROJECT_ID"`
	BaseURL    string        `envconfig:"OKX_BASE_URL" default:"https://web3.okx.com"`
	MaxRetries int           `envconfig:"OKX_MAX_RETRIES" default:"3"`
	RetryDelay time.Duration `envconfig:"OKX_RETRY_DELAY" default:"1s"`
	Timeout    time.Duration `envconfig:"OKX_TIMEOUT" default:"10s"`
}

// Signers holds key material. It is only ever read from the environment.
type Signers struct {
	EVMPrivateKey string `envconfig:"EVM_PRIVATE_KEY"`
	SUIPrivateKey string `envconfig:"SUI_PRIVATE_KEY"`
}

// LoadCredentials reads aggregator credentials from the environment
func LoadCredentials() (Credentials, error) {
	var c Credentials
	if err := envconfig.Process("", &c); err != nil {
		return Credentials{}, fmt.Errorf("failed to load aggregator credentials: %w", err)
	}
	if c.APIKey == "" || c.SecretKey == "" || c.Passphrase == "" {
		return Credentials{}, fmt.Errorf("OKX_API_KEY, OKX_SECRET_KEY and OKX_PASSPHRASE must not be empty")
	}
	if c.MaxRetries < 0 {
		return Credentials{}, fmt.Errorf("OKX_MAX_RETRIES must be greater than or equal to 0")
	}
	return c, nil
}

// LoadSigners reads signer keys from the environment
func LoadSigners() (Signers, error) {
	var s Signers
	if err := envconfig.Process("", &s); err != nil {
		return Signers{}, fmt.Errorf("failed to load signer keys: %w", err)
	}
	if s.EVMPrivateKey == "" && s.SUIPrivateKey == "" {
		return Signers{}, fmt.Errorf("at least one of EVM_PRIVATE_KEY or SUI_PRIVATE_KEY is required")
	}
	return s, nil
}
