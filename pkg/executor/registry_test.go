package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

type stubExecutor struct {
	chainID   int
	chainType models.ChainType
}

func (s *stubExecutor) ChainID() int                { return s.chainID }
func (s *stubExecutor) ChainType() models.ChainType { return s.chainType }
func (s *stubExecutor) Address() string             { return "0xstub" }

func (s *stubExecutor) Execute(context.Context, *models.SwapPayload) (*models.SwapResult, error) {
	return &models.SwapResult{}, nil
}

func (s *stubExecutor) Transfer(context.Context, TransferRequest) (*models.SwapResult, error) {
	return &models.SwapResult{}, nil
}

func stubFactory(n config.NetworkConfig) (Executor, error) {
	return &stubExecutor{chainID: n.ChainID, chainType: n.ChainType}, nil
}

func TestNewRegistry(t *testing.T) {
	evm := config.NetworkConfig{ChainID: 1, ChainType: models.ChainTypeEVM, Name: "ethereum"}
	base := config.NetworkConfig{ChainID: 8453, ChainType: models.ChainTypeEVM, Name: "base"}
	sui := config.NetworkConfig{ChainID: 784, ChainType: models.ChainTypeSUI, Name: "sui"}
	solana := config.NetworkConfig{ChainID: 501, ChainType: models.ChainTypeSolana, Name: "solana"}

	t.Run("builds one executor per network", func(t *testing.T) {
		r, err := NewRegistry([]config.NetworkConfig{sui, evm, base}, map[models.ChainType]Factory{
			models.ChainTypeEVM: stubFactory,
			models.ChainTypeSUI: stubFactory,
		}, &logger.EmptyLogger{})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 784, 8453}, r.ChainIDs())

		exec, err := r.Get(784)
		require.NoError(t, err)
		assert.Equal(t, models.ChainTypeSUI, exec.ChainType())

		_, err = r.Get(10)
		assert.True(t, swaperr.Is(err, swaperr.KindChainUnsupported))

		_, err = r.EVM(1)
		assert.True(t, swaperr.Is(err, swaperr.KindChainUnsupported), "stub is not an EVM executor")
	})

	t.Run("skips chain types without a signer", func(t *testing.T) {
		r, err := NewRegistry([]config.NetworkConfig{evm, sui}, map[models.ChainType]Factory{
			models.ChainTypeEVM: stubFactory,
		}, &logger.EmptyLogger{})
		require.NoError(t, err)
		assert.Equal(t, []int{1}, r.ChainIDs())
	})

	t.Run("rejects non executable chain types", func(t *testing.T) {
		_, err := NewRegistry([]config.NetworkConfig{solana}, map[models.ChainType]Factory{
			models.ChainTypeEVM: stubFactory,
		}, &logger.EmptyLogger{})
		assert.True(t, swaperr.Is(err, swaperr.KindChainUnsupported))
	})

	t.Run("propagates factory errors", func(t *testing.T) {
		_, err := NewRegistry([]config.NetworkConfig{evm}, map[models.ChainType]Factory{
			models.ChainTypeEVM: func(config.NetworkConfig) (Executor, error) { return nil, errors.New("dial failed") },
		}, &logger.EmptyLogger{})
		assert.ErrorContains(t, err, "dial failed")
	})

	t.Run("requires at least one executor", func(t *testing.T) {
		_, err := NewRegistry([]config.NetworkConfig{sui}, nil, &logger.EmptyLogger{})
		assert.True(t, swaperr.Is(err, swaperr.KindConfiguration))
	})
}
