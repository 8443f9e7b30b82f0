package executor

import (
	"fmt"
	"sort"

	"github.com/speedrun-hq/speedrun-resolver/pkg/config"
	"github.com/speedrun-hq/speedrun-resolver/pkg/logger"
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

// Factory builds the executor for one configured network
type Factory func(network config.NetworkConfig) (Executor, error)

// Registry maps chain ids to executors
type Registry struct {
	executors map[int]Executor
}

// NewRegistry builds an executor for every network whose chain type has a factory.
// Networks of an executable type without a factory are skipped, which is how a
// resolver runs with only one of the signer keys configured.
func NewRegistry(networks []config.NetworkConfig, factories map[models.ChainType]Factory, log logger.Logger) (*Registry, error) {
	r := &Registry{executors: make(map[int]Executor, len(networks))}
	for _, network := range networks {
		if !network.ChainType.Executable() {
			return nil, swaperr.New(swaperr.KindChainUnsupported, "registry",
				"chain type %s of network %d cannot be executed", network.ChainType, network.ChainID)
		}
		factory, ok := factories[network.ChainType]
		if !ok {
			log.NoticeWithChain(network.ChainID, "No signer for %s networks, %s disabled", network.ChainType, network.Name)
			continue
		}
		exec, err := factory(network)
		if err != nil {
			return nil, fmt.Errorf("failed to create executor for %s (%d): %w", network.Name, network.ChainID, err)
		}
		r.executors[network.ChainID] = exec
		log.InfoWithChain(network.ChainID, "Executor ready for %s, signer %s", network.Name, exec.Address())
	}
	if len(r.executors) == 0 {
		return nil, swaperr.New(swaperr.KindConfiguration, "registry", "no executors configured")
	}
	return r, nil
}

// Get returns the executor for chainID
func (r *Registry) Get(chainID int) (Executor, error) {
	exec, ok := r.executors[chainID]
	if !ok {
		return nil, swaperr.New(swaperr.KindChainUnsupported, "registry", "no executor for chain %d", chainID)
	}
	return exec, nil
}

// EVM returns the EVM executor for chainID
func (r *Registry) EVM(chainID int) (*EVMExecutor, error) {
	exec, err := r.Get(chainID)
	if err != nil {
		return nil, err
	}
	evm, ok := exec.(*EVMExecutor)
	if !ok {
		return nil, swaperr.New(swaperr.KindChainUnsupported, "registry", "chain %d is not an EVM chain", chainID)
	}
	return evm, nil
}

// ChainIDs lists the chains with an executor, in ascending order
func (r *Registry) ChainIDs() []int {
	ids := make([]int, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
