package processor

import (
	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

// RouteKind selects the processor variant
type RouteKind int

const (
	RouteSameChain RouteKind = iota + 1
	RouteCrossChain
)

func (k RouteKind) String() string {
	switch k {
	case RouteSameChain:
		return "same-chain"
	case RouteCrossChain:
		return "cross-chain"
	}
	return "unknown"
}

// crossChainPairs are the bridging directions the resolver knows about
var crossChainPairs = map[[2]models.ChainType]bool{
	{models.ChainTypeEVM, models.ChainTypeSUI}: true,
	{models.ChainTypeSUI, models.ChainTypeEVM}: true,
}

// Route picks the variant for a pair of chain types
func Route(src, dst models.ChainType) (RouteKind, error) {
	if !src.Executable() || !dst.Executable() {
		return 0, swaperr.New(swaperr.KindChainUnsupported, "route", "route %s -> %s is not supported", src, dst)
	}
	if src == dst {
		return RouteSameChain, nil
	}
	if crossChainPairs[[2]models.ChainType{src, dst}] {
		return RouteCrossChain, nil
	}
	return 0, swaperr.New(swaperr.KindChainUnsupported, "route", "route %s -> %s is not supported", src, dst)
}

// RouteIntent routes an intent. Chains of the same type but different ids have no
// bridging procedure and are unsupported.
func RouteIntent(intent *models.Intent) (RouteKind, error) {
	kind, err := Route(intent.SourceChainType, intent.DestChainType)
	if err != nil {
		return 0, err
	}
	if kind == RouteSameChain && intent.SourceChainID != intent.DestChainID {
		return 0, swaperr.New(swaperr.KindChainUnsupported, "route",
			"route %s %d -> %s %d is not supported", intent.SourceChainType, intent.SourceChainID, intent.DestChainType, intent.DestChainID)
	}
	return kind, nil
}
