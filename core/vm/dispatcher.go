// Package vm holds the transaction dispatcher and the counter precompile
// bridge: the two pieces that decide which engine executes a transaction and
// how an EVM transaction reaches into the counter state.
package vm

import (
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/dexchain/dex-geth/params"
)

// Route identifies the execution backend a transaction is dispatched to.
type Route int

const (
	// RouteEvm executes against the account state only.
	RouteEvm Route = iota
	// RouteDexVm executes against the counter state only.
	RouteDexVm
	// RouteBridge executes the counter precompile under EVM rules,
	// touching both states in one transaction.
	RouteBridge
)

// Engine returns a short human identifier for the backend.
func (r Route) Engine() string {
	switch r {
	case RouteDexVm:
		return "dexvm"
	case RouteBridge:
		return "bridge"
	default:
		return "evm"
	}
}

// RouteOf classifies a transaction by its destination address. Contract
// creations (nil destination) are rejected at ingress and fall through to
// the EVM route here.
func RouteOf(tx *types.Transaction) Route {
	to := tx.To()
	if to == nil {
		return RouteEvm
	}
	switch *to {
	case params.DexVmRouterAddress:
		return RouteDexVm
	case params.CounterPrecompileAddress:
		return RouteBridge
	default:
		return RouteEvm
	}
}
