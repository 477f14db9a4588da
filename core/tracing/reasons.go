package tracing

// BalanceChangeReason is a description of the reason why a balance was changed.
type BalanceChangeReason int

const (
	BalanceChangeUnspecified BalanceChangeReason = iota
	BalanceChangeTransfer                        // value moved between accounts
	BalanceChangeGasFee                          // gas debited from the sender
	BalanceChangeGenesis                         // initial allocation
	BalanceChangeBridgeGas                       // gas debited by a bridge call
)

// NonceChangeReason is a description of the reason why a nonce was changed.
type NonceChangeReason int

const (
	NonceChangeUnspecified NonceChangeReason = iota
	NonceChangeTransfer
	NonceChangeBridge
)

// String returns a human-readable string for the reason.
func (r BalanceChangeReason) String() string {
	switch r {
	case BalanceChangeTransfer:
		return "transfer"
	case BalanceChangeGasFee:
		return "gas_fee"
	case BalanceChangeGenesis:
		return "genesis"
	case BalanceChangeBridgeGas:
		return "bridge_gas"
	}
	return "unspecified"
}

// String returns a human-readable string for the reason.
func (r NonceChangeReason) String() string {
	switch r {
	case NonceChangeTransfer:
		return "transfer"
	case NonceChangeBridge:
		return "bridge"
	}
	return "unspecified"
}
