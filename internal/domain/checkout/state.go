package checkout

// State is a step of the checkout state machine.
type State string

const (
	StateValidating       State = "validating"
	StatePricing          State = "pricing"
	StateStockChecking    State = "stock_checking"
	StateOrderCreating    State = "order_creating"
	StateProviderInvoking State = "provider_invoking"
	StateReconciling      State = "reconciling"
	StateCompensating     State = "compensating"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Compensable reports whether a failure in s leaves an order record behind
// that must be marked cancelled or errored.
func (s State) Compensable() bool {
	switch s {
	case StateProviderInvoking, StateReconciling:
		return true
	default:
		return false
	}
}
