package orders

import "fmt"

// dataInconsistencyError marks stored order state that the engine cannot act
// on, like a settled order without a preimage. These are bugs or manual DB
// edits, not user errors.
type dataInconsistencyError struct {
	reason  string
	orderID string
}

func (e *dataInconsistencyError) Error() string {
	return fmt.Sprintf("order %s: %s", e.orderID, e.reason)
}

func errDataInconsistency(reason string, orderID string) error {
	return &dataInconsistencyError{reason: reason, orderID: orderID}
}
