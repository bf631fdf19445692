package enums

import "fmt"

// OrderPaymentState is the payment view of an order as owned by order management.
type OrderPaymentState string

const (
	OrderPaymentUnpaid          OrderPaymentState = "unpaid"
	OrderPaymentAwaitingPayment OrderPaymentState = "awaiting_payment"
	OrderPaymentPaid            OrderPaymentState = "paid"
	OrderPaymentFailed          OrderPaymentState = "payment_failed"
)

var validOrderPaymentStates = []OrderPaymentState{
	OrderPaymentUnpaid,
	OrderPaymentAwaitingPayment,
	OrderPaymentPaid,
	OrderPaymentFailed,
}

func (s OrderPaymentState) String() string {
	return string(s)
}

func (s OrderPaymentState) IsValid() bool {
	for _, candidate := range validOrderPaymentStates {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseOrderPaymentState(value string) (OrderPaymentState, error) {
	for _, candidate := range validOrderPaymentStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order payment state %q", value)
}
