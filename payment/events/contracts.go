package events

import "time"

const TypePaymentConfirmed = "payments.confirmed"

// PaymentConfirmed is published once per order, after the atomic confirm
// committed.
type PaymentConfirmed struct {
	EventID        string    `json:"event_id"`
	OrderID        string    `json:"order_id"`
	PaymentID      string    `json:"payment_id"`
	BuyerEmail     string    `json:"buyer_email"`
	ExpectedAmount int64     `json:"expected_amount"`
	ReceivedAmount string    `json:"received_amount"`
	TxHash         string    `json:"tx_hash"`
	Sender         string    `json:"sender"`
	BlockNumber    uint64    `json:"block_number"`
	BlockTimestamp time.Time `json:"block_timestamp"`
	ConfirmedAt    time.Time `json:"confirmed_at"`
}
