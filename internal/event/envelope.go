package event

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Event types carried on the filing topic. Commands and facts share
// the one envelope shape; the transition table decides what each type
// means in the filing's current state.
const (
	TypeSubmitFiling              = "SubmitFilingCommand"
	TypeResubmitFiling            = "ResubmitFilingCommand"
	TypeTaxReturnFiled            = "TaxReturnFiledEvent"
	TypeFilingRejected            = "FilingRejectedEvent"
	TypePaymentRequested          = "PaymentRequestedEvent"
	TypePaymentSucceeded          = "PaymentSucceededEvent"
	TypePaymentFailed             = "PaymentFailedEvent"
	TypeFilingCompleted           = "FilingCompletedEvent"
	TypePaymentFailedNotification = "PaymentFailedNotification"
)

// Known reports whether t is a type the orchestrator understands at all.
func Known(t string) bool {
	switch t {
	case TypeSubmitFiling, TypeResubmitFiling, TypeTaxReturnFiled,
		TypeFilingRejected, TypePaymentRequested, TypePaymentSucceeded,
		TypePaymentFailed, TypeFilingCompleted, TypePaymentFailedNotification:
		return true
	}
	return false
}

// Envelope is the wire shape of every event on the log. CorrelationKey
// is the filing id and doubles as the Kafka partition key, so events
// for one filing arrive in order.
type Envelope struct {
	EventID        string          `json:"event_id"`
	CorrelationKey string          `json:"correlation_key"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
}

// SubmitPayload is the body of SubmitFilingCommand.
type SubmitPayload struct {
	TaxYear    int             `json:"tax_year"`
	AmountOwed decimal.Decimal `json:"amount_owed"`
}

// FiledPayload is the body of TaxReturnFiledEvent.
type FiledPayload struct {
	TaxYear    int             `json:"tax_year"`
	AmountOwed decimal.Decimal `json:"amount_owed"`
}

// PaymentResultPayload is the body of PaymentSucceededEvent and
// PaymentFailedEvent.
type PaymentResultPayload struct {
	PaymentRef string `json:"payment_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// RejectionPayload is the body of FilingRejectedEvent.
type RejectionPayload struct {
	Reason string `json:"reason"`
}

// PaymentRequestPayload is the body of PaymentRequestedEvent, consumed
// by the payment effect invoker.
type PaymentRequestPayload struct {
	TaxYear    int             `json:"tax_year"`
	AmountOwed decimal.Decimal `json:"amount_owed"`
}

// CompletedPayload is the body of FilingCompletedEvent.
type CompletedPayload struct {
	PaymentRef string `json:"payment_ref,omitempty"`
}

// NotificationPayload is the body of PaymentFailedNotification.
type NotificationPayload struct {
	Reason string `json:"reason"`
}

// Decode unmarshals raw into a fresh envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode marshals the envelope for the outbox body.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
