package saga

import (
	"encoding/json"
	"fmt"

	"github.com/taxfiling/filing-saga/internal/event"
	"github.com/taxfiling/filing-saga/internal/model"
)

// followUp is an outbound event produced by a transition, staged in
// the outbox by the orchestrator.
type followUp struct {
	eventType string
	payload   interface{}
}

// transitionFunc mutates the filing in place (everything except the
// version, which the orchestrator owns) and returns follow-on events.
type transitionFunc func(f *model.Filing, env *event.Envelope) ([]followUp, error)

// createTriggers are the event types allowed to initialize an absent
// aggregate.
var createTriggers = map[string]bool{
	event.TypeSubmitFiling: true,
}

// transitions is the explicit state machine table keyed by
// (state, event type). A missing entry for a known event type means
// the event is stale or out of order and is absorbed as a no-op.
var transitions = map[string]map[string]transitionFunc{
	model.StateDraft: {
		event.TypeSubmitFiling: applySubmit,
	},
	model.StateSubmitted: {
		event.TypeTaxReturnFiled: applyFiled,
		event.TypeFilingRejected: applyRejected,
	},
	model.StateAwaitingPayment: {
		event.TypePaymentSucceeded: applyPaymentSucceeded,
		event.TypePaymentFailed:    applyPaymentFailed,
	},
	model.StatePaymentFailed: {
		event.TypeResubmitFiling: applyResubmit,
	},
}

func applySubmit(f *model.Filing, env *event.Envelope) ([]followUp, error) {
	var p event.SubmitPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: submit payload: %v", ErrInvalidPayload, err)
	}
	f.State = model.StateSubmitted
	f.TaxYear = p.TaxYear
	f.AmountOwed = p.AmountOwed
	f.FailureReason = nil
	return []followUp{{
		eventType: event.TypeTaxReturnFiled,
		payload:   event.FiledPayload{TaxYear: f.TaxYear, AmountOwed: f.AmountOwed},
	}}, nil
}

// applyFiled consumes the saga's own filed event back off the log and
// decides whether payment is required.
func applyFiled(f *model.Filing, env *event.Envelope) ([]followUp, error) {
	if f.AmountOwed.IsPositive() {
		f.State = model.StateAwaitingPayment
		return []followUp{{
			eventType: event.TypePaymentRequested,
			payload:   event.PaymentRequestPayload{TaxYear: f.TaxYear, AmountOwed: f.AmountOwed},
		}}, nil
	}
	f.State = model.StateCompleted
	return []followUp{{
		eventType: event.TypeFilingCompleted,
		payload:   event.CompletedPayload{},
	}}, nil
}

func applyRejected(f *model.Filing, env *event.Envelope) ([]followUp, error) {
	var p event.RejectionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: rejection payload: %v", ErrInvalidPayload, err)
	}
	f.State = model.StateRejected
	f.FailureReason = &p.Reason
	return nil, nil
}

func applyPaymentSucceeded(f *model.Filing, env *event.Envelope) ([]followUp, error) {
	var p event.PaymentResultPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: payment payload: %v", ErrInvalidPayload, err)
	}
	f.State = model.StateCompleted
	f.PaymentRef = &p.PaymentRef
	f.FailureReason = nil
	return []followUp{{
		eventType: event.TypeFilingCompleted,
		payload:   event.CompletedPayload{PaymentRef: p.PaymentRef},
	}}, nil
}

// applyPaymentFailed is the compensation: nothing external happened
// before payment, so the filing is only marked and a user-facing
// notification is scheduled.
func applyPaymentFailed(f *model.Filing, env *event.Envelope) ([]followUp, error) {
	var p event.PaymentResultPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: payment payload: %v", ErrInvalidPayload, err)
	}
	f.State = model.StatePaymentFailed
	f.FailureReason = &p.Reason
	return []followUp{{
		eventType: event.TypePaymentFailedNotification,
		payload:   event.NotificationPayload{Reason: p.Reason},
	}}, nil
}

func applyResubmit(f *model.Filing, env *event.Envelope) ([]followUp, error) {
	f.State = model.StateDraft
	f.FailureReason = nil
	return nil, nil
}
