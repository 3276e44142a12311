package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/taxfiling/filing-saga/internal/event"
	"github.com/taxfiling/filing-saga/internal/model"
	"github.com/taxfiling/filing-saga/internal/repo"
	"github.com/taxfiling/filing-saga/internal/saga"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidAmount means a negative amount owed was passed.
var ErrInvalidAmount = errors.New("amount owed must not be negative")

// FilingStatus is the read-model document served to the API layer and
// cached in Redis.
type FilingStatus struct {
	ID            string          `json:"id"`
	State         string          `json:"state"`
	Version       uint64          `json:"version"`
	TaxYear       int             `json:"tax_year"`
	AmountOwed    decimal.Decimal `json:"amount_owed"`
	PaymentRef    *string         `json:"payment_ref,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
}

// FilingService glues the command/query surface to the orchestrator.
// Commands are turned into envelopes and pushed through the same
// Handle path as transport-delivered events.
type FilingService struct {
	repo repo.RepositoryInterface
	orc  *saga.Orchestrator
	log  *zap.SugaredLogger
}

// NewFilingService returns FilingService.
func NewFilingService(r repo.RepositoryInterface, orc *saga.Orchestrator, logger *zap.SugaredLogger) *FilingService {
	return &FilingService{repo: r, orc: orc, log: logger}
}

// Submit starts (or restarts) the filing workflow. requestID, when
// supplied by the client, becomes the event id so repeated requests
// dedup; otherwise a fresh id is generated.
func (s *FilingService) Submit(ctx context.Context, filingID string, taxYear int, amountOwed decimal.Decimal, requestID string) (*saga.Result, error) {
	if amountOwed.IsNegative() {
		return nil, ErrInvalidAmount
	}
	payload, err := json.Marshal(event.SubmitPayload{TaxYear: taxYear, AmountOwed: amountOwed})
	if err != nil {
		return nil, err
	}
	res, err := s.orc.Handle(ctx, &event.Envelope{
		EventID:        orRandom(requestID),
		CorrelationKey: filingID,
		EventType:      event.TypeSubmitFiling,
		Payload:        payload,
	})
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, filingID)
	return res, nil
}

// Resubmit moves a payment-failed filing back to draft.
func (s *FilingService) Resubmit(ctx context.Context, filingID, requestID string) (*saga.Result, error) {
	res, err := s.orc.Handle(ctx, &event.Envelope{
		EventID:        orRandom(requestID),
		CorrelationKey: filingID,
		EventType:      event.TypeResubmitFiling,
		Payload:        json.RawMessage(`{}`),
	})
	if err != nil {
		return nil, err
	}
	s.refreshCache(ctx, filingID)
	return res, nil
}

// Status returns the filing's current state, from cache when warm.
// Transitions applied by the consumer process do not invalidate the
// cache, so the answer can trail them by up to the cache TTL.
func (s *FilingService) Status(ctx context.Context, filingID string) (*FilingStatus, error) {
	if raw, err := s.repo.GetCachedStatus(ctx, filingID); err == nil {
		var st FilingStatus
		if err := json.Unmarshal([]byte(raw), &st); err == nil {
			return &st, nil
		}
	}
	var f model.Filing
	if err := s.repo.DB(ctx).Where("id = ?", filingID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, saga.ErrAggregateNotFound
		}
		return nil, err
	}
	st := statusOf(&f)
	s.cache(ctx, st)
	return st, nil
}

// Repo exposes underlying repository (unit tests helper).
func (s *FilingService) Repo() repo.RepositoryInterface {
	return s.repo
}

func (s *FilingService) refreshCache(ctx context.Context, filingID string) {
	var f model.Filing
	if err := s.repo.DB(ctx).Where("id = ?", filingID).First(&f).Error; err != nil {
		return
	}
	s.cache(ctx, statusOf(&f))
}

func (s *FilingService) cache(ctx context.Context, st *FilingStatus) {
	body, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := s.repo.CacheStatus(ctx, st.ID, string(body)); err != nil {
		s.log.Warn(err)
	}
}

func statusOf(f *model.Filing) *FilingStatus {
	return &FilingStatus{
		ID:            f.ID,
		State:         f.State,
		Version:       f.Version,
		TaxYear:       f.TaxYear,
		AmountOwed:    f.AmountOwed,
		PaymentRef:    f.PaymentRef,
		FailureReason: f.FailureReason,
	}
}

func orRandom(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
