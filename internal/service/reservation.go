package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/metrics"
)

// ReservationService is the only code path that changes ledger balances.
// Each operation takes an entry the caller holds locked and returns the
// updated copy, stamped with the service clock; the input is never
// modified, so a failed step leaves nothing to undo.
type ReservationService struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewReservationService creates a ReservationService. m may be nil.
func NewReservationService(logger *slog.Logger, m *metrics.Metrics) *ReservationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReservationService{
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve moves amount from usable to reserved. Fails with
// domain.ErrInsufficientBalance when amount exceeds usable.
func (s *ReservationService) Reserve(a *domain.Asset, amount domain.Quantity) (*domain.Asset, error) {
	return s.apply("reserve", a, amount, a.Reserve)
}

// Release returns a reserved amount to usable.
func (s *ReservationService) Release(a *domain.Asset, amount domain.Quantity) (*domain.Asset, error) {
	return s.apply("release", a, amount, a.Release)
}

// Credit adds amount to total and usable.
func (s *ReservationService) Credit(a *domain.Asset, amount domain.Quantity) (*domain.Asset, error) {
	return s.apply("credit", a, amount, a.Credit)
}

// Debit consumes a reserved amount from total. Fails with
// domain.ErrInsufficientTotal when amount exceeds total.
func (s *ReservationService) Debit(a *domain.Asset, amount domain.Quantity) (*domain.Asset, error) {
	return s.apply("debit", a, amount, a.Debit)
}

func (s *ReservationService) apply(kind string, a *domain.Asset, amount domain.Quantity, op func(domain.Quantity) (*domain.Asset, error)) (*domain.Asset, error) {
	next, err := op(amount)
	if err != nil {
		s.metrics.IncLedgerOp(kind, outcome(err))
		s.logger.Debug("ledger operation rejected",
			slog.String("op", kind),
			slog.String("entry", a.Key().String()),
			slog.String("amount", amount.String()),
			slog.String("usable", a.Usable.String()),
			slog.String("total", a.Total.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	next.UpdatedAt = s.now()
	s.metrics.IncLedgerOp(kind, "ok")
	s.logger.Debug("ledger operation applied",
		slog.String("op", kind),
		slog.String("entry", a.Key().String()),
		slog.String("amount", amount.String()),
		slog.String("usable", next.Usable.String()),
		slog.String("total", next.Total.String()),
	)
	return next, nil
}

// outcome names an error for metric labels.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrInsufficientTotal):
		return "insufficient_total"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrLockTimeout):
		return "lock_timeout"
	}
	return "error"
}
