package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/store"
)

// OpenAccountRequest represents the input for account opening.
type OpenAccountRequest struct {
	CustomerID      string
	InitialCash     domain.Quantity
	InitialHoldings []HoldingInput
}

// HoldingInput represents a single holding in an account opening request.
type HoldingInput struct {
	Symbol string
	Size   domain.Quantity
}

// AssetService answers ledger queries and opens accounts.
type AssetService struct {
	store  store.Store
	ledger *ReservationService
	base   domain.Symbol
	logger *slog.Logger
	now    func() time.Time
}

// NewAssetService creates an AssetService.
func NewAssetService(st store.Store, ledger *ReservationService, base domain.Symbol, logger *slog.Logger) *AssetService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetService{
		store:  st,
		ledger: ledger,
		base:   base,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetLedgerEntry returns the customer's entry for symbol. A customer who
// never held the symbol gets a zero entry; nothing is written.
func (s *AssetService) GetLedgerEntry(ctx context.Context, customerID, symbol string) (*domain.Asset, error) {
	if err := validateCustomerID(customerID); err != nil {
		return nil, err
	}
	sym, err := domain.ParseSymbol(symbol)
	if err != nil {
		return nil, err
	}

	key := domain.AssetKey{CustomerID: customerID, Symbol: sym}
	a, err := s.store.GetAsset(ctx, key)
	if errors.Is(err, domain.ErrAssetNotFound) {
		return domain.NewAsset(key), nil
	}
	return a, err
}

// ListAssets returns all of a customer's entries, ordered by symbol.
func (s *AssetService) ListAssets(ctx context.Context, customerID string) ([]*domain.Asset, error) {
	if err := validateCustomerID(customerID); err != nil {
		return nil, err
	}
	return s.store.ListAssets(ctx, customerID)
}

// OpenAccount validates the request and seeds the customer's cash entry
// and holdings in one transaction. It fails with domain.ErrAccountExists
// when the customer already has a cash entry.
func (s *AssetService) OpenAccount(ctx context.Context, req OpenAccountRequest) ([]*domain.Asset, error) {
	if err := validateCustomerID(req.CustomerID); err != nil {
		return nil, err
	}
	if req.InitialCash.IsNull() {
		req.InitialCash = domain.ZeroQuantity()
	}

	cashKey := domain.AssetKey{CustomerID: req.CustomerID, Symbol: s.base}
	amounts := map[domain.AssetKey]domain.Quantity{cashKey: req.InitialCash}
	locks := []store.AssetLock{{Key: cashKey}}
	for _, h := range req.InitialHoldings {
		sym, err := domain.ParseSymbol(h.Symbol)
		if err != nil {
			return nil, err
		}
		if sym == s.base {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("%s is the base currency; use initial_cash", sym),
			}
		}
		if !h.Size.IsPositive() {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("holding size must be > 0 for symbol %s", sym),
			}
		}
		key := domain.AssetKey{CustomerID: req.CustomerID, Symbol: sym}
		if _, dup := amounts[key]; dup {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("duplicate symbol in initial_holdings: %s", sym),
			}
		}
		amounts[key] = h.Size
		locks = append(locks, store.AssetLock{Key: key})
	}

	var opened []*domain.Asset
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.LockAssets(ctx, locks...)
		if err != nil {
			return err
		}
		if _, ok := got[cashKey]; ok {
			return fmt.Errorf("%w: %s", domain.ErrAccountExists, req.CustomerID)
		}

		opened = opened[:0]
		for _, l := range locks {
			entry, exists := got[l.Key]
			if !exists {
				entry = domain.NewAsset(l.Key)
			}
			if amount := amounts[l.Key]; !amount.IsZero() {
				if entry, err = s.ledger.Credit(entry, amount); err != nil {
					return err
				}
			}
			if exists {
				err = tx.SaveAsset(ctx, entry)
			} else {
				entry.UpdatedAt = s.now()
				entry.CreatedAt = entry.UpdatedAt
				err = tx.InsertAsset(ctx, entry)
			}
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("%w: %s", domain.ErrAccountExists, req.CustomerID)
			}
			if err != nil {
				return err
			}
			opened = append(opened, entry)
		}
		return nil
	})
	if err != nil {
		logFailure(ctx, s.logger, "account opening rejected", err, slog.String("customer_id", req.CustomerID))
		return nil, err
	}
	sort.Slice(opened, func(i, j int) bool { return opened[i].Symbol < opened[j].Symbol })

	s.logger.Info("account opened",
		slog.String("customer_id", req.CustomerID),
		slog.String("initial_cash", req.InitialCash.String()),
		slog.Int("holdings", len(req.InitialHoldings)),
	)
	return opened, nil
}
