package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/efreitasn/brokerage/internal/domain"
	"pgregory.net/rapid"
)

// TestProperty_ReservedMatchesPendingOrders verifies that after any sequence
// of creates, cancels and matches, every ledger entry satisfies
// 0 <= usable <= total and its reserved amount equals the sum of what the
// customer's pending orders hold on it.
func TestProperty_ReservedMatchesPendingOrders(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv()
		ctx := context.Background()
		symbols := []string{"AAPL", "MSFT"}

		_, err := env.assetSvc.OpenAccount(ctx, OpenAccountRequest{
			CustomerID:  "c1",
			InitialCash: domain.MustQuantity(fmt.Sprint(rapid.IntRange(0, 5000).Draw(t, "cash"))),
			InitialHoldings: []HoldingInput{
				{Symbol: "AAPL", Size: domain.MustQuantity(fmt.Sprint(rapid.IntRange(1, 50).Draw(t, "aapl")))},
				{Symbol: "MSFT", Size: domain.MustQuantity(fmt.Sprint(rapid.IntRange(1, 50).Draw(t, "msft")))},
			},
		})
		if err != nil {
			t.Fatalf("open account: %v", err)
		}

		var ids []string
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch op := rapid.IntRange(0, 2).Draw(t, "op"); {
			case op == 0 || len(ids) == 0:
				side := domain.OrderSideBuy
				if rapid.Bool().Draw(t, "sell") {
					side = domain.OrderSideSell
				}
				o, err := env.svc.Create(ctx, CreateOrderRequest{
					CustomerID: "c1",
					Symbol:     rapid.SampledFrom(symbols).Draw(t, "symbol"),
					Side:       side,
					Size:       domain.MustQuantity(fmt.Sprintf("%d.%02d", rapid.IntRange(0, 9).Draw(t, "size"), rapid.IntRange(1, 99).Draw(t, "sizeCents"))),
					Price:      domain.MustMoney(fmt.Sprintf("%d.%02d", rapid.IntRange(1, 300).Draw(t, "price"), rapid.IntRange(0, 99).Draw(t, "priceCents"))),
				})
				switch {
				case err == nil:
					ids = append(ids, o.OrderID)
				case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrInvalidArgument):
				default:
					t.Fatalf("create: %v", err)
				}
			case op == 1:
				id := rapid.SampledFrom(ids).Draw(t, "cancelID")
				if _, err := env.svc.Cancel(ctx, id, "c1"); err != nil && !errors.Is(err, domain.ErrInvalidState) {
					t.Fatalf("cancel: %v", err)
				}
			default:
				id := rapid.SampledFrom(ids).Draw(t, "matchID")
				if _, err := env.svc.Match(ctx, id); err != nil && !errors.Is(err, domain.ErrInvalidState) {
					t.Fatalf("match: %v", err)
				}
			}
			checkReservations(t, env)
		}
	})
}

func checkReservations(t *rapid.T, env *testEnv) {
	ctx := context.Background()
	pending, err := env.svc.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}

	want := make(map[domain.AssetKey]domain.Quantity)
	for _, o := range pending {
		key, amount, err := o.Reservation(domain.DefaultBaseCurrency)
		if err != nil {
			t.Fatalf("reservation: %v", err)
		}
		sum, ok := want[key]
		if !ok {
			sum = domain.ZeroQuantity()
		}
		if want[key], err = sum.Add(amount); err != nil {
			t.Fatalf("sum: %v", err)
		}
	}

	assets, err := env.assetSvc.ListAssets(ctx, "c1")
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	for _, a := range assets {
		if err := a.Validate(); err != nil {
			t.Fatalf("invariant broken: %v", err)
		}
		expected, ok := want[a.Key()]
		if !ok {
			expected = domain.ZeroQuantity()
		}
		if !a.Reserved().Equal(expected) {
			t.Fatalf("%s reserved %s, pending orders hold %s", a.Key(), a.Reserved(), expected)
		}
	}
}
