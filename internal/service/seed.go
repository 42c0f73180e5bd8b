package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/efreitasn/brokerage/internal/domain"
	"gopkg.in/yaml.v3"
)

// SeedFile lists accounts to open at startup.
//
//	customers:
//	  - customer_id: alice
//	    initial_cash: "10000.00"
//	    holdings:
//	      - symbol: AAPL
//	        size: "20"
type SeedFile struct {
	Customers []SeedCustomer `yaml:"customers"`
}

// SeedCustomer is one account in a SeedFile. Amounts are decimal strings
// so YAML never rounds them through a float.
type SeedCustomer struct {
	CustomerID  string        `yaml:"customer_id"`
	InitialCash string        `yaml:"initial_cash"`
	Holdings    []SeedHolding `yaml:"holdings"`
}

// SeedHolding is a stock position in a SeedCustomer.
type SeedHolding struct {
	Symbol string `yaml:"symbol"`
	Size   string `yaml:"size"`
}

// ParseSeed decodes a seed document into account-opening requests.
func ParseSeed(data []byte) ([]OpenAccountRequest, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	reqs := make([]OpenAccountRequest, 0, len(f.Customers))
	for i, c := range f.Customers {
		req := OpenAccountRequest{CustomerID: c.CustomerID, InitialCash: domain.ZeroQuantity()}
		if c.InitialCash != "" {
			cash, err := domain.ParseQuantity(c.InitialCash)
			if err != nil {
				return nil, fmt.Errorf("seed customer %d (%s): initial_cash: %w", i, c.CustomerID, err)
			}
			req.InitialCash = cash
		}
		for _, h := range c.Holdings {
			size, err := domain.ParseQuantity(h.Size)
			if err != nil {
				return nil, fmt.Errorf("seed customer %d (%s): %s size: %w", i, c.CustomerID, h.Symbol, err)
			}
			req.InitialHoldings = append(req.InitialHoldings, HoldingInput{Symbol: h.Symbol, Size: size})
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// SeedAccounts opens every account listed in the YAML file at path.
// Customers that already have an account are skipped, so seeding a
// persistent store on every start is harmless. It returns how many
// accounts were opened.
func SeedAccounts(ctx context.Context, assets *AssetService, path string, logger *slog.Logger) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	reqs, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}

	opened := 0
	for _, req := range reqs {
		_, err := assets.OpenAccount(ctx, req)
		if errors.Is(err, domain.ErrAccountExists) {
			logger.Debug("seed account exists, skipping", slog.String("customer_id", req.CustomerID))
			continue
		}
		if err != nil {
			return opened, fmt.Errorf("seed customer %s: %w", req.CustomerID, err)
		}
		opened++
	}

	logger.Info("seed loaded",
		slog.String("path", path),
		slog.Int("customers", len(reqs)),
		slog.Int("opened", opened),
	)
	return opened, nil
}
