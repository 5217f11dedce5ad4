package availability

import (
	"context"
	"errors"
	"fmt"

	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Snapshot is the availability of one ledger row at read time. A missing
// row yields Found=false with zero amounts.
type Snapshot struct {
	Found              bool                `json:"found"`
	Target             models.BudgetTarget `json:"target"`
	FiscalYear         int                 `json:"fiscal_year,omitempty"`
	ItemCode           string              `json:"item_code,omitempty"`
	Allocated          decimal.Decimal     `json:"allocated"`
	Committed          decimal.Decimal     `json:"committed"`
	Spent              decimal.Decimal     `json:"spent"`
	Available          decimal.Decimal     `json:"available"`
	UtilizationPercent decimal.Decimal     `json:"utilization_percent"`
	IsOverBudget       bool                `json:"is_over_budget"`
}

// Balances returns the raw amounts of the snapshot.
func (s Snapshot) Balances() models.Balances {
	return models.Balances{Allocated: s.Allocated, Committed: s.Committed, Spent: s.Spent}
}

// Compute derives available, utilization and the over-budget flag.
func Compute(allocated, committed, spent decimal.Decimal) Snapshot {
	b := models.Balances{Allocated: allocated, Committed: committed, Spent: spent}
	available := b.Available()
	return Snapshot{
		Found:              true,
		Allocated:          allocated,
		Committed:          committed,
		Spent:              spent,
		Available:          available,
		UtilizationPercent: Utilization(spent.Add(committed), allocated),
		IsOverBudget:       available.IsNegative(),
	}
}

// Utilization is used/allocated as a percentage rounded to two places.
// Zero allocation reads as zero utilization.
func Utilization(used, allocated decimal.Decimal) decimal.Decimal {
	if allocated.IsZero() {
		return decimal.Zero
	}
	return used.Div(allocated).Mul(hundred).Round(2)
}

// Calculator answers availability queries. It never writes.
type Calculator struct {
	store interfaces.BudgetStore
}

func NewCalculator(store interfaces.BudgetStore) *Calculator {
	return &Calculator{store: store}
}

func (c *Calculator) GetBudgetAvailability(ctx context.Context, sel Selector) (Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)
	switch s := sel.(type) {
	case ByEstimate:
		if s.ID == "" {
			return Snapshot{}, fmt.Errorf("empty estimate id: %w", models.ErrInvalidSelector)
		}
		snap, err = c.fromEstimate(c.store.GetBudgetEstimate(ctx, s.ID))
	case ByFundSource:
		if s.ID == "" {
			return Snapshot{}, fmt.Errorf("empty fund source id: %w", models.ErrInvalidSelector)
		}
		var f models.FundSource
		f, err = c.store.GetFundSource(ctx, s.ID)
		if err == nil {
			snap = Compute(f.AllocatedAmount, decimal.Zero, f.SpentAmount)
			snap.Target = models.BudgetTarget{Kind: models.TargetFundSource, ID: f.ID}
			snap.FiscalYear = f.FiscalYear
		}
	case ByYearAndItem:
		if s.FiscalYear == 0 || s.ItemCode == "" {
			return Snapshot{}, fmt.Errorf("incomplete year and item selector: %w", models.ErrInvalidSelector)
		}
		snap, err = c.fromEstimate(c.store.FindBudgetEstimateByItemCode(ctx, s.FiscalYear, s.ItemCode))
	default:
		return Snapshot{}, fmt.Errorf("no selector: %w", models.ErrInvalidSelector)
	}

	if errors.Is(err, models.ErrNotFound) {
		return notFound(), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("availability of %s: %w", sel, err)
	}
	return snap, nil
}

func (c *Calculator) fromEstimate(e models.BudgetEstimate, err error) (Snapshot, error) {
	if err != nil {
		return Snapshot{}, err
	}
	snap := Compute(e.AllocatedAmount, e.CommittedAmount, e.SpentAmount)
	snap.Target = models.BudgetTarget{Kind: models.TargetBudgetEstimate, ID: e.ID}
	snap.FiscalYear = e.FiscalYear
	snap.ItemCode = e.ItemCode
	return snap, nil
}

func notFound() Snapshot {
	return Snapshot{
		Allocated:          decimal.Zero,
		Committed:          decimal.Zero,
		Spent:              decimal.Zero,
		Available:          decimal.Zero,
		UtilizationPercent: decimal.Zero,
	}
}
