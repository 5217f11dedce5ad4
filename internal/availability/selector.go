package availability

import (
	"fmt"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

// Selector picks exactly one ledger row. The three implementations below
// are the only ones; the unexported method closes the set.
type Selector interface {
	selector()
	fmt.Stringer
}

type ByEstimate struct {
	ID string
}

type ByFundSource struct {
	ID string
}

type ByYearAndItem struct {
	FiscalYear int
	ItemCode   string
}

func (ByEstimate) selector()    {}
func (ByFundSource) selector()  {}
func (ByYearAndItem) selector() {}

func (s ByEstimate) String() string   { return "budget estimate " + s.ID }
func (s ByFundSource) String() string { return "fund source " + s.ID }
func (s ByYearAndItem) String() string {
	return fmt.Sprintf("item %s of %d", s.ItemCode, s.FiscalYear)
}

// SelectorFromKeys converts the loose keys accepted at the HTTP boundary.
// Exactly one of estimateID, fundSourceID or (fiscalYear, itemCode) must be
// set; a lone fiscalYear does not count as a selector.
func SelectorFromKeys(estimateID, fundSourceID string, fiscalYear int, itemCode string) (Selector, error) {
	var picked []Selector
	if estimateID != "" {
		picked = append(picked, ByEstimate{ID: estimateID})
	}
	if fundSourceID != "" {
		picked = append(picked, ByFundSource{ID: fundSourceID})
	}
	if itemCode != "" {
		if fiscalYear == 0 {
			return nil, fmt.Errorf("item code %q without fiscal year: %w", itemCode, models.ErrInvalidSelector)
		}
		picked = append(picked, ByYearAndItem{FiscalYear: fiscalYear, ItemCode: itemCode})
	}
	if len(picked) != 1 {
		return nil, fmt.Errorf("%d selectors supplied: %w", len(picked), models.ErrInvalidSelector)
	}
	return picked[0], nil
}
