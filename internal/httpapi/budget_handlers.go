package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/auth"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/authorization"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/availability"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/ledger"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/shopspring/decimal"
)

// -------------------------
// Periods
// -------------------------

type periodReasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) periodKey(c *fiber.Ctx) (models.PeriodKey, error) {
	year, err := c.ParamsInt("year")
	if err != nil {
		return models.PeriodKey{}, badRequest("year must be a number")
	}
	number, err := c.ParamsInt("period")
	if err != nil {
		return models.PeriodKey{}, badRequest("period must be a number")
	}
	return models.PeriodKey{
		FiscalYear:   year,
		PeriodNumber: number,
		CompanyID:    c.Query("company_id", h.svc.CompanyID),
	}, nil
}

// ensurePeriod creates the period OPEN with default thresholds unless it
// already exists.
func (h *Handler) ensurePeriod(c *fiber.Ctx) error {
	key, err := h.periodKey(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Periods.EnsurePeriod(c.UserContext(), key)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (h *Handler) getPeriodLock(c *fiber.Ctx) error {
	key, err := h.periodKey(c)
	if err != nil {
		return err
	}
	status, err := h.svc.Periods.IsPeriodLocked(c.UserContext(), key)
	if err != nil {
		return err
	}
	return c.JSON(status)
}

func (h *Handler) lockPeriod(c *fiber.Ctx) error {
	key, err := h.periodKey(c)
	if err != nil {
		return err
	}
	var req periodReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := h.svc.Periods.LockPeriod(c.UserContext(), key, auth.ActorFrom(c), req.Reason); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *Handler) unlockPeriod(c *fiber.Ctx) error {
	key, err := h.periodKey(c)
	if err != nil {
		return err
	}
	var req periodReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := h.svc.Periods.UnlockPeriod(c.UserContext(), key, auth.ActorFrom(c), req.Reason); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

// -------------------------
// Availability and spending checks
// -------------------------

func selectorFromQuery(c *fiber.Ctx) (availability.Selector, error) {
	return availability.SelectorFromKeys(
		c.Query("budget_estimate_id"),
		c.Query("fund_source_id"),
		c.QueryInt("fiscal_year"),
		c.Query("item_code"),
	)
}

func (h *Handler) getAvailability(c *fiber.Ctx) error {
	sel, err := selectorFromQuery(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.Availability.GetBudgetAvailability(c.UserContext(), sel)
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

type checkSpendingRequest struct {
	BudgetEstimateID string          `json:"budget_estimate_id"`
	FundSourceID     string          `json:"fund_source_id"`
	ItemCode         string          `json:"item_code"`
	FiscalYear       int             `json:"fiscal_year"`
	Amount           decimal.Decimal `json:"amount"`
}

// checkSpending answers 200 for every verdict; a blocked spend is a
// decision, not a failed request.
func (h *Handler) checkSpending(c *fiber.Ctx) error {
	var req checkSpendingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	sel, err := availability.SelectorFromKeys(req.BudgetEstimateID, req.FundSourceID, req.FiscalYear, req.ItemCode)
	if err != nil {
		return err
	}
	decision, err := h.svc.Authorizations.CheckBudgetForSpending(c.UserContext(), authorization.SpendingCheck{
		Selector:   sel,
		Amount:     req.Amount,
		FiscalYear: req.FiscalYear,
	})
	if err != nil {
		return err
	}
	return c.JSON(decision)
}

// -------------------------
// Spending authorizations
// -------------------------

func (h *Handler) createAuthorization(c *fiber.Ctx) error {
	var req authorization.CreateParams
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	res, err := h.svc.Authorizations.CreateSpendingAuthorization(c.UserContext(), auth.ActorFrom(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *Handler) listAuthorizations(c *fiber.Ctx) error {
	filter := models.AuthorizationFilter{
		FiscalYear:       c.QueryInt("fiscal_year"),
		BudgetEstimateID: c.Query("budget_estimate_id"),
		FundSourceID:     c.Query("fund_source_id"),
		RequestedBy:      c.Query("requested_by"),
		Limit:            c.QueryInt("limit"),
		Offset:           c.QueryInt("offset"),
	}
	for _, s := range splitQuery(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, models.AuthorizationStatus(strings.ToUpper(s)))
	}
	list, err := h.svc.Authorizations.ListAuthorizations(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (h *Handler) getAuthorization(c *fiber.Ctx) error {
	a, err := h.svc.Authorizations.GetAuthorization(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (h *Handler) approveAuthorization(c *fiber.Ctx) error {
	var req authorization.ApproveParams
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest("invalid request body")
		}
	}
	req.ID = c.Params("id")
	a, err := h.svc.Authorizations.ApproveAuthorization(c.UserContext(), auth.ActorFrom(c), req)
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (h *Handler) rejectAuthorization(c *fiber.Ctx) error {
	var req authorization.RejectParams
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	req.ID = c.Params("id")
	a, err := h.svc.Authorizations.RejectAuthorization(c.UserContext(), auth.ActorFrom(c), req)
	if err != nil {
		return err
	}
	return c.JSON(a)
}

// -------------------------
// Ledger
// -------------------------

func (h *Handler) recordTransaction(c *fiber.Ctx) error {
	var req ledger.RecordParams
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	res, err := h.svc.Ledger.RecordBudgetTransaction(c.UserContext(), auth.ActorFrom(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *Handler) listTransactions(c *fiber.Ctx) error {
	list, err := h.svc.Ledger.ListTransactions(c.UserContext(), models.TransactionFilter{
		BudgetEstimateID: c.Query("budget_estimate_id"),
		FundSourceID:     c.Query("fund_source_id"),
		FiscalYear:       c.QueryInt("fiscal_year"),
		Limit:            c.QueryInt("limit"),
		Offset:           c.QueryInt("offset"),
	})
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (h *Handler) transferBudget(c *fiber.Ctx) error {
	var req ledger.TransferParams
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	res, err := h.svc.Ledger.TransferBudget(c.UserContext(), auth.ActorFrom(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func splitQuery(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
