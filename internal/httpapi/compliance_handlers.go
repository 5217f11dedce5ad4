package httpapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/alert"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/audit"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/auth"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

type notesRequest struct {
	Notes string `json:"notes"`
}

func optionalNotes(c *fiber.Ctx) (string, error) {
	var req notesRequest
	if len(c.Body()) == 0 {
		return "", nil
	}
	if err := c.BodyParser(&req); err != nil {
		return "", badRequest("invalid request body")
	}
	return req.Notes, nil
}

// -------------------------
// Alerts
// -------------------------

func (h *Handler) createAlert(c *fiber.Ctx) error {
	var req alert.CreateParams
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	id, err := h.svc.Alerts.CreateBudgetAlert(c.UserContext(), auth.ActorFrom(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"alert_id": id})
}

func (h *Handler) listAlerts(c *fiber.Ctx) error {
	alerts, err := h.svc.Alerts.GetActiveAlerts(c.UserContext(), models.AlertFilter{
		BudgetEstimateID: c.Query("budget_estimate_id"),
		FundSourceID:     c.Query("fund_source_id"),
		FiscalYear:       c.QueryInt("fiscal_year"),
		AlertType:        models.AlertType(strings.ToUpper(c.Query("alert_type"))),
		Severity:         models.Severity(strings.ToUpper(c.Query("severity"))),
		Limit:            c.QueryInt("limit"),
	})
	if err != nil {
		return err
	}
	return c.JSON(alerts)
}

func (h *Handler) resolveAlert(c *fiber.Ctx) error {
	notes, err := optionalNotes(c)
	if err != nil {
		return err
	}
	updated, err := h.svc.Alerts.ResolveAlert(c.UserContext(), auth.ActorFrom(c), alert.ResolveParams{
		ID:     c.Params("id"),
		Action: alert.Action(strings.ToLower(c.Params("action"))),
		Notes:  notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(updated)
}

// -------------------------
// Audit trail
// -------------------------

func queryTime(c *fiber.Ctx, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, badRequest(key + " must be an RFC3339 timestamp")
	}
	return &t, nil
}

func (h *Handler) queryAudit(c *fiber.Ctx) error {
	from, err := queryTime(c, "from")
	if err != nil {
		return err
	}
	to, err := queryTime(c, "to")
	if err != nil {
		return err
	}
	records, err := h.svc.Audit.QueryAuditTrail(c.UserContext(), models.AuditFilter{
		EntityType:     strings.ToUpper(c.Query("entity_type")),
		EntityID:       c.Query("entity_id"),
		DocNo:          c.Query("doc_no"),
		Action:         models.AuditAction(strings.ToUpper(c.Query("action"))),
		UserID:         c.Query("user_id"),
		From:           from,
		To:             to,
		FiscalYear:     c.QueryInt("fiscal_year"),
		Period:         c.QueryInt("period"),
		ApprovalStatus: c.Query("approval_status"),
		Limit:          c.QueryInt("limit"),
		Offset:         c.QueryInt("offset"),
	})
	if err != nil {
		return err
	}
	return c.JSON(records)
}

// verifyAudit reports a checksum mismatch in the body with 200; the
// request itself succeeded.
func (h *Handler) verifyAudit(c *fiber.Ctx) error {
	result, err := h.svc.Audit.VerifyAuditIntegrity(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// -------------------------
// Anomalies
// -------------------------

type runAnomalyRequest struct {
	FiscalYear int `json:"fiscal_year"`
}

func (h *Handler) runAnomalyDetection(c *fiber.Ctx) error {
	var req runAnomalyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.FiscalYear == 0 {
		return badRequest("fiscal_year is required")
	}
	found, err := h.svc.Anomalies.Run(c.UserContext(), req.FiscalYear)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"count": len(found), "anomalies": found})
}

func (h *Handler) listAnomalies(c *fiber.Ctx) error {
	anomalies, err := h.svc.Audit.QueryAnomalies(c.UserContext(), models.AnomalyFilter{
		FiscalYear:  c.QueryInt("fiscal_year"),
		AnomalyType: models.AnomalyType(strings.ToUpper(c.Query("anomaly_type"))),
		Status:      models.AnomalyStatus(strings.ToUpper(c.Query("status"))),
		Limit:       c.QueryInt("limit"),
		Offset:      c.QueryInt("offset"),
	})
	if err != nil {
		return err
	}
	return c.JSON(anomalies)
}

func (h *Handler) reviewAnomaly(c *fiber.Ctx) error {
	notes, err := optionalNotes(c)
	if err != nil {
		return err
	}
	updated, err := h.svc.Audit.ReviewAnomaly(c.UserContext(), auth.ActorFrom(c), audit.ReviewParams{
		ID:     c.Params("id"),
		Action: audit.ReviewAction(strings.ToLower(c.Params("action"))),
		Notes:  notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(updated)
}
