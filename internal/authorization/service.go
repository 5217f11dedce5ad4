package authorization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/availability"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/clock"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models/events"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/validation"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const moduleName = "authorization"

// Service runs the spending authorization workflow:
//
//	PENDING --approve--> APPROVED
//	PENDING --reject---> REJECTED
//	PENDING --read after expires_at--> EXPIRED
//
// Approve and reject are conditioned on the stored status in the same
// store update that changes it.
type Service struct {
	store     interfaces.AuthorizationStore
	calc      *availability.Calculator
	policies  *availability.PolicyResolver
	audit     interfaces.AuditLogger
	publisher interfaces.EventPublisher
	clock     clock.Clock
	logger    *logrus.Logger
	companyID string
}

type Deps struct {
	Store     interfaces.AuthorizationStore
	Budgets   interfaces.BudgetStore
	Periods   interfaces.PeriodStore
	Audit     interfaces.AuditLogger
	Publisher interfaces.EventPublisher
	Clock     clock.Clock
	Logger    *logrus.Logger
	// CompanyID selects the period rows the budget policy is read from.
	CompanyID string
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Logger == nil {
		d.Logger = config.NewNopLogger()
	}
	return &Service{
		store:     d.Store,
		calc:      availability.NewCalculator(d.Budgets),
		policies:  availability.NewPolicyResolver(d.Periods),
		audit:     d.Audit,
		publisher: d.Publisher,
		clock:     d.Clock,
		logger:    d.Logger,
		companyID: d.CompanyID,
	}
}

// SpendingCheck asks whether Amount may be spent against the selected row.
type SpendingCheck struct {
	Selector   availability.Selector
	Amount     decimal.Decimal
	FiscalYear int
}

// CheckBudgetForSpending reads the row and the year's policy and returns
// Decide's verdict. It never writes.
func (s *Service) CheckBudgetForSpending(ctx context.Context, req SpendingCheck) (Decision, error) {
	if !req.Amount.IsPositive() {
		return Decision{}, fmt.Errorf("amount must be positive: %w", models.ErrValidation)
	}
	snap, err := s.calc.GetBudgetAvailability(ctx, req.Selector)
	if err != nil {
		return Decision{}, err
	}
	fiscalYear := req.FiscalYear
	if fiscalYear == 0 {
		fiscalYear = snap.FiscalYear
	}
	policy := availability.DefaultPolicy
	if fiscalYear != 0 {
		if policy, err = s.policies.Resolve(ctx, fiscalYear, s.companyID); err != nil {
			return Decision{}, err
		}
	}
	return Decide(snap, req.Amount, policy), nil
}

type CreateParams struct {
	RequestType      models.ApprovalType `json:"request_type" validate:"required,oneof=BUDGET_OVERRIDE BUDGET_THRESHOLD"`
	BudgetEstimateID string              `json:"budget_estimate_id"`
	FundSourceID     string              `json:"fund_source_id"`
	FiscalYear       int                 `json:"fiscal_year" validate:"required,gte=1900,lte=9999"`
	RequestedAmount  decimal.Decimal     `json:"requested_amount"`
	Purpose          string              `json:"purpose" validate:"required"`
	Justification    string              `json:"justification"`
}

type CreateResult struct {
	AuthorizationID string                     `json:"authorization_id"`
	Status          models.AuthorizationStatus `json:"status"`
	RequiredLevel   int                        `json:"required_level"`
	ExpiresAt       time.Time                  `json:"expires_at"`
}

func (s *Service) CreateSpendingAuthorization(ctx context.Context, actor models.Actor, p CreateParams) (CreateResult, error) {
	if err := validation.Struct(p); err != nil {
		return CreateResult{}, err
	}
	if !p.RequestedAmount.IsPositive() {
		return CreateResult{}, fmt.Errorf("requested amount must be positive: %w", models.ErrValidation)
	}
	target, ok := models.TargetOf(p.BudgetEstimateID, p.FundSourceID)
	if !ok {
		return CreateResult{}, fmt.Errorf("budget estimate or fund source required: %w", models.ErrInvalidSelector)
	}

	var sel availability.Selector = availability.ByEstimate{ID: target.ID}
	if target.Kind == models.TargetFundSource {
		sel = availability.ByFundSource{ID: target.ID}
	}
	snap, err := s.calc.GetBudgetAvailability(ctx, sel)
	if err != nil {
		return CreateResult{}, err
	}
	if !snap.Found {
		return CreateResult{}, fmt.Errorf("%s: %w", sel, models.ErrNotFound)
	}

	now := s.clock.Now()
	a := models.SpendingAuthorization{
		ID:               uuid.New().String(),
		RequestType:      p.RequestType,
		RequestedBy:      actor.UserID,
		BudgetEstimateID: p.BudgetEstimateID,
		FundSourceID:     p.FundSourceID,
		FiscalYear:       p.FiscalYear,
		RequestedAmount:  p.RequestedAmount,
		BudgetAvailable:  snap.Available,
		Purpose:          p.Purpose,
		Justification:    p.Justification,
		Status:           models.AuthorizationPending,
		RequiredLevel:    RequiredLevel(p.RequestedAmount),
		ExpiresAt:        now.Add(ExpiryWindow),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.InsertAuthorization(ctx, a); err != nil {
		return CreateResult{}, fmt.Errorf("create authorization: %w", err)
	}

	amount := a.RequestedAmount
	s.logAudit(ctx, a, models.AuditActionCreate, actor, nil,
		fmt.Sprintf("spending authorization requested for %s (available %s)", amount.StringFixed(2), a.BudgetAvailable.StringFixed(2)))

	return CreateResult{
		AuthorizationID: a.ID,
		Status:          a.Status,
		RequiredLevel:   a.RequiredLevel,
		ExpiresAt:       a.ExpiresAt,
	}, nil
}

type ApproveParams struct {
	ID             string           `json:"id" validate:"required"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount"`
	Notes          string           `json:"notes"`
}

// ApproveAuthorization fails with ErrNotFound, ErrExpired or
// ErrAlreadyProcessed. An expired request still stored as PENDING is
// flipped to EXPIRED on the way out; only that call sees ErrExpired.
func (s *Service) ApproveAuthorization(ctx context.Context, actor models.Actor, p ApproveParams) (models.SpendingAuthorization, error) {
	if err := validation.Struct(p); err != nil {
		return models.SpendingAuthorization{}, err
	}
	if p.ApprovedAmount != nil && !p.ApprovedAmount.IsPositive() {
		return models.SpendingAuthorization{}, fmt.Errorf("approved amount must be positive: %w", models.ErrValidation)
	}

	now := s.clock.Now()
	current, err := s.pendingForDecision(ctx, p.ID, now)
	if err != nil {
		return models.SpendingAuthorization{}, err
	}

	amount := current.RequestedAmount
	if p.ApprovedAmount != nil {
		amount = *p.ApprovedAmount
	}
	updated, err := s.store.TransitionAuthorization(ctx, p.ID, models.AuthorizationPending, models.AuthorizationTransition{
		To:             models.AuthorizationApproved,
		At:             now,
		ApprovedBy:     actor.UserID,
		ApprovedAmount: &amount,
		ApprovalNotes:  p.Notes,
	})
	if err != nil {
		return models.SpendingAuthorization{}, err
	}

	s.logAudit(ctx, updated, models.AuditActionApprove, actor, statusValues(current),
		fmt.Sprintf("spending authorization approved for %s", amount.StringFixed(2)))
	s.publish(ctx, events.AuthorizationDecided{
		AuthorizationID: updated.ID,
		Status:          string(updated.Status),
		DecidedBy:       actor.UserID,
		ApprovedAmount:  updated.ApprovedAmount,
		Reason:          updated.ApprovalNotes,
		OccurredAt:      now,
	})
	return updated, nil
}

type RejectParams struct {
	ID     string `json:"id" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

func (s *Service) RejectAuthorization(ctx context.Context, actor models.Actor, p RejectParams) (models.SpendingAuthorization, error) {
	if err := validation.Struct(p); err != nil {
		return models.SpendingAuthorization{}, err
	}

	now := s.clock.Now()
	current, err := s.pendingForDecision(ctx, p.ID, now)
	if err != nil {
		return models.SpendingAuthorization{}, err
	}

	updated, err := s.store.TransitionAuthorization(ctx, p.ID, models.AuthorizationPending, models.AuthorizationTransition{
		To:              models.AuthorizationRejected,
		At:              now,
		RejectedBy:      actor.UserID,
		RejectionReason: p.Reason,
	})
	if err != nil {
		return models.SpendingAuthorization{}, err
	}

	s.logAudit(ctx, updated, models.AuditActionReject, actor, statusValues(current),
		"spending authorization rejected: "+p.Reason)
	s.publish(ctx, events.AuthorizationDecided{
		AuthorizationID: updated.ID,
		Status:          string(updated.Status),
		DecidedBy:       actor.UserID,
		Reason:          p.Reason,
		OccurredAt:      now,
	})
	return updated, nil
}

// pendingForDecision loads a request that may still be decided.
func (s *Service) pendingForDecision(ctx context.Context, id string, now time.Time) (models.SpendingAuthorization, error) {
	a, err := s.store.GetAuthorization(ctx, id)
	if err != nil {
		return models.SpendingAuthorization{}, err
	}
	switch EffectiveStatus(a, now) {
	case models.AuthorizationPending:
		return a, nil
	case models.AuthorizationExpired:
		// only the call that flips a stale PENDING row reports the expiry;
		// afterwards the row is just another processed request
		if a.Status == models.AuthorizationPending && s.expire(ctx, a, now) {
			return models.SpendingAuthorization{}, fmt.Errorf("authorization %s expired at %s: %w", id, a.ExpiresAt.Format(time.RFC3339), models.ErrExpired)
		}
		return models.SpendingAuthorization{}, fmt.Errorf("authorization %s is %s: %w", id, models.AuthorizationExpired, models.ErrAlreadyProcessed)
	default:
		return models.SpendingAuthorization{}, fmt.Errorf("authorization %s is %s: %w", id, a.Status, models.ErrAlreadyProcessed)
	}
}

// expire corrects a stale PENDING row. It returns false only when a
// concurrent writer moved the row first. Other failures are logged and
// still count as expired, since readers already treat the row that way.
func (s *Service) expire(ctx context.Context, a models.SpendingAuthorization, now time.Time) bool {
	updated, err := s.store.TransitionAuthorization(ctx, a.ID, models.AuthorizationPending, models.AuthorizationTransition{
		To: models.AuthorizationExpired,
		At: now,
	})
	if errors.Is(err, models.ErrAlreadyProcessed) {
		return false
	}
	if err != nil {
		config.LogError(s.logger, moduleName, "expire", "could not mark authorization expired", a.ID, err)
		return true
	}
	s.logAudit(ctx, updated, models.AuditActionExpire, models.SystemActor, statusValues(a),
		"spending authorization expired at "+a.ExpiresAt.Format(time.RFC3339))
	return true
}

// GetAuthorization returns the row with its effective status.
func (s *Service) GetAuthorization(ctx context.Context, id string) (models.SpendingAuthorization, error) {
	a, err := s.store.GetAuthorization(ctx, id)
	if err != nil {
		return models.SpendingAuthorization{}, err
	}
	a.Status = EffectiveStatus(a, s.clock.Now())
	return a, nil
}

// ListAuthorizations filters on effective status.
func (s *Service) ListAuthorizations(ctx context.Context, filter models.AuthorizationFilter) ([]models.SpendingAuthorization, error) {
	now := s.clock.Now()
	if len(filter.Statuses) == 0 {
		rows, err := s.store.ListAuthorizations(ctx, filter)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			rows[i].Status = EffectiveStatus(rows[i], now)
		}
		return rows, nil
	}

	wanted := make(map[models.AuthorizationStatus]bool, len(filter.Statuses))
	stored := make([]models.AuthorizationStatus, 0, len(filter.Statuses)+1)
	for _, st := range filter.Statuses {
		wanted[st] = true
		stored = append(stored, st)
	}
	if wanted[models.AuthorizationExpired] && !wanted[models.AuthorizationPending] {
		stored = append(stored, models.AuthorizationPending)
	}

	storeFilter := filter
	storeFilter.Statuses = stored
	storeFilter.Limit, storeFilter.Offset = 0, 0
	rows, err := s.store.ListAuthorizations(ctx, storeFilter)
	if err != nil {
		return nil, err
	}

	result := make([]models.SpendingAuthorization, 0, len(rows))
	for _, a := range rows {
		a.Status = EffectiveStatus(a, now)
		if wanted[a.Status] {
			result = append(result, a)
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []models.SpendingAuthorization{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// RequireApproved returns the request when it is effectively APPROVED and
// models.ErrNotApproved otherwise.
func (s *Service) RequireApproved(ctx context.Context, id string) (models.SpendingAuthorization, error) {
	a, err := s.GetAuthorization(ctx, id)
	if err != nil {
		return models.SpendingAuthorization{}, err
	}
	if a.Status != models.AuthorizationApproved {
		return models.SpendingAuthorization{}, fmt.Errorf("authorization %s is %s: %w", id, a.Status, models.ErrNotApproved)
	}
	return a, nil
}

func (s *Service) logAudit(ctx context.Context, a models.SpendingAuthorization, action models.AuditAction, actor models.Actor, old models.Values, description string) {
	amount := a.RequestedAmount
	entry := models.AuditEntry{
		EntityType:     models.EntitySpendingAuthorization,
		EntityID:       a.ID,
		Action:         action,
		Actor:          actor,
		Description:    description,
		OldValues:      old,
		NewValues:      statusValues(a),
		FiscalYear:     a.FiscalYear,
		ApprovalStatus: string(a.Status),
		ApprovedBy:     a.ApprovedBy,
		ApprovedAt:     a.ApprovedAt,
		Amount:         &amount,
	}
	if res := s.audit.LogAudit(ctx, entry); !res.Success {
		config.LogError(s.logger, moduleName, "logAudit", "authorization audit not written", a.ID, res.Err)
	}
}

func (s *Service) publish(ctx context.Context, event events.AuthorizationDecided) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.TopicAuthorizationDecided, event.AuthorizationID, event); err != nil {
		config.LogError(s.logger, moduleName, "publish", "authorization event not published", event.AuthorizationID, err)
	}
}

func statusValues(a models.SpendingAuthorization) models.Values {
	v := models.Values{
		"status":           string(a.Status),
		"requested_amount": a.RequestedAmount.String(),
		"required_level":   a.RequiredLevel,
	}
	if a.ApprovedBy != "" {
		v["approved_by"] = a.ApprovedBy
	}
	if a.ApprovedAmount != nil {
		v["approved_amount"] = a.ApprovedAmount.String()
	}
	if a.ApprovalNotes != "" {
		v["approval_notes"] = a.ApprovalNotes
	}
	if a.RejectedBy != "" {
		v["rejected_by"] = a.RejectedBy
		v["rejection_reason"] = a.RejectionReason
	}
	return v
}
