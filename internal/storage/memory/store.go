package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"fmt"
	"sort"
	"strings"
	"sync" // standard Go package for concurrency primitives like Mutex

	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.Store.
// A single mutex guards every table, which makes each method one atomic
// unit; ApplyBudgetTransaction and the Transition* methods rely on that.
type MemoryLedgerStore struct {
	mu             sync.Mutex
	estimates      map[string]models.BudgetEstimate
	fundSources    map[string]models.FundSource
	transactions   []models.BudgetTransaction // commit order
	periods        map[models.PeriodKey]models.BudgetPeriod
	authorizations map[string]models.SpendingAuthorization
	alerts         map[string]models.BudgetAlert
	audit          []models.AuditRecord // insertion order
	anomalies      []models.Anomaly
	postings       []models.Posting
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		estimates:      make(map[string]models.BudgetEstimate),
		fundSources:    make(map[string]models.FundSource),
		transactions:   make([]models.BudgetTransaction, 0),
		periods:        make(map[models.PeriodKey]models.BudgetPeriod),
		authorizations: make(map[string]models.SpendingAuthorization),
		alerts:         make(map[string]models.BudgetAlert),
	}
}

// PutBudgetEstimate seeds or replaces an estimate. Budget rows are created
// by the surrounding CRUD layer; the engine itself only mutates balances
// through ApplyBudgetTransaction.
func (m *MemoryLedgerStore) PutBudgetEstimate(e models.BudgetEstimate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimates[e.ID] = e
}

// PutFundSource seeds or replaces a fund source, deriving RemainingAmount.
func (m *MemoryLedgerStore) PutFundSource(f models.FundSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.RemainingAmount = f.AllocatedAmount.Sub(f.SpentAmount)
	m.fundSources[f.ID] = f
}

// PutPeriod seeds or replaces a period row.
func (m *MemoryLedgerStore) PutPeriod(p models.BudgetPeriod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods[p.PeriodKey] = p
}

// AddPosting seeds a voucher posting.
func (m *MemoryLedgerStore) AddPosting(p models.Posting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postings = append(m.postings, p)
}

// ---- budget rows ----

func (m *MemoryLedgerStore) GetBudgetEstimate(ctx context.Context, id string) (models.BudgetEstimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.estimates[id]
	if !ok {
		return models.BudgetEstimate{}, fmt.Errorf("budget estimate %s: %w", id, models.ErrNotFound)
	}
	return e, nil
}

func (m *MemoryLedgerStore) FindBudgetEstimateByItemCode(ctx context.Context, fiscalYear int, itemCode string) (models.BudgetEstimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.estimates {
		if e.FiscalYear == fiscalYear && e.ItemCode == itemCode {
			return e, nil
		}
	}
	return models.BudgetEstimate{}, fmt.Errorf("budget estimate %d/%s: %w", fiscalYear, itemCode, models.ErrNotFound)
}

func (m *MemoryLedgerStore) GetFundSource(ctx context.Context, id string) (models.FundSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.fundSources[id]
	if !ok {
		return models.FundSource{}, fmt.Errorf("fund source %s: %w", id, models.ErrNotFound)
	}
	return f, nil
}

func (m *MemoryLedgerStore) ListBudgetEstimates(ctx context.Context, filter models.EstimateFilter) ([]models.BudgetEstimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.BudgetEstimate
	for _, e := range m.estimates {
		if filter.FiscalYear != 0 && e.FiscalYear != filter.FiscalYear {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, e.Status) {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemCode < result[j].ItemCode })
	return result, nil
}

func (m *MemoryLedgerStore) ApplyBudgetTransaction(ctx context.Context, target models.BudgetTarget, fn interfaces.ApplyFunc) (models.BudgetTransaction, error) {
	m.mu.Lock()         // held across read, compute and both writes
	defer m.mu.Unlock() // unlock automatically when function exits (even if error occurs)

	// Read the current balances of the target row
	var current models.Balances
	switch target.Kind {
	case models.TargetBudgetEstimate:
		e, ok := m.estimates[target.ID]
		if !ok {
			return models.BudgetTransaction{}, fmt.Errorf("budget estimate %s: %w", target.ID, models.ErrNotFound)
		}
		current = e.Balances()
	case models.TargetFundSource:
		f, ok := m.fundSources[target.ID]
		if !ok {
			return models.BudgetTransaction{}, fmt.Errorf("fund source %s: %w", target.ID, models.ErrNotFound)
		}
		current = f.Balances()
	default:
		return models.BudgetTransaction{}, fmt.Errorf("unknown target kind %q: %w", target.Kind, models.ErrInvalidTransaction)
	}

	// Let the caller compute the transaction and the new balances;
	// on error nothing has been written yet
	tx, next, err := fn(current)
	if err != nil {
		return models.BudgetTransaction{}, err
	}

	// Write the balances back, then append the transaction
	switch target.Kind {
	case models.TargetBudgetEstimate:
		e := m.estimates[target.ID]
		e.AllocatedAmount = next.Allocated
		e.CommittedAmount = next.Committed
		e.SpentAmount = next.Spent
		e.UpdatedAt = tx.CreatedAt
		m.estimates[target.ID] = e
	case models.TargetFundSource:
		if !next.Committed.IsZero() {
			return models.BudgetTransaction{}, fmt.Errorf("fund source %s cannot carry commitments: %w", target.ID, models.ErrInvalidTransaction)
		}
		f := m.fundSources[target.ID]
		f.AllocatedAmount = next.Allocated
		f.SpentAmount = next.Spent
		f.RemainingAmount = next.Allocated.Sub(next.Spent)
		f.UpdatedAt = tx.CreatedAt
		m.fundSources[target.ID] = f
	}
	m.transactions = append(m.transactions, tx)
	return tx, nil
}

func (m *MemoryLedgerStore) ListBudgetTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.BudgetTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.BudgetTransaction
	for _, t := range m.transactions {
		if filter.BudgetEstimateID != "" && t.BudgetEstimateID != filter.BudgetEstimateID {
			continue
		}
		if filter.FundSourceID != "" && t.FundSourceID != filter.FundSourceID {
			continue
		}
		if filter.FiscalYear != 0 && t.FiscalYear != filter.FiscalYear {
			continue
		}
		result = append(result, t)
	}
	return paginate(result, filter.Limit, filter.Offset), nil
}

// ---- periods ----

func (m *MemoryLedgerStore) GetPeriod(ctx context.Context, key models.PeriodKey) (models.BudgetPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.periods[key]
	if !ok {
		return models.BudgetPeriod{}, fmt.Errorf("period %s: %w", key, models.ErrNotFound)
	}
	return p, nil
}

func (m *MemoryLedgerStore) CreatePeriodIfAbsent(ctx context.Context, p models.BudgetPeriod) (models.BudgetPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.periods[p.PeriodKey]; ok {
		return existing, nil
	}
	m.periods[p.PeriodKey] = p
	return p, nil
}

func (m *MemoryLedgerStore) UpdatePeriodLock(ctx context.Context, p models.BudgetPeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.periods[p.PeriodKey]; !ok {
		return fmt.Errorf("period %s: %w", p.PeriodKey, models.ErrNotFound)
	}
	m.periods[p.PeriodKey] = p
	return nil
}

func (m *MemoryLedgerStore) FirstPeriodOfYear(ctx context.Context, fiscalYear int, companyID string) (models.BudgetPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		first models.BudgetPeriod
		found bool
	)
	for key, p := range m.periods {
		if key.FiscalYear != fiscalYear || key.CompanyID != companyID {
			continue
		}
		if !found || key.PeriodNumber < first.PeriodNumber {
			first, found = p, true
		}
	}
	if !found {
		return models.BudgetPeriod{}, fmt.Errorf("periods of %d@%s: %w", fiscalYear, companyID, models.ErrNotFound)
	}
	return first, nil
}

// ---- authorizations ----

func (m *MemoryLedgerStore) InsertAuthorization(ctx context.Context, a models.SpendingAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.authorizations[a.ID]; exists {
		return fmt.Errorf("authorization %s already exists: %w", a.ID, models.ErrStorageFailure)
	}
	m.authorizations[a.ID] = a
	return nil
}

func (m *MemoryLedgerStore) GetAuthorization(ctx context.Context, id string) (models.SpendingAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.authorizations[id]
	if !ok {
		return models.SpendingAuthorization{}, fmt.Errorf("authorization %s: %w", id, models.ErrNotFound)
	}
	return a, nil
}

func (m *MemoryLedgerStore) ListAuthorizations(ctx context.Context, filter models.AuthorizationFilter) ([]models.SpendingAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.SpendingAuthorization
	for _, a := range m.authorizations {
		if filter.FiscalYear != 0 && a.FiscalYear != filter.FiscalYear {
			continue
		}
		if filter.BudgetEstimateID != "" && a.BudgetEstimateID != filter.BudgetEstimateID {
			continue
		}
		if filter.FundSourceID != "" && a.FundSourceID != filter.FundSourceID {
			continue
		}
		if filter.RequestedBy != "" && a.RequestedBy != filter.RequestedBy {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, a.Status) {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, filter.Limit, filter.Offset), nil
}

func (m *MemoryLedgerStore) TransitionAuthorization(ctx context.Context, id string, from models.AuthorizationStatus, t models.AuthorizationTransition) (models.SpendingAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.authorizations[id]
	if !ok {
		return models.SpendingAuthorization{}, fmt.Errorf("authorization %s: %w", id, models.ErrNotFound)
	}
	// Only move the row if it is still in the expected status
	if a.Status != from {
		return a, fmt.Errorf("authorization %s is %s: %w", id, a.Status, models.ErrAlreadyProcessed)
	}

	at := t.At
	a.Status = t.To
	a.UpdatedAt = at
	switch t.To {
	case models.AuthorizationApproved:
		a.ApprovedBy = t.ApprovedBy
		a.ApprovedAt = &at
		a.ApprovedAmount = t.ApprovedAmount
		a.ApprovalNotes = t.ApprovalNotes
	case models.AuthorizationRejected:
		a.RejectedBy = t.RejectedBy
		a.RejectedAt = &at
		a.RejectionReason = t.RejectionReason
	}
	m.authorizations[id] = a
	return a, nil
}

// ---- alerts ----

func (m *MemoryLedgerStore) InsertAlert(ctx context.Context, a models.BudgetAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.alerts[a.ID]; exists {
		return fmt.Errorf("alert %s already exists: %w", a.ID, models.ErrStorageFailure)
	}
	m.alerts[a.ID] = a
	return nil
}

func (m *MemoryLedgerStore) GetAlert(ctx context.Context, id string) (models.BudgetAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return models.BudgetAlert{}, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	return a, nil
}

func (m *MemoryLedgerStore) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.BudgetAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []models.AlertStatus{models.AlertActive, models.AlertAcknowledged}
	}

	var result []models.BudgetAlert
	for _, a := range m.alerts {
		if !contains(statuses, a.Status) {
			continue
		}
		if filter.BudgetEstimateID != "" && a.BudgetEstimateID != filter.BudgetEstimateID {
			continue
		}
		if filter.FundSourceID != "" && a.FundSourceID != filter.FundSourceID {
			continue
		}
		if filter.FiscalYear != 0 && a.FiscalYear != filter.FiscalYear {
			continue
		}
		if filter.AlertType != "" && a.AlertType != filter.AlertType {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		ri, rj := result[i].Severity.Rank(), result[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, filter.Limit, 0), nil
}

func (m *MemoryLedgerStore) TransitionAlert(ctx context.Context, id string, t models.AlertTransition) (models.BudgetAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return models.BudgetAlert{}, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if !contains(t.From, a.Status) {
		return a, fmt.Errorf("alert %s is %s: %w", id, a.Status, models.ErrAlreadyProcessed)
	}

	at := t.At
	a.Status = t.To
	switch t.To {
	case models.AlertAcknowledged:
		a.AcknowledgedBy, a.AcknowledgedAt, a.AcknowledgeNotes = t.By, &at, t.Notes
	case models.AlertResolved:
		a.ResolvedBy, a.ResolvedAt, a.ResolveNotes = t.By, &at, t.Notes
	}
	m.alerts[id] = a
	return a, nil
}

// ---- audit trail ----

func (m *MemoryLedgerStore) InsertAuditRecord(ctx context.Context, r models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.OldValues = cloneValues(r.OldValues)
	r.NewValues = cloneValues(r.NewValues)
	m.audit = append(m.audit, r)
	return nil
}

func (m *MemoryLedgerStore) GetAuditRecord(ctx context.Context, id string) (models.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.audit {
		if r.ID == id {
			return copyRecord(r), nil
		}
	}
	return models.AuditRecord{}, fmt.Errorf("audit record %s: %w", id, models.ErrNotFound)
}

func (m *MemoryLedgerStore) QueryAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docNo := strings.ToLower(filter.DocNo)
	var result []models.AuditRecord
	// walk backwards so equal timestamps keep newest-insert-first order
	for i := len(m.audit) - 1; i >= 0; i-- {
		r := m.audit[i]
		if filter.EntityType != "" && r.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && r.EntityID != filter.EntityID {
			continue
		}
		if docNo != "" && !strings.Contains(strings.ToLower(r.DocNo), docNo) {
			continue
		}
		if filter.Action != "" && r.Action != filter.Action {
			continue
		}
		if filter.UserID != "" && r.Actor.UserID != filter.UserID {
			continue
		}
		if filter.From != nil && r.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && r.CreatedAt.After(*filter.To) {
			continue
		}
		if filter.FiscalYear != 0 && r.FiscalYear != filter.FiscalYear {
			continue
		}
		if filter.Period != 0 && r.Period != filter.Period {
			continue
		}
		if filter.ApprovalStatus != "" && r.ApprovalStatus != filter.ApprovalStatus {
			continue
		}
		result = append(result, copyRecord(r))
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return paginate(result, filter.Limit, filter.Offset), nil
}

// ---- anomalies and postings ----

func (m *MemoryLedgerStore) InsertAnomaly(ctx context.Context, a models.Anomaly) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies = append(m.anomalies, a)
	return nil
}

func (m *MemoryLedgerStore) ListAnomalies(ctx context.Context, filter models.AnomalyFilter) ([]models.Anomaly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Anomaly
	for i := len(m.anomalies) - 1; i >= 0; i-- {
		a := m.anomalies[i]
		if filter.FiscalYear != 0 && a.FiscalYear != filter.FiscalYear {
			continue
		}
		if filter.AnomalyType != "" && a.AnomalyType != filter.AnomalyType {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		result = append(result, a)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].DetectedAt.After(result[j].DetectedAt) })
	return paginate(result, filter.Limit, filter.Offset), nil
}

func (m *MemoryLedgerStore) ReviewAnomaly(ctx context.Context, id string, r models.AnomalyReview) (models.Anomaly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, a := range m.anomalies {
		if a.ID != id {
			continue
		}
		if !contains(r.From, a.Status) {
			return a, fmt.Errorf("anomaly %s is %s: %w", id, a.Status, models.ErrAlreadyProcessed)
		}
		at := r.At
		a.Status = r.To
		a.ReviewedBy, a.ReviewedAt, a.ReviewNotes = r.By, &at, r.Notes
		m.anomalies[i] = a
		return a, nil
	}
	return models.Anomaly{}, fmt.Errorf("anomaly %s: %w", id, models.ErrNotFound)
}

func (m *MemoryLedgerStore) ListPostings(ctx context.Context, fiscalYear int) ([]models.Posting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Posting
	for _, p := range m.postings {
		if p.FiscalYear == fiscalYear {
			result = append(result, p)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].PostedAt.Before(result[j].PostedAt) })
	return result, nil
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// paginate treats limit <= 0 as unbounded.
func paginate[T any](rows []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func copyRecord(r models.AuditRecord) models.AuditRecord {
	r.OldValues = cloneValues(r.OldValues)
	r.NewValues = cloneValues(r.NewValues)
	r.ChangedFields = append([]string(nil), r.ChangedFields...)
	return r
}

// cloneValues copies nested maps and slices so callers can't modify
// stored audit snapshots.
func cloneValues(v models.Values) models.Values {
	if v == nil {
		return nil
	}
	out := make(models.Values, len(v))
	for k, val := range v {
		out[k] = cloneAny(val)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneAny(val)
		}
		return out
	case models.Values:
		return map[string]any(cloneValues(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneAny(val)
		}
		return out
	}
	return v
}

// Compile-time check: ensure MemoryLedgerStore implements Store interface
var _ interfaces.Store = (*MemoryLedgerStore)(nil)
