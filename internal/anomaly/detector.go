package anomaly

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/config"
	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models/events"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const moduleName = "anomaly"

// Detection rules, recorded on every anomaly they produce.
const (
	RuleBudgetOverrun     = "executing estimate spent_amount > allocated_amount"
	RuleDuplicateDocument = "doc_no posted by more than one voucher in a fiscal year"
	RuleRiskyPartner      = "postings against a partner whose name carries a risk marker"
)

// DefaultRiskMarkers flag a partner by name, case-insensitively.
var DefaultRiskMarkers = []string{"RISK", "BLACKLIST", "SUSPECT", "UNKNOWN"}

// Log persists detected anomalies.
type Log interface {
	LogAnomaly(ctx context.Context, a models.Anomaly) (models.Anomaly, error)
}

// Detector scans ledgers and postings. Runs are not deduplicated against
// earlier runs; re-running reports the same conditions again.
type Detector struct {
	budgets   interfaces.BudgetStore
	postings  interfaces.PostingStore
	log       Log
	publisher interfaces.EventPublisher
	logger    *logrus.Logger
	markers   []string
}

func NewDetector(budgets interfaces.BudgetStore, postings interfaces.PostingStore, log Log, publisher interfaces.EventPublisher, logger *logrus.Logger, markers []string) *Detector {
	if len(markers) == 0 {
		markers = DefaultRiskMarkers
	}
	upper := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			upper = append(upper, m)
		}
	}
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &Detector{budgets: budgets, postings: postings, log: log, publisher: publisher, logger: logger, markers: upper}
}

// Run executes every check for the fiscal year, persists what they find
// and returns the stored anomalies.
func (d *Detector) Run(ctx context.Context, fiscalYear int) ([]models.Anomaly, error) {
	var overruns, duplicates, risky []models.Anomaly

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		overruns, err = d.budgetOverruns(gctx, fiscalYear)
		return err
	})
	g.Go(func() error {
		postings, err := d.postings.ListPostings(gctx, fiscalYear)
		if err != nil {
			return fmt.Errorf("list postings: %w", err)
		}
		duplicates = DuplicateDocuments(postings, fiscalYear)
		risky = RiskyPartners(postings, fiscalYear, d.markers)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := make([]models.Anomaly, 0, len(overruns)+len(duplicates)+len(risky))
	found = append(found, overruns...)
	found = append(found, duplicates...)
	found = append(found, risky...)

	stored := make([]models.Anomaly, 0, len(found))
	for _, a := range found {
		saved, err := d.log.LogAnomaly(ctx, a)
		if err != nil {
			return stored, fmt.Errorf("persist %s anomaly for %s: %w", a.AnomalyType, a.EntityID, err)
		}
		stored = append(stored, saved)
		d.publish(ctx, saved)
	}
	return stored, nil
}

func (d *Detector) budgetOverruns(ctx context.Context, fiscalYear int) ([]models.Anomaly, error) {
	estimates, err := d.budgets.ListBudgetEstimates(ctx, models.EstimateFilter{
		FiscalYear: fiscalYear,
		Statuses:   []models.EstimateStatus{models.EstimateStatusExecuting},
	})
	if err != nil {
		return nil, fmt.Errorf("list estimates: %w", err)
	}
	return BudgetOverruns(estimates), nil
}

// BudgetOverruns flags executing estimates spent beyond their allocation.
func BudgetOverruns(estimates []models.BudgetEstimate) []models.Anomaly {
	var out []models.Anomaly
	for _, e := range estimates {
		if e.Status != models.EstimateStatusExecuting || !e.SpentAmount.GreaterThan(e.AllocatedAmount) {
			continue
		}
		over := e.SpentAmount.Sub(e.AllocatedAmount)
		out = append(out, models.Anomaly{
			AnomalyType:    models.AnomalyBudgetOverrun,
			Severity:       models.SeverityHigh,
			EntityType:     models.EntityBudgetEstimate,
			EntityID:       e.ID,
			Description:    fmt.Sprintf("budget item %s %s spent %s against %s allocated", e.ItemCode, e.ItemName, e.SpentAmount.StringFixed(2), e.AllocatedAmount.StringFixed(2)),
			DetectedValue:  e.SpentAmount.String(),
			ExpectedValue:  e.AllocatedAmount.String(),
			ThresholdValue: e.AllocatedAmount.String(),
			DetectionRule:  RuleBudgetOverrun,
			FiscalYear:     e.FiscalYear,
			RiskScore:      80,
			AmountImpact:   over,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// DuplicateDocuments reports each doc_no used by more than one voucher.
// Lines of one voucher share its doc_no and count once.
func DuplicateDocuments(postings []models.Posting, fiscalYear int) []models.Anomaly {
	vouchers := make(map[string]map[string]bool)
	amounts := make(map[string]decimal.Decimal)
	for _, p := range postings {
		if p.FiscalYear != fiscalYear || p.DocNo == "" {
			continue
		}
		voucher := p.VoucherID
		if voucher == "" {
			voucher = p.ID
		}
		if vouchers[p.DocNo] == nil {
			vouchers[p.DocNo] = make(map[string]bool)
		}
		vouchers[p.DocNo][voucher] = true
		amounts[p.DocNo] = amounts[p.DocNo].Add(p.Amount.Abs())
	}

	var out []models.Anomaly
	for docNo, ids := range vouchers {
		if len(ids) < 2 {
			continue
		}
		out = append(out, models.Anomaly{
			AnomalyType:    models.AnomalyDuplicateDocument,
			Severity:       models.SeverityMedium,
			EntityType:     models.EntityVoucher,
			EntityID:       docNo,
			DocNo:          docNo,
			Description:    fmt.Sprintf("document number %s is used by %d vouchers", docNo, len(ids)),
			DetectedValue:  strconv.Itoa(len(ids)),
			ExpectedValue:  "1",
			ThresholdValue: "1",
			DetectionRule:  RuleDuplicateDocument,
			FiscalYear:     fiscalYear,
			RiskScore:      50,
			AmountImpact:   amounts[docNo],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocNo < out[j].DocNo })
	return out
}

// RiskyPartners aggregates exposure per partner whose name contains one
// of the upper-cased markers.
func RiskyPartners(postings []models.Posting, fiscalYear int, markers []string) []models.Anomaly {
	type exposure struct {
		name  string
		count int
		total decimal.Decimal
	}
	byPartner := make(map[string]*exposure)
	for _, p := range postings {
		if p.FiscalYear != fiscalYear || !isRisky(p.PartnerName, markers) {
			continue
		}
		key := p.PartnerCode
		if key == "" {
			key = p.PartnerName
		}
		e, ok := byPartner[key]
		if !ok {
			e = &exposure{name: p.PartnerName}
			byPartner[key] = e
		}
		e.count++
		e.total = e.total.Add(p.Amount.Abs())
	}

	var out []models.Anomaly
	for code, e := range byPartner {
		out = append(out, models.Anomaly{
			AnomalyType:    models.AnomalyRiskyPartner,
			Severity:       models.SeverityHigh,
			EntityType:     models.EntityPartner,
			EntityID:       code,
			Description:    fmt.Sprintf("%d postings totalling %s with flagged partner %s", e.count, e.total.StringFixed(2), e.name),
			DetectedValue:  e.total.String(),
			ExpectedValue:  "0",
			ThresholdValue: "0",
			DetectionRule:  RuleRiskyPartner,
			FiscalYear:     fiscalYear,
			RiskScore:      90,
			AmountImpact:   e.total,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

func isRisky(name string, markers []string) bool {
	upper := strings.ToUpper(name)
	for _, m := range markers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

func (d *Detector) publish(ctx context.Context, a models.Anomaly) {
	if d.publisher == nil {
		return
	}
	err := d.publisher.Publish(ctx, events.TopicAnomalyDetected, a.EntityID, events.AnomalyDetected{
		AnomalyID:    a.ID,
		AnomalyType:  string(a.AnomalyType),
		Severity:     string(a.Severity),
		EntityType:   a.EntityType,
		EntityID:     a.EntityID,
		RiskScore:    a.RiskScore,
		AmountImpact: a.AmountImpact,
		FiscalYear:   a.FiscalYear,
		OccurredAt:   a.DetectedAt,
	})
	if err != nil {
		config.LogError(d.logger, moduleName, "publish", "anomaly event not published", a.ID, err)
	}
}
