package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const auditColumns = `id, entity_type, entity_id, doc_no, action, user_id, username, user_role, ip_address,
	description, old_values, new_values, changed_fields, created_at, fiscal_year, period, checksum,
	approval_status, approved_by, approved_at, amount, account_code`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likeContains builds an ILIKE pattern matching v as a literal substring.
func likeContains(v string) string {
	return "%" + likeEscaper.Replace(v) + "%"
}

// jsonValues maps a snapshot to a JSONB parameter; empty snapshots are NULL.
func jsonValues(v models.Values) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func parseValues(raw []byte) (models.Values, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v models.Values
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func scanAuditRecord(row rowScanner) (models.AuditRecord, error) {
	var r models.AuditRecord
	var oldRaw, newRaw []byte
	var approvedAt sql.NullTime
	var amount decimal.NullDecimal
	changed := []string{}

	if err := row.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.DocNo, &r.Action,
		&r.Actor.UserID, &r.Actor.Username, &r.Actor.Role, &r.Actor.IPAddress,
		&r.Description, &oldRaw, &newRaw, pq.Array(&changed), &r.CreatedAt, &r.FiscalYear, &r.Period, &r.Checksum,
		&r.ApprovalStatus, &r.ApprovedBy, &approvedAt, &amount, &r.AccountCode); err != nil {
		return models.AuditRecord{}, err
	}

	var err error
	if r.OldValues, err = parseValues(oldRaw); err != nil {
		return models.AuditRecord{}, fmt.Errorf("old values: %w", err)
	}
	if r.NewValues, err = parseValues(newRaw); err != nil {
		return models.AuditRecord{}, fmt.Errorf("new values: %w", err)
	}
	r.ChangedFields = changed
	r.CreatedAt = r.CreatedAt.UTC()
	r.ApprovedAt = timePtr(approvedAt)
	if amount.Valid {
		r.Amount = &amount.Decimal
	}
	return r, nil
}

// InsertAuditRecord is the only write the audit table ever sees.
func (p *PostgresLedgerStore) InsertAuditRecord(ctx context.Context, r models.AuditRecord) error {
	oldValues, err := jsonValues(r.OldValues)
	if err != nil {
		return fmt.Errorf("old values: %w", err)
	}
	newValues, err := jsonValues(r.NewValues)
	if err != nil {
		return fmt.Errorf("new values: %w", err)
	}
	changed := r.ChangedFields
	if changed == nil {
		changed = []string{}
	}

	query := `INSERT INTO audit_records (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	_, err = p.db.ExecContext(ctx, query,
		r.ID, r.EntityType, r.EntityID, r.DocNo, r.Action,
		r.Actor.UserID, r.Actor.Username, r.Actor.Role, r.Actor.IPAddress,
		r.Description, oldValues, newValues, pq.Array(changed), r.CreatedAt, r.FiscalYear, r.Period, r.Checksum,
		r.ApprovalStatus, r.ApprovedBy, nullTime(r.ApprovedAt), nullDecimal(r.Amount), r.AccountCode)
	if err != nil {
		return storageErr("insert audit record", err)
	}
	return nil
}

func (p *PostgresLedgerStore) GetAuditRecord(ctx context.Context, id string) (models.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE id = $1`

	r, err := scanAuditRecord(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.AuditRecord{}, fmt.Errorf("audit record %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.AuditRecord{}, storageErr("get audit record", err)
	}
	return r, nil
}

func (p *PostgresLedgerStore) QueryAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	var w where
	if filter.EntityType != "" {
		w.add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		w.add("entity_id = $%d", filter.EntityID)
	}
	if filter.DocNo != "" {
		w.add(`doc_no ILIKE $%d ESCAPE '\'`, likeContains(filter.DocNo))
	}
	if filter.Action != "" {
		w.add("action = $%d", filter.Action)
	}
	if filter.UserID != "" {
		w.add("user_id = $%d", filter.UserID)
	}
	if filter.From != nil {
		w.add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("created_at <= $%d", *filter.To)
	}
	if filter.FiscalYear != 0 {
		w.add("fiscal_year = $%d", filter.FiscalYear)
	}
	if filter.Period != 0 {
		w.add("period = $%d", filter.Period)
	}
	if filter.ApprovalStatus != "" {
		w.add("approval_status = $%d", filter.ApprovalStatus)
	}
	query := `SELECT ` + auditColumns + ` FROM audit_records` + w.String() +
		` ORDER BY created_at DESC, seq DESC` + w.page(filter.Limit, filter.Offset)

	rows, err := p.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, storageErr("query audit records", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		r, err := scanAuditRecord(rows)
		if err != nil {
			return nil, storageErr("scan audit record", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query audit records", err)
	}
	return records, nil
}
