package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"airtech/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Repo provides data access over SQLite.
type Repo struct {
	DB *sql.DB
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const complaintColumns = `id, complaint_id, complaint_date, machine_name, complaint_description,
priority, complaint_status, department, assigned_to,
action_date, maintenance_remarks, initial_inspection_date, estimated_end_date, finalization_date,
created_by, updated_by, created_at, updated_at`

// GetComplaint loads a complaint with its history and material lines.
func (r Repo) GetComplaint(ctx context.Context, id string) (domain.Complaint, error) {
	return r.getComplaint(ctx, r.DB, id)
}

// GetComplaintTx is GetComplaint inside a transaction.
func (r Repo) GetComplaintTx(ctx context.Context, tx *sql.Tx, id string) (domain.Complaint, error) {
	return r.getComplaint(ctx, tx, id)
}

func (r Repo) getComplaint(ctx context.Context, q dbtx, id string) (domain.Complaint, error) {
	row := q.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id=?`, id)
	c, err := scanComplaint(row)
	if err == sql.ErrNoRows {
		return domain.Complaint{}, ErrNotFound
	}
	if err != nil {
		return domain.Complaint{}, err
	}
	if c.History, err = r.loadHistory(ctx, q, id); err != nil {
		return domain.Complaint{}, err
	}
	if c.MaterialsUsed, err = r.loadMaterials(ctx, q, id); err != nil {
		return domain.Complaint{}, err
	}
	return c, nil
}

// ComplaintFilters narrows ListComplaints.
type ComplaintFilters struct {
	CreatedBy string
}

// ListComplaints returns complaints ordered by complaint id, with history
// and material lines attached.
func (r Repo) ListComplaints(ctx context.Context, f ComplaintFilters) ([]domain.Complaint, error) {
	query := `SELECT ` + complaintColumns + ` FROM complaints`
	var args []any
	if f.CreatedBy != "" {
		query += ` WHERE created_by=?`
		args = append(args, f.CreatedBy)
	}
	query += ` ORDER BY complaint_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].History, err = r.loadHistory(ctx, r.DB, out[i].ID); err != nil {
			return nil, err
		}
		if out[i].MaterialsUsed, err = r.loadMaterials(ctx, r.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MaxComplaintSerialTx returns the lexicographically greatest complaint id,
// or "" when no complaints exist. Callers run it in the same transaction
// as the insert so the read-max/insert pair cannot race.
func (r Repo) MaxComplaintSerialTx(ctx context.Context, tx *sql.Tx) (string, error) {
	row := tx.QueryRowContext(ctx, `SELECT complaint_id FROM complaints ORDER BY complaint_id DESC LIMIT 1`)
	var id string
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// InsertComplaintTx stores a new complaint with its child rows.
func (r Repo) InsertComplaintTx(ctx context.Context, tx *sql.Tx, c domain.Complaint) error {
	if c.ID == "" {
		return errors.New("id required")
	}
	if c.ComplaintID == "" {
		return errors.New("complaint_id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO complaints(`+complaintColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ComplaintID, c.ComplaintDate, c.MachineName, c.ComplaintDescription,
		c.Priority, c.ComplaintStatus, c.Department, c.AssignedTo,
		optional(c.ActionDate), optional(c.MaintenanceRemarks), optional(c.InitialInspectionDate),
		optional(c.EstimatedEndDate), optional(c.FinalizationDate),
		c.CreatedBy, nullable(c.UpdatedBy), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert complaint: %w", err)
	}
	if err := r.writeHistory(ctx, tx, c.ID, c.History); err != nil {
		return err
	}
	return r.writeMaterials(ctx, tx, c.ID, c.MaterialsUsed)
}

// UpdateComplaintTx replaces the mutable columns and rewrites the child
// rows. complaint_id, created_by and created_at are never touched here.
func (r Repo) UpdateComplaintTx(ctx context.Context, tx *sql.Tx, c domain.Complaint) error {
	res, err := tx.ExecContext(ctx, `UPDATE complaints SET
complaint_date=?, machine_name=?, complaint_description=?,
priority=?, complaint_status=?, department=?, assigned_to=?,
action_date=?, maintenance_remarks=?, initial_inspection_date=?, estimated_end_date=?, finalization_date=?,
updated_by=?, updated_at=?
WHERE id=?`,
		c.ComplaintDate, c.MachineName, c.ComplaintDescription,
		c.Priority, c.ComplaintStatus, c.Department, c.AssignedTo,
		optional(c.ActionDate), optional(c.MaintenanceRemarks), optional(c.InitialInspectionDate),
		optional(c.EstimatedEndDate), optional(c.FinalizationDate),
		nullable(c.UpdatedBy), c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update complaint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM complaint_history WHERE complaint_id=?`, c.ID); err != nil {
		return err
	}
	if err := r.writeHistory(ctx, tx, c.ID, c.History); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM complaint_materials WHERE complaint_id=?`, c.ID); err != nil {
		return err
	}
	return r.writeMaterials(ctx, tx, c.ID, c.MaterialsUsed)
}

// DeleteComplaintTx removes a complaint; child rows cascade.
func (r Repo) DeleteComplaintTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM complaints WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListComplaintIDsMissingHistory returns ids of complaints stored without
// any history rows. Used by the one-time backfill migration.
func (r Repo) ListComplaintIDsMissingHistory(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT c.id FROM complaints c
LEFT JOIN complaint_history h ON h.complaint_id=c.id
WHERE h.complaint_id IS NULL
ORDER BY c.complaint_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceHistoryTx rewrites the history rows for a complaint. Only the
// backfill path uses it; normal writes go through UpdateComplaintTx.
func (r Repo) ReplaceHistoryTx(ctx context.Context, tx *sql.Tx, complaintID string, entries []domain.HistoryEntry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM complaint_history WHERE complaint_id=?`, complaintID); err != nil {
		return err
	}
	return r.writeHistory(ctx, tx, complaintID, entries)
}

func (r Repo) writeHistory(ctx context.Context, tx *sql.Tx, complaintID string, entries []domain.HistoryEntry) error {
	for i, e := range entries {
		_, err := tx.ExecContext(ctx, `INSERT INTO complaint_history(complaint_id, seq, action, user, ts) VALUES (?,?,?,?,?)`,
			complaintID, i, e.Action, e.User, e.Timestamp)
		if err != nil {
			return fmt.Errorf("insert history entry %d: %w", i, err)
		}
	}
	return nil
}

func (r Repo) writeMaterials(ctx context.Context, tx *sql.Tx, complaintID string, lines []domain.MaterialLine) error {
	for i, m := range lines {
		_, err := tx.ExecContext(ctx, `INSERT INTO complaint_materials(complaint_id, seq, name, quantity, remarks) VALUES (?,?,?,?,?)`,
			complaintID, i, m.Name, m.Quantity, nullable(m.Remarks))
		if err != nil {
			return fmt.Errorf("insert material line %d: %w", i, err)
		}
	}
	return nil
}

func (r Repo) loadHistory(ctx context.Context, q dbtx, complaintID string) ([]domain.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT action, user, ts FROM complaint_history WHERE complaint_id=? ORDER BY seq`, complaintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.Action, &e.User, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r Repo) loadMaterials(ctx context.Context, q dbtx, complaintID string) ([]domain.MaterialLine, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, quantity, COALESCE(remarks,'') FROM complaint_materials WHERE complaint_id=? ORDER BY seq`, complaintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []domain.MaterialLine
	for rows.Next() {
		var m domain.MaterialLine
		if err := rows.Scan(&m.Name, &m.Quantity, &m.Remarks); err != nil {
			return nil, err
		}
		lines = append(lines, m)
	}
	return lines, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComplaint(row rowScanner) (domain.Complaint, error) {
	var c domain.Complaint
	var actionDate, remarks, inspection, estimated, finalization, updatedBy sql.NullString
	err := row.Scan(&c.ID, &c.ComplaintID, &c.ComplaintDate, &c.MachineName, &c.ComplaintDescription,
		&c.Priority, &c.ComplaintStatus, &c.Department, &c.AssignedTo,
		&actionDate, &remarks, &inspection, &estimated, &finalization,
		&c.CreatedBy, &updatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.Complaint{}, err
	}
	c.ActionDate = fromNull(actionDate)
	c.MaintenanceRemarks = fromNull(remarks)
	c.InitialInspectionDate = fromNull(inspection)
	c.EstimatedEndDate = fromNull(estimated)
	c.FinalizationDate = fromNull(finalization)
	if updatedBy.Valid {
		c.UpdatedBy = updatedBy.String
	}
	return c, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func optional(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func fromNull(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}
