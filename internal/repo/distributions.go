package repo

import (
	"context"
	"database/sql"
	"strings"

	"machinepark/internal/domain"
)

func (r Repo) InsertDistributionRecord(ctx context.Context, tx *sql.Tx, rec domain.DistributionRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO distribution_records(machine_id,technician_id,commerce_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		rec.MachineID, rec.TechnicianID, rec.CommerceID, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// UpdateDistributionStatus mirrors the machine's new status onto its
// open distribution record.
func (r Repo) UpdateDistributionStatus(ctx context.Context, tx *sql.Tx, machineID, status, updatedAt string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE distribution_records SET status=?, updated_at=? WHERE machine_id=?`,
		status, updatedAt, machineID)
	return err
}

type DistributionFilters struct {
	Status     string
	CommerceID string
	MachineID  string
	From       string
	To         string
}

func (r Repo) ListDistributions(ctx context.Context, f DistributionFilters) ([]domain.DistributionRecord, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CommerceID != "" {
		clauses = append(clauses, "commerce_id=?")
		args = append(args, f.CommerceID)
	}
	if f.MachineID != "" {
		clauses = append(clauses, "machine_id=?")
		args = append(args, f.MachineID)
	}
	if f.From != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "created_at<=?")
		args = append(args, f.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,machine_id,technician_id,commerce_id,status,created_at,updated_at FROM distribution_records `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DistributionRecord
	for rows.Next() {
		var rec domain.DistributionRecord
		if err := rows.Scan(&rec.ID, &rec.MachineID, &rec.TechnicianID, &rec.CommerceID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
