package repo

import (
	"context"
	"database/sql"

	"machinepark/internal/domain"
)

const componentColumns = `id,type,plate_code,allocation,machine_id,holder_id,created_at,updated_at`

func scanComponent(scan func(dest ...any) error) (domain.Component, error) {
	var c domain.Component
	var plate, machine, holder sql.NullString
	err := scan(&c.ID, &c.Type, &plate, &c.Allocation, &machine, &holder, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if plate.Valid {
		c.PlateCode = &plate.String
	}
	if machine.Valid {
		c.MachineID = &machine.String
	}
	if holder.Valid {
		c.HolderID = &holder.String
	}
	return c, nil
}

// InsertComponent writes a new component. A nil tx executes against the
// pool directly.
func (r Repo) InsertComponent(ctx context.Context, tx *sql.Tx, c domain.Component) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO components(`+componentColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.Type, nullableStringPtr(c.PlateCode), c.Allocation, nullableStringPtr(c.MachineID), nullableStringPtr(c.HolderID), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetComponent(ctx context.Context, id string) (domain.Component, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+componentColumns+` FROM components WHERE id=?`, id)
	return scanComponent(row.Scan)
}

func (r Repo) GetComponentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Component, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+componentColumns+` FROM components WHERE id=?`, id)
	return scanComponent(row.Scan)
}

// ClaimComponent flips an available component to in-use in a single
// conditional update. A false return means another caller claimed it
// first or it was never available.
func (r Repo) ClaimComponent(ctx context.Context, tx *sql.Tx, id, machineID, holderID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE components SET allocation=?, machine_id=?, holder_id=?, updated_at=? WHERE id=? AND allocation=?`,
		domain.AllocationInUse, nullable(machineID), nullable(holderID), updatedAt, id, domain.AllocationAvailable)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseComponent returns an in-use component to the pool. The same
// conditional guard makes repeated releases report false instead of
// overwriting unrelated state.
func (r Repo) ReleaseComponent(ctx context.Context, tx *sql.Tx, id, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE components SET allocation=?, machine_id=NULL, holder_id=NULL, updated_at=? WHERE id=? AND allocation=?`,
		domain.AllocationAvailable, updatedAt, id, domain.AllocationInUse)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) ListAvailableComponents(ctx context.Context, componentType string) ([]domain.Component, error) {
	query := `SELECT ` + componentColumns + ` FROM components WHERE allocation=?`
	args := []any{domain.AllocationAvailable}
	if componentType != "" {
		query += ` AND type=?`
		args = append(args, componentType)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return r.queryComponents(ctx, query, args...)
}

func (r Repo) ListInUseComponents(ctx context.Context, holderID, machineID string) ([]domain.Component, error) {
	query := `SELECT ` + componentColumns + ` FROM components WHERE allocation=?`
	args := []any{domain.AllocationInUse}
	if holderID != "" {
		query += ` AND holder_id=?`
		args = append(args, holderID)
	}
	if machineID != "" {
		query += ` AND machine_id=?`
		args = append(args, machineID)
	}
	query += ` ORDER BY updated_at DESC, id ASC`
	return r.queryComponents(ctx, query, args...)
}

// ListComponents pages through the full inventory.
func (r Repo) ListComponents(ctx context.Context, componentType string, limit, offset int) ([]domain.Component, int, error) {
	where := ""
	var args []any
	if componentType != "" {
		where = ` WHERE type=?`
		args = append(args, componentType)
	}
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM components`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + componentColumns + ` FROM components` + where + ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	items, err := r.queryComponents(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r Repo) queryComponents(ctx context.Context, query string, args ...any) ([]domain.Component, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Component
	for rows.Next() {
		c, err := scanComponent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
