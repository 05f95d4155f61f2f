package repo

import (
	"context"
	"database/sql"

	"machinepark/internal/domain"
)

func (r Repo) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users(id,name,type,specialty,active,activities,created_at) VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, specialty=excluded.specialty, active=excluded.active`,
		u.ID, u.Name, u.Type, nullableStringPtr(u.Specialty), boolInt(u.Active), u.Activities, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,type,specialty,active,activities,created_at FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

func (r Repo) ListUsers(ctx context.Context, userType string) ([]domain.User, error) {
	query := `SELECT id,name,type,specialty,active,activities,created_at FROM users`
	var args []any
	if userType != "" {
		query += ` WHERE type=?`
		args = append(args, userType)
	}
	query += ` ORDER BY name ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) SetUserActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET active=? WHERE id=?`, boolInt(active), id)
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

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var specialty sql.NullString
	var active int
	err := scan(&u.ID, &u.Name, &u.Type, &specialty, &active, &u.Activities, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if specialty.Valid {
		u.Specialty = &specialty.String
	}
	u.Active = active == 1
	return u, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
