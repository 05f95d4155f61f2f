// Package directory resolves technicians and logistics staff for
// auto-assignment during machine lifecycle transitions.
package directory

import (
	"context"
	"database/sql"

	"machinepark/internal/domain"
)

type Service struct {
	DB *sql.DB
}

func New(db *sql.DB) *Service {
	return &Service{DB: db}
}

// Technicians lists active technicians of a specialty ordered by current
// workload. Ties break on ID so assignment stays deterministic.
func (s *Service) Technicians(ctx context.Context, specialty string) ([]domain.Technician, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, name, specialty, activities FROM users
		 WHERE type=? AND specialty=? AND active=1
		 ORDER BY activities ASC, id ASC`,
		domain.UserTypeTechnician, specialty)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Technician
	for rows.Next() {
		var t domain.Technician
		if err := rows.Scan(&t.ID, &t.Name, &t.Specialty, &t.Activities); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// LeastLoaded picks the technician with the fewest assigned activities.
func (s *Service) LeastLoaded(ctx context.Context, specialty string) (domain.Technician, bool, error) {
	techs, err := s.Technicians(ctx, specialty)
	if err != nil {
		return domain.Technician{}, false, err
	}
	if len(techs) == 0 {
		return domain.Technician{}, false, nil
	}
	return techs[0], true, nil
}

// LogisticsUsers lists active logistics staff, the recipients of
// distribution notifications.
func (s *Service) LogisticsUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, name, type, specialty, active, activities, created_at FROM users
		 WHERE type=? AND active=1 ORDER BY id ASC`, domain.UserTypeLogistics)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var specialty sql.NullString
		var active int
		if err := rows.Scan(&u.ID, &u.Name, &u.Type, &specialty, &active, &u.Activities, &u.CreatedAt); err != nil {
			return nil, err
		}
		if specialty.Valid {
			u.Specialty = &specialty.String
		}
		u.Active = active == 1
		res = append(res, u)
	}
	return res, rows.Err()
}

// IncrementActivity bumps a technician's workload counter inside the
// transaction that assigns them work.
func (s *Service) IncrementActivity(ctx context.Context, tx *sql.Tx, technicianID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE users SET activities=activities+1 WHERE id=?`, technicianID)
	return err
}
