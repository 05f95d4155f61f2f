package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"machinepark/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const machineColumns = `id,name,type,stage,status,assembler_id,verifier_id,maintainer_id,commerce_id,created_at,updated_at`

func scanMachine(scan func(dest ...any) error) (domain.Machine, error) {
	var m domain.Machine
	var maintainer sql.NullString
	err := scan(&m.ID, &m.Name, &m.Type, &m.Stage, &m.Status, &m.AssemblerID, &m.VerifierID, &maintainer, &m.CommerceID, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if maintainer.Valid {
		m.MaintainerID = &maintainer.String
	}
	return m, nil
}

func (r Repo) InsertMachine(ctx context.Context, tx *sql.Tx, m domain.Machine) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO machines(`+machineColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Name, m.Type, m.Stage, m.Status, m.AssemblerID, m.VerifierID, nullableStringPtr(m.MaintainerID), m.CommerceID, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMachine(ctx context.Context, id string) (domain.Machine, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+machineColumns+` FROM machines WHERE id=?`, id)
	return scanMachine(row.Scan)
}

func (r Repo) GetMachineTx(ctx context.Context, tx *sql.Tx, id string) (domain.Machine, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+machineColumns+` FROM machines WHERE id=?`, id)
	return scanMachine(row.Scan)
}

// MoveMachine advances a machine's (stage,status) pair guarded on the
// expected current pair. Zero rows affected means the machine was not in
// the required from-state (or a concurrent transition won the race).
func (r Repo) MoveMachine(ctx context.Context, tx *sql.Tx, id, fromStage, fromStatus, toStage, toStatus, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE machines SET stage=?, status=?, updated_at=? WHERE id=? AND stage=? AND status=?`,
		toStage, toStatus, updatedAt, id, fromStage, fromStatus)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) AssignMaintainer(ctx context.Context, tx *sql.Tx, machineID, technicianID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE machines SET maintainer_id=? WHERE id=?`, technicianID, machineID)
	return err
}

type MachineFilters struct {
	Stage        string
	Status       string
	AssemblerID  string
	VerifierID   string
	MaintainerID string
	CommerceID   string
	Limit        int
}

func (r Repo) ListMachines(ctx context.Context, f MachineFilters) ([]domain.Machine, error) {
	var clauses []string
	var args []any
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssemblerID != "" {
		clauses = append(clauses, "assembler_id=?")
		args = append(args, f.AssemblerID)
	}
	if f.VerifierID != "" {
		clauses = append(clauses, "verifier_id=?")
		args = append(args, f.VerifierID)
	}
	if f.MaintainerID != "" {
		clauses = append(clauses, "maintainer_id=?")
		args = append(args, f.MaintainerID)
	}
	if f.CommerceID != "" {
		clauses = append(clauses, "commerce_id=?")
		args = append(args, f.CommerceID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + machineColumns + ` FROM machines ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Machine
	for rows.Next() {
		m, err := scanMachine(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LatestEventID returns the highest event ID, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
