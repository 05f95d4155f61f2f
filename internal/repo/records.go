package repo

import (
	"context"
	"database/sql"

	"machinepark/internal/domain"
)

func (r Repo) InsertAssemblyRecord(ctx context.Context, tx *sql.Tx, rec domain.AssemblyRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO assembly_records(machine_id,component_id,technician_id,detail,created_at) VALUES (?,?,?,?,?)`,
		rec.MachineID, rec.ComponentID, rec.TechnicianID, rec.Detail, rec.CreatedAt)
	return err
}

func (r Repo) InsertMaintenanceRecord(ctx context.Context, tx *sql.Tx, rec domain.MaintenanceRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO maintenance_records(machine_id,component_id,technician_id,detail,created_at) VALUES (?,?,?,?,?)`,
		rec.MachineID, rec.ComponentID, rec.TechnicianID, rec.Detail, rec.CreatedAt)
	return err
}

// ComponentsForMachine unions the assembly and maintenance histories and
// dedupes to the current component set mounted on the machine.
func (r Repo) ComponentsForMachine(ctx context.Context, machineID string) ([]domain.Component, error) {
	query := `SELECT ` + componentColumns + ` FROM components WHERE id IN (
	    SELECT component_id FROM assembly_records WHERE machine_id=?
	    UNION
	    SELECT component_id FROM maintenance_records WHERE machine_id=?
	) ORDER BY type ASC, id ASC`
	return r.queryComponents(ctx, query, machineID, machineID)
}

func (r Repo) ListAssemblyRecords(ctx context.Context, machineID string) ([]domain.AssemblyRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,machine_id,component_id,technician_id,detail,created_at FROM assembly_records WHERE machine_id=? ORDER BY id ASC`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssemblyRecord
	for rows.Next() {
		var rec domain.AssemblyRecord
		if err := rows.Scan(&rec.ID, &rec.MachineID, &rec.ComponentID, &rec.TechnicianID, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) ListMaintenanceRecords(ctx context.Context, machineID string) ([]domain.MaintenanceRecord, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,machine_id,component_id,technician_id,detail,created_at FROM maintenance_records WHERE machine_id=? ORDER BY id ASC`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MaintenanceRecord
	for rows.Next() {
		var rec domain.MaintenanceRecord
		if err := rows.Scan(&rec.ID, &rec.MachineID, &rec.ComponentID, &rec.TechnicianID, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
