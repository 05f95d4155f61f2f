package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"machinepark/internal/domain"
	"machinepark/internal/repo"
)

// UseComponent claims an available component for a machine. When the
// machine is in the maintenance stage the mount is written to the
// maintenance history, otherwise to the assembly history.
func (e *Engine) UseComponent(ctx context.Context, componentID, machineID, actorID string) (domain.Component, error) {
	machine, err := e.Repo.GetMachine(ctx, machineID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Component{}, newError(KindNotFound, "machine not found: "+machineID)
		}
		return domain.Component{}, wrapError(KindPersistence, "load machine", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Component{}, wrapError(KindPersistence, "begin tx", err)
	}
	defer tx.Rollback()

	now := e.nowString()
	ok, err := e.Repo.ClaimComponent(ctx, tx, componentID, machineID, actorID, now)
	if err != nil {
		return domain.Component{}, wrapError(KindPersistence, "claim component", err)
	}
	if !ok {
		if _, getErr := e.Repo.GetComponentTx(ctx, tx, componentID); getErr == repo.ErrNotFound {
			return domain.Component{}, newError(KindNotFound, "component not found: "+componentID)
		}
		return domain.Component{}, newError(KindAlreadyInUse, "component is already in use: "+componentID)
	}

	detail := "Componente montado"
	if machine.Stage == domain.StageMaintenance {
		err = e.Repo.InsertMaintenanceRecord(ctx, tx, domain.MaintenanceRecord{
			MachineID: machineID, ComponentID: componentID, TechnicianID: actorID,
			Detail: detail, CreatedAt: now,
		})
	} else {
		err = e.Repo.InsertAssemblyRecord(ctx, tx, domain.AssemblyRecord{
			MachineID: machineID, ComponentID: componentID, TechnicianID: actorID,
			Detail: detail, CreatedAt: now,
		})
	}
	if err != nil {
		return domain.Component{}, wrapError(KindPersistence, "record mount", err)
	}

	if err := e.Events.Append(ctx, tx, "component.used", "component", componentID, actorID, map[string]any{
		"machine_id": machineID,
	}); err != nil {
		return domain.Component{}, wrapError(KindPersistence, "append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Component{}, wrapError(KindPersistence, "commit", err)
	}
	return e.Repo.GetComponent(ctx, componentID)
}

// ReleaseComponent returns a component to the available pool.
func (e *Engine) ReleaseComponent(ctx context.Context, componentID, actorID string) (domain.Component, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Component{}, wrapError(KindPersistence, "begin tx", err)
	}
	defer tx.Rollback()

	ok, err := e.Repo.ReleaseComponent(ctx, tx, componentID, e.nowString())
	if err != nil {
		return domain.Component{}, wrapError(KindPersistence, "release component", err)
	}
	if !ok {
		if _, getErr := e.Repo.GetComponentTx(ctx, tx, componentID); getErr == repo.ErrNotFound {
			return domain.Component{}, newError(KindNotFound, "component not found: "+componentID)
		}
		return domain.Component{}, newError(KindNotInUse, "component is not in use: "+componentID)
	}
	if err := e.Events.Append(ctx, tx, "component.released", "component", componentID, actorID, nil); err != nil {
		return domain.Component{}, wrapError(KindPersistence, "append event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Component{}, wrapError(KindPersistence, "commit", err)
	}
	return e.Repo.GetComponent(ctx, componentID)
}

// ReleaseBatch frees a set of components in one transaction. Components
// already available are skipped rather than failing the batch, so the
// call can be retried after a partial failure.
func (e *Engine) ReleaseBatch(ctx context.Context, componentIDs []string, actorID string) (released []string, err error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapError(KindPersistence, "begin tx", err)
	}
	defer tx.Rollback()

	now := e.nowString()
	for _, id := range componentIDs {
		ok, err := e.Repo.ReleaseComponent(ctx, tx, id, now)
		if err != nil {
			return nil, wrapError(KindPersistence, "release "+id, err)
		}
		if ok {
			released = append(released, id)
		}
	}
	if len(released) > 0 {
		if err := e.Events.Append(ctx, tx, "component.batch_released", "component", "", actorID, map[string]any{
			"component_ids": released,
		}); err != nil {
			return nil, wrapError(KindPersistence, "append event", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapError(KindPersistence, "commit", err)
	}
	return released, nil
}

// AssignEnclosure mounts an enclosure on a machine, rejecting components
// of any other type.
func (e *Engine) AssignEnclosure(ctx context.Context, componentID, machineID, actorID string) (domain.Component, error) {
	comp, err := e.Repo.GetComponent(ctx, componentID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Component{}, newError(KindNotFound, "component not found: "+componentID)
		}
		return domain.Component{}, wrapError(KindPersistence, "load component", err)
	}
	if comp.Type != domain.ComponentTypeEnclosure {
		return domain.Component{}, newError(KindWrongComponentType,
			fmt.Sprintf("component %s is %q, expected %q", componentID, comp.Type, domain.ComponentTypeEnclosure))
	}
	return e.UseComponent(ctx, componentID, machineID, actorID)
}

// GeneratePlate mints a new board component with a unique plate code.
// Code collisions retry up to the configured attempt budget.
func (e *Engine) GeneratePlate(ctx context.Context, actorID string) (domain.Component, error) {
	prefix := e.Config.Plates.Prefix
	attempts := e.Config.Plates.Attempts
	if attempts < 1 {
		attempts = 1
	}
	now := e.nowString()
	var lastErr error
	for i := 0; i < attempts; i++ {
		code := prefix + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
		comp := domain.Component{
			ID:         uuid.NewString(),
			Type:       domain.ComponentTypeBoard,
			PlateCode:  &code,
			Allocation: domain.AllocationAvailable,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err := e.createComponent(ctx, comp, actorID)
		if err == nil {
			return comp, nil
		}
		if !strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.Component{}, wrapError(KindPersistence, "insert plate", err)
		}
		lastErr = err
	}
	return domain.Component{}, wrapError(KindPersistence,
		fmt.Sprintf("plate code collision after %d attempts", attempts), lastErr)
}

// CreateEnclosure mints a new enclosure component in the available pool.
func (e *Engine) CreateEnclosure(ctx context.Context, actorID string) (domain.Component, error) {
	now := e.nowString()
	comp := domain.Component{
		ID:         uuid.NewString(),
		Type:       domain.ComponentTypeEnclosure,
		Allocation: domain.AllocationAvailable,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.createComponent(ctx, comp, actorID); err != nil {
		return domain.Component{}, wrapError(KindPersistence, "insert enclosure", err)
	}
	return comp, nil
}

func (e *Engine) createComponent(ctx context.Context, comp domain.Component, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComponent(ctx, tx, comp); err != nil {
		return err
	}
	payload := map[string]any{"type": comp.Type}
	if comp.PlateCode != nil {
		payload["plate_code"] = *comp.PlateCode
	}
	if err := e.Events.Append(ctx, tx, "component.created", "component", comp.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
