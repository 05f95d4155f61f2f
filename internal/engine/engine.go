// Package engine implements the machine lifecycle: registration,
// stage/status transitions, technician assignment, and the component
// allocation that backs assembly and maintenance.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"machinepark/internal/config"
	"machinepark/internal/directory"
	"machinepark/internal/domain"
	"machinepark/internal/events"
	"machinepark/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Directory *directory.Service
	Events    events.Writer
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	e := &Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Directory: directory.New(db),
		Config:    cfg,
		Now:       time.Now,
	}
	// Event timestamps follow the engine clock, including overrides.
	e.Events = events.Writer{DB: db, Now: func() time.Time { return e.Now() }}
	return e
}

func (e *Engine) nowString() string {
	if e.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return e.Now().UTC().Format(time.RFC3339)
}

// Lifecycle operations accepted by Transition.
const (
	OpSendToVerification = "send-to-verification"
	OpSendToReassembly   = "send-to-reassembly"
	OpSendToDistribution = "send-to-distribution"
	OpMarkOperational    = "mark-operational"
	OpSendToMaintenance  = "send-to-maintenance"
	OpFinishMaintenance  = "finish-maintenance"
	OpCancelRegistration = "cancel-registration"
)

// TransitionOpts carries operation-specific parameters.
type TransitionOpts struct {
	// Success resolves finish-maintenance: repaired when true, retired
	// when false. Ignored by other operations.
	Success *bool
	// Message overrides the catalog text of notifications the operation
	// sends. Empty keeps the configured text.
	Message string
}

// TransitionResult is the committed machine plus warnings from
// best-effort side effects (notifications) that failed after commit.
type TransitionResult struct {
	Machine  domain.Machine
	Warnings []string
}

// Transition applies a named lifecycle operation to a machine. The
// state change is atomic; notification delivery is best-effort and
// surfaces as warnings rather than errors.
func (e *Engine) Transition(ctx context.Context, machineID, op, actorID string, opts TransitionOpts) (TransitionResult, error) {
	switch op {
	case OpSendToVerification:
		return e.SendToVerification(ctx, machineID, actorID, opts.Message)
	case OpSendToReassembly:
		return e.SendToReassembly(ctx, machineID, actorID, opts.Message)
	case OpSendToDistribution:
		return e.SendToDistribution(ctx, machineID, actorID, opts.Message)
	case OpMarkOperational:
		return e.MarkOperational(ctx, machineID, actorID)
	case OpSendToMaintenance:
		return e.SendToMaintenance(ctx, machineID, actorID, opts.Message)
	case OpFinishMaintenance:
		if opts.Success == nil {
			return TransitionResult{}, newError(KindValidation, "finish-maintenance requires success flag")
		}
		return e.FinishMaintenance(ctx, machineID, actorID, *opts.Success, opts.Message)
	case OpCancelRegistration:
		return e.CancelRegistration(ctx, machineID, actorID)
	default:
		return TransitionResult{}, newError(KindValidation, "unknown operation: "+op)
	}
}

type RegisterMachineInput struct {
	Name        string
	Type        string
	CommerceID  string
	PlateID     string
	EnclosureID string
	ActorID     string
}

// RegisterMachine creates a machine in the assembly stage. It claims the
// board and enclosure, assigns the least-loaded assembler and verifier,
// and writes the initial assembly records; everything commits or nothing
// does. The assembler is notified after commit.
func (e *Engine) RegisterMachine(ctx context.Context, in RegisterMachineInput) (TransitionResult, error) {
	if in.Name == "" {
		return TransitionResult{}, newError(KindValidation, "machine name is required")
	}
	if in.PlateID == "" || in.EnclosureID == "" {
		return TransitionResult{}, newError(KindValidation, "plate and enclosure component IDs are required")
	}

	plate, err := e.Repo.GetComponent(ctx, in.PlateID)
	if err != nil {
		if err == repo.ErrNotFound {
			return TransitionResult{}, newError(KindNotFound, "component not found: "+in.PlateID)
		}
		return TransitionResult{}, wrapError(KindPersistence, "load plate", err)
	}
	if plate.Type != domain.ComponentTypeBoard {
		return TransitionResult{}, newError(KindWrongComponentType,
			fmt.Sprintf("component %s is %q, expected %q", in.PlateID, plate.Type, domain.ComponentTypeBoard))
	}
	enclosure, err := e.Repo.GetComponent(ctx, in.EnclosureID)
	if err != nil {
		if err == repo.ErrNotFound {
			return TransitionResult{}, newError(KindNotFound, "component not found: "+in.EnclosureID)
		}
		return TransitionResult{}, wrapError(KindPersistence, "load enclosure", err)
	}
	if enclosure.Type != domain.ComponentTypeEnclosure {
		return TransitionResult{}, newError(KindWrongComponentType,
			fmt.Sprintf("component %s is %q, expected %q", in.EnclosureID, enclosure.Type, domain.ComponentTypeEnclosure))
	}

	assembler, ok, err := e.Directory.LeastLoaded(ctx, domain.SpecialtyAssembler)
	if err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "select assembler", err)
	}
	if !ok {
		return TransitionResult{}, newError(KindNoTechnicianAvailable, "no active assembler available")
	}
	verifier, ok, err := e.Directory.LeastLoaded(ctx, domain.SpecialtyVerifier)
	if err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "select verifier", err)
	}
	if !ok {
		return TransitionResult{}, newError(KindNoTechnicianAvailable, "no active verifier available")
	}

	machineID := uuid.NewString()
	now := e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "begin tx", err)
	}
	defer tx.Rollback()

	claimed, err := e.Repo.ClaimComponent(ctx, tx, in.PlateID, machineID, assembler.ID, now)
	if err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "claim plate", err)
	}
	if !claimed {
		return TransitionResult{}, newError(KindComponentUnavailable, "component is not available: "+in.PlateID)
	}
	claimed, err = e.Repo.ClaimComponent(ctx, tx, in.EnclosureID, machineID, assembler.ID, now)
	if err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "claim enclosure", err)
	}
	if !claimed {
		return TransitionResult{}, newError(KindComponentUnavailable, "component is not available: "+in.EnclosureID)
	}

	machine := domain.Machine{
		ID:          machineID,
		Name:        in.Name,
		Type:        in.Type,
		Stage:       domain.StageAssembly,
		Status:      domain.StatusAssembling,
		AssemblerID: assembler.ID,
		VerifierID:  verifier.ID,
		CommerceID:  in.CommerceID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertMachine(ctx, tx, machine); err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "insert machine", err)
	}

	records := []domain.AssemblyRecord{
		{MachineID: machineID, ComponentID: in.PlateID, TechnicianID: assembler.ID, Detail: "Placa base montada", CreatedAt: now},
		{MachineID: machineID, ComponentID: in.EnclosureID, TechnicianID: assembler.ID, Detail: "Carcasa asignada", CreatedAt: now},
	}
	for _, rec := range records {
		if err := e.Repo.InsertAssemblyRecord(ctx, tx, rec); err != nil {
			return TransitionResult{}, wrapError(KindPersistence, "insert assembly record", err)
		}
	}

	if err := e.Directory.IncrementActivity(ctx, tx, assembler.ID); err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "increment assembler activity", err)
	}
	if err := e.Directory.IncrementActivity(ctx, tx, verifier.ID); err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "increment verifier activity", err)
	}

	if err := e.Events.Append(ctx, tx, "machine.registered", "machine", machineID, in.ActorID, map[string]any{
		"name": in.Name, "assembler_id": assembler.ID, "verifier_id": verifier.ID,
	}); err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "append event", err)
	}

	if err := tx.Commit(); err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "commit", err)
	}

	res := TransitionResult{Machine: machine}
	e.notify(ctx, &res, in.ActorID, assembler.ID, machineID, domain.NotifyNewAssembly, "")
	return res, nil
}

// SendToVerification moves an assembled (or reworked) machine to the
// verification stage and notifies the assigned verifier.
func (e *Engine) SendToVerification(ctx context.Context, machineID, actorID, message string) (TransitionResult, error) {
	machine, err := e.loadMachine(ctx, machineID)
	if err != nil {
		return TransitionResult{}, err
	}
	from := [][2]string{
		{domain.StageAssembly, domain.StatusAssembling},
		{domain.StageAssembly, domain.StatusReassembling},
	}
	res, err := e.move(ctx, machine, actorID, from, domain.StageVerification, domain.StatusVerifying, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	e.notify(ctx, &res, actorID, machine.VerifierID, machineID, domain.NotifyVerifyMachine, message)
	return res, nil
}

// SendToReassembly returns a machine that failed verification to the
// assembly stage for rework.
func (e *Engine) SendToReassembly(ctx context.Context, machineID, actorID, message string) (TransitionResult, error) {
	machine, err := e.loadMachine(ctx, machineID)
	if err != nil {
		return TransitionResult{}, err
	}
	from := [][2]string{{domain.StageVerification, domain.StatusVerifying}}
	res, err := e.move(ctx, machine, actorID, from, domain.StageAssembly, domain.StatusReassembling, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	e.notify(ctx, &res, actorID, machine.AssemblerID, machineID, domain.NotifyReassembly, message)
	return res, nil
}

// SendToDistribution moves a verified machine into distribution, opens
// its distribution ledger record, and notifies logistics staff.
func (e *Engine) SendToDistribution(ctx context.Context, machineID, actorID, message string) (TransitionResult, error) {
	machine, err := e.loadMachine(ctx, machineID)
	if err != nil {
		return TransitionResult{}, err
	}
	from := [][2]string{{domain.StageVerification, domain.StatusVerifying}}
	res, err := e.move(ctx, machine, actorID, from, domain.StageDistribution, domain.StatusDistributing,
		func(ctx context.Context, tx *sql.Tx, now string) error {
			return e.Repo.InsertDistributionRecord(ctx, tx, domain.DistributionRecord{
				MachineID:    machineID,
				TechnicianID: machine.VerifierID,
				CommerceID:   machine.CommerceID,
				Status:       domain.StatusDistributing,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		})
	if err != nil {
		return TransitionResult{}, err
	}
	logistics, lerr := e.Directory.LogisticsUsers(ctx)
	if lerr != nil {
		res.Warnings = append(res.Warnings, "list logistics users: "+lerr.Error())
		return res, nil
	}
	for _, u := range logistics {
		e.notify(ctx, &res, actorID, u.ID, machineID, domain.NotifyDistribute, message)
	}
	return res, nil
}

// MarkOperational confirms a machine arrived at its commerce and is
// earning; the distribution ledger mirrors the new status.
func (e *Engine) MarkOperational(ctx context.Context, machineID, actorID string) (TransitionResult, error) {
	machine, err := e.loadMachine(ctx, machineID)
	if err != nil {
		return TransitionResult{}, err
	}
	from := [][2]string{{domain.StageDistribution, domain.StatusDistributing}}
	return e.move(ctx, machine, actorID, from, domain.StageCollection, domain.StatusOperational,
		func(ctx context.Context, tx *sql.Tx, now string) error {
			return e.Repo.UpdateDistributionStatus(ctx, tx, machineID, domain.StatusOperational, now)
		})
}

// SendToMaintenance flags a deployed machine as broken, assigns the
// least-loaded maintenance technician, and notifies them.
func (e *Engine) SendToMaintenance(ctx context.Context, machineID, actorID, message string) (TransitionResult, error) {
	machine, err := e.loadMachine(ctx, machineID)
	if err != nil {
		return TransitionResult{}, err
	}
	maintainer, ok, err := e.Directory.LeastLoaded(ctx, domain.SpecialtyMaintenance)
	if err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "select maintainer", err)
	}
	if !ok {
		return TransitionResult{}, newError(KindNoTechnicianAvailable, "no active maintenance technician available")
	}
	from := [][2]string{{domain.StageCollection, domain.StatusOperational}}
	res, err := e.move(ctx, machine, actorID, from, domain.StageMaintenance, domain.StatusInactive,
		func(ctx context.Context, tx *sql.Tx, now string) error {
			if err := e.Repo.AssignMaintainer(ctx, tx, machineID, maintainer.ID); err != nil {
				return err
			}
			if err := e.Directory.IncrementActivity(ctx, tx, maintainer.ID); err != nil {
				return err
			}
			return e.Repo.UpdateDistributionStatus(ctx, tx, machineID, domain.StatusInactive, now)
		})
	if err != nil {
		return TransitionResult{}, err
	}
	res.Machine.MaintainerID = &maintainer.ID
	e.notify(ctx, &res, actorID, maintainer.ID, machineID, domain.NotifyMaintain, message)
	return res, nil
}

// FinishMaintenance resolves a repair. Success returns the machine to
// collection as operational; failure retires it permanently.
func (e *Engine) FinishMaintenance(ctx context.Context, machineID, actorID string, success bool, message string) (TransitionResult, error) {
	machine, err := e.loadMachine(ctx, machineID)
	if err != nil {
		return TransitionResult{}, err
	}
	from := [][2]string{{domain.StageMaintenance, domain.StatusInactive}}

	toStage, toStatus := domain.StageCollection, domain.StatusOperational
	kind := domain.NotifyMachineRepaired
	if !success {
		toStage, toStatus = domain.StageMaintenance, domain.StatusRetired
		kind = domain.NotifyMachineRetired
	}
	res, err := e.move(ctx, machine, actorID, from, toStage, toStatus,
		func(ctx context.Context, tx *sql.Tx, now string) error {
			return e.Repo.UpdateDistributionStatus(ctx, tx, machineID, toStatus, now)
		})
	if err != nil {
		return TransitionResult{}, err
	}
	logistics, lerr := e.Directory.LogisticsUsers(ctx)
	if lerr != nil {
		res.Warnings = append(res.Warnings, "list logistics users: "+lerr.Error())
		return res, nil
	}
	for _, u := range logistics {
		e.notify(ctx, &res, actorID, u.ID, machineID, kind, message)
	}
	return res, nil
}

// CancelRegistration retires a machine that never left assembly and
// returns its claimed components to the pool in the same transaction.
func (e *Engine) CancelRegistration(ctx context.Context, machineID, actorID string) (TransitionResult, error) {
	machine, err := e.loadMachine(ctx, machineID)
	if err != nil {
		return TransitionResult{}, err
	}
	parts, err := e.Repo.ListInUseComponents(ctx, "", machineID)
	if err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "list machine components", err)
	}
	from := [][2]string{
		{domain.StageAssembly, domain.StatusAssembling},
		{domain.StageAssembly, domain.StatusReassembling},
	}
	return e.move(ctx, machine, actorID, from, domain.StageMaintenance, domain.StatusRetired,
		func(ctx context.Context, tx *sql.Tx, now string) error {
			for _, c := range parts {
				if _, err := e.Repo.ReleaseComponent(ctx, tx, c.ID, now); err != nil {
					return err
				}
			}
			return nil
		})
}

func (e *Engine) loadMachine(ctx context.Context, machineID string) (domain.Machine, error) {
	machine, err := e.Repo.GetMachine(ctx, machineID)
	if err != nil {
		if err == repo.ErrNotFound {
			return domain.Machine{}, newError(KindNotFound, "machine not found: "+machineID)
		}
		return domain.Machine{}, wrapError(KindPersistence, "load machine", err)
	}
	return machine, nil
}

// move applies a guarded stage/status transition. The update is
// conditional on one of the accepted from-pairs; zero rows affected
// reports an invalid transition and leaves all state untouched. extra
// runs inside the same transaction after the guard succeeds.
func (e *Engine) move(ctx context.Context, machine domain.Machine, actorID string, from [][2]string, toStage, toStatus string, extra func(context.Context, *sql.Tx, string) error) (TransitionResult, error) {
	allowed := false
	for _, f := range from {
		if machine.Stage == f[0] && machine.Status == f[1] {
			allowed = true
			break
		}
	}
	if !allowed {
		return TransitionResult{}, newError(KindInvalidTransition,
			fmt.Sprintf("machine %s is %s/%s, cannot move to %s/%s", machine.ID, machine.Stage, machine.Status, toStage, toStatus))
	}

	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "begin tx", err)
	}
	defer tx.Rollback()

	moved, err := e.Repo.MoveMachine(ctx, tx, machine.ID, machine.Stage, machine.Status, toStage, toStatus, now)
	if err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "move machine", err)
	}
	if !moved {
		return TransitionResult{}, newError(KindInvalidTransition,
			fmt.Sprintf("machine %s changed state concurrently", machine.ID))
	}
	if extra != nil {
		if err := extra(ctx, tx, now); err != nil {
			return TransitionResult{}, wrapError(KindPersistence, "transition side effect", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "machine.transitioned", "machine", machine.ID, actorID, map[string]any{
		"from_stage": machine.Stage, "from_status": machine.Status,
		"to_stage": toStage, "to_status": toStatus,
	}); err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "append event", err)
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, wrapError(KindPersistence, "commit", err)
	}

	machine.Stage = toStage
	machine.Status = toStatus
	machine.UpdatedAt = now
	return TransitionResult{Machine: machine}, nil
}

// notify writes a notification after the transition is committed.
// Failure never rolls anything back; it becomes a warning on the result.
// An empty message falls back to the configured catalog text.
func (e *Engine) notify(ctx context.Context, res *TransitionResult, senderID, recipientID, machineID, kind, message string) {
	if message == "" {
		message = kind
		if e.Config != nil {
			if entry, ok := e.Config.Notifications.Catalog[kind]; ok && entry.Description != "" {
				message = entry.Description
			}
		}
	}
	err := e.Repo.InsertNotification(ctx, domain.Notification{
		SenderID:    senderID,
		RecipientID: recipientID,
		MachineID:   machineID,
		Kind:        kind,
		Message:     message,
		CreatedAt:   e.nowString(),
	})
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("notify %s (%s): %v", recipientID, kind, err))
	}
}
