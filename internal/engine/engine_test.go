package engine_test

import (
	"context"
	"testing"
	"time"

	"machinepark/internal/config"
	"machinepark/internal/db"
	"machinepark/internal/domain"
	"machinepark/internal/engine"
	"machinepark/internal/migrate"
	"machinepark/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("park-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func seedTechnician(t *testing.T, env testEnv, id, specialty string, activities int) {
	t.Helper()
	spec := specialty
	u := domain.User{
		ID:         id,
		Name:       id,
		Type:       domain.UserTypeTechnician,
		Specialty:  &spec,
		Active:     true,
		Activities: activities,
		CreatedAt:  "2024-01-01T00:00:00Z",
	}
	if err := env.Engine.Repo.UpsertUser(env.Ctx, u); err != nil {
		t.Fatalf("seed technician %s: %v", id, err)
	}
}

func seedLogistics(t *testing.T, env testEnv, id string) {
	t.Helper()
	u := domain.User{
		ID:        id,
		Name:      id,
		Type:      domain.UserTypeLogistics,
		Active:    true,
		CreatedAt: "2024-01-01T00:00:00Z",
	}
	if err := env.Engine.Repo.UpsertUser(env.Ctx, u); err != nil {
		t.Fatalf("seed logistics %s: %v", id, err)
	}
}

func seedStaff(t *testing.T, env testEnv) {
	t.Helper()
	seedTechnician(t, env, "asm-1", domain.SpecialtyAssembler, 0)
	seedTechnician(t, env, "ver-1", domain.SpecialtyVerifier, 0)
	seedTechnician(t, env, "mnt-1", domain.SpecialtyMaintenance, 0)
	seedLogistics(t, env, "log-1")
}

func mintParts(t *testing.T, env testEnv) (plateID, enclosureID string) {
	t.Helper()
	plate, err := env.Engine.GeneratePlate(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("mint plate: %v", err)
	}
	enclosure, err := env.Engine.CreateEnclosure(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("mint enclosure: %v", err)
	}
	return plate.ID, enclosure.ID
}

func registerMachine(t *testing.T, env testEnv) engine.TransitionResult {
	t.Helper()
	plateID, enclosureID := mintParts(t, env)
	res, err := env.Engine.RegisterMachine(env.Ctx, engine.RegisterMachineInput{
		Name:        "Galaxian",
		Type:        "arcade",
		CommerceID:  "bar-42",
		PlateID:     plateID,
		EnclosureID: enclosureID,
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("register machine: %v", err)
	}
	return res
}

func TestRegisterMachine(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)
	res := registerMachine(t, env)

	m := res.Machine
	if m.Stage != domain.StageAssembly || m.Status != domain.StatusAssembling {
		t.Fatalf("expected Ensamblaje/Ensamblando, got %s/%s", m.Stage, m.Status)
	}
	if m.AssemblerID != "asm-1" || m.VerifierID != "ver-1" {
		t.Fatalf("unexpected assignment: assembler=%s verifier=%s", m.AssemblerID, m.VerifierID)
	}

	// Both components should be claimed by the machine.
	comps, err := env.Engine.Repo.ComponentsForMachine(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("components for machine: %v", err)
	}
	if len(comps) != 2 {
		t.Fatalf("expected 2 mounted components, got %d", len(comps))
	}
	for _, c := range comps {
		if c.Allocation != domain.AllocationInUse {
			t.Fatalf("component %s not in use", c.ID)
		}
	}

	// Workload counters moved for assembler and verifier.
	asm, err := env.Engine.Repo.GetUser(env.Ctx, "asm-1")
	if err != nil || asm.Activities != 1 {
		t.Fatalf("assembler activities = %d, err %v", asm.Activities, err)
	}
	ver, _ := env.Engine.Repo.GetUser(env.Ctx, "ver-1")
	if ver.Activities != 1 {
		t.Fatalf("verifier activities = %d", ver.Activities)
	}

	// Assembler got the assembly notification.
	notes, err := env.Engine.Repo.ListNotifications(env.Ctx, "asm-1", true)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].Kind != domain.NotifyNewAssembly {
		t.Fatalf("expected one %q notification, got %+v", domain.NotifyNewAssembly, notes)
	}
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)
	m := registerMachine(t, env).Machine

	steps := []struct {
		op     string
		stage  string
		status string
	}{
		{engine.OpSendToVerification, domain.StageVerification, domain.StatusVerifying},
		{engine.OpSendToDistribution, domain.StageDistribution, domain.StatusDistributing},
		{engine.OpMarkOperational, domain.StageCollection, domain.StatusOperational},
		{engine.OpSendToMaintenance, domain.StageMaintenance, domain.StatusInactive},
	}
	for _, step := range steps {
		res, err := env.Engine.Transition(env.Ctx, m.ID, step.op, "tester", engine.TransitionOpts{})
		if err != nil {
			t.Fatalf("%s: %v", step.op, err)
		}
		if res.Machine.Stage != step.stage || res.Machine.Status != step.status {
			t.Fatalf("%s: expected %s/%s, got %s/%s", step.op, step.stage, step.status, res.Machine.Stage, res.Machine.Status)
		}
	}

	// Maintenance assigned the least loaded technician.
	stored, err := env.Engine.Repo.GetMachine(env.Ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.MaintainerID == nil || *stored.MaintainerID != "mnt-1" {
		t.Fatalf("expected maintainer mnt-1, got %v", stored.MaintainerID)
	}
	mnt, _ := env.Engine.Repo.GetUser(env.Ctx, "mnt-1")
	if mnt.Activities != 1 {
		t.Fatalf("maintainer activities = %d", mnt.Activities)
	}

	// Successful repair goes back to earning.
	success := true
	res, err := env.Engine.Transition(env.Ctx, m.ID, engine.OpFinishMaintenance, "mnt-1", engine.TransitionOpts{Success: &success})
	if err != nil {
		t.Fatalf("finish maintenance: %v", err)
	}
	if res.Machine.Stage != domain.StageCollection || res.Machine.Status != domain.StatusOperational {
		t.Fatalf("expected Recaudacion/Operativa, got %s/%s", res.Machine.Stage, res.Machine.Status)
	}

	// The distribution ledger mirrors the final status.
	recs, err := env.Engine.Repo.ListDistributions(env.Ctx, repo.DistributionFilters{MachineID: m.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Status != domain.StatusOperational {
		t.Fatalf("expected one Operativa ledger record, got %+v", recs)
	}
}

func TestReworkLoop(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)
	m := registerMachine(t, env).Machine

	if _, err := env.Engine.SendToVerification(env.Ctx, m.ID, "asm-1", ""); err != nil {
		t.Fatalf("to verification: %v", err)
	}
	res, err := env.Engine.SendToReassembly(env.Ctx, m.ID, "ver-1", "Revisar soldadura de la placa")
	if err != nil {
		t.Fatalf("to reassembly: %v", err)
	}
	if res.Machine.Stage != domain.StageAssembly || res.Machine.Status != domain.StatusReassembling {
		t.Fatalf("expected Ensamblaje/Reensamblandose, got %s/%s", res.Machine.Stage, res.Machine.Status)
	}

	// The assembler is told to rework the machine, with the verifier's note.
	notes, _ := env.Engine.Repo.ListNotifications(env.Ctx, "asm-1", true)
	found := false
	for _, n := range notes {
		if n.Kind == domain.NotifyReassembly {
			found = true
			if n.Message != "Revisar soldadura de la placa" {
				t.Fatalf("expected custom message, got %q", n.Message)
			}
		}
	}
	if !found {
		t.Fatalf("expected %q notification for assembler", domain.NotifyReassembly)
	}

	// Rework feeds back into verification.
	res, err = env.Engine.SendToVerification(env.Ctx, m.ID, "asm-1", "")
	if err != nil {
		t.Fatalf("back to verification: %v", err)
	}
	if res.Machine.Status != domain.StatusVerifying {
		t.Fatalf("expected Comprobandose, got %s", res.Machine.Status)
	}
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)
	m := registerMachine(t, env).Machine

	_, err := env.Engine.MarkOperational(env.Ctx, m.ID, "tester")
	if !engine.IsKind(err, engine.KindInvalidTransition) {
		t.Fatalf("expected invalid_transition, got %v", err)
	}
	stored, err := env.Engine.Repo.GetMachine(env.Ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Stage != domain.StageAssembly || stored.Status != domain.StatusAssembling {
		t.Fatalf("state changed after failed transition: %s/%s", stored.Stage, stored.Status)
	}
}

func TestRegisterFailsWhenPlateInUse(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)
	first := registerMachine(t, env).Machine

	// Reusing the first machine's plate must fail atomically.
	comps, err := env.Engine.Repo.ComponentsForMachine(env.Ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	var usedPlate string
	for _, c := range comps {
		if c.Type == domain.ComponentTypeBoard {
			usedPlate = c.ID
		}
	}
	enclosure, err := env.Engine.CreateEnclosure(env.Ctx, "tester")
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.RegisterMachine(env.Ctx, engine.RegisterMachineInput{
		Name:        "Pengo",
		PlateID:     usedPlate,
		EnclosureID: enclosure.ID,
		ActorID:     "tester",
	})
	if !engine.IsKind(err, engine.KindComponentUnavailable) {
		t.Fatalf("expected component_unavailable, got %v", err)
	}

	// Nothing was created and the fresh enclosure is still free.
	machines, err := env.Engine.Repo.ListMachines(env.Ctx, repo.MachineFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(machines) != 1 {
		t.Fatalf("expected 1 machine, got %d", len(machines))
	}
	enc, err := env.Engine.Repo.GetComponent(env.Ctx, enclosure.ID)
	if err != nil {
		t.Fatal(err)
	}
	if enc.Allocation != domain.AllocationAvailable {
		t.Fatalf("enclosure leaked into %q", enc.Allocation)
	}
}

func TestRetirementIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)
	m := registerMachine(t, env).Machine

	for _, op := range []string{
		engine.OpSendToVerification,
		engine.OpSendToDistribution,
		engine.OpMarkOperational,
		engine.OpSendToMaintenance,
	} {
		if _, err := env.Engine.Transition(env.Ctx, m.ID, op, "tester", engine.TransitionOpts{}); err != nil {
			t.Fatalf("%s: %v", op, err)
		}
	}
	success := false
	res, err := env.Engine.Transition(env.Ctx, m.ID, engine.OpFinishMaintenance, "mnt-1", engine.TransitionOpts{Success: &success})
	if err != nil {
		t.Fatalf("retire: %v", err)
	}
	if res.Machine.Status != domain.StatusRetired {
		t.Fatalf("expected Retirada, got %s", res.Machine.Status)
	}

	// No operation moves a retired machine.
	for _, op := range []string{
		engine.OpSendToVerification,
		engine.OpSendToMaintenance,
		engine.OpMarkOperational,
	} {
		if _, err := env.Engine.Transition(env.Ctx, m.ID, op, "tester", engine.TransitionOpts{}); !engine.IsKind(err, engine.KindInvalidTransition) {
			t.Fatalf("%s on retired machine: expected invalid_transition, got %v", op, err)
		}
	}
}

func TestLeastLoadedAssignmentAndTieBreak(t *testing.T) {
	env := newTestEnv(t)
	seedTechnician(t, env, "asm-busy", domain.SpecialtyAssembler, 5)
	seedTechnician(t, env, "asm-idle", domain.SpecialtyAssembler, 1)
	seedTechnician(t, env, "ver-b", domain.SpecialtyVerifier, 2)
	seedTechnician(t, env, "ver-a", domain.SpecialtyVerifier, 2)

	m := registerMachine(t, env).Machine
	if m.AssemblerID != "asm-idle" {
		t.Fatalf("expected least loaded assembler, got %s", m.AssemblerID)
	}
	// Equal workloads break ties by ID.
	if m.VerifierID != "ver-a" {
		t.Fatalf("expected ver-a on tie, got %s", m.VerifierID)
	}
}

func TestNoTechnicianAvailable(t *testing.T) {
	env := newTestEnv(t)
	seedTechnician(t, env, "asm-1", domain.SpecialtyAssembler, 0)
	seedTechnician(t, env, "ver-1", domain.SpecialtyVerifier, 0)
	// No maintenance technician seeded.

	m := registerMachine(t, env).Machine
	for _, op := range []string{
		engine.OpSendToVerification,
		engine.OpSendToDistribution,
		engine.OpMarkOperational,
	} {
		if _, err := env.Engine.Transition(env.Ctx, m.ID, op, "tester", engine.TransitionOpts{}); err != nil {
			t.Fatalf("%s: %v", op, err)
		}
	}
	_, err := env.Engine.SendToMaintenance(env.Ctx, m.ID, "tester", "")
	if !engine.IsKind(err, engine.KindNoTechnicianAvailable) {
		t.Fatalf("expected no_technician_available, got %v", err)
	}
	stored, _ := env.Engine.Repo.GetMachine(env.Ctx, m.ID)
	if stored.Status != domain.StatusOperational {
		t.Fatalf("machine moved despite missing technician: %s", stored.Status)
	}
}

func TestCancelRegistrationReleasesComponents(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)

	m := registerMachine(t, env).Machine
	res, err := env.Engine.CancelRegistration(env.Ctx, m.ID, "tester")
	if err != nil {
		t.Fatalf("cancel registration: %v", err)
	}
	if res.Machine.Status != domain.StatusRetired {
		t.Fatalf("expected retired machine, got %s/%s", res.Machine.Stage, res.Machine.Status)
	}

	inUse, err := env.Engine.Repo.ListInUseComponents(env.Ctx, "", m.ID)
	if err != nil {
		t.Fatalf("list in use: %v", err)
	}
	if len(inUse) != 0 {
		t.Fatalf("expected released components, %d still in use", len(inUse))
	}
	available, err := env.Engine.Repo.ListAvailableComponents(env.Ctx, "")
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(available) != 2 {
		t.Fatalf("expected 2 available components, got %d", len(available))
	}

	_, err = env.Engine.SendToVerification(env.Ctx, m.ID, "tester", "")
	if !engine.IsKind(err, engine.KindInvalidTransition) {
		t.Fatalf("expected invalid_transition after cancel, got %v", err)
	}
}

func TestEventTimestampsFollowEngineClock(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)

	m := registerMachine(t, env).Machine
	if _, err := env.Engine.SendToVerification(env.Ctx, m.ID, "asm-1", ""); err != nil {
		t.Fatal(err)
	}

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "machine", m.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected machine events")
	}
	for _, ev := range events {
		if ev.TS != "2024-01-01T00:00:00Z" {
			t.Fatalf("event %d timestamp ignores engine clock: %s", ev.ID, ev.TS)
		}
	}
}
