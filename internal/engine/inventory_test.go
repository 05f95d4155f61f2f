package engine_test

import (
	"sync"
	"testing"

	"machinepark/internal/domain"
	"machinepark/internal/engine"
)

func TestUseReleaseRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)
	m := registerMachine(t, env).Machine

	extra, err := env.Engine.CreateEnclosure(env.Ctx, "tester")
	if err != nil {
		t.Fatal(err)
	}
	used, err := env.Engine.UseComponent(env.Ctx, extra.ID, m.ID, "asm-1")
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if used.Allocation != domain.AllocationInUse {
		t.Fatalf("expected En uso, got %s", used.Allocation)
	}
	if used.MachineID == nil || *used.MachineID != m.ID {
		t.Fatalf("machine binding missing: %+v", used)
	}
	if used.HolderID == nil || *used.HolderID != "asm-1" {
		t.Fatalf("holder binding missing: %+v", used)
	}

	// Double use must fail without touching state.
	if _, err := env.Engine.UseComponent(env.Ctx, extra.ID, m.ID, "asm-1"); !engine.IsKind(err, engine.KindAlreadyInUse) {
		t.Fatalf("expected already_in_use, got %v", err)
	}

	freed, err := env.Engine.ReleaseComponent(env.Ctx, extra.ID, "asm-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if freed.Allocation != domain.AllocationAvailable || freed.MachineID != nil || freed.HolderID != nil {
		t.Fatalf("release left residue: %+v", freed)
	}

	// Releasing an already free component reports not_in_use.
	if _, err := env.Engine.ReleaseComponent(env.Ctx, extra.ID, "asm-1"); !engine.IsKind(err, engine.KindNotInUse) {
		t.Fatalf("expected not_in_use, got %v", err)
	}
}

func TestConcurrentUseSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)
	m := registerMachine(t, env).Machine

	comp, err := env.Engine.CreateEnclosure(env.Ctx, "tester")
	if err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = env.Engine.UseComponent(env.Ctx, comp.ID, m.ID, "asm-1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		if !engine.IsKind(err, engine.KindAlreadyInUse) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestReleaseBatchIdempotent(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)
	m := registerMachine(t, env).Machine

	a, _ := env.Engine.CreateEnclosure(env.Ctx, "tester")
	b, _ := env.Engine.CreateEnclosure(env.Ctx, "tester")
	if _, err := env.Engine.UseComponent(env.Ctx, a.ID, m.ID, "asm-1"); err != nil {
		t.Fatal(err)
	}

	// Mixed batch: one in use, one already free.
	released, err := env.Engine.ReleaseBatch(env.Ctx, []string{a.ID, b.ID}, "asm-1")
	if err != nil {
		t.Fatalf("release batch: %v", err)
	}
	if len(released) != 1 || released[0] != a.ID {
		t.Fatalf("expected only %s released, got %v", a.ID, released)
	}

	// Retrying the same batch is a no-op, not an error.
	released, err = env.Engine.ReleaseBatch(env.Ctx, []string{a.ID, b.ID}, "asm-1")
	if err != nil {
		t.Fatalf("retry batch: %v", err)
	}
	if len(released) != 0 {
		t.Fatalf("expected empty retry, got %v", released)
	}
}

func TestAssignEnclosureRejectsBoards(t *testing.T) {
	env := newTestEnv(t)
	seedStaff(t, env)
	m := registerMachine(t, env).Machine

	plate, err := env.Engine.GeneratePlate(env.Ctx, "tester")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AssignEnclosure(env.Ctx, plate.ID, m.ID, "asm-1")
	if !engine.IsKind(err, engine.KindWrongComponentType) {
		t.Fatalf("expected wrong_component_type, got %v", err)
	}
	stored, _ := env.Engine.Repo.GetComponent(env.Ctx, plate.ID)
	if stored.Allocation != domain.AllocationAvailable {
		t.Fatalf("plate claimed despite rejection: %s", stored.Allocation)
	}
}

func TestGeneratePlateUniqueCodes(t *testing.T) {
	env := newTestEnv(t)
	codes := make(map[string]struct{})
	for i := 0; i < 25; i++ {
		comp, err := env.Engine.GeneratePlate(env.Ctx, "tester")
		if err != nil {
			t.Fatalf("mint %d: %v", i, err)
		}
		if comp.PlateCode == nil || *comp.PlateCode == "" {
			t.Fatalf("mint %d: missing plate code", i)
		}
		if _, dup := codes[*comp.PlateCode]; dup {
			t.Fatalf("duplicate plate code %s", *comp.PlateCode)
		}
		codes[*comp.PlateCode] = struct{}{}
	}
}

func TestGeneratePlateConcurrentDistinctCodes(t *testing.T) {
	env := newTestEnv(t)

	const workers = 16
	var wg sync.WaitGroup
	minted := make([]domain.Component, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			minted[idx], errs[idx] = env.Engine.GeneratePlate(env.Ctx, "tester")
		}(i)
	}
	wg.Wait()

	codes := make(map[string]struct{})
	for i, err := range errs {
		if err != nil {
			t.Fatalf("mint %d: %v", i, err)
		}
		code := minted[i].PlateCode
		if code == nil || *code == "" {
			t.Fatalf("mint %d: missing plate code", i)
		}
		if _, dup := codes[*code]; dup {
			t.Fatalf("duplicate plate code %s", *code)
		}
		codes[*code] = struct{}{}
	}
	if len(codes) != workers {
		t.Fatalf("expected %d distinct codes, got %d", workers, len(codes))
	}
}

func TestMaintenanceMountGoesToMaintenanceHistory(t *testing.T) {
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

	spare, err := env.Engine.GeneratePlate(env.Ctx, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UseComponent(env.Ctx, spare.ID, m.ID, "mnt-1"); err != nil {
		t.Fatalf("use during maintenance: %v", err)
	}

	recs, err := env.Engine.Repo.ListMaintenanceRecords(env.Ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ComponentID != spare.ID || recs[0].TechnicianID != "mnt-1" {
		t.Fatalf("expected one maintenance record for %s, got %+v", spare.ID, recs)
	}

	// The machine's component view unions both histories.
	comps, err := env.Engine.Repo.ComponentsForMachine(env.Ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comps) != 3 {
		t.Fatalf("expected 3 components, got %d", len(comps))
	}
}
