package engine_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"airtech/internal/config"
	"airtech/internal/db"
	"airtech/internal/domain"
	"airtech/internal/engine"
	"airtech/internal/migrate"
	"airtech/internal/perm"
	"airtech/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return clock }
	return testEnv{Engine: eng, Ctx: context.Background(), Clock: &clock}
}

var (
	admin   = domain.Actor{UID: "u-admin", Email: "admin@x.com", Role: domain.RoleAdmin}
	creator = domain.Actor{UID: "u-creator", Email: "a@x.com", Role: domain.RoleCreator}
	updater = domain.Actor{UID: "u-updater", Email: "up@x.com", Role: domain.RoleUpdater}
	viewer  = domain.Actor{UID: "u-viewer", Email: "v@x.com", Role: domain.RoleViewer}
	maint   = domain.Actor{UID: "u-maint", Email: "m@x.com", Role: domain.RoleMaintenance}
)

func mustCreate(t *testing.T, env testEnv, actor domain.Actor) domain.Complaint {
	t.Helper()
	c, err := env.Engine.Create(env.Ctx, actor, engine.CreateOptions{
		MachineName:          "Press-1",
		ComplaintDescription: "Leak",
		Priority:             "High",
		Department:           "Mechanical",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func TestCreateFirstComplaint(t *testing.T) {
	env := newTestEnv(t)
	c := mustCreate(t, env, creator)
	if c.ComplaintID != "AIRTECH-01" {
		t.Fatalf("complaint id = %q, want AIRTECH-01", c.ComplaintID)
	}
	if c.CreatedBy != "a@x.com" {
		t.Fatalf("created_by = %q", c.CreatedBy)
	}
	if c.ComplaintStatus != domain.StatusOpen {
		t.Fatalf("status = %q, want Open", c.ComplaintStatus)
	}
	if c.AssignedTo != "Person A" {
		t.Fatalf("assigned_to = %q, want Person A", c.AssignedTo)
	}
	if len(c.History) != 1 || c.History[0].Action != domain.ActionCreated || c.History[0].User != "a@x.com" {
		t.Fatalf("history = %+v", c.History)
	}
	stored, err := env.Engine.Get(env.Ctx, creator, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(stored.History, c.History) {
		t.Fatalf("stored history %+v != %+v", stored.History, c.History)
	}
}

func TestSerialIDsAdvance(t *testing.T) {
	env := newTestEnv(t)
	for i, want := range []string{"AIRTECH-01", "AIRTECH-02", "AIRTECH-03"} {
		c := mustCreate(t, env, creator)
		if c.ComplaintID != want {
			t.Fatalf("create %d: id = %q, want %q", i, c.ComplaintID, want)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Create(env.Ctx, creator, engine.CreateOptions{
		Priority:   "Urgent",
		Department: "Catering",
	})
	var vErr engine.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"machine_name", "complaint_description", "priority", "department"} {
		if _, ok := vErr.Fields[field]; !ok {
			t.Fatalf("missing validation message for %s: %+v", field, vErr.Fields)
		}
	}
}

func TestCreateDeniedForViewerAndUpdater(t *testing.T) {
	env := newTestEnv(t)
	for _, actor := range []domain.Actor{viewer, updater, maint} {
		_, err := env.Engine.Create(env.Ctx, actor, engine.CreateOptions{
			MachineName: "Press-1", ComplaintDescription: "Leak", Priority: "Low", Department: "Other",
		})
		var denied perm.DeniedError
		if !errors.As(err, &denied) {
			t.Fatalf("%s create: expected denial, got %v", actor.Role, err)
		}
	}
}

func TestUpdateNeverChangesCreatedBy(t *testing.T) {
	env := newTestEnv(t)
	c := mustCreate(t, env, creator)
	spoof := "spoof@x.com"
	remarks := "Fixed"
	got, err := env.Engine.Update(env.Ctx, updater, c.ID, engine.UpdateOptions{
		MaintenanceRemarks: &remarks,
		CreatedBy:          &spoof,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.CreatedBy != "a@x.com" {
		t.Fatalf("created_by changed to %q", got.CreatedBy)
	}
	if got.MaintenanceRemarks == nil || *got.MaintenanceRemarks != "Fixed" {
		t.Fatalf("maintenance_remarks = %v", got.MaintenanceRemarks)
	}
	if len(got.History) != 2 || got.History[1].Action != domain.ActionUpdated || got.History[1].User != "up@x.com" {
		t.Fatalf("history = %+v", got.History)
	}
}

func TestSequentialUpdatesGrowHistory(t *testing.T) {
	env := newTestEnv(t)
	c := mustCreate(t, env, creator)
	first := c.History[0]
	for i := 1; i <= 3; i++ {
		*env.Clock = env.Clock.Add(time.Hour)
		desc := "Leak again"
		got, err := env.Engine.Update(env.Ctx, updater, c.ID, engine.UpdateOptions{ComplaintDescription: &desc})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if len(got.History) != 1+i {
			t.Fatalf("update %d: history length %d, want %d", i, len(got.History), 1+i)
		}
		if got.History[0] != first {
			t.Fatalf("update %d: first entry changed: %+v", i, got.History[0])
		}
	}
}

func TestMaintenanceFieldMergeDropsForbiddenFields(t *testing.T) {
	env := newTestEnv(t)
	c := mustCreate(t, env, creator)
	machine := "Hacked"
	action := "2024-02-01T00:00:00Z"
	status := domain.StatusInProgress
	got, err := env.Engine.Update(env.Ctx, maint, c.ID, engine.UpdateOptions{
		MachineName:     &machine,
		ActionDate:      &action,
		ComplaintStatus: &status,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.MachineName != "Press-1" {
		t.Fatalf("maintenance edited machine_name: %q", got.MachineName)
	}
	if got.ActionDate == nil || *got.ActionDate != action {
		t.Fatalf("action_date = %v", got.ActionDate)
	}
	if got.ComplaintStatus != domain.StatusInProgress {
		t.Fatalf("status = %q", got.ComplaintStatus)
	}
	if len(got.History) != 2 {
		t.Fatalf("dropped fields must not suppress the history append: %+v", got.History)
	}
}

func TestCreatorCannotTouchMaintenanceFields(t *testing.T) {
	env := newTestEnv(t)
	c := mustCreate(t, env, creator)
	remarks := "mine"
	desc := "Bigger leak"
	got, err := env.Engine.Update(env.Ctx, creator, c.ID, engine.UpdateOptions{
		MaintenanceRemarks:   &remarks,
		ComplaintDescription: &desc,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.MaintenanceRemarks != nil {
		t.Fatalf("creator wrote maintenance_remarks: %v", *got.MaintenanceRemarks)
	}
	if got.ComplaintDescription != "Bigger leak" {
		t.Fatalf("description = %q", got.ComplaintDescription)
	}
}

func TestViewerDeniedUpdateAndDelete(t *testing.T) {
	env := newTestEnv(t)
	c := mustCreate(t, env, creator)
	name := "Press-2"
	_, err := env.Engine.Update(env.Ctx, viewer, c.ID, engine.UpdateOptions{MachineName: &name})
	var denied perm.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("viewer update: expected denial, got %v", err)
	}
	if err := env.Engine.Delete(env.Ctx, viewer, c.ID); !errors.As(err, &denied) {
		t.Fatalf("viewer delete: expected denial, got %v", err)
	}
	// storage unchanged
	if _, err := env.Engine.Get(env.Ctx, admin, c.ID); err != nil {
		t.Fatalf("record should survive: %v", err)
	}
	report := engine.Failed(err)
	if report.Success || report.Message != "PermissionDenied" {
		t.Fatalf("report = %+v", report)
	}
}

func TestAdminDelete(t *testing.T) {
	env := newTestEnv(t)
	c := mustCreate(t, env, creator)
	if err := env.Engine.Delete(env.Ctx, admin, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := env.Engine.Get(env.Ctx, admin, c.ID)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
	if err := env.Engine.Delete(env.Ctx, admin, c.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestUpdateMissingComplaint(t *testing.T) {
	env := newTestEnv(t)
	name := "Press-2"
	_, err := env.Engine.Update(env.Ctx, admin, "no-such-id", engine.UpdateOptions{MachineName: &name})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if r := engine.Failed(err); r.Message != "NotFound" {
		t.Fatalf("report = %+v", r)
	}
}

func TestListScoping(t *testing.T) {
	env := newTestEnv(t)
	mine := mustCreate(t, env, creator)
	other := domain.Actor{UID: "u2", Email: "b@x.com", Role: domain.RoleCreator}
	theirs := mustCreate(t, env, other)

	all, err := env.Engine.List(env.Ctx, admin)
	if err != nil || len(all) != 2 {
		t.Fatalf("admin list: %v (%d records)", err, len(all))
	}
	allM, err := env.Engine.List(env.Ctx, maint)
	if err != nil || len(allM) != 2 {
		t.Fatalf("maintenance list: %v (%d records)", err, len(allM))
	}
	own, err := env.Engine.List(env.Ctx, creator)
	if err != nil || len(own) != 1 || own[0].ID != mine.ID {
		t.Fatalf("creator list: %v (%+v)", err, own)
	}
	if _, err := env.Engine.Get(env.Ctx, creator, theirs.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("creator reading another's record: %v", err)
	}
}

func TestMaterialsRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	lines := []domain.MaterialLine{
		{Name: "Gasket", Quantity: "2", Remarks: "NBR"},
		{Name: "Oil", Quantity: "1L"},
	}
	c, err := env.Engine.Create(env.Ctx, admin, engine.CreateOptions{
		MachineName: "Press-1", ComplaintDescription: "Leak", Priority: "Low",
		Department: "Mechanical", MaterialsUsed: lines,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := env.Engine.Get(env.Ctx, admin, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got.MaterialsUsed, lines) {
		t.Fatalf("materials = %+v, want %+v", got.MaterialsUsed, lines)
	}
}

func TestBackfillHistory(t *testing.T) {
	env := newTestEnv(t)
	c := mustCreate(t, env, creator)
	// simulate a legacy record stored without history
	if _, err := env.Engine.DB.Exec(`DELETE FROM complaint_history WHERE complaint_id=?`, c.ID); err != nil {
		t.Fatalf("strip history: %v", err)
	}
	if _, err := env.Engine.BackfillHistory(env.Ctx, creator); err == nil {
		t.Fatalf("backfill must be admin-only")
	}
	n, err := env.Engine.BackfillHistory(env.Ctx, admin)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if n != 1 {
		t.Fatalf("repaired %d, want 1", n)
	}
	got, err := env.Engine.Get(env.Ctx, admin, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != 1 || got.History[0].Action != domain.ActionCreated || got.History[0].User != "a@x.com" {
		t.Fatalf("backfilled history = %+v", got.History)
	}
	// untouched records stay untouched
	if n, err := env.Engine.BackfillHistory(env.Ctx, admin); err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}
