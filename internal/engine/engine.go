package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"airtech/internal/config"
	"airtech/internal/domain"
	"airtech/internal/history"
	"airtech/internal/perm"
	"airtech/internal/repo"
	"airtech/internal/serial"
)

// Engine owns the complaint mutation path. The storage handle is injected
// so tests can run against a throwaway database.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateOptions are parameters for creating a complaint. Blank optional
// fields take their defaults.
type CreateOptions struct {
	ComplaintDate         string
	MachineName           string
	ComplaintDescription  string
	Priority              string
	ComplaintStatus       string
	Department            string
	AssignedTo            string
	ActionDate            string
	MaintenanceRemarks    string
	InitialInspectionDate string
	EstimatedEndDate      string
	FinalizationDate      string
	MaterialsUsed         []domain.MaterialLine
}

// Create validates and stores a new complaint. The serial id is computed
// inside the insert transaction so concurrent creates cannot collide.
// created_by always comes from the actor, never the payload.
func (e Engine) Create(ctx context.Context, actor domain.Actor, opts CreateOptions) (domain.Complaint, error) {
	if err := perm.Require(actor.Role, perm.OpCreate); err != nil {
		return domain.Complaint{}, err
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	if opts.ComplaintStatus == "" {
		opts.ComplaintStatus = domain.StatusOpen
	}
	if opts.AssignedTo == "" {
		opts.AssignedTo = e.Config.DefaultAssignee()
	}
	if opts.ComplaintDate == "" {
		opts.ComplaintDate = nowStr
	}

	var v validator
	if strings.TrimSpace(opts.MachineName) == "" {
		v.fail(perm.FieldMachineName, "Machine name is required")
	}
	if strings.TrimSpace(opts.ComplaintDescription) == "" {
		v.fail(perm.FieldComplaintDescription, "Description is required")
	}
	if !domain.ValidPriority(opts.Priority) {
		v.fail(perm.FieldPriority, "Priority must be one of "+strings.Join(domain.Priorities, ", "))
	}
	if !domain.ValidStatus(opts.ComplaintStatus) {
		v.fail(perm.FieldComplaintStatus, "Unknown status "+opts.ComplaintStatus)
	}
	if strings.TrimSpace(opts.Department) == "" {
		v.fail(perm.FieldDepartment, "Department is required")
	} else if !e.Config.ValidDepartment(opts.Department) {
		v.fail(perm.FieldDepartment, "Unknown department "+opts.Department)
	}
	if !e.Config.ValidAssignee(opts.AssignedTo) {
		v.fail(perm.FieldAssignedTo, "Unknown assignee "+opts.AssignedTo)
	}
	validateMaterials(&v, opts.MaterialsUsed)
	if err := v.err(); err != nil {
		return domain.Complaint{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Complaint{}, err
	}
	defer tx.Rollback()

	last, err := e.Repo.MaxComplaintSerialTx(ctx, tx)
	if err != nil {
		return domain.Complaint{}, fmt.Errorf("read last serial: %w", err)
	}
	c := domain.Complaint{
		ID:                    uuid.NewString(),
		ComplaintID:           serial.Next(e.Config.Serial.Prefix, last),
		ComplaintDate:         opts.ComplaintDate,
		MachineName:           opts.MachineName,
		ComplaintDescription:  opts.ComplaintDescription,
		Priority:              opts.Priority,
		ComplaintStatus:       opts.ComplaintStatus,
		Department:            opts.Department,
		AssignedTo:            opts.AssignedTo,
		ActionDate:            optionalString(opts.ActionDate),
		MaintenanceRemarks:    optionalString(opts.MaintenanceRemarks),
		InitialInspectionDate: optionalString(opts.InitialInspectionDate),
		EstimatedEndDate:      optionalString(opts.EstimatedEndDate),
		FinalizationDate:      optionalString(opts.FinalizationDate),
		MaterialsUsed:         opts.MaterialsUsed,
		CreatedBy:             actor.Email,
		UpdatedBy:             actor.Email,
		History:               history.Append(nil, actor.Email, now),
		CreatedAt:             nowStr,
		UpdatedAt:             nowStr,
	}
	if err := e.Repo.InsertComplaintTx(ctx, tx, c); err != nil {
		return domain.Complaint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Complaint{}, err
	}
	return c, nil
}

// UpdateOptions are parameters for updating a complaint. Nil fields are
// untouched. CreatedBy is accepted for wire compatibility and always
// discarded.
type UpdateOptions struct {
	ComplaintDate         *string
	MachineName           *string
	ComplaintDescription  *string
	Priority              *string
	ComplaintStatus       *string
	Department            *string
	AssignedTo            *string
	ActionDate            *string
	MaintenanceRemarks    *string
	InitialInspectionDate *string
	EstimatedEndDate      *string
	FinalizationDate      *string
	MaterialsUsed         *[]domain.MaterialLine
	CreatedBy             *string
}

// Update merges the permitted fields of opts into the stored complaint and
// appends one Updated history entry. Fields the role may not write are
// silently retained at their stored values rather than failing the
// request.
func (e Engine) Update(ctx context.Context, actor domain.Actor, id string, opts UpdateOptions) (domain.Complaint, error) {
	if err := perm.Require(actor.Role, perm.OpUpdate); err != nil {
		return domain.Complaint{}, err
	}
	if err := e.validateUpdate(opts); err != nil {
		return domain.Complaint{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Complaint{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetComplaintTx(ctx, tx, id)
	if err != nil {
		return domain.Complaint{}, err
	}

	role := actor.Role
	applyString(role, perm.FieldComplaintDate, opts.ComplaintDate, &c.ComplaintDate)
	applyString(role, perm.FieldMachineName, opts.MachineName, &c.MachineName)
	applyString(role, perm.FieldComplaintDescription, opts.ComplaintDescription, &c.ComplaintDescription)
	applyString(role, perm.FieldPriority, opts.Priority, &c.Priority)
	applyString(role, perm.FieldComplaintStatus, opts.ComplaintStatus, &c.ComplaintStatus)
	applyString(role, perm.FieldDepartment, opts.Department, &c.Department)
	applyString(role, perm.FieldAssignedTo, opts.AssignedTo, &c.AssignedTo)
	applyNullable(role, perm.FieldActionDate, opts.ActionDate, &c.ActionDate)
	applyNullable(role, perm.FieldMaintenanceRemarks, opts.MaintenanceRemarks, &c.MaintenanceRemarks)
	applyNullable(role, perm.FieldInitialInspectionDate, opts.InitialInspectionDate, &c.InitialInspectionDate)
	applyNullable(role, perm.FieldEstimatedEndDate, opts.EstimatedEndDate, &c.EstimatedEndDate)
	applyNullable(role, perm.FieldFinalizationDate, opts.FinalizationDate, &c.FinalizationDate)
	if opts.MaterialsUsed != nil && perm.CanWriteField(role, perm.FieldMaterialsUsed) {
		c.MaterialsUsed = *opts.MaterialsUsed
	}
	// opts.CreatedBy is never consulted: created_by keeps its stored value.

	now := e.now().UTC()
	c.History = history.Append(c.History, actor.Email, now)
	c.UpdatedBy = actor.Email
	c.UpdatedAt = now.Format(time.RFC3339)
	if err := e.Repo.UpdateComplaintTx(ctx, tx, c); err != nil {
		return domain.Complaint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Complaint{}, err
	}
	return c, nil
}

func (e Engine) validateUpdate(opts UpdateOptions) error {
	var v validator
	if opts.MachineName != nil && strings.TrimSpace(*opts.MachineName) == "" {
		v.fail(perm.FieldMachineName, "Machine name is required")
	}
	if opts.ComplaintDescription != nil && strings.TrimSpace(*opts.ComplaintDescription) == "" {
		v.fail(perm.FieldComplaintDescription, "Description is required")
	}
	if opts.Priority != nil && !domain.ValidPriority(*opts.Priority) {
		v.fail(perm.FieldPriority, "Priority must be one of "+strings.Join(domain.Priorities, ", "))
	}
	if opts.ComplaintStatus != nil && !domain.ValidStatus(*opts.ComplaintStatus) {
		v.fail(perm.FieldComplaintStatus, "Unknown status "+*opts.ComplaintStatus)
	}
	if opts.Department != nil && !e.Config.ValidDepartment(*opts.Department) {
		v.fail(perm.FieldDepartment, "Unknown department "+*opts.Department)
	}
	if opts.AssignedTo != nil && !e.Config.ValidAssignee(*opts.AssignedTo) {
		v.fail(perm.FieldAssignedTo, "Unknown assignee "+*opts.AssignedTo)
	}
	if opts.MaterialsUsed != nil {
		validateMaterials(&v, *opts.MaterialsUsed)
	}
	return v.err()
}

// Delete removes a complaint. Only roles with the delete capability reach
// storage.
func (e Engine) Delete(ctx context.Context, actor domain.Actor, id string) error {
	if err := perm.Require(actor.Role, perm.OpDelete); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteComplaintTx(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Get returns a single complaint. Roles that do not see every record may
// only read records they created; others' records read as NotFound.
func (e Engine) Get(ctx context.Context, actor domain.Actor, id string) (domain.Complaint, error) {
	c, err := e.Repo.GetComplaint(ctx, id)
	if err != nil {
		return domain.Complaint{}, err
	}
	if !perm.SeesAll(actor.Role) && c.CreatedBy != actor.Email {
		return domain.Complaint{}, repo.ErrNotFound
	}
	return c, nil
}

// List returns complaints visible to the actor: every record for admin and
// maintenance, own records for everyone else.
func (e Engine) List(ctx context.Context, actor domain.Actor) ([]domain.Complaint, error) {
	f := repo.ComplaintFilters{}
	if !perm.SeesAll(actor.Role) {
		f.CreatedBy = actor.Email
	}
	return e.Repo.ListComplaints(ctx, f)
}

// History returns a complaint's audit trail, with the same visibility rule
// as Get.
func (e Engine) History(ctx context.Context, actor domain.Actor, id string) ([]domain.HistoryEntry, error) {
	c, err := e.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return c.History, nil
}

// BackfillHistory synthesizes the missing Created entry for legacy records
// stored without history. Admin-only migration sweep, never part of the
// normal write path. Returns the number of repaired records.
func (e Engine) BackfillHistory(ctx context.Context, actor domain.Actor) (int, error) {
	if actor.Role != domain.RoleAdmin {
		return 0, perm.DeniedError{Role: actor.Role, Op: "backfill"}
	}
	ids, err := e.Repo.ListComplaintIDsMissingHistory(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	repaired := 0
	for _, id := range ids {
		c, err := e.Repo.GetComplaintTx(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		createdAt := c.CreatedAt
		if createdAt == "" {
			createdAt = e.now().UTC().Format(time.RFC3339)
		}
		if err := e.Repo.ReplaceHistoryTx(ctx, tx, id, history.Backfill(c.CreatedBy, createdAt)); err != nil {
			return 0, err
		}
		repaired++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return repaired, nil
}

func validateMaterials(v *validator, lines []domain.MaterialLine) {
	for i, m := range lines {
		if strings.TrimSpace(m.Name) == "" {
			v.fail(fmt.Sprintf("materials_used[%d].name", i), "Material name required")
		}
		if strings.TrimSpace(m.Quantity) == "" {
			v.fail(fmt.Sprintf("materials_used[%d].quantity", i), "Quantity required")
		}
	}
}

func applyString(role, field string, in *string, out *string) {
	if in == nil || !perm.CanWriteField(role, field) {
		return
	}
	*out = *in
}

func applyNullable(role, field string, in *string, out **string) {
	if in == nil || !perm.CanWriteField(role, field) {
		return
	}
	*out = optionalString(*in)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
