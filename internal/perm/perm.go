// Package perm is the single decision point for role capabilities.
// Callers consume its answers instead of re-deriving role checks.
package perm

import (
	"fmt"

	"airtech/internal/domain"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpView   = "view"
)

// Updatable field names, matching the wire names of the complaint record.
const (
	FieldComplaintDate         = "complaint_date"
	FieldMachineName           = "machine_name"
	FieldComplaintDescription  = "complaint_description"
	FieldPriority              = "priority"
	FieldComplaintStatus       = "complaint_status"
	FieldDepartment            = "department"
	FieldAssignedTo            = "assigned_to"
	FieldActionDate            = "action_date"
	FieldMaintenanceRemarks    = "maintenance_remarks"
	FieldInitialInspectionDate = "initial_inspection_date"
	FieldEstimatedEndDate      = "estimated_end_date"
	FieldFinalizationDate      = "finalization_date"
	FieldMaterialsUsed         = "materials_used"
	FieldCreatedBy             = "created_by"
)

// DeniedError indicates the role lacks the capability. It is an expected
// outcome, not a fault; the lifecycle service turns it into a rejection
// result.
type DeniedError struct {
	Role string
	Op   string
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Op)
}

// maintenanceFields are the fields owned by the maintenance workflow.
var maintenanceFields = map[string]bool{
	FieldActionDate:            true,
	FieldMaintenanceRemarks:    true,
	FieldInitialInspectionDate: true,
	FieldEstimatedEndDate:      true,
	FieldFinalizationDate:      true,
}

// CanPerform decides whether a role may perform an operation at all.
// Every role may view.
func CanPerform(role, op string) bool {
	switch op {
	case OpView:
		return true
	case OpCreate:
		return role == domain.RoleAdmin || role == domain.RoleCreator
	case OpUpdate:
		switch role {
		case domain.RoleAdmin, domain.RoleCreator, domain.RoleUpdater,
			domain.RoleMaintenance, domain.RoleSpecialEditorPriority:
			return true
		}
		return false
	case OpDelete:
		return role == domain.RoleAdmin
	}
	return false
}

// CanWriteField decides field-level writability for updates. created_by is
// write-protected for every role once the complaint exists; at creation it
// is taken from the actor, never from the payload. department is a
// creation-time fact, so this check applies only on the update path.
func CanWriteField(role, field string) bool {
	if field == FieldCreatedBy {
		return false
	}
	switch role {
	case domain.RoleAdmin, domain.RoleUpdater, domain.RoleSpecialEditorPriority:
		return true
	case domain.RoleMaintenance:
		return maintenanceFields[field] ||
			field == FieldAssignedTo || field == FieldComplaintStatus
	case domain.RoleCreator:
		return !maintenanceFields[field] && field != FieldAssignedTo
	}
	return false
}

// SeesAll reports whether a role lists every record; other roles only see
// records they created.
func SeesAll(role string) bool {
	return role == domain.RoleAdmin || role == domain.RoleMaintenance
}

// Require returns a DeniedError unless the role may perform op.
func Require(role, op string) error {
	if !CanPerform(role, op) {
		return DeniedError{Role: role, Op: op}
	}
	return nil
}
