package domain

// Roles. Assigned via profiles; an authenticated identity without a
// profile row acts as RoleViewer.
const (
	RoleAdmin                 = "admin"
	RoleMaintenance           = "maintenance"
	RoleCreator               = "creator"
	RoleUpdater               = "updater"
	RoleViewer                = "viewer"
	RoleSpecialEditorPriority = "special_editor_priority"
	RoleSpecialEditorPhotos   = "special_editor_photos"
)

var Roles = []string{
	RoleAdmin,
	RoleMaintenance,
	RoleCreator,
	RoleUpdater,
	RoleViewer,
	RoleSpecialEditorPriority,
	RoleSpecialEditorPhotos,
}

const (
	PriorityLow    = "Low"
	PriorityMedium = "Medium"
	PriorityHigh   = "High"
)

var Priorities = []string{PriorityLow, PriorityMedium, PriorityHigh}

const (
	StatusOpen         = "Open"
	StatusInProgress   = "In Progress"
	StatusPendingParts = "Pending Parts"
	StatusResolved     = "Resolved"
	StatusClosed       = "Closed"
	StatusCancelled    = "Cancelled"
)

var Statuses = []string{
	StatusOpen,
	StatusInProgress,
	StatusPendingParts,
	StatusResolved,
	StatusClosed,
	StatusCancelled,
}

var Assignees = []string{"Person A", "Person B", "Person C", "Person D"}

const DefaultAssignee = "Person A"

// History actions form a closed set at this layer.
const (
	ActionCreated = "Created"
	ActionUpdated = "Updated"
)

type Complaint struct {
	ID                    string         `json:"id"`
	ComplaintID           string         `json:"complaint_id"`
	ComplaintDate         string         `json:"complaint_date" format:"date-time"`
	MachineName           string         `json:"machine_name"`
	ComplaintDescription  string         `json:"complaint_description"`
	Priority              string         `json:"priority" enum:"Low,Medium,High"`
	ComplaintStatus       string         `json:"complaint_status" enum:"Open,In Progress,Pending Parts,Resolved,Closed,Cancelled"`
	Department            string         `json:"department"`
	AssignedTo            string         `json:"assigned_to"`
	ActionDate            *string        `json:"action_date,omitempty" format:"date-time"`
	MaintenanceRemarks    *string        `json:"maintenance_remarks,omitempty"`
	InitialInspectionDate *string        `json:"initial_inspection_date,omitempty" format:"date-time"`
	EstimatedEndDate      *string        `json:"estimated_end_date,omitempty" format:"date-time"`
	FinalizationDate      *string        `json:"finalization_date,omitempty" format:"date-time"`
	MaterialsUsed         []MaterialLine `json:"materials_used,omitempty"`
	CreatedBy             string         `json:"created_by"`
	UpdatedBy             string         `json:"updated_by,omitempty"`
	History               []HistoryEntry `json:"history,omitempty"`
	CreatedAt             string         `json:"created_at" format:"date-time"`
	UpdatedAt             string         `json:"updated_at" format:"date-time"`
}

type MaterialLine struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Remarks  string `json:"remarks,omitempty"`
}

type HistoryEntry struct {
	Action    string `json:"action" enum:"Created,Updated"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

// Profile binds an identity-provider uid to an email and role.
type Profile struct {
	UID       string `json:"uid"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Actor is the authenticated identity performing an operation.
type Actor struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type APIKey struct {
	ID        string `json:"id"`
	UID       string `json:"uid"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}

// ValidPriority reports whether p is one of the known priorities.
func ValidPriority(p string) bool {
	for _, v := range Priorities {
		if v == p {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ValidAssignee reports whether a is one of the known assignees.
func ValidAssignee(a string) bool {
	for _, v := range Assignees {
		if v == a {
			return true
		}
	}
	return false
}
