package server

import "airtech/internal/domain"

type CreateComplaintRequest struct {
	ComplaintDate         string                `json:"complaint_date,omitempty" format:"date-time"`
	MachineName           string                `json:"machine_name"`
	ComplaintDescription  string                `json:"complaint_description"`
	Priority              string                `json:"priority" enum:"Low,Medium,High"`
	ComplaintStatus       string                `json:"complaint_status,omitempty" enum:"Open,In Progress,Pending Parts,Resolved,Closed,Cancelled"`
	Department            string                `json:"department"`
	AssignedTo            string                `json:"assigned_to,omitempty"`
	ActionDate            string                `json:"action_date,omitempty" format:"date-time"`
	MaintenanceRemarks    string                `json:"maintenance_remarks,omitempty"`
	InitialInspectionDate string                `json:"initial_inspection_date,omitempty" format:"date-time"`
	EstimatedEndDate      string                `json:"estimated_end_date,omitempty" format:"date-time"`
	FinalizationDate      string                `json:"finalization_date,omitempty" format:"date-time"`
	MaterialsUsed         []domain.MaterialLine `json:"materials_used,omitempty"`
}

// UpdateComplaintRequest is a partial update; absent fields are untouched.
// created_by is accepted for wire compatibility with old clients and
// always ignored.
type UpdateComplaintRequest struct {
	ComplaintDate         *string                `json:"complaint_date,omitempty" format:"date-time"`
	MachineName           *string                `json:"machine_name,omitempty"`
	ComplaintDescription  *string                `json:"complaint_description,omitempty"`
	Priority              *string                `json:"priority,omitempty" enum:"Low,Medium,High"`
	ComplaintStatus       *string                `json:"complaint_status,omitempty" enum:"Open,In Progress,Pending Parts,Resolved,Closed,Cancelled"`
	Department            *string                `json:"department,omitempty"`
	AssignedTo            *string                `json:"assigned_to,omitempty"`
	ActionDate            *string                `json:"action_date,omitempty"`
	MaintenanceRemarks    *string                `json:"maintenance_remarks,omitempty"`
	InitialInspectionDate *string                `json:"initial_inspection_date,omitempty"`
	EstimatedEndDate      *string                `json:"estimated_end_date,omitempty"`
	FinalizationDate      *string                `json:"finalization_date,omitempty"`
	MaterialsUsed         *[]domain.MaterialLine `json:"materials_used,omitempty"`
	CreatedBy             *string                `json:"created_by,omitempty"`
}

type ComplaintResponse struct {
	Complaint domain.Complaint `json:"complaint"`
}

type ComplaintListResponse struct {
	Complaints []domain.Complaint `json:"complaints"`
	Count      int                `json:"count"`
}

type HistoryResponse struct {
	ComplaintID string                `json:"complaint_id"`
	History     []domain.HistoryEntry `json:"history"`
}

// ReportResponse mirrors the discriminated mutation result handed to UI
// consumers.
type ReportResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type BackfillResponse struct {
	Repaired int `json:"repaired"`
}

type MeResponse struct {
	UID    string `json:"uid"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	Source string `json:"source"`
}
