package models

import "time"

// Company is a candidate company record. Created upstream; this system only
// writes the three flags and the paired submission history.
type Company struct {
	RecordID             int64   `json:"record_id"`
	FormURL              string  `json:"form_url"`
	CompanyName          string  `json:"company_name,omitempty"`
	FormFound            *bool   `json:"form_found,omitempty"`
	InstructionValid     *bool   `json:"instruction_valid,omitempty"` // legacy: read-only external signal
	ProhibitionDetected  *bool   `json:"prohibition_detected,omitempty"`
	BotProtectionDetected *bool  `json:"bot_protection_detected,omitempty"`
}

// Submission is an append-only submission outcome row. At most one success
// per (targeting, company) is treated as terminal.
type Submission struct {
	TargetingID    int64          `json:"targeting_id"`
	CompanyID      int64          `json:"company_id"`
	Success        bool           `json:"success"`
	ErrorType      string         `json:"error_type,omitempty"`
	ClassifyDetail map[string]any `json:"classify_detail,omitempty"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}
