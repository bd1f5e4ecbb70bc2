package models

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// LogAction names the operation recorded by a PaymentLog row.
type LogAction string

const (
	ActionPaymentInitiated      LogAction = "PAYMENT_INITIATED"
	ActionVerificationRequested LogAction = "VERIFICATION_REQUESTED"
	ActionManualVerification    LogAction = "MANUAL_VERIFICATION"
	ActionPollVerification      LogAction = "POLL_VERIFICATION"
	ActionAutoCancel            LogAction = "AUTO_CANCEL"
)

// LogStatus is the outcome recorded by a PaymentLog row.
type LogStatus string

const (
	LogStatusPending LogStatus = "PENDING"
	LogStatusSuccess LogStatus = "SUCCESS"
	LogStatusFailed  LogStatus = "FAILED"
)

// SystemInitiator identifies rows written by background jobs.
const SystemInitiator = "system"

// PaymentLog is an append-only audit record. Rows are inserted, never updated.
type PaymentLog struct {
	AppendOnlyModel
	OrderID        uuid.UUID      `gorm:"type:uuid;index;not null" json:"order_id"`
	PaymentID      *uuid.UUID     `gorm:"type:uuid;index" json:"payment_id,omitempty"`
	Action         LogAction      `gorm:"type:varchar(32);not null" json:"action"`
	Status         LogStatus      `gorm:"type:varchar(16);not null" json:"status"`
	Method         PaymentMethod  `gorm:"type:varchar(20)" json:"method"`
	InitiatorID    string         `gorm:"not null" json:"initiator_id"`
	InitiatorRole  string         `json:"initiator_role"`
	PreviousStatus PaymentStatus  `gorm:"type:varchar(20)" json:"previous_status,omitempty"`
	NewStatus      PaymentStatus  `gorm:"type:varchar(20)" json:"new_status,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Details        datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
}

// SetDetails encodes free-form details; encoding failures leave Details empty.
func (l *PaymentLog) SetDetails(details map[string]any) {
	if len(details) == 0 {
		l.Details = nil
		return
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return
	}
	l.Details = datatypes.JSON(raw)
}

// DetailsMap decodes Details back into a map.
func (l *PaymentLog) DetailsMap() map[string]any {
	if len(l.Details) == 0 {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(l.Details, &out); err != nil {
		return nil
	}
	return out
}
