package model

import (
	"time"
)

type NotificationType string

const (
	NotifyMedicationReminder NotificationType = "medication_reminder"
	NotifyMedicationAlert    NotificationType = "medication_alert"
	NotifyLowStock           NotificationType = "low_stock"
	NotifyExpiryWarning      NotificationType = "expiry_warning"
	NotifyIncidentEscalation NotificationType = "incident_escalation"
	NotifyIncidentReminder   NotificationType = "incident_reminder"
	NotifySystem             NotificationType = "system"
)

// Notification 站内通知。本核心只负责生成，投递渠道由通知模块处理。
// swagger:model Notification
type Notification struct {
	BaseModel
	UserID  uint             `gorm:"index;not null" json:"userId"`
	Type    NotificationType `gorm:"size:30;index;not null" json:"type"`
	Title   string           `gorm:"size:255;not null" json:"title"`
	Message string           `gorm:"type:text" json:"message"`

	RequiresConfirmation bool       `gorm:"default:false" json:"requiresConfirmation"`
	IsRead               bool       `gorm:"index;default:false" json:"isRead"`
	ReadAt               *time.Time `json:"readAt"`
	ConfirmedAt          *time.Time `json:"confirmedAt"`

	DoseInstanceID *uint `gorm:"index" json:"doseInstanceId,omitempty"`
	IncidentID     *uint `gorm:"index" json:"incidentId,omitempty"`
	OrderID        *uint `gorm:"index" json:"orderId,omitempty"`
}

func (Notification) TableName() string {
	return "notifications"
}
