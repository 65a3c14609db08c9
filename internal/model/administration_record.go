package model

import (
	"time"
)

// AdministrationRecord 给药记录，一次性写入后不再修改。
// swagger:model AdministrationRecord
type AdministrationRecord struct {
	UUIDBase
	DoseInstanceID uint      `gorm:"index;not null" json:"doseInstanceId"`
	OrderID        uint      `gorm:"index;not null" json:"orderId"`
	AdministeredBy uint      `gorm:"not null" json:"administeredBy"`
	AdministeredAt time.Time `gorm:"index;not null" json:"administeredAt"`

	ActualDosage   string `gorm:"size:100" json:"actualDosage"`
	StudentRefused bool   `gorm:"default:false" json:"studentRefused"`
	RefusalReason  string `gorm:"size:255" json:"refusalReason,omitempty"`
	SideEffects    string `gorm:"type:text" json:"sideEffects,omitempty"`
	Notes          string `gorm:"type:text" json:"notes,omitempty"`
}

func (AdministrationRecord) TableName() string {
	return "administration_records"
}
