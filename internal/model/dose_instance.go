package model

import (
	"time"
)

type DoseStatus string

const (
	DosePending       DoseStatus = "pending"
	DoseCompleted     DoseStatus = "completed"
	DoseMissed        DoseStatus = "missed"
	DoseStudentAbsent DoseStatus = "student_absent"
	DoseCancelled     DoseStatus = "cancelled"
)

// DoseInstance 某一天某一时段的一次具体给药事件，由排程器从申请单展开生成。
// (order, date, time) 唯一，生成过程必须幂等。
// swagger:model DoseInstance
type DoseInstance struct {
	BaseModel
	OrderID       uint      `gorm:"index;uniqueIndex:uniq_order_date_time;not null" json:"orderId"`
	ScheduledDate time.Time `gorm:"uniqueIndex:uniq_order_date_time;index;not null" json:"scheduledDate"`
	ScheduledTime string    `gorm:"size:5;uniqueIndex:uniq_order_date_time;not null" json:"scheduledTime"` // "15:04"

	Dosage   string     `gorm:"size:100" json:"dosage"`   // copied from the order at creation
	Priority Priority   `gorm:"size:20;index" json:"priority"`
	Status   DoseStatus `gorm:"size:20;index;default:'pending'" json:"status"`

	ReminderSent   bool       `gorm:"default:false" json:"reminderSent"`
	ReminderCount  int        `gorm:"default:0" json:"reminderCount"`
	ReminderSentAt *time.Time `json:"reminderSentAt"`

	StudentPresent *bool      `json:"studentPresent"`
	CompletedAt    *time.Time `json:"completedAt"`
	MissedAt       *time.Time `json:"missedAt"`
	MissedReason   string     `gorm:"size:255" json:"missedReason,omitempty"`
	Notes          string     `gorm:"type:text" json:"notes,omitempty"`

	AdministrationID *string `gorm:"size:36" json:"administrationId,omitempty"`
}

func (DoseInstance) TableName() string {
	return "dose_instances"
}

// DueAt combines the scheduled date and time into the exact due timestamp.
func (d *DoseInstance) DueAt() time.Time {
	clock, err := time.Parse("15:04", d.ScheduledTime)
	if err != nil {
		return DateOnly(d.ScheduledDate)
	}
	day := DateOnly(d.ScheduledDate)
	return day.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute)
}

// IsTerminal reports whether the dose can no longer transition.
func (s DoseStatus) IsTerminal() bool {
	return s != DosePending
}
