package model

import (
	"time"

	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderPendingApproval OrderStatus = "pending_approval"
	OrderApproved        OrderStatus = "approved"
	OrderRejected        OrderStatus = "rejected"
	OrderActive          OrderStatus = "active"
	OrderCompleted       OrderStatus = "completed"
	OrderDiscontinued    OrderStatus = "discontinued"
)

// IsTerminal reports whether the order can no longer produce dose instances.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderRejected || s == OrderCompleted || s == OrderDiscontinued
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank 优先级排序值，用于比较与排序
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

type FrequencyType string

const (
	FrequencyDaily        FrequencyType = "daily"
	FrequencyEveryOther   FrequencyType = "every_other_day"
	FrequencyWeekly       FrequencyType = "weekly"
	FrequencySpecificDays FrequencyType = "specific_days"
	FrequencyBiweekly     FrequencyType = "biweekly"
	FrequencyMonthly      FrequencyType = "monthly"
)

// DoseTimeSlot 给药时段，映射到固定时钟时间
type DoseTimeSlot string

const (
	BeforeBreakfast DoseTimeSlot = "before_breakfast" // 07:00
	AfterBreakfast  DoseTimeSlot = "after_breakfast"  // 09:30
	BeforeLunch     DoseTimeSlot = "before_lunch"     // 11:00
	AfterLunch      DoseTimeSlot = "after_lunch"      // 13:00
	Afternoon       DoseTimeSlot = "afternoon"        // 15:00
	BeforeDinner    DoseTimeSlot = "before_dinner"    // 17:00
)

var slotClock = map[DoseTimeSlot]string{
	BeforeBreakfast: "07:00",
	AfterBreakfast:  "09:30",
	BeforeLunch:     "11:00",
	AfterLunch:      "13:00",
	Afternoon:       "15:00",
	BeforeDinner:    "17:00",
}

// ResolveDoseTime maps a stored dose-time value to a "15:04" clock string.
// The value is either a named slot or an explicit "HH:MM" entered by the
// parent; anything else is rejected.
func ResolveDoseTime(v string) (string, bool) {
	if clock, ok := slotClock[DoseTimeSlot(v)]; ok {
		return clock, true
	}
	if _, err := time.Parse("15:04", v); err == nil {
		return v, true
	}
	return "", false
}

// MedicationOrder 家长提交的用药申请单
// swagger:model MedicationOrder
type MedicationOrder struct {
	BaseModel
	StudentID uint `gorm:"index;not null" json:"studentId"`
	ParentID  uint `gorm:"index;not null" json:"parentId"`

	MedicationName string `gorm:"size:255;not null" json:"medicationName"`
	Dosage         string `gorm:"size:100;not null" json:"dosage"`
	Instructions   string `gorm:"type:text" json:"instructions"`
	AttachmentURL  string `gorm:"size:500" json:"attachmentUrl"` // 处方单照片

	StartDate  time.Time  `gorm:"index;not null" json:"startDate"`
	EndDate    time.Time  `gorm:"index;not null" json:"endDate"`
	ExpiryDate *time.Time `json:"expiryDate"` // 药品有效期

	FrequencyType FrequencyType              `gorm:"size:30;not null;default:'daily'" json:"frequencyType"`
	WeekDays      datatypes.JSONSlice[int]   `json:"weekDays"`  // specific_days: time.Weekday values
	DoseTimes     datatypes.JSONSlice[string] `json:"doseTimes"` // named slots or "HH:MM"
	SkipWeekends  bool                       `gorm:"default:true" json:"skipWeekends"`
	SkipDates     datatypes.JSONSlice[string] `json:"skipDates"` // "2006-01-02"
	AutoGenerate  bool                       `gorm:"default:true" json:"autoGenerate"`

	Priority          Priority `gorm:"size:20;index;default:'normal'" json:"priority"`
	TotalDoses        int      `gorm:"default:0" json:"totalDoses"`
	RemainingDoses    int      `gorm:"default:0" json:"remainingDoses"`
	LowStockAlertSent bool     `gorm:"default:false" json:"lowStockAlertSent"`
	ExpiryAlertSent   bool     `gorm:"default:false" json:"expiryAlertSent"`

	Status     OrderStatus `gorm:"size:30;index;default:'pending_approval'" json:"status"`
	ApprovedBy *uint       `json:"approvedBy"`
	ApprovedAt *time.Time  `json:"approvedAt"`
	RejectedReason string  `gorm:"size:255" json:"rejectedReason,omitempty"`
}

func (MedicationOrder) TableName() string {
	return "medication_orders"
}

// WithinWindow reports whether the given date falls inside the order's
// administration window and before the medication expiry.
func (o *MedicationOrder) WithinWindow(t time.Time) bool {
	day := DateOnly(t)
	if day.Before(DateOnly(o.StartDate)) || day.After(DateOnly(o.EndDate)) {
		return false
	}
	if o.ExpiryDate != nil && t.After(*o.ExpiryDate) {
		return false
	}
	return true
}

// DateOnly truncates a timestamp to its calendar date in local time.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
