package model

import (
	"time"
)

type IncidentStatus string

const (
	IncidentPending    IncidentStatus = "pending"
	IncidentInProgress IncidentStatus = "in_progress"
	IncidentCompleted  IncidentStatus = "completed"
)

type IncidentSeverity string

const (
	SeverityMinor    IncidentSeverity = "minor"
	SeverityModerate IncidentSeverity = "moderate"
	SeveritySevere   IncidentSeverity = "severe"
)

// HealthIncident 校内健康事件（摔伤、发烧等），由升级引擎监控处理时效。
// swagger:model HealthIncident
type HealthIncident struct {
	BaseModel
	StudentID  uint             `gorm:"index;not null" json:"studentId"`
	ReportedBy uint             `gorm:"not null" json:"reportedBy"`
	AssignedTo *uint            `gorm:"index" json:"assignedTo"`
	Title      string           `gorm:"size:255;not null" json:"title"`
	Description string          `gorm:"type:text" json:"description"`
	Severity   IncidentSeverity `gorm:"size:20;default:'minor'" json:"severity"`
	Status     IncidentStatus   `gorm:"size:20;index;default:'pending'" json:"status"`

	OccurredAt  time.Time  `gorm:"index;not null" json:"occurredAt"`
	AssignedAt  *time.Time `json:"assignedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	Resolution  string     `gorm:"type:text" json:"resolution,omitempty"`
}

func (HealthIncident) TableName() string {
	return "health_incidents"
}
