package repository

import (
	"time"

	"schoolmed_backend/internal/model"

	"gorm.io/gorm"
)

type IncidentRepository struct {
	DB *gorm.DB
}

func NewIncidentRepository(db *gorm.DB) *IncidentRepository {
	return &IncidentRepository{DB: db}
}

func (r *IncidentRepository) Create(inc *model.HealthIncident) error {
	return r.DB.Create(inc).Error
}

func (r *IncidentRepository) Save(inc *model.HealthIncident) error {
	return r.DB.Save(inc).Error
}

func (r *IncidentRepository) FindByID(id uint) (*model.HealthIncident, error) {
	var inc model.HealthIncident
	err := r.DB.First(&inc, id).Error
	return &inc, err
}

func (r *IncidentRepository) ListRecent(limit int) ([]*model.HealthIncident, error) {
	var incs []*model.HealthIncident
	err := r.DB.Order("occurred_at DESC").Limit(limit).Find(&incs).Error
	return incs, err
}

// FindUnassignedPendingBefore 上报时间早于 cutoff 且仍无人认领的待处理事件
func (r *IncidentRepository) FindUnassignedPendingBefore(cutoff time.Time) ([]*model.HealthIncident, error) {
	var incs []*model.HealthIncident
	err := r.DB.Where("status = ? AND assigned_to IS NULL AND created_at <= ?", model.IncidentPending, cutoff).
		Order("created_at ASC").
		Find(&incs).Error
	return incs, err
}

// FindStaleInProgress 接手后停留超过阈值的处理中事件
func (r *IncidentRepository) FindStaleInProgress(cutoff time.Time) ([]*model.HealthIncident, error) {
	var incs []*model.HealthIncident
	err := r.DB.Where("status = ? AND assigned_at IS NOT NULL AND assigned_at <= ?", model.IncidentInProgress, cutoff).
		Order("assigned_at ASC").
		Find(&incs).Error
	return incs, err
}

func (r *IncidentRepository) FindCompletedBefore(cutoff time.Time) ([]*model.HealthIncident, error) {
	var incs []*model.HealthIncident
	err := r.DB.Where("status = ? AND completed_at IS NOT NULL AND completed_at <= ?", model.IncidentCompleted, cutoff).
		Find(&incs).Error
	return incs, err
}
