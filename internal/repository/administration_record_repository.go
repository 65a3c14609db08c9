package repository

import (
	"time"

	"schoolmed_backend/internal/model"

	"gorm.io/gorm"
)

type AdministrationRecordRepository struct {
	DB *gorm.DB
}

func NewAdministrationRecordRepository(db *gorm.DB) *AdministrationRecordRepository {
	return &AdministrationRecordRepository{DB: db}
}

func (r *AdministrationRecordRepository) Create(rec *model.AdministrationRecord) error {
	return r.DB.Create(rec).Error
}

func (r *AdministrationRecordRepository) FindByID(id string) (*model.AdministrationRecord, error) {
	var rec model.AdministrationRecord
	err := r.DB.Where("id = ?", id).First(&rec).Error
	return &rec, err
}

func (r *AdministrationRecordRepository) FindByOrder(orderID uint) ([]*model.AdministrationRecord, error) {
	var recs []*model.AdministrationRecord
	err := r.DB.Where("order_id = ?", orderID).Order("administered_at DESC").Find(&recs).Error
	return recs, err
}

func (r *AdministrationRecordRepository) SoftDeleteOlderThan(cutoff time.Time, limit int) (int64, error) {
	res := r.DB.Where("administered_at < ?", cutoff).
		Limit(limit).
		Delete(&model.AdministrationRecord{})
	return res.RowsAffected, res.Error
}
