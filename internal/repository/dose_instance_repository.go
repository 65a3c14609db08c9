package repository

import (
	"time"

	"schoolmed_backend/internal/model"

	"gorm.io/gorm"
)

type DoseInstanceRepository struct {
	DB *gorm.DB
}

func NewDoseInstanceRepository(db *gorm.DB) *DoseInstanceRepository {
	return &DoseInstanceRepository{DB: db}
}

// 稳定排序：优先级降序，其次应服时间升序
const doseOrdering = "FIELD(priority,'critical','high','normal','low'), scheduled_date ASC, scheduled_time ASC"

func (r *DoseInstanceRepository) Create(d *model.DoseInstance) error {
	return r.DB.Create(d).Error
}

func (r *DoseInstanceRepository) Save(d *model.DoseInstance) error {
	return r.DB.Save(d).Error
}

func (r *DoseInstanceRepository) FindByID(id uint) (*model.DoseInstance, error) {
	var dose model.DoseInstance
	err := r.DB.First(&dose, id).Error
	return &dose, err
}

func (r *DoseInstanceRepository) Exists(orderID uint, date time.Time, clock string) (bool, error) {
	var count int64
	err := r.DB.Model(&model.DoseInstance{}).
		Where("order_id = ? AND scheduled_date = ? AND scheduled_time = ?",
			orderID, model.DateOnly(date).Format("2006-01-02"), clock).
		Count(&count).Error
	return count > 0, err
}

func (r *DoseInstanceRepository) HasOnDate(orderID uint, date time.Time) (bool, error) {
	var count int64
	err := r.DB.Model(&model.DoseInstance{}).
		Where("order_id = ? AND scheduled_date = ?", orderID, model.DateOnly(date).Format("2006-01-02")).
		Count(&count).Error
	return count > 0, err
}

func (r *DoseInstanceRepository) FindByOrder(orderID uint) ([]*model.DoseInstance, error) {
	var doses []*model.DoseInstance
	err := r.DB.Where("order_id = ?", orderID).
		Order("scheduled_date ASC, scheduled_time ASC").
		Find(&doses).Error
	return doses, err
}

func (r *DoseInstanceRepository) FindPendingOnDate(date time.Time) ([]*model.DoseInstance, error) {
	var doses []*model.DoseInstance
	err := r.DB.Where("status = ? AND scheduled_date = ?",
		model.DosePending, model.DateOnly(date).Format("2006-01-02")).
		Order(doseOrdering).
		Find(&doses).Error
	return doses, err
}

// FindPendingDueBefore 应服时刻（日期+钟点）早于 cutoff 的待处理剂量
func (r *DoseInstanceRepository) FindPendingDueBefore(cutoff time.Time) ([]*model.DoseInstance, error) {
	var doses []*model.DoseInstance
	err := r.DB.Where("status = ? AND TIMESTAMP(scheduled_date, CONCAT(scheduled_time, ':00')) < ?",
		model.DosePending, cutoff).
		Order(doseOrdering).
		Find(&doses).Error
	return doses, err
}

// CancelPendingByOrder 单据停用时批量取消其剩余待处理剂量
func (r *DoseInstanceRepository) CancelPendingByOrder(orderID uint) (int64, error) {
	res := r.DB.Model(&model.DoseInstance{}).
		Where("order_id = ? AND status = ?", orderID, model.DosePending).
		Update("status", model.DoseCancelled)
	return res.RowsAffected, res.Error
}

func (r *DoseInstanceRepository) SoftDeleteTerminalBefore(cutoff time.Time, limit int) (int64, error) {
	res := r.DB.Where("status <> ? AND scheduled_date < ?", model.DosePending, cutoff).
		Limit(limit).
		Delete(&model.DoseInstance{})
	return res.RowsAffected, res.Error
}
