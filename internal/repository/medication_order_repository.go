package repository

import (
	"time"

	"schoolmed_backend/internal/model"

	"gorm.io/gorm"
)

type MedicationOrderRepository struct {
	DB *gorm.DB
}

func NewMedicationOrderRepository(db *gorm.DB) *MedicationOrderRepository {
	return &MedicationOrderRepository{DB: db}
}

func (r *MedicationOrderRepository) Create(o *model.MedicationOrder) error {
	return r.DB.Create(o).Error
}

func (r *MedicationOrderRepository) Save(o *model.MedicationOrder) error {
	return r.DB.Save(o).Error
}

func (r *MedicationOrderRepository) FindByID(id uint) (*model.MedicationOrder, error) {
	var order model.MedicationOrder
	err := r.DB.First(&order, id).Error
	return &order, err
}

func (r *MedicationOrderRepository) FindByParent(parentID uint) ([]*model.MedicationOrder, error) {
	var orders []*model.MedicationOrder
	err := r.DB.Where("parent_id = ?", parentID).Order("created_at DESC").Find(&orders).Error
	return orders, err
}

func (r *MedicationOrderRepository) FindByStudent(studentID uint) ([]*model.MedicationOrder, error) {
	var orders []*model.MedicationOrder
	err := r.DB.Where("student_id = ?", studentID).Order("created_at DESC").Find(&orders).Error
	return orders, err
}

func (r *MedicationOrderRepository) FindPendingApproval() ([]*model.MedicationOrder, error) {
	var orders []*model.MedicationOrder
	err := r.DB.Where("status = ?", model.OrderPendingApproval).Order("priority DESC, created_at ASC").Find(&orders).Error
	return orders, err
}

func (r *MedicationOrderRepository) FindActiveAutoGenerate() ([]*model.MedicationOrder, error) {
	var orders []*model.MedicationOrder
	err := r.DB.Where("status = ? AND auto_generate = ?", model.OrderActive, true).Find(&orders).Error
	return orders, err
}

func (r *MedicationOrderRepository) FindActiveApprovedSince(since time.Time) ([]*model.MedicationOrder, error) {
	var orders []*model.MedicationOrder
	err := r.DB.Where("status = ? AND approved_at IS NOT NULL AND approved_at >= ?", model.OrderActive, since).Find(&orders).Error
	return orders, err
}

func (r *MedicationOrderRepository) FindActiveLowStock(threshold int) ([]*model.MedicationOrder, error) {
	var orders []*model.MedicationOrder
	err := r.DB.Where("status = ? AND low_stock_alert_sent = ? AND remaining_doses <= ?",
		model.OrderActive, false, threshold).Find(&orders).Error
	return orders, err
}

func (r *MedicationOrderRepository) FindActiveExpiringBefore(cutoff time.Time) ([]*model.MedicationOrder, error) {
	var orders []*model.MedicationOrder
	err := r.DB.Where("status = ? AND expiry_alert_sent = ? AND expiry_date IS NOT NULL AND expiry_date <= ?",
		model.OrderActive, false, cutoff).Find(&orders).Error
	return orders, err
}

// FindApprovedStarting 已批准且开始日期已到的单据（等待转为生效）
func (r *MedicationOrderRepository) FindApprovedStarting(asOf time.Time) ([]*model.MedicationOrder, error) {
	var orders []*model.MedicationOrder
	err := r.DB.Where("status = ? AND start_date <= ?", model.OrderApproved, asOf).Find(&orders).Error
	return orders, err
}

// FindActiveEndedBefore 已过结束日期仍处于生效状态的单据（待关闭）
func (r *MedicationOrderRepository) FindActiveEndedBefore(asOf time.Time) ([]*model.MedicationOrder, error) {
	var orders []*model.MedicationOrder
	err := r.DB.Where("status = ? AND end_date < ?", model.OrderActive, asOf).Find(&orders).Error
	return orders, err
}

// SoftDeleteEndedBefore 逻辑删除早已结束、处于终态且没有待处理剂量的单据。
func (r *MedicationOrderRepository) SoftDeleteEndedBefore(cutoff time.Time, limit int) (int64, error) {
	terminal := []model.OrderStatus{model.OrderCompleted, model.OrderDiscontinued, model.OrderRejected}
	pending := r.DB.Model(&model.DoseInstance{}).
		Select("1").
		Where("dose_instances.order_id = medication_orders.id AND dose_instances.status = ?", model.DosePending)

	res := r.DB.Where("end_date < ? AND status IN ?", cutoff, terminal).
		Where("NOT EXISTS (?)", pending).
		Limit(limit).
		Delete(&model.MedicationOrder{})
	return res.RowsAffected, res.Error
}
