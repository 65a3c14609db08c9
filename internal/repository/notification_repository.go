package repository

import (
	"time"

	"schoolmed_backend/internal/model"

	"gorm.io/gorm"
)

type NotificationRepository struct {
	DB *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{DB: db}
}

func (r *NotificationRepository) Create(n *model.Notification) error {
	return r.DB.Create(n).Error
}

func (r *NotificationRepository) CreateBatch(ns []*model.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	return r.DB.Create(&ns).Error
}

// ExistsForIncidentSince 结构化去重查询：同事件、同类型、窗口内是否已有通知
func (r *NotificationRepository) ExistsForIncidentSince(incidentID uint, kind model.NotificationType, since time.Time) (bool, error) {
	var count int64
	err := r.DB.Model(&model.Notification{}).
		Where("incident_id = ? AND type = ? AND created_at >= ?", incidentID, kind, since).
		Count(&count).Error
	return count > 0, err
}

func (r *NotificationRepository) SoftDeleteByIncident(incidentID uint) (int64, error) {
	res := r.DB.Where("incident_id = ?", incidentID).Delete(&model.Notification{})
	return res.RowsAffected, res.Error
}

func (r *NotificationRepository) SoftDeleteReadBefore(cutoff time.Time, limit int) (int64, error) {
	res := r.DB.Where("is_read = ? AND created_at < ?", true, cutoff).
		Limit(limit).
		Delete(&model.Notification{})
	return res.RowsAffected, res.Error
}

func (r *NotificationRepository) ListForUser(userID uint, page, limit int) ([]*model.Notification, int64, error) {
	var list []*model.Notification
	var total int64

	query := r.DB.Model(&model.Notification{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

func (r *NotificationRepository) CountUnread(userID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

func (r *NotificationRepository) MarkRead(userID, id uint) error {
	now := time.Now()
	res := r.DB.Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"is_read": true, "read_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *NotificationRepository) Confirm(userID, id uint) error {
	now := time.Now()
	res := r.DB.Model(&model.Notification{}).
		Where("id = ? AND user_id = ? AND requires_confirmation = ?", id, userID, true).
		Updates(map[string]interface{}{"is_read": true, "read_at": now, "confirmed_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
