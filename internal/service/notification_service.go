package service

import (
	"errors"

	"schoolmed_backend/internal/model"
	"schoolmed_backend/internal/repository"

	"gorm.io/gorm"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationService 站内通知的读侧：列表、未读数、已读与确认。
type NotificationService struct {
	Notices *repository.NotificationRepository
}

func NewNotificationService(notices *repository.NotificationRepository) *NotificationService {
	return &NotificationService{Notices: notices}
}

func (s *NotificationService) List(userID uint, page, limit int) ([]*model.Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.Notices.ListForUser(userID, page, limit)
}

func (s *NotificationService) UnreadCount(userID uint) (int64, error) {
	return s.Notices.CountUnread(userID)
}

func (s *NotificationService) MarkRead(userID, id uint) error {
	err := s.Notices.MarkRead(userID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotificationNotFound
	}
	return err
}

// Confirm 需确认类通知（升级提醒等）的确认回执。
func (s *NotificationService) Confirm(userID, id uint) error {
	err := s.Notices.Confirm(userID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotificationNotFound
	}
	return err
}
