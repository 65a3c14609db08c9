package service

import (
	"context"
	"fmt"
	"time"

	"schoolmed_backend/internal/config"
	"schoolmed_backend/internal/model"
	"schoolmed_backend/pkg/logger"
	"schoolmed_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// ReminderService 每分钟扫描当日待处理剂量，按两档发出提醒：
//   - upcoming（距应服 ≤5 分钟）：通知家长，高优先级单据同时通知在岗医护；
//   - immediate（距应服 ≤1 分钟）：措辞升级，仅高优先级，且每个剂量总提醒数
//     不超过上限。
//
// 提醒计数与通知在同一个事务里落库，跨 tick 不会重复轰炸。
type ReminderService struct {
	Orders  OrderStore
	Doses   DoseStore
	Notices NotificationStore
	Users   UserDirectory
	Admin   *AdministrationService
	Tx      Atomic
	Cfg     *config.SchedulerHolder
	Now     func() time.Time
}

func NewReminderService(orders OrderStore, doses DoseStore, notices NotificationStore,
	users UserDirectory, admin *AdministrationService, tx Atomic, cfg *config.SchedulerHolder) *ReminderService {
	return &ReminderService{
		Orders:  orders,
		Doses:   doses,
		Notices: notices,
		Users:   users,
		Admin:   admin,
		Tx:      tx,
		Cfg:     cfg,
		Now:     time.Now,
	}
}

// Tick 一次提醒引擎迭代：提醒两档扫描 + 超时强制转换 + 库存/效期检查。
func (s *ReminderService) Tick(ctx context.Context) error {
	if _, err := s.Admin.AutoMarkOverdue(ctx); err != nil {
		logger.Log.Error("overdue sweep failed", zap.Error(err))
	}

	if err := s.remindDueDoses(ctx); err != nil {
		logger.Log.Error("dose reminder sweep failed", zap.Error(err))
	}

	s.lowStockScan()
	s.expiryScan()
	return nil
}

func (s *ReminderService) remindDueDoses(ctx context.Context) error {
	now := s.Now()
	cfg := s.Cfg.Load()
	doses, err := s.Doses.FindPendingOnDate(model.DateOnly(now))
	if err != nil {
		return fmt.Errorf("load today's pending doses: %w", err)
	}

	upcoming := time.Duration(cfg.UpcomingReminderMinutes) * time.Minute
	immediate := time.Duration(cfg.ImmediateReminderMinutes) * time.Minute

	for _, dose := range doses {
		until := dose.DueAt().Sub(now)
		if until < 0 || until > upcoming {
			continue
		}

		order, err := s.Orders.FindByID(dose.OrderID)
		if err != nil {
			logger.Log.Warn("dose without loadable order", zap.Uint("doseId", dose.ID), zap.Error(err))
			continue
		}
		highPriority := order.Priority.Rank() >= model.PriorityHigh.Rank()

		switch {
		case until <= immediate && highPriority && dose.ReminderCount < cfg.MaxRemindersPerDose:
			if s.sendReminders(ctx, dose, order, true, highPriority) {
				monitoring.RemindersSent.WithLabelValues("immediate").Inc()
			}
		case !dose.ReminderSent:
			if s.sendReminders(ctx, dose, order, false, highPriority) {
				monitoring.RemindersSent.WithLabelValues("upcoming").Inc()
			}
		}
	}
	return nil
}

// sendReminders 通知与剂量上的提醒标记在同一个事务里提交，返回是否成功。
// 事务失败时计数不动，下个 tick 重试，不会突破每剂量的提醒上限。
func (s *ReminderService) sendReminders(ctx context.Context, dose *model.DoseInstance, order *model.MedicationOrder, escalated, notifyStaff bool) bool {
	now := s.Now()

	title := "Nhắc nhở uống thuốc"
	msg := fmt.Sprintf("Học sinh cần uống thuốc %s (%s) lúc %s.", order.MedicationName, dose.Dosage, dose.ScheduledTime)
	if escalated {
		title = "KHẨN: Đến giờ uống thuốc"
		msg = fmt.Sprintf("Đã đến giờ uống thuốc %s (%s, %s). Vui lòng thực hiện ngay.", order.MedicationName, dose.Dosage, dose.ScheduledTime)
	}

	batch := []*model.Notification{{
		UserID:               order.ParentID,
		Type:                 model.NotifyMedicationReminder,
		Title:                title,
		Message:              msg,
		RequiresConfirmation: escalated,
		DoseInstanceID:       &dose.ID,
	}}

	if notifyStaff {
		staff, err := s.Users.FindActiveByRole(model.SchoolNurse, model.Manager)
		if err != nil {
			logger.Log.Error("load clinical staff failed", zap.Error(err))
		}
		for _, u := range staff {
			batch = append(batch, &model.Notification{
				UserID:         u.ID,
				Type:           model.NotifyMedicationReminder,
				Title:          title,
				Message:        msg,
				DoseInstanceID: &dose.ID,
			})
		}
	}

	sent := dose.ReminderSent
	count := dose.ReminderCount
	sentAt := dose.ReminderSentAt

	dose.ReminderSent = true
	dose.ReminderCount++
	dose.ReminderSentAt = &now

	err := s.Tx.Transact(ctx, func(tx *TxStores) error {
		if err := tx.Notices.CreateBatch(batch); err != nil {
			return fmt.Errorf("create reminder notifications: %w", err)
		}
		return tx.Doses.Save(dose)
	})
	if err != nil {
		dose.ReminderSent = sent
		dose.ReminderCount = count
		dose.ReminderSentAt = sentAt
		logger.Log.Error("reminder transaction failed", zap.Uint("doseId", dose.ID), zap.Error(err))
		return false
	}
	return true
}

// lowStockScan 一次性库存提醒，靠单据上的粘性标志去重。
func (s *ReminderService) lowStockScan() {
	orders, err := s.Orders.FindActiveLowStock(s.Cfg.Load().LowStockThreshold)
	if err != nil {
		logger.Log.Error("low stock scan failed", zap.Error(err))
		return
	}
	for _, order := range orders {
		order.LowStockAlertSent = true
		if err := s.Orders.Save(order); err != nil {
			logger.Log.Error("low stock flag save failed", zap.Uint("orderId", order.ID), zap.Error(err))
			continue
		}
		n := &model.Notification{
			UserID:  order.ParentID,
			Type:    model.NotifyLowStock,
			Title:   "Thuốc sắp hết",
			Message: fmt.Sprintf("Thuốc %s chỉ còn %d liều. Vui lòng bổ sung thuốc cho nhà trường.", order.MedicationName, order.RemainingDoses),
			OrderID: &order.ID,
		}
		if err := s.Notices.Create(n); err != nil {
			logger.Log.Error("low stock notification failed", zap.Uint("orderId", order.ID), zap.Error(err))
		}
	}
}

// expiryScan 药品效期临近提醒，同样一次性。
func (s *ReminderService) expiryScan() {
	cutoff := s.Now().AddDate(0, 0, s.Cfg.Load().ExpiryWarningDays)
	orders, err := s.Orders.FindActiveExpiringBefore(cutoff)
	if err != nil {
		logger.Log.Error("expiry scan failed", zap.Error(err))
		return
	}
	for _, order := range orders {
		order.ExpiryAlertSent = true
		if err := s.Orders.Save(order); err != nil {
			logger.Log.Error("expiry flag save failed", zap.Uint("orderId", order.ID), zap.Error(err))
			continue
		}
		n := &model.Notification{
			UserID:  order.ParentID,
			Type:    model.NotifyExpiryWarning,
			Title:   "Thuốc sắp hết hạn",
			Message: fmt.Sprintf("Thuốc %s sẽ hết hạn vào ngày %s. Vui lòng cung cấp thuốc mới.", order.MedicationName, order.ExpiryDate.Format("02/01/2006")),
			OrderID: &order.ID,
		}
		if err := s.Notices.Create(n); err != nil {
			logger.Log.Error("expiry notification failed", zap.Uint("orderId", order.ID), zap.Error(err))
		}
	}
}
