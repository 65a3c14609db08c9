package service

import (
	"context"
	"fmt"
	"time"

	"schoolmed_backend/internal/config"
	"schoolmed_backend/internal/model"
	"schoolmed_backend/internal/util"
	"schoolmed_backend/pkg/cache"
	"schoolmed_backend/pkg/logger"

	"go.uber.org/zap"
)

// AdministerRequest 一次给药操作的输入。
type AdministerRequest struct {
	DoseID         uint   `json:"doseId" binding:"required"`
	ActualDosage   string `json:"actualDosage" binding:"required"`
	Notes          string `json:"notes"`
	StudentRefused bool   `json:"studentRefused"`
	RefusalReason  string `json:"refusalReason"`
	SideEffects    string `json:"sideEffects"`
}

// BulkItemResult 批量给药中单条的结果。
type BulkItemResult struct {
	DoseID  uint   `json:"doseId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AdministrationService 剂量状态机的唯一权威：pending 只能走向
// completed / missed / student_absent / cancelled，四个终态均不可逆。
type AdministrationService struct {
	Orders  OrderStore
	Doses   DoseStore
	Records AdministrationStore
	Notices NotificationStore
	Users   UserDirectory
	Tx      Atomic
	Cache   ScheduleCache
	Cfg     *config.SchedulerHolder
	Now     func() time.Time
}

func NewAdministrationService(orders OrderStore, doses DoseStore, records AdministrationStore,
	notices NotificationStore, users UserDirectory, tx Atomic, c ScheduleCache, cfg *config.SchedulerHolder) *AdministrationService {
	return &AdministrationService{
		Orders:  orders,
		Doses:   doses,
		Records: records,
		Notices: notices,
		Users:   users,
		Tx:      tx,
		Cache:   c,
		Cfg:     cfg,
		Now:     time.Now,
	}
}

const autoMissedReason = "Tự động đánh dấu: quá hạn xử lý"

// Administer 执行给药。前置条件：操作者为医护角色、剂量处于 pending、
// 单据生效且在给药窗口内。剩余剂量为 0 时放行但按应急情况记警告。
func (s *AdministrationService) Administer(ctx context.Context, callerID uint, role model.UserRole, req AdministerRequest) (*model.AdministrationRecord, error) {
	rec, err := s.administerOne(ctx, callerID, role, req)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return rec, nil
}

func (s *AdministrationService) administerOne(ctx context.Context, callerID uint, role model.UserRole, req AdministerRequest) (*model.AdministrationRecord, error) {
	if !role.IsClinical() {
		return nil, util.ErrPermissionDenied
	}

	dose, err := s.Doses.FindByID(req.DoseID)
	if err != nil {
		return nil, util.ErrDoseNotFound
	}
	if dose.Status != model.DosePending {
		return nil, util.ErrDoseNotPending
	}

	order, err := s.Orders.FindByID(dose.OrderID)
	if err != nil {
		return nil, util.ErrOrderNotFound
	}
	now := s.Now()
	if order.Status != model.OrderActive {
		return nil, util.ErrOrderNotActive
	}
	if order.ExpiryDate != nil && now.After(*order.ExpiryDate) {
		return nil, util.ErrOrderExpired
	}
	day := model.DateOnly(now)
	if day.Before(model.DateOnly(order.StartDate)) || day.After(model.DateOnly(order.EndDate)) {
		return nil, util.ErrOrderOutOfWindow
	}

	if order.RemainingDoses <= 0 {
		// 零库存不拦截给药，按应急情况放行并告警
		logger.Log.Warn("administering with zero remaining supply",
			zap.Uint("orderId", order.ID),
			zap.Uint("doseId", dose.ID),
			zap.String("medication", order.MedicationName))
	}

	rec := &model.AdministrationRecord{
		DoseInstanceID: dose.ID,
		OrderID:        order.ID,
		AdministeredBy: callerID,
		AdministeredAt: now,
		ActualDosage:   req.ActualDosage,
		StudentRefused: req.StudentRefused,
		RefusalReason:  req.RefusalReason,
		SideEffects:    req.SideEffects,
		Notes:          req.Notes,
	}

	// 给药记录、剂量终态、库存扣减在同一个事务里落库，
	// 任何一步失败整体回滚，剂量保持 pending，重试不会产生第二条记录。
	lowStock := false
	err = s.Tx.Transact(ctx, func(tx *TxStores) error {
		if err := tx.Records.Create(rec); err != nil {
			return fmt.Errorf("create administration record: %w", err)
		}

		present := true
		dose.StudentPresent = &present
		dose.Notes = req.Notes
		dose.AdministrationID = &rec.ID
		if req.StudentRefused {
			// 拒药按 missed 处理
			dose.Status = model.DoseMissed
			dose.MissedAt = &now
			dose.MissedReason = req.RefusalReason
			if dose.MissedReason == "" {
				dose.MissedReason = "Học sinh từ chối uống thuốc"
			}
		} else {
			dose.Status = model.DoseCompleted
			dose.CompletedAt = &now
			if order.RemainingDoses > 0 {
				order.RemainingDoses--
			}
		}

		lowStock = !order.LowStockAlertSent && order.RemainingDoses <= s.Cfg.Load().LowStockThreshold
		if lowStock {
			order.LowStockAlertSent = true
		}

		if err := tx.Doses.Save(dose); err != nil {
			return fmt.Errorf("save dose instance: %w", err)
		}
		if err := tx.Orders.Save(order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 通知在事务提交之后发，失败不回滚状态变更
	if lowStock {
		s.notify(&model.Notification{
			UserID:  order.ParentID,
			Type:    model.NotifyLowStock,
			Title:   "Thuốc sắp hết",
			Message: fmt.Sprintf("Thuốc %s chỉ còn %d liều. Vui lòng bổ sung thuốc cho nhà trường.", order.MedicationName, order.RemainingDoses),
			OrderID: &order.ID,
		})
	}

	// 只在值得关注时通知家长：拒药、出现副作用、或高优先级单据
	if req.StudentRefused {
		s.notify(&model.Notification{
			UserID:               order.ParentID,
			Type:                 model.NotifyMedicationAlert,
			Title:                "Học sinh từ chối uống thuốc",
			Message:              fmt.Sprintf("Học sinh đã từ chối uống thuốc %s lúc %s. Lý do: %s", order.MedicationName, now.Format("15:04"), dose.MissedReason),
			RequiresConfirmation: true,
			DoseInstanceID:       &dose.ID,
		})
	} else if req.SideEffects != "" {
		s.notify(&model.Notification{
			UserID:               order.ParentID,
			Type:                 model.NotifyMedicationAlert,
			Title:                "Ghi nhận tác dụng phụ",
			Message:              fmt.Sprintf("Sau khi uống thuốc %s, học sinh có biểu hiện: %s. Nhà trường đang theo dõi.", order.MedicationName, req.SideEffects),
			RequiresConfirmation: true,
			DoseInstanceID:       &dose.ID,
		})
	} else if order.Priority.Rank() >= model.PriorityHigh.Rank() {
		s.notify(&model.Notification{
			UserID:         order.ParentID,
			Type:           model.NotifyMedicationReminder,
			Title:          "Đã cho uống thuốc",
			Message:        fmt.Sprintf("Học sinh đã uống thuốc %s (%s) lúc %s.", order.MedicationName, req.ActualDosage, now.Format("15:04")),
			DoseInstanceID: &dose.ID,
		})
	}

	return rec, nil
}

// BulkAdminister 批量给药。条目之间相互独立，单条失败不影响其余，
// 缓存失效在整批结束后做一次。
func (s *AdministrationService) BulkAdminister(ctx context.Context, callerID uint, role model.UserRole, items []AdministerRequest) []BulkItemResult {
	results := make([]BulkItemResult, 0, len(items))
	for _, item := range items {
		r := BulkItemResult{DoseID: item.DoseID}
		if _, err := s.administerOne(ctx, callerID, role, item); err != nil {
			r.Error = err.Error()
			logger.Log.Warn("bulk administer item failed", zap.Uint("doseId", item.DoseID), zap.Error(err))
		} else {
			r.Success = true
		}
		results = append(results, r)
	}
	s.invalidate(ctx)
	return results
}

// QuickComplete 快速完成：跳过完整给药记录，直接把 pending 标记为已完成。
func (s *AdministrationService) QuickComplete(ctx context.Context, callerID uint, role model.UserRole, doseID uint, notes string) error {
	if !role.IsClinical() {
		return util.ErrPermissionDenied
	}
	dose, err := s.Doses.FindByID(doseID)
	if err != nil {
		return util.ErrDoseNotFound
	}
	if dose.Status != model.DosePending {
		return util.ErrDoseNotPending
	}

	now := s.Now()
	dose.Status = model.DoseCompleted
	dose.CompletedAt = &now
	if notes != "" {
		dose.Notes = notes
	}

	order, err := s.Orders.FindByID(dose.OrderID)
	if err != nil {
		order = nil
	}
	err = s.Tx.Transact(ctx, func(tx *TxStores) error {
		if order != nil && order.RemainingDoses > 0 {
			order.RemainingDoses--
			if err := tx.Orders.Save(order); err != nil {
				return fmt.Errorf("save order: %w", err)
			}
		}
		if err := tx.Doses.Save(dose); err != nil {
			return fmt.Errorf("save dose instance: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// MarkStudentAbsent 标记学生缺勤。仅限当天、仅限 pending。
func (s *AdministrationService) MarkStudentAbsent(ctx context.Context, callerID uint, role model.UserRole, doseID uint, notes string) error {
	if !role.IsClinical() {
		return util.ErrPermissionDenied
	}
	dose, err := s.Doses.FindByID(doseID)
	if err != nil {
		return util.ErrDoseNotFound
	}
	if dose.Status != model.DosePending {
		return util.ErrDoseNotPending
	}
	now := s.Now()
	if !model.DateOnly(dose.ScheduledDate).Equal(model.DateOnly(now)) {
		return util.ErrDoseNotToday
	}

	present := false
	dose.Status = model.DoseStudentAbsent
	dose.StudentPresent = &present
	if notes != "" {
		dose.Notes = notes
	}
	if err := s.Doses.Save(dose); err != nil {
		return fmt.Errorf("save dose instance: %w", err)
	}

	if order, err := s.Orders.FindByID(dose.OrderID); err == nil {
		s.notify(&model.Notification{
			UserID:         order.ParentID,
			Type:           model.NotifyMedicationAlert,
			Title:          "Học sinh vắng mặt",
			Message:        fmt.Sprintf("Học sinh vắng mặt trong giờ uống thuốc %s (%s ngày %s).", order.MedicationName, dose.ScheduledTime, dose.ScheduledDate.Format("02/01/2006")),
			DoseInstanceID: &dose.ID,
		})
	}
	s.invalidate(ctx)
	return nil
}

// MarkMissed 标记漏服（学生在校但未服药）。通知措辞按优先级升级。
func (s *AdministrationService) MarkMissed(ctx context.Context, callerID uint, role model.UserRole, doseID uint, reason, notes string) error {
	if !role.IsClinical() {
		return util.ErrPermissionDenied
	}
	dose, err := s.Doses.FindByID(doseID)
	if err != nil {
		return util.ErrDoseNotFound
	}
	if dose.Status != model.DosePending {
		return util.ErrDoseNotPending
	}

	now := s.Now()
	present := true
	dose.Status = model.DoseMissed
	dose.MissedAt = &now
	dose.MissedReason = reason
	dose.StudentPresent = &present
	if notes != "" {
		dose.Notes = notes
	}
	if err := s.Doses.Save(dose); err != nil {
		return fmt.Errorf("save dose instance: %w", err)
	}

	if order, err := s.Orders.FindByID(dose.OrderID); err == nil {
		s.notify(s.missedNotification(order, dose, reason))
	}
	s.invalidate(ctx)
	return nil
}

// missedNotification 漏服通知，紧急程度随单据优先级变化。
func (s *AdministrationService) missedNotification(order *model.MedicationOrder, dose *model.DoseInstance, reason string) *model.Notification {
	var msg string
	requiresConfirm := false
	switch order.Priority {
	case model.PriorityCritical:
		msg = fmt.Sprintf("Liều thuốc %s (%s) đã bị bỏ lỡ. Vui lòng liên hệ bác sĩ NGAY LẬP TỨC. Lý do: %s", order.MedicationName, dose.ScheduledTime, reason)
		requiresConfirm = true
	case model.PriorityHigh:
		msg = fmt.Sprintf("Liều thuốc %s (%s) đã bị bỏ lỡ. Khuyến nghị liên hệ bác sĩ để được tư vấn. Lý do: %s", order.MedicationName, dose.ScheduledTime, reason)
		requiresConfirm = true
	default:
		msg = fmt.Sprintf("Liều thuốc %s (%s) đã bị bỏ lỡ. Nhà trường sẽ tiếp tục theo dõi. Lý do: %s", order.MedicationName, dose.ScheduledTime, reason)
	}
	return &model.Notification{
		UserID:               order.ParentID,
		Type:                 model.NotifyMedicationAlert,
		Title:                "Bỏ lỡ liều thuốc",
		Message:              msg,
		RequiresConfirmation: requiresConfirm,
		DoseInstanceID:       &dose.ID,
	}
}

// AutoMarkOverdue 超时扫描：应服时间已过宽限期的 pending 剂量强制转为
// missed。逐条隔离失败，返回成功转换的数量。
func (s *AdministrationService) AutoMarkOverdue(ctx context.Context) (int, error) {
	now := s.Now()
	cfg := s.Cfg.Load()
	cutoff := now.Add(-cfg.OverdueGrace())

	doses, err := s.Doses.FindPendingDueBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("load overdue doses: %w", err)
	}

	marked := 0
	for _, dose := range doses {
		dose.Status = model.DoseMissed
		t := now
		dose.MissedAt = &t
		dose.MissedReason = fmt.Sprintf("%s (%d phút)", autoMissedReason, cfg.OverdueGraceMinutes)
		if err := s.Doses.Save(dose); err != nil {
			logger.Log.Error("auto-mark overdue failed", zap.Uint("doseId", dose.ID), zap.Error(err))
			continue
		}
		marked++

		if order, err := s.Orders.FindByID(dose.OrderID); err == nil {
			s.notify(s.missedNotification(order, dose, dose.MissedReason))
		}
	}

	if marked > 0 {
		logger.Log.Info("overdue doses auto-marked", zap.Int("count", marked))
		s.invalidate(ctx)
	}
	return marked, nil
}

// GetDose 带权限的单条读取：医护读任意；学生只能读自己的；
// 家长只能读自己孩子的；其余角色拒绝。
func (s *AdministrationService) GetDose(callerID uint, role model.UserRole, doseID uint) (*model.DoseInstance, error) {
	dose, err := s.Doses.FindByID(doseID)
	if err != nil {
		return nil, util.ErrDoseNotFound
	}
	if role.IsClinical() {
		return dose, nil
	}

	order, err := s.Orders.FindByID(dose.OrderID)
	if err != nil {
		return nil, util.ErrOrderNotFound
	}

	switch role {
	case model.Student:
		profile, err := s.Users.FindStudentByUserID(callerID)
		if err != nil || profile.ID != order.StudentID {
			return nil, util.ErrPermissionDenied
		}
		return dose, nil
	case model.Parent:
		if order.ParentID != callerID {
			return nil, util.ErrPermissionDenied
		}
		return dose, nil
	default:
		return nil, util.ErrPermissionDenied
	}
}

// ListPendingOnDay 医护工作台的当日待处理列表，按优先级降序、应服时间升序。
// 结果短暂缓存，键登记进跟踪集，任何剂量状态变更都会清掉。
func (s *AdministrationService) ListPendingOnDay(ctx context.Context, role model.UserRole, day time.Time) ([]*model.DoseInstance, error) {
	if !role.IsClinical() {
		return nil, util.ErrPermissionDenied
	}

	key := cache.PrefixDoseSchedule + "day:" + model.DateOnly(day).Format("2006-01-02")
	if s.Cache != nil {
		var cached []*model.DoseInstance
		if hit, err := s.Cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	doses, err := s.Doses.FindPendingOnDate(model.DateOnly(day))
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		if err := s.Cache.Set(ctx, key, doses, time.Minute); err != nil {
			logger.Log.Error("dose schedule cache write failed", zap.String("key", key), zap.Error(err))
		} else if err := s.Cache.AddToTrackingSet(ctx, key, cache.SetDoseSchedules); err != nil {
			logger.Log.Error("dose schedule cache tracking failed", zap.String("key", key), zap.Error(err))
		}
	}
	return doses, nil
}

// notify 通知失败只记日志。状态机一致性优先于通知投递。
func (s *AdministrationService) notify(n *model.Notification) {
	if err := s.Notices.Create(n); err != nil {
		logger.Log.Error("notification create failed",
			zap.Uint("userId", n.UserID),
			zap.String("type", string(n.Type)),
			zap.Error(err))
	}
}

func (s *AdministrationService) invalidate(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.RemoveByPrefix(ctx, cache.PrefixDoseSchedule); err != nil {
		logger.Log.Error("cache invalidation failed", zap.String("prefix", cache.PrefixDoseSchedule), zap.Error(err))
	}
	if err := s.Cache.InvalidateTrackingSet(ctx, cache.SetDoseSchedules); err != nil {
		logger.Log.Error("tracking set invalidation failed", zap.String("set", cache.SetDoseSchedules), zap.Error(err))
	}
	if err := s.Cache.RemoveByPrefix(ctx, cache.PrefixOrder); err != nil {
		logger.Log.Error("cache invalidation failed", zap.String("prefix", cache.PrefixOrder), zap.Error(err))
	}
}
