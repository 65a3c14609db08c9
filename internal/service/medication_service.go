package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schoolmed_backend/internal/model"
	"schoolmed_backend/internal/repository"
	"schoolmed_backend/internal/util"
	"schoolmed_backend/pkg/cache"
	"schoolmed_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateOrderRequest 家长提交的用药申请
type CreateOrderRequest struct {
	StudentID      uint     `json:"studentId" binding:"required"`
	MedicationName string   `json:"medicationName" binding:"required"`
	Dosage         string   `json:"dosage" binding:"required"`
	Instructions   string   `json:"instructions"`
	AttachmentURL  string   `json:"attachmentUrl"`
	StartDate      string   `json:"startDate" binding:"required"` // "2006-01-02"
	EndDate        string   `json:"endDate" binding:"required"`
	ExpiryDate     string   `json:"expiryDate"`
	FrequencyType  string   `json:"frequencyType"`
	WeekDays       []int    `json:"weekDays"`
	DoseTimes      []string `json:"doseTimes" binding:"required,min=1"`
	SkipWeekends   *bool    `json:"skipWeekends"`
	SkipDates      []string `json:"skipDates"`
	Priority       string   `json:"priority"`
	TotalDoses     int      `json:"totalDoses"`
}

// MedicationService 用药申请单的生命周期：提交、审批、生效、停用、自然结束。
type MedicationService struct {
	Orders    *repository.MedicationOrderRepository
	Doses     *repository.DoseInstanceRepository
	Users     *repository.UserRepository
	Notices   *repository.NotificationRepository
	Schedules *ScheduleService
	Cache     *cache.Cache
	Now       func() time.Time
}

func NewMedicationService(orders *repository.MedicationOrderRepository, doses *repository.DoseInstanceRepository,
	users *repository.UserRepository, notices *repository.NotificationRepository,
	schedules *ScheduleService, c *cache.Cache) *MedicationService {
	return &MedicationService{
		Orders:    orders,
		Doses:     doses,
		Users:     users,
		Notices:   notices,
		Schedules: schedules,
		Cache:     c,
		Now:       time.Now,
	}
}

func (s *MedicationService) CreateOrder(ctx context.Context, parentID uint, req *CreateOrderRequest) (*model.MedicationOrder, error) {
	student, err := s.Users.FindStudentByID(req.StudentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrStudentNotFound
		}
		return nil, err
	}
	if student.ParentID != parentID {
		return nil, util.ErrPermissionDenied
	}

	start, err := time.ParseInLocation("2006-01-02", req.StartDate, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q", req.StartDate)
	}
	end, err := time.ParseInLocation("2006-01-02", req.EndDate, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q", req.EndDate)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date is before start date")
	}

	var expiry *time.Time
	if req.ExpiryDate != "" {
		exp, err := time.ParseInLocation("2006-01-02", req.ExpiryDate, time.Local)
		if err != nil {
			return nil, fmt.Errorf("invalid expiry date %q", req.ExpiryDate)
		}
		// 按当日结束计，当天到期的药当天仍可使用
		exp = exp.Add(23*time.Hour + 59*time.Minute)
		expiry = &exp
	}

	for _, v := range req.DoseTimes {
		if _, ok := model.ResolveDoseTime(v); !ok {
			return nil, fmt.Errorf("unrecognized dose time %q", v)
		}
	}

	freq := model.FrequencyType(req.FrequencyType)
	if req.FrequencyType == "" {
		freq = model.FrequencyDaily
	}
	if freq == model.FrequencySpecificDays && len(req.WeekDays) == 0 {
		return nil, fmt.Errorf("specific_days frequency requires at least one weekday")
	}

	priority := model.Priority(req.Priority)
	if req.Priority == "" {
		priority = model.PriorityNormal
	}

	skipWeekends := true
	if req.SkipWeekends != nil {
		skipWeekends = *req.SkipWeekends
	}

	order := &model.MedicationOrder{
		StudentID:      req.StudentID,
		ParentID:       parentID,
		MedicationName: req.MedicationName,
		Dosage:         req.Dosage,
		Instructions:   req.Instructions,
		AttachmentURL:  req.AttachmentURL,
		StartDate:      start,
		EndDate:        end,
		ExpiryDate:     expiry,
		FrequencyType:  freq,
		WeekDays:       req.WeekDays,
		DoseTimes:      req.DoseTimes,
		SkipWeekends:   skipWeekends,
		SkipDates:      req.SkipDates,
		AutoGenerate:   true,
		Priority:       priority,
		TotalDoses:     req.TotalDoses,
		RemainingDoses: req.TotalDoses,
		Status:         model.OrderPendingApproval,
	}
	if err := s.Orders.Create(order); err != nil {
		return nil, err
	}

	s.notifyStaff(order, "Đơn thuốc mới chờ duyệt",
		fmt.Sprintf("Phụ huynh vừa gửi đơn thuốc %s cho học sinh %s.", order.MedicationName, student.FullName))

	s.Cache.MustInvalidate(ctx, cache.PrefixOrder)
	logger.Log.Info("medication order created",
		zap.Uint("orderId", order.ID), zap.Uint("parentId", parentID), zap.Uint("studentId", req.StudentID))
	return order, nil
}

// Approve 医护审批通过。开始日期已到的直接转生效并立即排程，
// 未到的停在 approved，由后台扫描在开始日当天转生效。
func (s *MedicationService) Approve(ctx context.Context, reviewerID uint, role model.UserRole, orderID uint) (*model.MedicationOrder, error) {
	if !role.IsClinical() {
		return nil, util.ErrPermissionDenied
	}
	order, err := s.Orders.FindByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrOrderNotFound
		}
		return nil, err
	}
	if order.Status != model.OrderPendingApproval {
		return nil, util.ErrOrderNotPending
	}

	now := s.Now()
	order.ApprovedBy = &reviewerID
	order.ApprovedAt = &now
	order.Status = model.OrderApproved
	if !model.DateOnly(order.StartDate).After(model.DateOnly(now)) {
		order.Status = model.OrderActive
	}
	if err := s.Orders.Save(order); err != nil {
		return nil, err
	}

	if order.Status == model.OrderActive {
		if _, err := s.Schedules.GenerateForOrder(ctx, order, now, order.EndDate); err != nil {
			logger.Log.Error("schedule generation after approval failed", zap.Uint("orderId", order.ID), zap.Error(err))
		}
	}

	s.notifyParent(order, "Đơn thuốc đã được duyệt",
		fmt.Sprintf("Đơn thuốc %s đã được nhà trường phê duyệt.", order.MedicationName))
	s.Cache.MustInvalidate(ctx, cache.PrefixOrder)

	logger.Log.Info("medication order approved",
		zap.Uint("orderId", order.ID), zap.Uint("reviewerId", reviewerID), zap.String("status", string(order.Status)))
	return order, nil
}

func (s *MedicationService) Reject(ctx context.Context, reviewerID uint, role model.UserRole, orderID uint, reason string) (*model.MedicationOrder, error) {
	if !role.IsClinical() {
		return nil, util.ErrPermissionDenied
	}
	order, err := s.Orders.FindByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrOrderNotFound
		}
		return nil, err
	}
	if order.Status != model.OrderPendingApproval {
		return nil, util.ErrOrderNotPending
	}

	now := s.Now()
	order.Status = model.OrderRejected
	order.ApprovedBy = &reviewerID
	order.ApprovedAt = &now
	order.RejectedReason = reason
	if err := s.Orders.Save(order); err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("Đơn thuốc %s đã bị từ chối.", order.MedicationName)
	if reason != "" {
		msg = fmt.Sprintf("Đơn thuốc %s đã bị từ chối. Lý do: %s", order.MedicationName, reason)
	}
	s.notifyParent(order, "Đơn thuốc bị từ chối", msg)
	s.Cache.MustInvalidate(ctx, cache.PrefixOrder)
	return order, nil
}

// Discontinue 停用一张生效单据并取消其剩余待处理剂量。
func (s *MedicationService) Discontinue(ctx context.Context, callerID uint, role model.UserRole, orderID uint, reason string) (*model.MedicationOrder, error) {
	if !role.IsClinical() {
		return nil, util.ErrPermissionDenied
	}
	order, err := s.Orders.FindByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrOrderNotFound
		}
		return nil, err
	}
	if order.Status != model.OrderActive && order.Status != model.OrderApproved {
		return nil, util.ErrOrderNotActive
	}

	order.Status = model.OrderDiscontinued
	if err := s.Orders.Save(order); err != nil {
		return nil, err
	}

	cancelled, err := s.Doses.CancelPendingByOrder(order.ID)
	if err != nil {
		logger.Log.Error("cancel pending doses failed", zap.Uint("orderId", order.ID), zap.Error(err))
	}

	msg := fmt.Sprintf("Đơn thuốc %s đã được ngưng sử dụng.", order.MedicationName)
	if reason != "" {
		msg = fmt.Sprintf("Đơn thuốc %s đã được ngưng sử dụng. Lý do: %s", order.MedicationName, reason)
	}
	s.notifyParent(order, "Ngưng sử dụng thuốc", msg)
	s.Cache.MustInvalidate(ctx, cache.PrefixOrder, cache.PrefixDoseSchedule)

	logger.Log.Info("medication order discontinued",
		zap.Uint("orderId", order.ID), zap.Uint("callerId", callerID), zap.Int64("cancelledDoses", cancelled))
	return order, nil
}

// GetOrder 角色可见性与剂量一致：医护全量，家长看自己的，学生看自己的。
func (s *MedicationService) GetOrder(callerID uint, role model.UserRole, orderID uint) (*model.MedicationOrder, error) {
	order, err := s.Orders.FindByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrOrderNotFound
		}
		return nil, err
	}

	switch {
	case role.IsClinical():
		return order, nil
	case role == model.Parent && order.ParentID == callerID:
		return order, nil
	case role == model.Student:
		profile, err := s.Users.FindStudentByUserID(callerID)
		if err == nil && profile.ID == order.StudentID {
			return order, nil
		}
	}
	return nil, util.ErrPermissionDenied
}

func (s *MedicationService) ListForParent(parentID uint) ([]*model.MedicationOrder, error) {
	return s.Orders.FindByParent(parentID)
}

func (s *MedicationService) ListPendingApproval(role model.UserRole) ([]*model.MedicationOrder, error) {
	if !role.IsClinical() {
		return nil, util.ErrPermissionDenied
	}
	return s.Orders.FindPendingApproval()
}

// GenerateSchedule 手动触发一张生效单据的整段排程补全。幂等，可重复调用。
func (s *MedicationService) GenerateSchedule(ctx context.Context, role model.UserRole, orderID uint) (*GenerationResult, error) {
	if !role.IsClinical() {
		return nil, util.ErrPermissionDenied
	}
	order, err := s.Orders.FindByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrOrderNotFound
		}
		return nil, err
	}
	if order.Status != model.OrderActive {
		return nil, util.ErrOrderNotActive
	}
	return s.Schedules.GenerateForOrder(ctx, order, s.Now(), order.EndDate)
}

// LifecycleSweep 由排程轮询顺带驱动：开始日已到的 approved 转 active，
// 结束日已过的 active 转 completed。
func (s *MedicationService) LifecycleSweep(ctx context.Context) {
	now := s.Now()

	starting, err := s.Orders.FindApprovedStarting(now)
	if err != nil {
		logger.Log.Error("load approved orders failed", zap.Error(err))
	}
	for _, order := range starting {
		order.Status = model.OrderActive
		if err := s.Orders.Save(order); err != nil {
			logger.Log.Error("order activation failed", zap.Uint("orderId", order.ID), zap.Error(err))
			continue
		}
		logger.Log.Info("medication order activated", zap.Uint("orderId", order.ID))
	}

	ended, err := s.Orders.FindActiveEndedBefore(model.DateOnly(now))
	if err != nil {
		logger.Log.Error("load ended orders failed", zap.Error(err))
	}
	for _, order := range ended {
		order.Status = model.OrderCompleted
		if err := s.Orders.Save(order); err != nil {
			logger.Log.Error("order completion failed", zap.Uint("orderId", order.ID), zap.Error(err))
			continue
		}
		s.notifyParent(order, "Liệu trình thuốc đã kết thúc",
			fmt.Sprintf("Liệu trình thuốc %s đã hoàn tất theo lịch.", order.MedicationName))
		logger.Log.Info("medication order completed", zap.Uint("orderId", order.ID))
	}

	if len(starting) > 0 || len(ended) > 0 {
		s.Cache.MustInvalidate(ctx, cache.PrefixOrder)
	}
}

func (s *MedicationService) notifyParent(order *model.MedicationOrder, title, msg string) {
	n := &model.Notification{
		UserID:  order.ParentID,
		Type:    model.NotifyMedicationAlert,
		Title:   title,
		Message: msg,
		OrderID: &order.ID,
	}
	if err := s.Notices.Create(n); err != nil {
		logger.Log.Error("parent notification failed", zap.Uint("orderId", order.ID), zap.Error(err))
	}
}

func (s *MedicationService) notifyStaff(order *model.MedicationOrder, title, msg string) {
	staff, err := s.Users.FindActiveByRole(model.SchoolNurse, model.Manager)
	if err != nil {
		logger.Log.Error("load clinical staff failed", zap.Error(err))
		return
	}
	batch := make([]*model.Notification, 0, len(staff))
	for _, u := range staff {
		batch = append(batch, &model.Notification{
			UserID:  u.ID,
			Type:    model.NotifyMedicationAlert,
			Title:   title,
			Message: msg,
			OrderID: &order.ID,
		})
	}
	if err := s.Notices.CreateBatch(batch); err != nil {
		logger.Log.Error("staff notification failed", zap.Uint("orderId", order.ID), zap.Error(err))
	}
}
