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

type ReportIncidentRequest struct {
	StudentID   uint   `json:"studentId" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	OccurredAt  string `json:"occurredAt"` // RFC3339, defaults to now
}

// IncidentService 健康事件的上报与处理流转。处理时效由升级引擎另行监控。
type IncidentService struct {
	Incidents *repository.IncidentRepository
	Users     *repository.UserRepository
	Notices   *repository.NotificationRepository
	Cache     *cache.Cache
	Now       func() time.Time
}

func NewIncidentService(incidents *repository.IncidentRepository, users *repository.UserRepository,
	notices *repository.NotificationRepository, c *cache.Cache) *IncidentService {
	return &IncidentService{
		Incidents: incidents,
		Users:     users,
		Notices:   notices,
		Cache:     c,
		Now:       time.Now,
	}
}

func (s *IncidentService) Report(ctx context.Context, reporterID uint, req *ReportIncidentRequest) (*model.HealthIncident, error) {
	student, err := s.Users.FindStudentByID(req.StudentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrStudentNotFound
		}
		return nil, err
	}

	occurred := s.Now()
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("invalid occurredAt %q", req.OccurredAt)
		}
		occurred = t
	}

	severity := model.IncidentSeverity(req.Severity)
	if req.Severity == "" {
		severity = model.SeverityMinor
	}

	inc := &model.HealthIncident{
		StudentID:   req.StudentID,
		ReportedBy:  reporterID,
		Title:       req.Title,
		Description: req.Description,
		Severity:    severity,
		Status:      model.IncidentPending,
		OccurredAt:  occurred,
	}
	if err := s.Incidents.Create(inc); err != nil {
		return nil, err
	}

	// 上报即通知在岗医护，升级引擎只兜底无人认领的情况
	staff, err := s.Users.FindActiveByRole(model.SchoolNurse, model.Manager)
	if err != nil {
		logger.Log.Error("load clinical staff failed", zap.Error(err))
	}
	batch := make([]*model.Notification, 0, len(staff))
	for _, u := range staff {
		batch = append(batch, &model.Notification{
			UserID:     u.ID,
			Type:       model.NotifySystem,
			Title:      "Sự cố y tế mới",
			Message:    fmt.Sprintf("Học sinh %s: %s", student.FullName, inc.Title),
			IncidentID: &inc.ID,
		})
	}
	if err := s.Notices.CreateBatch(batch); err != nil {
		logger.Log.Error("incident notification failed", zap.Uint("incidentId", inc.ID), zap.Error(err))
	}

	s.Cache.MustInvalidate(ctx, cache.PrefixIncident)
	logger.Log.Info("health incident reported",
		zap.Uint("incidentId", inc.ID), zap.Uint("studentId", req.StudentID), zap.String("severity", string(severity)))
	return inc, nil
}

// Assign 医护认领一起待处理事件。认领后升级引擎停止向管理层广播。
func (s *IncidentService) Assign(ctx context.Context, assigneeID uint, role model.UserRole, incidentID uint) (*model.HealthIncident, error) {
	if !role.IsClinical() {
		return nil, util.ErrPermissionDenied
	}
	inc, err := s.Incidents.FindByID(incidentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrIncidentNotFound
		}
		return nil, err
	}
	if inc.Status != model.IncidentPending {
		return nil, fmt.Errorf("incident %d is %s, only pending incidents can be assigned", inc.ID, inc.Status)
	}

	now := s.Now()
	inc.AssignedTo = &assigneeID
	inc.AssignedAt = &now
	inc.Status = model.IncidentInProgress
	if err := s.Incidents.Save(inc); err != nil {
		return nil, err
	}

	s.Cache.MustInvalidate(ctx, cache.PrefixIncident)
	logger.Log.Info("health incident assigned", zap.Uint("incidentId", inc.ID), zap.Uint("assigneeId", assigneeID))
	return inc, nil
}

// Complete 结案。只有当前处理人或管理员可以结案。
func (s *IncidentService) Complete(ctx context.Context, callerID uint, role model.UserRole, incidentID uint, resolution string) (*model.HealthIncident, error) {
	inc, err := s.Incidents.FindByID(incidentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrIncidentNotFound
		}
		return nil, err
	}
	if inc.Status != model.IncidentInProgress {
		return nil, fmt.Errorf("incident %d is %s, only in-progress incidents can be completed", inc.ID, inc.Status)
	}
	isAssignee := inc.AssignedTo != nil && *inc.AssignedTo == callerID
	if !isAssignee && role != model.Manager && role != model.Admin {
		return nil, util.ErrPermissionDenied
	}

	now := s.Now()
	inc.Status = model.IncidentCompleted
	inc.CompletedAt = &now
	inc.Resolution = resolution
	if err := s.Incidents.Save(inc); err != nil {
		return nil, err
	}

	s.Cache.MustInvalidate(ctx, cache.PrefixIncident)
	logger.Log.Info("health incident completed", zap.Uint("incidentId", inc.ID), zap.Uint("callerId", callerID))
	return inc, nil
}

func (s *IncidentService) Get(callerID uint, role model.UserRole, incidentID uint) (*model.HealthIncident, error) {
	inc, err := s.Incidents.FindByID(incidentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrIncidentNotFound
		}
		return nil, err
	}
	if role.IsClinical() {
		return inc, nil
	}
	if role == model.Parent {
		student, err := s.Users.FindStudentByID(inc.StudentID)
		if err == nil && student.ParentID == callerID {
			return inc, nil
		}
	}
	return nil, util.ErrPermissionDenied
}

func (s *IncidentService) ListRecent(role model.UserRole, limit int) ([]*model.HealthIncident, error) {
	if !role.IsClinical() {
		return nil, util.ErrPermissionDenied
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.Incidents.ListRecent(limit)
}
