package service

import (
	"context"
	"fmt"
	"time"

	"schoolmed_backend/internal/config"
	"schoolmed_backend/internal/model"
	"schoolmed_backend/pkg/logger"

	"go.uber.org/zap"
)

// EscalationService 健康事件的时效监控，15 秒一轮：
//   - 超过阈值仍无人认领的 pending 事件，升级通知所有在岗管理员；
//   - 处理中停留过久的事件，提醒当前处理人；
//   - 已完结事件的遗留通知延迟清理。
//
// 去重是结构化的：按 (事件, 通知类型) 在时间窗口内查询既有通知，
// 不依赖标题字符串匹配。
type EscalationService struct {
	Incidents IncidentStore
	Notices   NotificationStore
	Users     UserDirectory
	Cfg       *config.SchedulerHolder
	Now       func() time.Time
}

func NewEscalationService(incidents IncidentStore, notices NotificationStore, users UserDirectory, cfg *config.SchedulerHolder) *EscalationService {
	return &EscalationService{
		Incidents: incidents,
		Notices:   notices,
		Users:     users,
		Cfg:       cfg,
		Now:       time.Now,
	}
}

// Tick 一次升级引擎迭代。三个子步骤串行执行，互不中断。
func (s *EscalationService) Tick(ctx context.Context) error {
	if err := s.escalateUnassigned(); err != nil {
		logger.Log.Error("incident escalation failed", zap.Error(err))
	}
	if err := s.remindHandlers(); err != nil {
		logger.Log.Error("incident handler reminder failed", zap.Error(err))
	}
	if err := s.cleanupCompleted(); err != nil {
		logger.Log.Error("incident notification cleanup failed", zap.Error(err))
	}
	return nil
}

// escalateUnassigned 无人认领的事件升级给管理员，每个去重窗口最多一波。
func (s *EscalationService) escalateUnassigned() error {
	now := s.Now()
	cfg := s.Cfg.Load()
	cutoff := now.Add(-time.Duration(cfg.EscalationAgeSeconds) * time.Second)

	incidents, err := s.Incidents.FindUnassignedPendingBefore(cutoff)
	if err != nil {
		return fmt.Errorf("load unassigned incidents: %w", err)
	}
	if len(incidents) == 0 {
		return nil
	}

	managers, err := s.Users.FindActiveByRole(model.Manager)
	if err != nil {
		return fmt.Errorf("load managers: %w", err)
	}

	window := now.Add(-time.Duration(cfg.EscalationDedupMinutes) * time.Minute)
	for _, inc := range incidents {
		sent, err := s.Notices.ExistsForIncidentSince(inc.ID, model.NotifyIncidentEscalation, window)
		if err != nil {
			logger.Log.Error("escalation dedup check failed", zap.Uint("incidentId", inc.ID), zap.Error(err))
			continue
		}
		if sent {
			continue
		}

		batch := make([]*model.Notification, 0, len(managers))
		for _, m := range managers {
			batch = append(batch, &model.Notification{
				UserID:               m.ID,
				Type:                 model.NotifyIncidentEscalation,
				Title:                "Sự cố y tế chưa được xử lý",
				Message:              fmt.Sprintf("Sự cố \"%s\" (mức độ: %s) chưa có người tiếp nhận từ %s. Vui lòng phân công xử lý.", inc.Title, inc.Severity, inc.OccurredAt.Format("15:04 02/01")),
				RequiresConfirmation: true,
				IncidentID:           &inc.ID,
			})
		}
		if len(batch) == 0 {
			continue
		}
		if err := s.Notices.CreateBatch(batch); err != nil {
			logger.Log.Error("escalation notification failed", zap.Uint("incidentId", inc.ID), zap.Error(err))
			continue
		}
		logger.Log.Info("incident escalated to managers",
			zap.Uint("incidentId", inc.ID),
			zap.Int("managers", len(batch)))
	}
	return nil
}

// remindHandlers 处理中停留超时的事件提醒处理人，窗口内去重。
func (s *EscalationService) remindHandlers() error {
	now := s.Now()
	cfg := s.Cfg.Load()
	cutoff := now.Add(-time.Duration(cfg.ProgressReminderMinutes) * time.Minute)

	incidents, err := s.Incidents.FindStaleInProgress(cutoff)
	if err != nil {
		return fmt.Errorf("load stale in-progress incidents: %w", err)
	}

	window := now.Add(-time.Duration(cfg.ProgressDedupMinutes) * time.Minute)
	for _, inc := range incidents {
		if inc.AssignedTo == nil {
			continue
		}
		sent, err := s.Notices.ExistsForIncidentSince(inc.ID, model.NotifyIncidentReminder, window)
		if err != nil {
			logger.Log.Error("handler reminder dedup check failed", zap.Uint("incidentId", inc.ID), zap.Error(err))
			continue
		}
		if sent {
			continue
		}

		n := &model.Notification{
			UserID:     *inc.AssignedTo,
			Type:       model.NotifyIncidentReminder,
			Title:      "Nhắc nhở xử lý sự cố y tế",
			Message:    fmt.Sprintf("Sự cố \"%s\" vẫn đang trong trạng thái xử lý. Vui lòng cập nhật tiến độ hoặc hoàn tất hồ sơ.", inc.Title),
			IncidentID: &inc.ID,
		}
		if err := s.Notices.Create(n); err != nil {
			logger.Log.Error("handler reminder failed", zap.Uint("incidentId", inc.ID), zap.Error(err))
		}
	}
	return nil
}

// cleanupCompleted 事件完结一段时间后，软删其关联通知。逐条隔离失败。
func (s *EscalationService) cleanupCompleted() error {
	cutoff := s.Now().Add(-time.Duration(s.Cfg.Load().IncidentCleanupMinutes) * time.Minute)

	incidents, err := s.Incidents.FindCompletedBefore(cutoff)
	if err != nil {
		return fmt.Errorf("load completed incidents: %w", err)
	}

	var removed int64
	for _, inc := range incidents {
		n, err := s.Notices.SoftDeleteByIncident(inc.ID)
		if err != nil {
			logger.Log.Error("incident notification cleanup failed", zap.Uint("incidentId", inc.ID), zap.Error(err))
			continue
		}
		removed += n
	}
	if removed > 0 {
		logger.Log.Info("completed incident notifications cleaned", zap.Int64("count", removed))
	}
	return nil
}
