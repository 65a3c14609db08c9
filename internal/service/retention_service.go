package service

import (
	"context"
	"time"

	"schoolmed_backend/internal/config"
	"schoolmed_backend/pkg/logger"

	"go.uber.org/zap"
)

// 每类数据单批清理的上限，防止一次扫描长时间占用数据库。
const (
	doseCleanupBatch         = 200
	orderCleanupBatch        = 200
	notificationCleanupBatch = 500
	recordCleanupBatch       = 300
)

// RetentionService 6 小时一轮的数据保留清理，只在配置的低峰整点真正执行。
// 所有删除都是逻辑删除，从不物理删除。
type RetentionService struct {
	Orders  OrderStore
	Doses   DoseStore
	Records AdministrationStore
	Notices NotificationStore
	Cfg     *config.SchedulerHolder
	Now     func() time.Time
}

func NewRetentionService(orders OrderStore, doses DoseStore, records AdministrationStore,
	notices NotificationStore, cfg *config.SchedulerHolder) *RetentionService {
	return &RetentionService{
		Orders:  orders,
		Doses:   doses,
		Records: records,
		Notices: notices,
		Cfg:     cfg,
		Now:     time.Now,
	}
}

// Sweep 一次保留清理迭代。不在执行窗口内时直接返回。
func (s *RetentionService) Sweep(ctx context.Context) error {
	now := s.Now()
	cfg := s.Cfg.Load()
	if !s.withinRunWindow(cfg, now.Hour()) {
		return nil
	}

	cutoff := now.AddDate(0, 0, -cfg.RetentionDays)

	doses, err := s.Doses.SoftDeleteTerminalBefore(cutoff, doseCleanupBatch)
	if err != nil {
		logger.Log.Error("dose retention sweep failed", zap.Error(err))
	}

	orders, err := s.Orders.SoftDeleteEndedBefore(cutoff, orderCleanupBatch)
	if err != nil {
		logger.Log.Error("order retention sweep failed", zap.Error(err))
	}

	notices, err := s.Notices.SoftDeleteReadBefore(cutoff, notificationCleanupBatch)
	if err != nil {
		logger.Log.Error("notification retention sweep failed", zap.Error(err))
	}

	records, err := s.Records.SoftDeleteOlderThan(cutoff, recordCleanupBatch)
	if err != nil {
		logger.Log.Error("administration record retention sweep failed", zap.Error(err))
	}

	logger.Log.Info("retention sweep finished",
		zap.String("cutoff", cutoff.Format("2006-01-02")),
		zap.Int64("doses", doses),
		zap.Int64("orders", orders),
		zap.Int64("notifications", notices),
		zap.Int64("records", records))
	return nil
}

func (s *RetentionService) withinRunWindow(cfg *config.SchedulerConfig, hour int) bool {
	for _, h := range cfg.RetentionRunHours {
		if hour == h {
			return true
		}
	}
	return false
}
