package scheduler

import (
	"context"
	"sync"
	"time"

	"schoolmed_backend/internal/config"
	"schoolmed_backend/internal/service"
	"schoolmed_backend/pkg/logger"
	"schoolmed_backend/pkg/monitoring"

	"go.uber.org/zap"
)

// Scheduler 进程内的后台轮询宿主，四个循环共用一个取消信号：
//   - escalation：15 秒，健康事件升级；
//   - generation：30 秒，单据生命周期推进 + 排程补全；
//   - reminder：60 秒，超时转换 + 用药提醒 + 库存/效期检查；
//   - retention：6 小时，数据保留清理（仅低峰整点实际执行）。
//
// Stop 阻塞到所有循环退出，保证优雅停机时没有半截迭代。
type Scheduler struct {
	Schedules  *service.ScheduleService
	Medication *service.MedicationService
	Reminders  *service.ReminderService
	Escalation *service.EscalationService
	Retention  *service.RetentionService
	Cfg        *config.SchedulerHolder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(schedules *service.ScheduleService, medication *service.MedicationService,
	reminders *service.ReminderService, escalation *service.EscalationService,
	retention *service.RetentionService, cfg *config.SchedulerHolder) *Scheduler {
	return &Scheduler{
		Schedules:  schedules,
		Medication: medication,
		Reminders:  reminders,
		Escalation: escalation,
		Retention:  retention,
		Cfg:        cfg,
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// 轮询周期在启动时取一次快照固定下来，热更新只影响各服务的阈值
	cfg := s.Cfg.Load()

	s.spawn(ctx, "escalation", cfg.EscalationInterval(), s.Escalation.Tick)
	s.spawn(ctx, "generation", cfg.GenerationInterval(), func(ctx context.Context) error {
		s.Medication.LifecycleSweep(ctx)
		return s.Schedules.RunSweeps(ctx)
	})
	s.spawn(ctx, "reminder", cfg.ReminderInterval(), s.Reminders.Tick)
	s.spawn(ctx, "retention", cfg.RetentionInterval(), s.Retention.Sweep)

	logger.Log.Info("background scheduler started",
		zap.Duration("escalation", cfg.EscalationInterval()),
		zap.Duration("generation", cfg.GenerationInterval()),
		zap.Duration("reminder", cfg.ReminderInterval()),
		zap.Duration("retention", cfg.RetentionInterval()))
}

// Stop 取消所有循环并等待其退出。
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	logger.Log.Info("background scheduler stopped")
}

func (s *Scheduler) spawn(ctx context.Context, name string, interval time.Duration, body func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runLoop(ctx, name, interval, body)
	}()
}

// runLoop 按固定周期驱动 body，直到 ctx 取消。迭代内的 panic 不会
// 杀死循环，记日志后等下一个周期。
func runLoop(ctx context.Context, name string, interval time.Duration, body func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("scheduler loop exiting", zap.String("loop", name))
			return
		case <-ticker.C:
			runOnce(ctx, name, body)
		}
	}
}

func runOnce(ctx context.Context, name string, body func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.SweepFailures.WithLabelValues(name).Inc()
			logger.Log.Error("scheduler loop panic", zap.String("loop", name), zap.Any("panic", r))
		}
	}()

	monitoring.SweepRuns.WithLabelValues(name).Inc()
	if err := body(ctx); err != nil {
		monitoring.SweepFailures.WithLabelValues(name).Inc()
		logger.Log.Error("scheduler loop iteration failed", zap.String("loop", name), zap.Error(err))
	}
}
