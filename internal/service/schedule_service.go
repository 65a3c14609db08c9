package service

import (
	"context"
	"fmt"
	"time"

	"schoolmed_backend/internal/config"
	"schoolmed_backend/internal/model"
	"schoolmed_backend/pkg/cache"
	"schoolmed_backend/pkg/logger"
	"schoolmed_backend/pkg/monitoring"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"
)

// GenerationResult 一次排程生成的结果。部分失败不致命，
// 成功的剂量照常落库，失败条目记录在 Errors 里。
type GenerationResult struct {
	Requested int      `json:"requested"`
	Created   int      `json:"created"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// ScheduleService 把用药申请单的频率规则展开成具体的剂量实例。
type ScheduleService struct {
	Orders OrderStore
	Doses  DoseStore
	Cache  Invalidator
	Cfg    *config.SchedulerHolder
	Now    func() time.Time
}

func NewScheduleService(orders OrderStore, doses DoseStore, inv Invalidator, cfg *config.SchedulerHolder) *ScheduleService {
	return &ScheduleService{
		Orders: orders,
		Doses:  doses,
		Cache:  inv,
		Cfg:    cfg,
		Now:    time.Now,
	}
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// GenerateForOrder 为一张生效单据在 [from, to] 闭区间内补齐缺失的剂量实例。
// 幂等：已存在的 (order, date, time) 一律跳过，写入前再查一次以容忍并发触发。
func (s *ScheduleService) GenerateForOrder(ctx context.Context, order *model.MedicationOrder, from, to time.Time) (*GenerationResult, error) {
	result := &GenerationResult{}
	if order == nil {
		return result, fmt.Errorf("order is nil")
	}
	if order.Status != model.OrderActive {
		return result, fmt.Errorf("order %d is %s, only active orders generate doses", order.ID, order.Status)
	}

	from = model.DateOnly(from)
	to = model.DateOnly(to)
	if start := model.DateOnly(order.StartDate); from.Before(start) {
		from = start
	}
	if end := model.DateOnly(order.EndDate); to.After(end) {
		to = end
	}
	if order.ExpiryDate != nil {
		if exp := model.DateOnly(*order.ExpiryDate); to.After(exp) {
			to = exp
		}
	}
	if to.Before(from) {
		return result, nil
	}

	dates, err := s.expandDates(order, from, to)
	if err != nil {
		return result, err
	}

	clocks := s.resolveTimes(order, result)
	if len(clocks) == 0 {
		return result, fmt.Errorf("order %d has no usable dose times", order.ID)
	}

	for _, date := range dates {
		for _, clock := range clocks {
			result.Requested++

			// 写前复查，容忍多个触发源并发生成
			exists, err := s.Doses.Exists(order.ID, date, clock)
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", date.Format("2006-01-02"), clock, err))
				continue
			}
			if exists {
				result.Skipped++
				continue
			}

			dose := &model.DoseInstance{
				OrderID:       order.ID,
				ScheduledDate: date,
				ScheduledTime: clock,
				Dosage:        order.Dosage,
				Priority:      order.Priority,
				Status:        model.DosePending,
			}
			if err := s.Doses.Create(dose); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", date.Format("2006-01-02"), clock, err))
				continue
			}
			result.Created++
		}
	}

	if result.Created > 0 {
		monitoring.DosesGenerated.Add(float64(result.Created))
		s.invalidate(ctx)
	}

	logger.Log.Info("dose generation finished",
		zap.Uint("orderId", order.ID),
		zap.String("from", from.Format("2006-01-02")),
		zap.String("to", to.Format("2006-01-02")),
		zap.Int("requested", result.Requested),
		zap.Int("created", result.Created),
		zap.Int("failed", result.Failed))

	return result, nil
}

// expandDates 按频率规则展开日期，再剔除周末与跳过日期。
func (s *ScheduleService) expandDates(order *model.MedicationOrder, from, to time.Time) ([]time.Time, error) {
	anchor := model.DateOnly(order.StartDate)

	opt := rrule.ROption{Dtstart: anchor}
	switch order.FrequencyType {
	case model.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case model.FrequencyEveryOther:
		opt.Freq = rrule.DAILY
		opt.Interval = 2
	case model.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
	case model.FrequencyBiweekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2
	case model.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
	case model.FrequencySpecificDays:
		opt.Freq = rrule.WEEKLY
		for _, wd := range order.WeekDays {
			if wd < 0 || wd > 6 {
				logger.Log.Warn("ignoring invalid weekday on order", zap.Uint("orderId", order.ID), zap.Int("weekday", wd))
				continue
			}
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[time.Weekday(wd)])
		}
		if len(opt.Byweekday) == 0 {
			return nil, fmt.Errorf("order %d uses specific_days but has no valid weekdays", order.ID)
		}
	default:
		return nil, fmt.Errorf("order %d has unknown frequency %q", order.ID, order.FrequencyType)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(order.SkipDates))
	for _, raw := range order.SkipDates {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			// 脏数据只记日志，不中断生成
			logger.Log.Warn("ignoring malformed skip date", zap.Uint("orderId", order.ID), zap.String("value", raw))
			continue
		}
		skip[d.Format("2006-01-02")] = true
	}

	var dates []time.Time
	for _, occ := range rule.Between(from, to.Add(23*time.Hour+59*time.Minute), true) {
		day := model.DateOnly(occ)
		if order.SkipWeekends && (day.Weekday() == time.Saturday || day.Weekday() == time.Sunday) {
			continue
		}
		if skip[day.Format("2006-01-02")] {
			continue
		}
		dates = append(dates, day)
	}
	return dates, nil
}

// resolveTimes 把单据上的给药时段（命名时段或 "HH:MM"）解析成钟点列表。
func (s *ScheduleService) resolveTimes(order *model.MedicationOrder, result *GenerationResult) []string {
	seen := make(map[string]bool)
	var clocks []string
	for _, v := range order.DoseTimes {
		clock, ok := model.ResolveDoseTime(v)
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("unrecognized dose time %q", v))
			logger.Log.Warn("ignoring unrecognized dose time", zap.Uint("orderId", order.ID), zap.String("value", v))
			continue
		}
		if !seen[clock] {
			seen[clock] = true
			clocks = append(clocks, clock)
		}
	}
	return clocks
}

// RunSweeps 30 秒一轮的排程补全：今日缺口、18 点后的明日预生成、
// 新批准单据的整段回填。单个单据的失败不影响其余单据。
func (s *ScheduleService) RunSweeps(ctx context.Context) error {
	now := s.Now()
	today := model.DateOnly(now)

	orders, err := s.Orders.FindActiveAutoGenerate()
	if err != nil {
		return fmt.Errorf("load auto-generate orders: %w", err)
	}

	s.sweepDay(ctx, orders, today, now)

	if now.Hour() >= s.Cfg.Load().TomorrowGateHour {
		s.sweepDay(ctx, orders, today.AddDate(0, 0, 1), now)
	}

	s.sweepRecentlyApproved(ctx, now)
	return nil
}

func (s *ScheduleService) sweepDay(ctx context.Context, orders []*model.MedicationOrder, day time.Time, now time.Time) {
	for _, order := range orders {
		if !order.WithinWindow(day) {
			continue
		}
		has, err := s.Doses.HasOnDate(order.ID, day)
		if err != nil {
			logger.Log.Error("dose existence check failed", zap.Uint("orderId", order.ID), zap.Error(err))
			continue
		}
		if has {
			continue
		}
		if _, err := s.GenerateForOrder(ctx, order, day, day); err != nil {
			logger.Log.Error("sweep generation failed", zap.Uint("orderId", order.ID), zap.Error(err))
		}
	}
}

// sweepRecentlyApproved 对最近批准的单据回填从今天到结束日的整段排程。
func (s *ScheduleService) sweepRecentlyApproved(ctx context.Context, now time.Time) {
	since := now.Add(-time.Duration(s.Cfg.Load().ApprovedBackfillMinutes) * time.Minute)
	orders, err := s.Orders.FindActiveApprovedSince(since)
	if err != nil {
		logger.Log.Error("load recently approved orders failed", zap.Error(err))
		return
	}
	today := model.DateOnly(now)
	for _, order := range orders {
		from := today
		if start := model.DateOnly(order.StartDate); start.After(from) {
			from = start
		}
		if _, err := s.GenerateForOrder(ctx, order, from, order.EndDate); err != nil {
			logger.Log.Error("backfill generation failed", zap.Uint("orderId", order.ID), zap.Error(err))
		}
	}
}

func (s *ScheduleService) invalidate(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.RemoveByPrefix(ctx, cache.PrefixDoseSchedule); err != nil {
		logger.Log.Error("cache invalidation failed", zap.String("prefix", cache.PrefixDoseSchedule), zap.Error(err))
	}
	if err := s.Cache.InvalidateTrackingSet(ctx, cache.SetDoseSchedules); err != nil {
		logger.Log.Error("tracking set invalidation failed", zap.String("set", cache.SetDoseSchedules), zap.Error(err))
	}
}
