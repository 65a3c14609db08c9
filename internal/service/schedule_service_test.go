package service

import (
	"context"
	"testing"
	"time"

	"schoolmed_backend/internal/config"
	"schoolmed_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedulerConfig() *config.SchedulerHolder {
	return config.NewSchedulerHolder(testSchedulerSettings())
}

func testSchedulerSettings() config.SchedulerConfig {
	return config.SchedulerConfig{
		EscalationIntervalSeconds: 15,
		GenerationIntervalSeconds: 30,
		ReminderIntervalSeconds:   60,
		RetentionIntervalHours:    6,
		TomorrowGateHour:          18,
		RetentionRunHours:         []int{2, 20},
		EscalationAgeSeconds:      30,
		EscalationDedupMinutes:    3,
		ProgressReminderMinutes:   2,
		ProgressDedupMinutes:      2,
		IncidentCleanupMinutes:    5,
		OverdueGraceMinutes:       60,
		UpcomingReminderMinutes:   5,
		ImmediateReminderMinutes:  1,
		MaxRemindersPerDose:       2,
		LowStockThreshold:         3,
		ExpiryWarningDays:         7,
		ApprovedBackfillMinutes:   10,
		RetentionDays:             90,
	}
}

func newScheduleFixture() (*ScheduleService, *fakeOrderStore, *fakeDoseStore) {
	orders := newFakeOrderStore()
	doses := newFakeDoseStore()
	svc := NewScheduleService(orders, doses, &fakeCache{}, testSchedulerConfig())
	return svc, orders, doses
}

func activeOrder(orders *fakeOrderStore, start, end time.Time, freq model.FrequencyType, times ...string) *model.MedicationOrder {
	o := &model.MedicationOrder{
		StudentID:      1,
		ParentID:       10,
		MedicationName: "Paracetamol",
		Dosage:         "250mg",
		StartDate:      start,
		EndDate:        end,
		FrequencyType:  freq,
		DoseTimes:      times,
		SkipWeekends:   true,
		AutoGenerate:   true,
		Priority:       model.PriorityNormal,
		Status:         model.OrderActive,
	}
	_ = orders.Create(o)
	return o
}

// 2026-03-02 是周一
func TestGenerateDailySkipsWeekends(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 8), model.FrequencyDaily, "after_breakfast", "after_lunch")

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 8))
	require.NoError(t, err)

	// 周一到周五共 5 天，每天 2 个时段
	assert.Equal(t, 10, result.Created)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, doses.all(), 10)

	for _, d := range doses.all() {
		wd := d.ScheduledDate.Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
		assert.Equal(t, model.DosePending, d.Status)
		assert.Equal(t, "250mg", d.Dosage)
	}
}

func TestGenerateIncludesWeekendsWhenAllowed(t *testing.T) {
	svc, orders, _ := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 8), model.FrequencyDaily, "after_breakfast")
	order.SkipWeekends = false

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 8))
	require.NoError(t, err)
	assert.Equal(t, 7, result.Created)
}

func TestGenerateWeekly(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 22), model.FrequencyWeekly, "before_lunch")

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 22))
	require.NoError(t, err)

	// 3 个周一：3/2、3/9、3/16
	assert.Equal(t, 3, result.Created)
	for _, d := range doses.all() {
		assert.Equal(t, time.Monday, d.ScheduledDate.Weekday())
		assert.Equal(t, "11:00", d.ScheduledTime)
	}
}

func TestGenerateEveryOtherDay(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 6), model.FrequencyEveryOther, "after_breakfast")

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 6))
	require.NoError(t, err)

	// 3/2、3/4、3/6
	assert.Equal(t, 3, result.Created)
	got := map[string]bool{}
	for _, d := range doses.all() {
		got[d.ScheduledDate.Format("2006-01-02")] = true
	}
	assert.True(t, got["2026-03-02"])
	assert.True(t, got["2026-03-04"])
	assert.True(t, got["2026-03-06"])
}

func TestGenerateBiweekly(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 22), model.FrequencyBiweekly, "after_breakfast")

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 22))
	require.NoError(t, err)

	// 3/2 与 3/16
	assert.Equal(t, 2, result.Created)
	got := map[string]bool{}
	for _, d := range doses.all() {
		got[d.ScheduledDate.Format("2006-01-02")] = true
	}
	assert.True(t, got["2026-03-02"])
	assert.True(t, got["2026-03-16"])
}

func TestGenerateMonthly(t *testing.T) {
	svc, orders, _ := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 5, 31), model.FrequencyMonthly, "after_breakfast")
	order.SkipWeekends = false

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 5, 31))
	require.NoError(t, err)

	// 每月 2 号：3/2、4/2、5/2
	assert.Equal(t, 3, result.Created)
}

func TestGenerateSpecificDays(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 8), model.FrequencySpecificDays, "after_lunch")
	order.WeekDays = []int{int(time.Monday), int(time.Wednesday), int(time.Friday)}

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 8))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Created)
	for _, d := range doses.all() {
		wd := d.ScheduledDate.Weekday()
		assert.Contains(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, wd)
	}
}

func TestGenerateSpecificDaysWithoutWeekdaysFails(t *testing.T) {
	svc, orders, _ := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 8), model.FrequencySpecificDays, "after_lunch")

	_, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 8))
	assert.Error(t, err)
}

func TestGenerateHonorsSkipDates(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 6), model.FrequencyDaily, "after_breakfast")
	order.SkipDates = []string{"2026-03-04", "not-a-date"}

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 6))
	require.NoError(t, err)

	// 跳过 3/4，非法日期条目忽略不致错
	assert.Equal(t, 4, result.Created)
	for _, d := range doses.all() {
		assert.NotEqual(t, "2026-03-04", d.ScheduledDate.Format("2006-01-02"))
	}
}

func TestGenerateIdempotent(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 6), model.FrequencyDaily, "after_breakfast", "after_lunch")

	first, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 6))
	require.NoError(t, err)
	assert.Equal(t, 10, first.Created)

	second, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 6))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 10, second.Skipped)
	assert.Len(t, doses.all(), 10)
}

func TestGenerateClampsToExpiry(t *testing.T) {
	svc, orders, _ := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 6), model.FrequencyDaily, "after_breakfast")
	exp := date(2026, 3, 4)
	order.ExpiryDate = &exp

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 6))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)
}

func TestGenerateRejectsInactiveOrder(t *testing.T) {
	svc, orders, _ := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 6), model.FrequencyDaily, "after_breakfast")
	order.Status = model.OrderPendingApproval

	_, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 6))
	assert.Error(t, err)
}

func TestGenerateDeduplicatesDoseTimes(t *testing.T) {
	svc, orders, _ := newScheduleFixture()
	// before_breakfast 映射到 07:00，与显式 07:00 重复
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 2), model.FrequencyDaily, "before_breakfast", "07:00")

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
}

func TestGenerateUnknownDoseTimeCollected(t *testing.T) {
	svc, orders, _ := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 2), model.FrequencyDaily, "after_breakfast", "garbage")

	result, err := svc.GenerateForOrder(context.Background(), order, date(2026, 3, 2), date(2026, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.NotEmpty(t, result.Errors)
}

func TestRunSweepsTodayOnlyBeforeGate(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	activeOrder(orders, date(2026, 3, 2), date(2026, 3, 6), model.FrequencyDaily, "after_breakfast")

	// 周二 17 点，未到明日预生成时刻
	svc.Now = fixedClock(time.Date(2026, 3, 3, 17, 0, 0, 0, time.Local))
	require.NoError(t, svc.RunSweeps(context.Background()))

	all := doses.all()
	require.Len(t, all, 1)
	assert.Equal(t, "2026-03-03", all[0].ScheduledDate.Format("2006-01-02"))
}

func TestRunSweepsTomorrowAfterGate(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	activeOrder(orders, date(2026, 3, 2), date(2026, 3, 6), model.FrequencyDaily, "after_breakfast")

	svc.Now = fixedClock(time.Date(2026, 3, 3, 19, 0, 0, 0, time.Local))
	require.NoError(t, svc.RunSweeps(context.Background()))

	got := map[string]bool{}
	for _, d := range doses.all() {
		got[d.ScheduledDate.Format("2006-01-02")] = true
	}
	assert.True(t, got["2026-03-03"])
	assert.True(t, got["2026-03-04"])
	assert.Len(t, got, 2)
}

func TestRunSweepsBackfillsRecentlyApproved(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	order := activeOrder(orders, date(2026, 3, 2), date(2026, 3, 6), model.FrequencyDaily, "after_breakfast")
	order.AutoGenerate = false // 不走当日缺口扫描，只验证回填路径
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local)
	approvedAt := now.Add(-5 * time.Minute)
	order.ApprovedAt = &approvedAt

	svc.Now = fixedClock(now)
	require.NoError(t, svc.RunSweeps(context.Background()))

	// 从今天 3/3 到结束日 3/6，跳过周末 3/7 之前的工作日：3/3、3/4、3/5、3/6
	assert.Len(t, doses.all(), 4)
}

func TestRunSweepsIsIdempotentAcrossTicks(t *testing.T) {
	svc, orders, doses := newScheduleFixture()
	activeOrder(orders, date(2026, 3, 2), date(2026, 3, 6), model.FrequencyDaily, "after_breakfast")

	svc.Now = fixedClock(time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local))
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.RunSweeps(context.Background()))
	}
	assert.Len(t, doses.all(), 1)
}
