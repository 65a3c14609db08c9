package service

import (
	"context"
	"testing"
	"time"

	"schoolmed_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retentionFixture struct {
	svc     *RetentionService
	orders  *fakeOrderStore
	doses   *fakeDoseStore
	records *fakeRecordStore
	notices *fakeNotificationStore
}

func newRetentionFixture(now time.Time) *retentionFixture {
	f := &retentionFixture{
		orders:  newFakeOrderStore(),
		doses:   newFakeDoseStore(),
		records: &fakeRecordStore{},
		notices: newFakeNotificationStore(),
	}
	f.orders.doses = f.doses
	f.svc = NewRetentionService(f.orders, f.doses, f.records, f.notices, testSchedulerConfig())
	f.svc.Now = fixedClock(now)
	f.notices.now = fixedClock(now)
	return f
}

func (f *retentionFixture) seedAged(now time.Time) {
	old := now.AddDate(0, 0, -120)
	recent := now.AddDate(0, 0, -10)

	_ = f.orders.Create(&model.MedicationOrder{
		MedicationName: "hết liệu trình lâu rồi",
		EndDate:        old,
		Status:         model.OrderCompleted,
	})
	_ = f.orders.Create(&model.MedicationOrder{
		MedicationName: "vừa kết thúc",
		EndDate:        recent,
		Status:         model.OrderCompleted,
	})
	_ = f.orders.Create(&model.MedicationOrder{
		MedicationName: "đang hoạt động",
		EndDate:        old,
		Status:         model.OrderActive,
	})

	_ = f.doses.Create(&model.DoseInstance{OrderID: 1, ScheduledDate: model.DateOnly(old), ScheduledTime: "08:00", Status: model.DoseCompleted})
	_ = f.doses.Create(&model.DoseInstance{OrderID: 3, ScheduledDate: model.DateOnly(old), ScheduledTime: "12:00", Status: model.DosePending})
	_ = f.doses.Create(&model.DoseInstance{OrderID: 2, ScheduledDate: model.DateOnly(recent), ScheduledTime: "08:00", Status: model.DoseMissed})

	_ = f.records.Create(&model.AdministrationRecord{OrderID: 1, AdministeredAt: old})
	_ = f.records.Create(&model.AdministrationRecord{OrderID: 2, AdministeredAt: recent})

	oldNotice := &model.Notification{UserID: 10, Type: model.NotifySystem, IsRead: true}
	_ = f.notices.Create(oldNotice)
	oldNotice.CreatedAt = old
	unreadNotice := &model.Notification{UserID: 10, Type: model.NotifySystem}
	_ = f.notices.Create(unreadNotice)
	unreadNotice.CreatedAt = old
}

func TestSweepNoopOutsideRunWindow(t *testing.T) {
	now := time.Date(2026, 3, 3, 14, 0, 0, 0, time.Local)
	f := newRetentionFixture(now)
	f.seedAged(now)

	require.NoError(t, f.svc.Sweep(context.Background()))

	assert.Len(t, f.orders.orders, 3)
	assert.Len(t, f.doses.all(), 3)
	assert.Len(t, f.records.records, 2)
	assert.Len(t, f.notices.notices, 2)
}

func TestSweepPurgesAgedDataAtRunHour(t *testing.T) {
	now := time.Date(2026, 3, 3, 2, 0, 0, 0, time.Local)
	f := newRetentionFixture(now)
	f.seedAged(now)

	require.NoError(t, f.svc.Sweep(context.Background()))

	// 只有终态且超保留期的数据被清理
	assert.Len(t, f.orders.orders, 2)
	_, err := f.orders.FindByID(1)
	assert.Error(t, err)

	// 待处理剂量即使过期也保留给超时扫描处理
	remaining := f.doses.all()
	require.Len(t, remaining, 2)
	for _, d := range remaining {
		if d.ID == 1 {
			t.Fatalf("aged terminal dose should have been removed")
		}
	}

	require.Len(t, f.records.records, 1)
	assert.Equal(t, uint(2), f.records.records[0].OrderID)

	// 未读通知不清理
	require.Len(t, f.notices.notices, 1)
	assert.False(t, f.notices.notices[0].IsRead)
}

func TestSweepKeepsTerminalOrderWithPendingDoses(t *testing.T) {
	now := time.Date(2026, 3, 3, 2, 0, 0, 0, time.Local)
	f := newRetentionFixture(now)
	old := now.AddDate(0, 0, -120)

	_ = f.orders.Create(&model.MedicationOrder{
		MedicationName: "còn liều chưa xử lý",
		EndDate:        old,
		Status:         model.OrderDiscontinued,
	})
	dose := &model.DoseInstance{OrderID: 1, ScheduledDate: model.DateOnly(old), ScheduledTime: "08:00", Status: model.DosePending}
	_ = f.doses.Create(dose)

	require.NoError(t, f.svc.Sweep(context.Background()))

	// 终态且超保留期，但仍挂着待处理剂量的单据不清理
	_, err := f.orders.FindByID(1)
	assert.NoError(t, err)

	// 剂量转入终态后，下一轮先清剂量、单据随之可清
	dose.Status = model.DoseCancelled
	require.NoError(t, f.svc.Sweep(context.Background()))
	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.doses.all())
}

func TestSweepRunsAtEveningHourToo(t *testing.T) {
	now := time.Date(2026, 3, 3, 20, 0, 0, 0, time.Local)
	f := newRetentionFixture(now)
	f.seedAged(now)

	require.NoError(t, f.svc.Sweep(context.Background()))
	assert.Len(t, f.orders.orders, 2)
}

func TestSweepHonorsBatchLimit(t *testing.T) {
	now := time.Date(2026, 3, 3, 2, 0, 0, 0, time.Local)
	f := newRetentionFixture(now)
	old := now.AddDate(0, 0, -120)
	for i := 0; i < recordCleanupBatch+50; i++ {
		_ = f.records.Create(&model.AdministrationRecord{OrderID: 1, AdministeredAt: old})
	}

	require.NoError(t, f.svc.Sweep(context.Background()))

	// 单批封顶，剩余留给下一轮
	assert.Len(t, f.records.records, 50)
	require.NoError(t, f.svc.Sweep(context.Background()))
	assert.Empty(t, f.records.records)
}

func TestSweepIdempotentOnCleanData(t *testing.T) {
	now := time.Date(2026, 3, 3, 2, 0, 0, 0, time.Local)
	f := newRetentionFixture(now)
	_ = f.orders.Create(&model.MedicationOrder{MedicationName: "mới", EndDate: now, Status: model.OrderActive})

	require.NoError(t, f.svc.Sweep(context.Background()))
	require.NoError(t, f.svc.Sweep(context.Background()))
	assert.Len(t, f.orders.orders, 1)
}
