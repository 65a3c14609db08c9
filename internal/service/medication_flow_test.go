package service

import (
	"context"
	"testing"
	"time"

	"schoolmed_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 排程生成、给药、超时扫描的整日流程。
func TestFullMedicationDayFlow(t *testing.T) {
	orders := newFakeOrderStore()
	doses := newFakeDoseStore()
	records := &fakeRecordStore{}
	notices := newFakeNotificationStore()
	users := newFakeUserDirectory()
	cfg := testSchedulerConfig()

	users.addUser(1, model.SchoolNurse)
	users.addUser(10, model.Parent)

	tx := &fakeAtomic{stores: &TxStores{Orders: orders, Doses: doses, Records: records, Notices: notices}}
	gen := NewScheduleService(orders, doses, &fakeCache{}, cfg)
	admin := NewAdministrationService(orders, doses, records, notices, users, tx, &fakeCache{}, cfg)

	today := date(2026, 3, 3) // 周二
	order := &model.MedicationOrder{
		StudentID:      1,
		ParentID:       10,
		MedicationName: "Amoxicillin",
		Dosage:         "5ml",
		StartDate:      today,
		EndDate:        today.AddDate(0, 0, 2),
		FrequencyType:  model.FrequencyDaily,
		DoseTimes:      []string{"08:00"},
		AutoGenerate:   true,
		Priority:       model.PriorityNormal,
		TotalDoses:     10,
		RemainingDoses: 10,
		Status:         model.OrderActive,
	}
	require.NoError(t, orders.Create(order))

	// 生成三天的排程
	result, err := gen.GenerateForOrder(context.Background(), order, today, today.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Equal(t, 3, result.Created)
	all := doses.all()
	require.Len(t, all, 3)

	// 当天 9 点给第一剂
	admin.Now = fixedClock(time.Date(2026, 3, 3, 9, 0, 0, 0, time.Local))
	rec, err := admin.Administer(context.Background(), 1, model.SchoolNurse, AdministerRequest{
		DoseID:       all[0].ID,
		ActualDosage: "5ml",
	})
	require.NoError(t, err)
	assert.Equal(t, model.DoseCompleted, all[0].Status)
	assert.Equal(t, 9, order.RemainingDoses)
	require.NotNil(t, all[0].AdministrationID)
	assert.Equal(t, rec.ID, *all[0].AdministrationID)

	// 次日 8 点的剂量无人处理，过点 70 分钟后被扫描强制转为漏服
	admin.Now = fixedClock(time.Date(2026, 3, 4, 9, 10, 0, 0, time.Local))
	marked, err := admin.AutoMarkOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.Equal(t, model.DoseMissed, all[1].Status)
	assert.Contains(t, all[1].MissedReason, "Tự động đánh dấu")

	// 第三天的剂量不受影响，库存没有因漏服而减少
	assert.Equal(t, model.DosePending, all[2].Status)
	assert.Equal(t, 9, order.RemainingDoses)

	// 重复生成不会补出重复剂量
	again, err := gen.GenerateForOrder(context.Background(), order, today, today.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Len(t, doses.all(), 3)
}
