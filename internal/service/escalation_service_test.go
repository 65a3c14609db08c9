package service

import (
	"context"
	"testing"
	"time"

	"schoolmed_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type escalationFixture struct {
	svc       *EscalationService
	incidents *fakeIncidentStore
	notices   *fakeNotificationStore
	users     *fakeUserDirectory
}

func newEscalationFixture(now time.Time) *escalationFixture {
	f := &escalationFixture{
		incidents: newFakeIncidentStore(),
		notices:   newFakeNotificationStore(),
		users:     newFakeUserDirectory(),
	}
	f.svc = NewEscalationService(f.incidents, f.notices, f.users, testSchedulerConfig())
	f.setNow(now)

	f.users.addUser(2, model.Manager)
	f.users.addUser(3, model.Manager)
	f.users.addUser(1, model.SchoolNurse)
	return f
}

func (f *escalationFixture) setNow(now time.Time) {
	clock := fixedClock(now)
	f.svc.Now = clock
	f.notices.now = clock
}

func (f *escalationFixture) addPendingIncident(createdAt time.Time) *model.HealthIncident {
	inc := &model.HealthIncident{
		StudentID:  1,
		ReportedBy: 1,
		Title:      "Sốt cao",
		Severity:   model.SeveritySevere,
		OccurredAt: createdAt,
		Status:     model.IncidentPending,
	}
	_ = f.incidents.Create(inc)
	inc.CreatedAt = createdAt
	return inc
}

func TestEscalateUnassignedNotifiesManagers(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local)
	f := newEscalationFixture(now)
	inc := f.addPendingIncident(now.Add(-45 * time.Second))

	require.NoError(t, f.svc.Tick(context.Background()))

	alerts := f.notices.byType(model.NotifyIncidentEscalation)
	// 每个管理员一条，护士不在升级名单里
	require.Len(t, alerts, 2)
	for _, n := range alerts {
		assert.NotEqual(t, uint(1), n.UserID)
		assert.True(t, n.RequiresConfirmation)
		require.NotNil(t, n.IncidentID)
		assert.Equal(t, inc.ID, *n.IncidentID)
	}
}

func TestEscalateSkipsFreshIncident(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local)
	f := newEscalationFixture(now)
	f.addPendingIncident(now.Add(-10 * time.Second))

	require.NoError(t, f.svc.Tick(context.Background()))
	assert.Empty(t, f.notices.byType(model.NotifyIncidentEscalation))
}

func TestEscalationDedupedWithinWindow(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local)
	f := newEscalationFixture(now)
	f.addPendingIncident(now.Add(-time.Minute))

	// 去重窗口内多次 tick 只发一波
	for i := 0; i < 4; i++ {
		require.NoError(t, f.svc.Tick(context.Background()))
	}
	assert.Len(t, f.notices.byType(model.NotifyIncidentEscalation), 2)
}

func TestEscalationRepeatsAfterDedupWindow(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local)
	f := newEscalationFixture(now)
	f.addPendingIncident(now.Add(-time.Minute))

	require.NoError(t, f.svc.Tick(context.Background()))
	require.Len(t, f.notices.byType(model.NotifyIncidentEscalation), 2)

	// 超过去重窗口后重新升级
	f.setNow(now.Add(4 * time.Minute))
	require.NoError(t, f.svc.Tick(context.Background()))
	assert.Len(t, f.notices.byType(model.NotifyIncidentEscalation), 4)
}

func TestEscalationIgnoresAssignedIncident(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local)
	f := newEscalationFixture(now)
	inc := f.addPendingIncident(now.Add(-time.Minute))
	nurse := uint(1)
	inc.AssignedTo = &nurse

	require.NoError(t, f.svc.Tick(context.Background()))
	assert.Empty(t, f.notices.byType(model.NotifyIncidentEscalation))
}

func TestRemindHandlersForStaleInProgress(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local)
	f := newEscalationFixture(now)
	inc := f.addPendingIncident(now.Add(-30 * time.Minute))
	nurse := uint(1)
	assignedAt := now.Add(-5 * time.Minute)
	inc.Status = model.IncidentInProgress
	inc.AssignedTo = &nurse
	inc.AssignedAt = &assignedAt

	require.NoError(t, f.svc.Tick(context.Background()))

	reminders := f.notices.byType(model.NotifyIncidentReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, nurse, reminders[0].UserID)

	// 窗口内不重发
	require.NoError(t, f.svc.Tick(context.Background()))
	assert.Len(t, f.notices.byType(model.NotifyIncidentReminder), 1)

	// 窗口过后再次提醒
	f.setNow(now.Add(3 * time.Minute))
	require.NoError(t, f.svc.Tick(context.Background()))
	assert.Len(t, f.notices.byType(model.NotifyIncidentReminder), 2)
}

func TestRemindHandlersSkipsRecentlyAssigned(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local)
	f := newEscalationFixture(now)
	inc := f.addPendingIncident(now.Add(-30 * time.Minute))
	nurse := uint(1)
	assignedAt := now.Add(-30 * time.Second)
	inc.Status = model.IncidentInProgress
	inc.AssignedTo = &nurse
	inc.AssignedAt = &assignedAt

	require.NoError(t, f.svc.Tick(context.Background()))
	assert.Empty(t, f.notices.byType(model.NotifyIncidentReminder))
}

func TestCleanupCompletedRemovesIncidentNotifications(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local)
	f := newEscalationFixture(now)
	inc := f.addPendingIncident(now.Add(-time.Hour))

	_ = f.notices.Create(&model.Notification{
		UserID:     2,
		Type:       model.NotifyIncidentEscalation,
		Title:      "Sự cố y tế chưa được xử lý",
		IncidentID: &inc.ID,
	})
	_ = f.notices.Create(&model.Notification{
		UserID: 2,
		Type:   model.NotifySystem,
		Title:  "không liên quan",
	})

	completedAt := now.Add(-10 * time.Minute)
	inc.Status = model.IncidentCompleted
	inc.CompletedAt = &completedAt

	require.NoError(t, f.svc.Tick(context.Background()))

	// 事件相关的通知清掉，其他保留
	assert.Empty(t, f.notices.byType(model.NotifyIncidentEscalation))
	assert.Len(t, f.notices.byType(model.NotifySystem), 1)
}

func TestCleanupWaitsForGracePeriod(t *testing.T) {
	now := time.Date(2026, 3, 3, 10, 0, 0, 0, time.Local)
	f := newEscalationFixture(now)
	inc := f.addPendingIncident(now.Add(-time.Hour))

	_ = f.notices.Create(&model.Notification{
		UserID:     2,
		Type:       model.NotifyIncidentEscalation,
		IncidentID: &inc.ID,
	})

	completedAt := now.Add(-2 * time.Minute)
	inc.Status = model.IncidentCompleted
	inc.CompletedAt = &completedAt

	require.NoError(t, f.svc.Tick(context.Background()))
	assert.Len(t, f.notices.byType(model.NotifyIncidentEscalation), 1)
}
