package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"schoolmed_backend/internal/model"
	"schoolmed_backend/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	logger.Log = zap.NewNop()
}

// 内存假仓储，行为对齐 gorm 实现：ID 自增、唯一键冲突报错、软删除即移除。

type fakeOrderStore struct {
	orders map[uint]*model.MedicationOrder
	nextID uint
	doses  *fakeDoseStore // 清理时的待处理剂量复查，可不设
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[uint]*model.MedicationOrder), nextID: 1}
}

func (f *fakeOrderStore) Create(o *model.MedicationOrder) error {
	o.ID = f.nextID
	f.nextID++
	f.orders[o.ID] = o
	return nil
}

func (f *fakeOrderStore) Save(o *model.MedicationOrder) error {
	f.orders[o.ID] = o
	return nil
}

func (f *fakeOrderStore) FindByID(id uint) (*model.MedicationOrder, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return o, nil
}

func (f *fakeOrderStore) FindByParent(parentID uint) ([]*model.MedicationOrder, error) {
	var out []*model.MedicationOrder
	for _, o := range f.orders {
		if o.ParentID == parentID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) FindActiveAutoGenerate() ([]*model.MedicationOrder, error) {
	var out []*model.MedicationOrder
	for _, o := range f.orders {
		if o.Status == model.OrderActive && o.AutoGenerate {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeOrderStore) FindActiveApprovedSince(since time.Time) ([]*model.MedicationOrder, error) {
	var out []*model.MedicationOrder
	for _, o := range f.orders {
		if o.Status == model.OrderActive && o.ApprovedAt != nil && !o.ApprovedAt.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) FindActiveLowStock(threshold int) ([]*model.MedicationOrder, error) {
	var out []*model.MedicationOrder
	for _, o := range f.orders {
		if o.Status == model.OrderActive && !o.LowStockAlertSent && o.RemainingDoses <= threshold {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) FindActiveExpiringBefore(cutoff time.Time) ([]*model.MedicationOrder, error) {
	var out []*model.MedicationOrder
	for _, o := range f.orders {
		if o.Status == model.OrderActive && !o.ExpiryAlertSent && o.ExpiryDate != nil && !o.ExpiryDate.After(cutoff) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) SoftDeleteEndedBefore(cutoff time.Time, limit int) (int64, error) {
	var removed int64
	for id, o := range f.orders {
		if removed >= int64(limit) {
			break
		}
		if !o.Status.IsTerminal() || !o.EndDate.Before(cutoff) {
			continue
		}
		if f.doses != nil && f.doses.hasPending(id) {
			continue
		}
		delete(f.orders, id)
		removed++
	}
	return removed, nil
}

type fakeDoseStore struct {
	doses  map[uint]*model.DoseInstance
	nextID uint
}

func newFakeDoseStore() *fakeDoseStore {
	return &fakeDoseStore{doses: make(map[uint]*model.DoseInstance), nextID: 1}
}

func (f *fakeDoseStore) key(orderID uint, date time.Time, clock string) string {
	return fmt.Sprintf("%d|%s|%s", orderID, model.DateOnly(date).Format("2006-01-02"), clock)
}

func (f *fakeDoseStore) Create(d *model.DoseInstance) error {
	for _, existing := range f.doses {
		if f.key(existing.OrderID, existing.ScheduledDate, existing.ScheduledTime) == f.key(d.OrderID, d.ScheduledDate, d.ScheduledTime) {
			return fmt.Errorf("duplicate dose for order %d at %s %s", d.OrderID, d.ScheduledDate.Format("2006-01-02"), d.ScheduledTime)
		}
	}
	d.ID = f.nextID
	f.nextID++
	f.doses[d.ID] = d
	return nil
}

func (f *fakeDoseStore) Save(d *model.DoseInstance) error {
	f.doses[d.ID] = d
	return nil
}

func (f *fakeDoseStore) FindByID(id uint) (*model.DoseInstance, error) {
	d, ok := f.doses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return d, nil
}

func (f *fakeDoseStore) Exists(orderID uint, date time.Time, clock string) (bool, error) {
	for _, d := range f.doses {
		if d.OrderID == orderID && model.DateOnly(d.ScheduledDate).Equal(model.DateOnly(date)) && d.ScheduledTime == clock {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDoseStore) HasOnDate(orderID uint, date time.Time) (bool, error) {
	for _, d := range f.doses {
		if d.OrderID == orderID && model.DateOnly(d.ScheduledDate).Equal(model.DateOnly(date)) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDoseStore) FindPendingOnDate(date time.Time) ([]*model.DoseInstance, error) {
	var out []*model.DoseInstance
	for _, d := range f.doses {
		if d.Status == model.DosePending && model.DateOnly(d.ScheduledDate).Equal(model.DateOnly(date)) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].ScheduledTime < out[j].ScheduledTime
	})
	return out, nil
}

func (f *fakeDoseStore) FindPendingDueBefore(cutoff time.Time) ([]*model.DoseInstance, error) {
	var out []*model.DoseInstance
	for _, d := range f.doses {
		if d.Status == model.DosePending && d.DueAt().Before(cutoff) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDoseStore) hasPending(orderID uint) bool {
	for _, d := range f.doses {
		if d.OrderID == orderID && d.Status == model.DosePending {
			return true
		}
	}
	return false
}

func (f *fakeDoseStore) SoftDeleteTerminalBefore(cutoff time.Time, limit int) (int64, error) {
	var removed int64
	for id, d := range f.doses {
		if removed >= int64(limit) {
			break
		}
		if d.Status != model.DosePending && d.ScheduledDate.Before(cutoff) {
			delete(f.doses, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeDoseStore) all() []*model.DoseInstance {
	var out []*model.DoseInstance
	for _, d := range f.doses {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeRecordStore struct {
	records []*model.AdministrationRecord
}

func (f *fakeRecordStore) Create(rec *model.AdministrationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecordStore) SoftDeleteOlderThan(cutoff time.Time, limit int) (int64, error) {
	var kept []*model.AdministrationRecord
	var removed int64
	for _, rec := range f.records {
		if removed < int64(limit) && rec.AdministeredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	f.records = kept
	return removed, nil
}

type fakeNotificationStore struct {
	notices []*model.Notification
	now     func() time.Time
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{now: time.Now}
}

func (f *fakeNotificationStore) Create(n *model.Notification) error {
	n.CreatedAt = f.now()
	f.notices = append(f.notices, n)
	return nil
}

func (f *fakeNotificationStore) CreateBatch(ns []*model.Notification) error {
	for _, n := range ns {
		if err := f.Create(n); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeNotificationStore) ExistsForIncidentSince(incidentID uint, kind model.NotificationType, since time.Time) (bool, error) {
	for _, n := range f.notices {
		if n.IncidentID != nil && *n.IncidentID == incidentID && n.Type == kind && !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeNotificationStore) SoftDeleteByIncident(incidentID uint) (int64, error) {
	var kept []*model.Notification
	var removed int64
	for _, n := range f.notices {
		if n.IncidentID != nil && *n.IncidentID == incidentID {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	f.notices = kept
	return removed, nil
}

func (f *fakeNotificationStore) SoftDeleteReadBefore(cutoff time.Time, limit int) (int64, error) {
	var kept []*model.Notification
	var removed int64
	for _, n := range f.notices {
		if removed < int64(limit) && n.IsRead && n.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	f.notices = kept
	return removed, nil
}

func (f *fakeNotificationStore) byType(kind model.NotificationType) []*model.Notification {
	var out []*model.Notification
	for _, n := range f.notices {
		if n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

type fakeIncidentStore struct {
	incidents map[uint]*model.HealthIncident
	nextID    uint
}

func newFakeIncidentStore() *fakeIncidentStore {
	return &fakeIncidentStore{incidents: make(map[uint]*model.HealthIncident), nextID: 1}
}

func (f *fakeIncidentStore) Create(inc *model.HealthIncident) error {
	inc.ID = f.nextID
	f.nextID++
	f.incidents[inc.ID] = inc
	return nil
}

func (f *fakeIncidentStore) Save(inc *model.HealthIncident) error {
	f.incidents[inc.ID] = inc
	return nil
}

func (f *fakeIncidentStore) FindByID(id uint) (*model.HealthIncident, error) {
	inc, ok := f.incidents[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return inc, nil
}

func (f *fakeIncidentStore) FindUnassignedPendingBefore(cutoff time.Time) ([]*model.HealthIncident, error) {
	var out []*model.HealthIncident
	for _, inc := range f.incidents {
		if inc.Status == model.IncidentPending && inc.AssignedTo == nil && !inc.CreatedAt.After(cutoff) {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (f *fakeIncidentStore) FindStaleInProgress(cutoff time.Time) ([]*model.HealthIncident, error) {
	var out []*model.HealthIncident
	for _, inc := range f.incidents {
		if inc.Status == model.IncidentInProgress && inc.AssignedAt != nil && !inc.AssignedAt.After(cutoff) {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (f *fakeIncidentStore) FindCompletedBefore(cutoff time.Time) ([]*model.HealthIncident, error) {
	var out []*model.HealthIncident
	for _, inc := range f.incidents {
		if inc.Status == model.IncidentCompleted && inc.CompletedAt != nil && !inc.CompletedAt.After(cutoff) {
			out = append(out, inc)
		}
	}
	return out, nil
}

type fakeUserDirectory struct {
	users    map[uint]*model.User
	students map[uint]*model.StudentProfile
}

func newFakeUserDirectory() *fakeUserDirectory {
	return &fakeUserDirectory{
		users:    make(map[uint]*model.User),
		students: make(map[uint]*model.StudentProfile),
	}
}

func (f *fakeUserDirectory) addUser(id uint, role model.UserRole) *model.User {
	u := &model.User{Role: role}
	u.ID = id
	f.users[id] = u
	return u
}

func (f *fakeUserDirectory) addStudent(id, parentID uint, userID *uint) *model.StudentProfile {
	s := &model.StudentProfile{ParentID: parentID, UserID: userID, FullName: fmt.Sprintf("student-%d", id)}
	s.ID = id
	f.students[id] = s
	return s
}

func (f *fakeUserDirectory) FindByID(id uint) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (f *fakeUserDirectory) FindActiveByRole(roles ...model.UserRole) ([]*model.User, error) {
	var out []*model.User
	for _, u := range f.users {
		if u.Disabled {
			continue
		}
		for _, r := range roles {
			if u.Role == r {
				out = append(out, u)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUserDirectory) FindStudentByID(id uint) (*model.StudentProfile, error) {
	s, ok := f.students[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (f *fakeUserDirectory) FindStudentByUserID(userID uint) (*model.StudentProfile, error) {
	for _, s := range f.students {
		if s.UserID != nil && *s.UserID == userID {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// fakeCache 内存版读缓存，值走 JSON 往返，和 Redis 实现一样返回副本。
type fakeCache struct {
	entries        map[string][]byte
	sets           map[string][]string
	prefixRemovals int
	setRemovals    int
}

func (f *fakeCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (f *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if f.entries == nil {
		f.entries = make(map[string][]byte)
	}
	f.entries[key] = raw
	return nil
}

func (f *fakeCache) AddToTrackingSet(ctx context.Context, key, set string) error {
	if f.sets == nil {
		f.sets = make(map[string][]string)
	}
	f.sets[set] = append(f.sets[set], key)
	return nil
}

func (f *fakeCache) RemoveByPrefix(ctx context.Context, prefix string) error {
	f.prefixRemovals++
	for key := range f.entries {
		if strings.HasPrefix(key, prefix) {
			delete(f.entries, key)
		}
	}
	return nil
}

func (f *fakeCache) InvalidateTrackingSet(ctx context.Context, set string) error {
	f.setRemovals++
	for _, key := range f.sets[set] {
		delete(f.entries, key)
	}
	delete(f.sets, set)
	return nil
}

// fakeAtomic 把事务回调直接跑在共享的假仓储上；err 非空时模拟
// 事务整体失败，回调不执行。
type fakeAtomic struct {
	stores *TxStores
	err    error
}

func (f *fakeAtomic) Transact(ctx context.Context, fn func(tx *TxStores) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(f.stores)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
