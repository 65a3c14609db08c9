package service

import (
	"context"
	"time"

	"schoolmed_backend/internal/model"
)

// 各聚合的窄存储接口。调度核心只声明自己真正用到的查询形状，
// gorm 仓储在 internal/repository 里实现，测试用内存假实现。

type OrderStore interface {
	FindByID(id uint) (*model.MedicationOrder, error)
	Create(o *model.MedicationOrder) error
	Save(o *model.MedicationOrder) error
	FindByParent(parentID uint) ([]*model.MedicationOrder, error)
	// FindActiveAutoGenerate 返回所有启用自动排程的生效单据
	FindActiveAutoGenerate() ([]*model.MedicationOrder, error)
	// FindActiveApprovedSince 返回在 since 之后批准且已生效的单据（回填扫描）
	FindActiveApprovedSince(since time.Time) ([]*model.MedicationOrder, error)
	// FindActiveLowStock 返回剩余剂量不高于阈值且尚未发过库存提醒的生效单据
	FindActiveLowStock(threshold int) ([]*model.MedicationOrder, error)
	// FindActiveExpiringBefore 返回药品有效期早于 cutoff 且尚未发过过期提醒的生效单据
	FindActiveExpiringBefore(cutoff time.Time) ([]*model.MedicationOrder, error)
	// SoftDeleteEndedBefore 逻辑删除结束日期早于 cutoff、处于终态、
	// 且已无待处理剂量的单据，单批不超过 limit 条
	SoftDeleteEndedBefore(cutoff time.Time, limit int) (int64, error)
}

type DoseStore interface {
	FindByID(id uint) (*model.DoseInstance, error)
	Create(d *model.DoseInstance) error
	Save(d *model.DoseInstance) error
	// Exists 按 (order, date, time) 判重，幂等生成的写前复查
	Exists(orderID uint, date time.Time, clock string) (bool, error)
	HasOnDate(orderID uint, date time.Time) (bool, error)
	// FindPendingOnDate 当日待处理剂量，按优先级降序、应服时间升序
	FindPendingOnDate(date time.Time) ([]*model.DoseInstance, error)
	// FindPendingDueBefore 应服时间早于 cutoff 的待处理剂量（超时扫描）
	FindPendingDueBefore(cutoff time.Time) ([]*model.DoseInstance, error)
	SoftDeleteTerminalBefore(cutoff time.Time, limit int) (int64, error)
}

type AdministrationStore interface {
	Create(rec *model.AdministrationRecord) error
	SoftDeleteOlderThan(cutoff time.Time, limit int) (int64, error)
}

type NotificationStore interface {
	Create(n *model.Notification) error
	CreateBatch(ns []*model.Notification) error
	// ExistsForIncidentSince 结构化去重：同一事件、同一通知类型、
	// 在 since 之后是否已经生成过通知
	ExistsForIncidentSince(incidentID uint, kind model.NotificationType, since time.Time) (bool, error)
	SoftDeleteByIncident(incidentID uint) (int64, error)
	SoftDeleteReadBefore(cutoff time.Time, limit int) (int64, error)
}

type IncidentStore interface {
	FindByID(id uint) (*model.HealthIncident, error)
	Save(inc *model.HealthIncident) error
	Create(inc *model.HealthIncident) error
	FindUnassignedPendingBefore(cutoff time.Time) ([]*model.HealthIncident, error)
	FindStaleInProgress(cutoff time.Time) ([]*model.HealthIncident, error)
	FindCompletedBefore(cutoff time.Time) ([]*model.HealthIncident, error)
}

type UserDirectory interface {
	FindByID(id uint) (*model.User, error)
	// FindActiveByRole 返回未停用的指定角色用户
	FindActiveByRole(roles ...model.UserRole) ([]*model.User, error)
	FindStudentByID(id uint) (*model.StudentProfile, error)
	FindStudentByUserID(userID uint) (*model.StudentProfile, error)
}

// Invalidator 缓存失效协作方。每次状态变更提交后同步调用。
type Invalidator interface {
	RemoveByPrefix(ctx context.Context, prefix string) error
	InvalidateTrackingSet(ctx context.Context, set string) error
}

// ScheduleCache 当日排程列表的读缓存。写入的键同时登记进跟踪集，
// 失效时按前缀和跟踪集双路清除。
type ScheduleCache interface {
	Invalidator
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	AddToTrackingSet(ctx context.Context, key, set string) error
}

// TxStores 同一数据库事务内的仓储视图。
type TxStores struct {
	Orders  OrderStore
	Doses   DoseStore
	Records AdministrationStore
	Notices NotificationStore
}

// Atomic 多实体原子提交。fn 内通过 tx 做的写入要么一起提交，
// 要么一起回滚；fn 返回非 nil 即回滚。
type Atomic interface {
	Transact(ctx context.Context, fn func(tx *TxStores) error) error
}
