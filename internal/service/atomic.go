package service

import (
	"context"

	"schoolmed_backend/internal/repository"

	"gorm.io/gorm"
)

// GormAtomic 把回调里的写入放进一个 gorm 事务。回调拿到的是
// 绑定到事务连接的仓储，提交或回滚由事务统一决定。
type GormAtomic struct {
	DB *gorm.DB
}

func NewGormAtomic(db *gorm.DB) *GormAtomic {
	return &GormAtomic{DB: db}
}

func (g *GormAtomic) Transact(ctx context.Context, fn func(tx *TxStores) error) error {
	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&TxStores{
			Orders:  repository.NewMedicationOrderRepository(tx),
			Doses:   repository.NewDoseInstanceRepository(tx),
			Records: repository.NewAdministrationRecordRepository(tx),
			Notices: repository.NewNotificationRepository(tx),
		})
	})
}
