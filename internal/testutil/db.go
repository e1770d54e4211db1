// Package testutil 测试共用的内存数据库与固定数据。
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"groupbuy/internal/config"
	"groupbuy/internal/infrastructure/database"
	"groupbuy/internal/model"
)

// Epoch 测试里的固定起始时间
var Epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// NewDB 每个测试一个独立的内存 SQLite，已完成迁移
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Driver:   "sqlite",
		SQLite:   config.SQLiteConfig{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())},
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SeedUsers 创建 id 为 1..n 的用户
func SeedUsers(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, db.Create(&model.User{ID: int64(i), Nickname: fmt.Sprintf("user-%d", i)}).Error)
	}
}

// SeedGoods 创建一个开启拼团的商品
func SeedGoods(t *testing.T, db *gorm.DB, price int64, requiredCount, discount int) *model.Goods {
	t.Helper()
	goods := &model.Goods{
		Title:              "二手自行车",
		Price:              price,
		GroupBuyEnabled:    true,
		GroupRequiredCount: requiredCount,
		GroupDiscount:      discount,
	}
	require.NoError(t, db.Create(goods).Error)
	return goods
}

// SeedGroup 直接写入一个拼团聚合，绕过业务校验
func SeedGroup(t *testing.T, db *gorm.DB, groupID string, goodsID int64, required, current int, expiresAt time.Time) *model.GroupBuyAggregate {
	t.Helper()
	group := &model.GroupBuyAggregate{
		GroupID:         groupID,
		GoodsID:         goodsID,
		InitiatorUserID: 1,
		RequiredCount:   required,
		CurrentCount:    current,
		UnitPrice:       5000,
		Status:          model.GroupStatusPending,
		ExpiresAt:       expiresAt,
	}
	require.NoError(t, db.Create(group).Error)
	return group
}

// SeedOrder 写入一个挂在拼团下的订单
func SeedOrder(t *testing.T, db *gorm.DB, orderID, groupID string, userID, amount int64, status string) *model.Order {
	t.Helper()
	gid := groupID
	order := &model.Order{
		OrderID:    orderID,
		UserID:     userID,
		GoodsID:    1,
		GroupID:    &gid,
		Quantity:   1,
		TotalPrice: amount,
		Status:     status,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}
