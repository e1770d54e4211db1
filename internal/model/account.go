package model

import (
	"time"
)

// Account 用户钱包，首次入账时懒创建
// Balance 只通过原子的 balance ± ? 更新，不在应用层读改写
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"` // 分
	Version   int       `gorm:"not null;default:0" json:"version"` // 每次变动 +1，对账用
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
