package model

import (
	"time"
)

// User 用户目录只关心用户是否存在
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Nickname  string    `gorm:"type:varchar(64);not null" json:"nickname"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}
