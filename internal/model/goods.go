package model

import (
	"time"
)

// Goods 商品目录中与拼团相关的字段
type Goods struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Title              string    `gorm:"type:varchar(128);not null" json:"title"`
	Price              int64     `gorm:"not null" json:"price"` // 分
	GroupBuyEnabled    bool      `gorm:"not null;default:false" json:"group_buy_enabled"`
	GroupRequiredCount int       `gorm:"not null;default:0" json:"group_required_count"`
	GroupDiscount      int       `gorm:"not null;default:0" json:"group_discount"` // 拼团价占原价的百分比，0 表示未配置
	SalesCount         int64     `gorm:"not null;default:0" json:"sales_count"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Goods) TableName() string {
	return "goods"
}

// GroupBuyConfig 商品的拼团配置快照
type GroupBuyConfig struct {
	GoodsID       int64
	Enabled       bool
	RequiredCount int
	Discount      int
	Price         int64
}

func (g *Goods) GroupBuyConfig() *GroupBuyConfig {
	return &GroupBuyConfig{
		GoodsID:       g.ID,
		Enabled:       g.GroupBuyEnabled,
		RequiredCount: g.GroupRequiredCount,
		Discount:      g.GroupDiscount,
		Price:         g.Price,
	}
}

// DiscountedPrice 拼团单价，向下取整到分
func (c *GroupBuyConfig) DiscountedPrice() int64 {
	return c.Price * int64(c.Discount) / 100
}
