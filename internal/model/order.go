package model

import (
	"time"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusShipped   = "shipped"
	OrderStatusReview    = "review"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// 退款进度，只有已支付后被取消的订单才会进入 pending
const (
	RefundStatusNone     = ""
	RefundStatusPending  = "pending"
	RefundStatusRefunded = "refunded"
)

var ValidStatusTransitions = map[string][]string{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusReview},
	OrderStatusReview:  {OrderStatusCompleted},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Order 商品订单，拼团订单通过 GroupID 回指拼团
type Order struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	UserID       int64      `gorm:"index;not null" json:"user_id"`
	GoodsID      int64      `gorm:"not null" json:"goods_id"`
	GroupID      *string    `gorm:"type:varchar(64);index" json:"group_id,omitempty"`
	Quantity     int        `gorm:"not null" json:"quantity"`
	TotalPrice   int64      `gorm:"not null" json:"total_price"` // 分
	Status       string     `gorm:"type:varchar(20);index;not null" json:"status"`
	RefundStatus string     `gorm:"type:varchar(20);index;not null" json:"refund_status"`
	PaidAt       *time.Time `json:"paid_at"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "group_orders"
}
