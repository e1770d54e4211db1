package model

import (
	"time"
)

const (
	GroupStatusPending = "pending"
	GroupStatusSuccess = "success"
	GroupStatusFailed  = "failed"
)

// 成团人数上下限
const (
	MinGroupSize = 2
	MaxGroupSize = 5
)

// 拼团只有两条出边：成团、过期失败。success/failed 都是终态
var groupTransitions = map[string][]string{
	GroupStatusPending: {GroupStatusSuccess, GroupStatusFailed},
}

func CanGroupTransitionTo(current, target string) bool {
	for _, s := range groupTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

// GroupBuyAggregate 拼团聚合，一次拼团尝试对应一行
// current_count 与 status 只能通过 GroupRepository 的条件更新修改
type GroupBuyAggregate struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"-"`
	GroupID         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"group_id"`
	GoodsID         int64      `gorm:"index;not null" json:"goods_id"`
	InitiatorUserID int64      `gorm:"not null" json:"initiator_user_id"`
	RequiredCount   int        `gorm:"not null" json:"required_count"`
	CurrentCount    int        `gorm:"not null;default:0" json:"current_count"`
	UnitPrice       int64      `gorm:"not null" json:"unit_price"` // 开团时锁定的拼团单价（分）
	Status          string     `gorm:"type:varchar(20);not null;index:idx_group_status_expires,priority:1" json:"status"`
	ExpiresAt       time.Time  `gorm:"not null;index:idx_group_status_expires,priority:2" json:"expires_at"`
	SucceededAt     *time.Time `json:"succeeded_at"`
	FailedAt        *time.Time `json:"failed_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GroupBuyAggregate) TableName() string {
	return "group_buy_aggregates"
}

// IsExpired expires_at 等于 now 也算过期
func (g *GroupBuyAggregate) IsExpired(now time.Time) bool {
	return !g.ExpiresAt.After(now)
}

func (g *GroupBuyAggregate) RemainingSlots() int {
	if g.CurrentCount >= g.RequiredCount {
		return 0
	}
	return g.RequiredCount - g.CurrentCount
}

// GroupBuyParticipant 参团记录，只插入不修改
type GroupBuyParticipant struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	GroupID  string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_group_user,priority:1" json:"group_id"`
	UserID   int64     `gorm:"not null;uniqueIndex:uk_group_user,priority:2;index" json:"user_id"`
	OrderID  string    `gorm:"type:varchar(64);not null" json:"order_id"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

func (GroupBuyParticipant) TableName() string {
	return "group_buy_participants"
}
