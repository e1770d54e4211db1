package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 通知事件类型
const (
	EventGroupCreated   = "group.created"
	EventGroupSucceeded = "group.succeeded"
	EventGroupFailed    = "group.failed"
	EventOrderRefunded  = "order.refunded"
)

// OutboxMessage 与业务写入同一事务落库，由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(32);not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

type GroupEvent struct {
	EventType     string    `json:"event_type"`
	GroupID       string    `json:"group_id"`
	GoodsID       int64     `json:"goods_id"`
	Status        string    `json:"status"`
	CurrentCount  int       `json:"current_count"`
	RequiredCount int       `json:"required_count"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type RefundEvent struct {
	EventType  string    `json:"event_type"`
	OrderID    string    `json:"order_id"`
	GroupID    string    `json:"group_id,omitempty"`
	UserID     int64     `json:"user_id"`
	Amount     int64     `json:"amount"`
	Balance    int64     `json:"balance"`
	RefundedAt time.Time `json:"refunded_at"`
}

func NewOutboxMessage(topic, key, eventType string, payload interface{}) (*OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(data),
		Status:     OutboxStatusPending,
	}, nil
}

// NewGroupEvent 拼团状态变化通知
func NewGroupEvent(topic, eventType string, g *GroupBuyAggregate, at time.Time) (*OutboxMessage, error) {
	return NewOutboxMessage(topic, g.GroupID, eventType, &GroupEvent{
		EventType:     eventType,
		GroupID:       g.GroupID,
		GoodsID:       g.GoodsID,
		Status:        g.Status,
		CurrentCount:  g.CurrentCount,
		RequiredCount: g.RequiredCount,
		OccurredAt:    at,
	})
}
