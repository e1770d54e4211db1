package model

import (
	"time"
)

const (
	TransactionTypeRecharge = "RECHARGE"
	TransactionTypePay      = "PAY"
	TransactionTypeRefund   = "REFUND"
)

// AccountTransaction 钱包流水，只追加
// (order_no, type) 唯一：同一订单最多一笔支付、一笔退款
type AccountTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	OrderNo       string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_order_type,priority:1" json:"order_no"`
	Type          string    `gorm:"type:varchar(20);not null;uniqueIndex:uk_order_type,priority:2" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
