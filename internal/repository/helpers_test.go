package repository

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"groupbuy/internal/model"
)

func countParticipants(db *gorm.DB, groupID string) (int64, error) {
	var n int64
	err := db.Model(&model.GroupBuyParticipant{}).Where("group_id = ?", groupID).Count(&n).Error
	return n, err
}

// findTransaction 没有记录时返回 nil
func findTransaction(t *testing.T, db *gorm.DB, orderNo, transType string) *model.AccountTransaction {
	t.Helper()
	var trans model.AccountTransaction
	err := db.Where("order_no = ? AND type = ?", orderNo, transType).First(&trans).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	require.NoError(t, err)
	return &trans
}

func outboxByKey(t *testing.T, db *gorm.DB, key string) []*model.OutboxMessage {
	t.Helper()
	var messages []*model.OutboxMessage
	require.NoError(t, db.Where("message_key = ?", key).Order("id ASC").Find(&messages).Error)
	return messages
}
