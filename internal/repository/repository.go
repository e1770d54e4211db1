package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// pick 传入事务时在事务里执行，否则用仓储自身的连接
func pick(db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return db
}

// isDuplicateKey 驱动未翻译错误时退回按错误文本判断
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "duplicate key")
}
