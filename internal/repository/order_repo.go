package repository

import (
	"context"
	"errors"
	"time"

	"groupbuy/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusInvalid = errors.New("订单状态不合法")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return pick(r.db, tx).WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var order model.Order
	err := pick(r.db, tx).WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 条件更新订单状态，当前状态不是 fromStatus 时返回 ErrOrderStatusInvalid
// 已支付订单被取消时同时把 refund_status 置为 pending，退款由 WalletService.RefundOrder 完成
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderID, fromStatus, toStatus string, at time.Time) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrOrderStatusInvalid
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}

	switch toStatus {
	case model.OrderStatusPaid:
		updates["paid_at"] = at
	case model.OrderStatusCancelled:
		updates["cancelled_at"] = at
		if fromStatus == model.OrderStatusPaid {
			updates["refund_status"] = model.RefundStatusPending
		}
	}

	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ? AND status = ?", orderID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderStatusInvalid
	}

	return nil
}

// MarkRefunded refund_status pending -> refunded，返回是否由本次调用完成翻转
// 这是退款只执行一次的闸门，必须和入账放在同一事务
func (r *OrderRepository) MarkRefunded(ctx context.Context, tx *gorm.DB, orderID string) (bool, error) {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ? AND status = ? AND refund_status = ?",
			orderID, model.OrderStatusCancelled, model.RefundStatusPending).
		Updates(map[string]interface{}{
			"refund_status": model.RefundStatusRefunded,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *OrderRepository) ListByGroup(ctx context.Context, groupID string) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("id ASC").
		Find(&orders).Error
	return orders, err
}

// ListPendingRefunds 已取消但退款还没到账的订单
func (r *OrderRepository) ListPendingRefunds(ctx context.Context, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND refund_status = ?", model.OrderStatusCancelled, model.RefundStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// ListUnpaidOfSucceededGroups 成团时间早于 before 仍未支付的订单
func (r *OrderRepository) ListUnpaidOfSucceededGroups(ctx context.Context, before time.Time, limit int) ([]*model.Order, error) {
	db := r.db.WithContext(ctx)
	succeeded := db.Model(&model.GroupBuyAggregate{}).
		Select("group_id").
		Where("status = ? AND succeeded_at < ?", model.GroupStatusSuccess, before)

	var orders []*model.Order
	err := db.Where("status = ?", model.OrderStatusPending).
		Where("group_id IN (?)", succeeded).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
