package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"groupbuy/internal/infrastructure/logger"
	"groupbuy/internal/model"
	"groupbuy/internal/repository"
	"groupbuy/pkg/clock"
)

type OrderService struct {
	db        *gorm.DB
	log       *logger.Logger
	clock     clock.Clock
	wallet    *WalletService
	orderRepo *repository.OrderRepository
	groupRepo *repository.GroupRepository
}

func NewOrderService(db *gorm.DB, log *logger.Logger, clk clock.Clock, wallet *WalletService) *OrderService {
	return &OrderService{
		db:        db,
		log:       log.Named("order"),
		clock:     clk,
		wallet:    wallet,
		orderRepo: repository.NewOrderRepository(db),
		groupRepo: repository.NewGroupRepository(db),
	}
}

type PayResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
	Balance int64  `json:"balance"`
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := s.orderRepo.GetByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, translate(ctx, err)
	}
	return order, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return s.orderRepo.ListByUserID(ctx, userID, page, pageSize)
}

// PayOrder 用钱包余额支付拼团订单
// 订单 pending -> paid 与扣款在同一事务，过期扫描抢先取消时条件更新失败，不会扣款
func (s *OrderService) PayOrder(ctx context.Context, userID int64, orderID string) (*PayResult, error) {
	order, err := s.orderRepo.GetByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, translate(ctx, err)
	}
	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	if order.Status != model.OrderStatusPending {
		return nil, ErrOrderStatusInvalid
	}

	now := s.clock.Now()
	if order.GroupID != nil {
		group, err := s.groupRepo.GetByGroupID(ctx, nil, *order.GroupID)
		if err != nil {
			return nil, translate(ctx, err)
		}
		if group.Status == model.GroupStatusFailed || (group.Status == model.GroupStatusPending && group.IsExpired(now)) {
			return nil, ErrGroupExpired
		}
	}

	var balance int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.UpdateStatus(ctx, tx, orderID, model.OrderStatusPending, model.OrderStatusPaid, now); err != nil {
			return err
		}
		var err error
		balance, err = s.wallet.Debit(ctx, tx, userID, order.TotalPrice, orderID, fmt.Sprintf("拼团订单支付-%s", orderID))
		return err
	})
	if err != nil {
		err = translate(ctx, err)
		s.log.WithContext(ctx).Info("订单支付失败",
			zap.String("order_id", orderID),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.WithContext(ctx).Info("订单支付成功",
		zap.String("order_id", orderID),
		zap.Int64("user_id", userID),
		zap.Int64("amount", order.TotalPrice),
	)

	return &PayResult{
		OrderID: orderID,
		Status:  model.OrderStatusPaid,
		Amount:  order.TotalPrice,
		Balance: balance,
	}, nil
}
