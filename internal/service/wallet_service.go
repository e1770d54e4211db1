package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"groupbuy/internal/config"
	"groupbuy/internal/infrastructure/logger"
	"groupbuy/internal/metrics"
	"groupbuy/internal/model"
	"groupbuy/internal/repository"
	"groupbuy/pkg/clock"
	"groupbuy/pkg/idgen"
)

// WalletService 用户钱包：入账、扣款、退款
// 余额只通过仓储的原子加减修改，应用层从不读改写
type WalletService struct {
	db              *gorm.DB
	cfg             *config.Config
	log             *logger.Logger
	clock           clock.Clock
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	orderRepo       *repository.OrderRepository
	outboxRepo      *repository.OutboxRepository
}

func NewWalletService(db *gorm.DB, cfg *config.Config, log *logger.Logger, clk clock.Clock) *WalletService {
	return &WalletService{
		db:              db,
		cfg:             cfg,
		log:             log.Named("wallet"),
		clock:           clk,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		orderRepo:       repository.NewOrderRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// Credit 退款入账，返回入账后的余额
// 钱包不存在时以 amount 为初始余额创建
func (s *WalletService) Credit(ctx context.Context, tx *gorm.DB, userID, amount int64, orderNo, remark string) (int64, error) {
	return s.credit(ctx, tx, userID, amount, orderNo, model.TransactionTypeRefund, remark)
}

// Recharge 充值
func (s *WalletService) Recharge(ctx context.Context, userID, amount int64) (int64, error) {
	rechargeNo := idgen.GenerateRechargeNo()
	balance, err := s.credit(ctx, nil, userID, amount, rechargeNo, model.TransactionTypeRecharge, "充值")
	if err != nil {
		return 0, err
	}
	s.log.WithContext(ctx).Info("充值成功",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.String("recharge_no", rechargeNo),
	)
	return balance, nil
}

func (s *WalletService) credit(ctx context.Context, tx *gorm.DB, userID, amount int64, orderNo, transType, remark string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	if tx == nil {
		var balance int64
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			balance, err = s.credit(ctx, tx, userID, amount, orderNo, transType, remark)
			return err
		})
		return balance, err
	}

	if err := s.increaseOrCreate(ctx, tx, userID, amount); err != nil {
		return 0, err
	}

	account, err := s.accountRepo.GetByUserID(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("查询账户失败: %w", err)
	}

	transaction := &model.AccountTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		OrderNo:       orderNo,
		Type:          transType,
		Amount:        amount,
		BalanceBefore: account.Balance - amount,
		BalanceAfter:  account.Balance,
		Remark:        remark,
	}
	if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
		return 0, fmt.Errorf("记录流水失败: %w", err)
	}

	return account.Balance, nil
}

// increaseOrCreate 钱包的 get-or-create：
// 先原子加款；没有账户时插入初始余额；插入被并发请求抢先则再加一次
func (s *WalletService) increaseOrCreate(ctx context.Context, tx *gorm.DB, userID, amount int64) error {
	err := s.accountRepo.Increase(ctx, tx, userID, amount)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return fmt.Errorf("入账失败: %w", err)
	}

	created, err := s.accountRepo.CreateWithBalance(ctx, tx, userID, amount)
	if err != nil {
		return fmt.Errorf("创建账户失败: %w", err)
	}
	if created {
		return nil
	}

	if err := s.accountRepo.Increase(ctx, tx, userID, amount); err != nil {
		return fmt.Errorf("入账失败: %w", err)
	}
	return nil
}

// Debit 扣款，余额不足返回 ErrBalanceNotEnough
func (s *WalletService) Debit(ctx context.Context, tx *gorm.DB, userID, amount int64, orderNo, remark string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	if err := s.accountRepo.Deduct(ctx, tx, userID, amount); err != nil {
		if errors.Is(err, repository.ErrBalanceNotEnough) || errors.Is(err, repository.ErrAccountNotFound) {
			return 0, ErrBalanceNotEnough
		}
		return 0, fmt.Errorf("扣款失败: %w", err)
	}

	account, err := s.accountRepo.GetByUserID(ctx, tx, userID)
	if err != nil {
		return 0, fmt.Errorf("查询账户失败: %w", err)
	}

	transaction := &model.AccountTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		OrderNo:       orderNo,
		Type:          model.TransactionTypePay,
		Amount:        -amount,
		BalanceBefore: account.Balance + amount,
		BalanceAfter:  account.Balance,
		Remark:        remark,
	}
	if err := s.transactionRepo.Create(ctx, tx, transaction); err != nil {
		return 0, fmt.Errorf("记录流水失败: %w", err)
	}

	return account.Balance, nil
}

// RefundOrder 给已取消、待退款的订单退款，返回本次调用是否真正退了款
// refund_status pending -> refunded 的条件更新、入账、通知事件在同一事务里，
// 同一订单无论被调用多少次只会入账一次
func (s *WalletService) RefundOrder(ctx context.Context, order *model.Order) (bool, error) {
	log := s.log.WithContext(ctx).WithFields(
		zap.String("order_id", order.OrderID),
		zap.Int64("user_id", order.UserID),
	)

	var (
		refunded bool
		balance  int64
	)
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.orderRepo.MarkRefunded(ctx, tx, order.OrderID)
		if err != nil {
			return fmt.Errorf("更新退款状态失败: %w", err)
		}
		if !ok {
			return nil
		}

		// 零元订单没有可退的钱，只翻转状态
		if order.TotalPrice > 0 {
			balance, err = s.Credit(ctx, tx, order.UserID, order.TotalPrice, order.OrderID,
				fmt.Sprintf("拼团失败退款-%s", order.OrderID))
			if err != nil {
				return err
			}
		}

		event := &model.RefundEvent{
			EventType:  model.EventOrderRefunded,
			OrderID:    order.OrderID,
			UserID:     order.UserID,
			Amount:     order.TotalPrice,
			Balance:    balance,
			RefundedAt: now,
		}
		if order.GroupID != nil {
			event.GroupID = *order.GroupID
		}
		msg, err := model.NewOutboxMessage(s.cfg.Kafka.Topic.Refund, order.OrderID, model.EventOrderRefunded, event)
		if err != nil {
			return err
		}
		if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		refunded = true
		return nil
	})
	if err != nil {
		log.Error("退款失败", zap.Error(err))
		return false, err
	}

	if !refunded {
		log.Debug("订单不在待退款状态，跳过")
		return false, nil
	}

	metrics.Refunds.Inc()
	metrics.RefundAmount.Add(float64(order.TotalPrice))
	log.Info("退款成功", zap.Int64("amount", order.TotalPrice), zap.Int64("balance", balance))
	return true, nil
}

// GetBalance 没有钱包的用户余额为 0
func (s *WalletService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accountRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}

func (s *WalletService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}
