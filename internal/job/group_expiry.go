package job

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"groupbuy/internal/config"
	"groupbuy/internal/infrastructure/lock"
	"groupbuy/internal/infrastructure/logger"
	"groupbuy/internal/metrics"
	"groupbuy/internal/model"
	"groupbuy/internal/repository"
	"groupbuy/pkg/clock"
)

var ErrSweepInProgress = errors.New("过期扫描正在执行")

// Refunder 退款出口，由 WalletService 实现
type Refunder interface {
	RefundOrder(ctx context.Context, order *model.Order) (bool, error)
}

// SweepResult 单次扫描的统计
type SweepResult struct {
	Expired   int `json:"expired"`   // 本次由 pending 置为 failed 的拼团
	Skipped   int `json:"skipped"`   // 条件更新没命中，已被别处处理
	Cancelled int `json:"cancelled"` // 取消的订单
	Refunded  int `json:"refunded"`  // 实际退款的订单
	Closed    int `json:"closed"`    // 成团后超时未支付关闭的订单
	Errors    int `json:"errors"`
}

// GroupExpiryJob 拼团过期扫描
//
// 每次运行：到期的 pending 团置为 failed，名下订单待支付的取消、已支付的取消并退款；
// 已成团但超过支付时限仍未支付的订单关闭；
// 之后补扫已失败但订单未结清、已取消但退款未到账的记录，崩溃中断的上一次运行在这里收尾
type GroupExpiryJob struct {
	db        *gorm.DB
	cfg       *config.Config
	log       *logger.Logger
	clock     clock.Clock
	refunder  Refunder
	redis     *redis.Client
	groupRepo *repository.GroupRepository
	orderRepo *repository.OrderRepository
	outbox    *repository.OutboxRepository
	running   atomic.Bool
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

// NewGroupExpiryJob rdb 为空时只做进程内防重入
func NewGroupExpiryJob(db *gorm.DB, rdb *redis.Client, cfg *config.Config, log *logger.Logger, clk clock.Clock, refunder Refunder) *GroupExpiryJob {
	return &GroupExpiryJob{
		db:        db,
		cfg:       cfg,
		log:       log.Named("sweeper"),
		clock:     clk,
		refunder:  refunder,
		redis:     rdb,
		groupRepo: repository.NewGroupRepository(db),
		orderRepo: repository.NewOrderRepository(db),
		outbox:    repository.NewOutboxRepository(db),
		stopCh:    make(chan struct{}),
		interval:  cfg.GroupBuy.SweepInterval,
		batchSize: cfg.GroupBuy.SweepBatchSize,
	}
}

func (j *GroupExpiryJob) Start(ctx context.Context) {
	j.log.Info("拼团过期扫描启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				j.log.Error("过期扫描失败", zap.Error(err))
			}
		}
	}
}

func (j *GroupExpiryJob) Stop() {
	close(j.stopCh)
}

// RunOnce 执行一次扫描，上一次还没结束时返回 ErrSweepInProgress
// 单个拼团或订单出错只计数，不中断本次扫描
func (j *GroupExpiryJob) RunOnce(ctx context.Context) (*SweepResult, error) {
	if !j.running.CompareAndSwap(false, true) {
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		return nil, ErrSweepInProgress
	}
	defer j.running.Store(false)

	ctx = logger.WithTraceID(ctx, "")
	log := j.log.WithContext(ctx)

	if j.redis != nil {
		sweepLock := lock.NewSweepLock(j.redis, uuid.NewString(), j.cfg.GroupBuy.SweepLockTTL)
		ok, err := sweepLock.TryLock(ctx)
		if err != nil {
			metrics.SweepRuns.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("获取扫描锁失败: %w", err)
		}
		if !ok {
			metrics.SweepRuns.WithLabelValues("skipped").Inc()
			return nil, ErrSweepInProgress
		}
		defer func() {
			if err := sweepLock.Unlock(context.Background()); err != nil {
				log.Warn("释放扫描锁失败", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	result := &SweepResult{}

	if err := j.expirePending(ctx, result); err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return result, err
	}
	if err := j.closeUnpaid(ctx, result); err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return result, err
	}
	if err := j.reconcile(ctx, result); err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return result, err
	}

	metrics.SweepRuns.WithLabelValues("ok").Inc()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	metrics.SweepItemErrors.Add(float64(result.Errors))

	if result.Expired+result.Cancelled+result.Refunded+result.Closed+result.Errors > 0 {
		log.Info("过期扫描完成",
			zap.Int("expired", result.Expired),
			zap.Int("skipped", result.Skipped),
			zap.Int("cancelled", result.Cancelled),
			zap.Int("refunded", result.Refunded),
			zap.Int("closed", result.Closed),
			zap.Int("errors", result.Errors),
			zap.Duration("cost", time.Since(start)),
		)
	}
	return result, nil
}

// expirePending 分批处理到期的 pending 团
// 每批处理完的团都离开了 pending，下一批自然从剩下的开始
func (j *GroupExpiryJob) expirePending(ctx context.Context, result *SweepResult) error {
	now := j.clock.Now()
	for {
		groups, err := j.groupRepo.ListExpiredPending(ctx, now, j.batchSize)
		if err != nil {
			return fmt.Errorf("查询过期拼团失败: %w", err)
		}

		progressed := 0
		for _, group := range groups {
			failed, err := j.failGroup(ctx, group, now)
			if err != nil {
				result.Errors++
				j.log.WithContext(ctx).Error("拼团置为失败出错", zap.String("group_id", group.GroupID), zap.Error(err))
				continue
			}
			progressed++
			if !failed {
				result.Skipped++
				continue
			}
			result.Expired++
			metrics.GroupsExpired.Inc()
			j.settleGroupOrders(ctx, group.GroupID, result)
		}

		if len(groups) < j.batchSize || progressed == 0 {
			return nil
		}
	}
}

// failGroup pending -> failed 与 group.failed 通知同一事务，返回是否由本次完成
func (j *GroupExpiryJob) failGroup(ctx context.Context, group *model.GroupBuyAggregate, now time.Time) (bool, error) {
	var failed bool
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := j.groupRepo.MarkStatus(ctx, tx, group.GroupID, model.GroupStatusPending, model.GroupStatusFailed, now)
		if err != nil || !ok {
			return err
		}
		failed = true

		group.Status = model.GroupStatusFailed
		msg, err := model.NewGroupEvent(j.cfg.Kafka.Topic.GroupEvent, model.EventGroupFailed, group, now)
		if err != nil {
			return err
		}
		return j.outbox.Create(ctx, tx, msg)
	})
	return failed, err
}

// settleGroupOrders 结清失败拼团名下的订单
func (j *GroupExpiryJob) settleGroupOrders(ctx context.Context, groupID string, result *SweepResult) {
	orders, err := j.orderRepo.ListByGroup(ctx, groupID)
	if err != nil {
		result.Errors++
		j.log.WithContext(ctx).Error("查询拼团订单失败", zap.String("group_id", groupID), zap.Error(err))
		return
	}
	for _, order := range orders {
		if err := j.settleOrder(ctx, order, result); err != nil {
			result.Errors++
			j.log.WithContext(ctx).Error("结清订单失败",
				zap.String("group_id", groupID),
				zap.String("order_id", order.OrderID),
				zap.Error(err),
			)
		}
	}
}

// settleOrder pending 取消；paid 取消并退款；已取消待退款的补退；其余状态保持不动
// 条件更新输给并发操作时重读一次订单再分派
func (j *GroupExpiryJob) settleOrder(ctx context.Context, order *model.Order, result *SweepResult) error {
	log := j.log.WithContext(ctx).WithFields(zap.String("order_id", order.OrderID))

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			fresh, err := j.orderRepo.GetByOrderID(ctx, nil, order.OrderID)
			if err != nil {
				return err
			}
			order = fresh
		}

		switch order.Status {
		case model.OrderStatusPending, model.OrderStatusPaid:
			err := j.orderRepo.UpdateStatus(ctx, nil, order.OrderID, order.Status, model.OrderStatusCancelled, j.clock.Now())
			if errors.Is(err, repository.ErrOrderStatusInvalid) {
				continue
			}
			if err != nil {
				return err
			}
			result.Cancelled++
			log.Info("拼团失败，订单已取消", zap.String("from", order.Status))
			if order.Status == model.OrderStatusPending {
				return nil
			}
			order.Status = model.OrderStatusCancelled
			order.RefundStatus = model.RefundStatusPending
			return j.refund(ctx, order, result)

		case model.OrderStatusCancelled:
			if order.RefundStatus == model.RefundStatusPending {
				return j.refund(ctx, order, result)
			}
			return nil

		default:
			log.Info("订单已进入后续流程，保持不变", zap.String("status", order.Status))
			return nil
		}
	}
	return fmt.Errorf("订单状态持续变化: %s", order.OrderID)
}

func (j *GroupExpiryJob) refund(ctx context.Context, order *model.Order, result *SweepResult) error {
	refunded, err := j.refunder.RefundOrder(ctx, order)
	if err != nil {
		return fmt.Errorf("退款失败: %w", err)
	}
	if refunded {
		result.Refunded++
	}
	return nil
}

// closeUnpaid 成团后超过支付时限的待支付订单关闭，拼团本身保持 success
func (j *GroupExpiryJob) closeUnpaid(ctx context.Context, result *SweepResult) error {
	now := j.clock.Now()
	before := now.Add(-j.cfg.GroupBuy.PayTimeout)
	for {
		orders, err := j.orderRepo.ListUnpaidOfSucceededGroups(ctx, before, j.batchSize)
		if err != nil {
			return fmt.Errorf("查询超时未支付订单失败: %w", err)
		}

		progressed := 0
		for _, order := range orders {
			err := j.orderRepo.UpdateStatus(ctx, nil, order.OrderID, model.OrderStatusPending, model.OrderStatusCancelled, now)
			if errors.Is(err, repository.ErrOrderStatusInvalid) {
				// 刚被支付
				progressed++
				result.Skipped++
				continue
			}
			if err != nil {
				result.Errors++
				j.log.WithContext(ctx).Error("关闭超时订单失败", zap.String("order_id", order.OrderID), zap.Error(err))
				continue
			}
			progressed++
			result.Closed++
			j.log.WithContext(ctx).Info("订单超时未支付，已关闭",
				zap.String("order_id", order.OrderID),
				zap.Int64("user_id", order.UserID),
				zap.Int64("amount", order.TotalPrice),
			)
		}

		if len(orders) < j.batchSize || progressed == 0 {
			return nil
		}
	}
}

// reconcile 补扫上一次运行留下的半成品
func (j *GroupExpiryJob) reconcile(ctx context.Context, result *SweepResult) error {
	groups, err := j.groupRepo.ListFailedWithOpenOrders(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("查询未结清的失败拼团失败: %w", err)
	}
	for _, group := range groups {
		j.settleGroupOrders(ctx, group.GroupID, result)
	}

	orders, err := j.orderRepo.ListPendingRefunds(ctx, j.batchSize)
	if err != nil {
		return fmt.Errorf("查询待退款订单失败: %w", err)
	}
	for _, order := range orders {
		if err := j.refund(ctx, order, result); err != nil {
			result.Errors++
			j.log.WithContext(ctx).Error("补退款失败", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}
	return nil
}
