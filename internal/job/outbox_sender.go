package job

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"groupbuy/internal/config"
	"groupbuy/internal/infrastructure/logger"
	"groupbuy/internal/infrastructure/mq"
	"groupbuy/internal/metrics"
	"groupbuy/internal/model"
	"groupbuy/internal/repository"
)

// OutboxSender 把事务内写入的通知事件投递出去，至少一次
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	log        *logger.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetry   int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config, log *logger.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		log:        log.Named("outbox"),
		stopCh:     make(chan struct{}),
		interval:   cfg.Business.OutboxInterval,
		batchSize:  cfg.Business.OutboxBatch,
		maxRetry:   cfg.Business.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending 投递一批待发送消息，返回成功条数
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	log := s.log.With(
		zap.Int64("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.String("key", msg.MessageKey),
		zap.String("event_type", msg.EventType),
	)

	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		metrics.OutboxPublished.WithLabelValues("ok").Inc()
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			log.Error("更新消息状态失败", zap.Error(updateErr))
			return false
		}
		log.Debug("消息发送成功")
		return true
	}

	metrics.OutboxPublished.WithLabelValues("error").Inc()
	log.Warn("消息发送失败", zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Error("增加重试次数失败", zap.Error(err))
	}

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Error("标记消息失败状态失败", zap.Error(err))
		} else {
			log.Error("消息超过最大重试次数，标记为失败")
		}
	}
	return false
}
