package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

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

// GoodsCatalog 商品目录
type GoodsCatalog interface {
	GetGroupBuyConfig(ctx context.Context, goodsID int64) (*model.GroupBuyConfig, error)
	IncrementSales(ctx context.Context, goodsID int64, quantity int) error
}

// UserDirectory 用户目录
type UserDirectory interface {
	Exists(ctx context.Context, userID int64) (bool, error)
}

type GroupBuyService struct {
	db              *gorm.DB
	cfg             *config.Config
	log             *logger.Logger
	clock           clock.Clock
	goods           GoodsCatalog
	users           UserDirectory
	groupRepo       *repository.GroupRepository
	participantRepo *repository.ParticipantRepository
	orderRepo       *repository.OrderRepository
	outboxRepo      *repository.OutboxRepository
}

func NewGroupBuyService(db *gorm.DB, cfg *config.Config, log *logger.Logger, clk clock.Clock, goods GoodsCatalog, users UserDirectory) *GroupBuyService {
	return &GroupBuyService{
		db:              db,
		cfg:             cfg,
		log:             log.Named("groupbuy"),
		clock:           clk,
		goods:           goods,
		users:           users,
		groupRepo:       repository.NewGroupRepository(db),
		participantRepo: repository.NewParticipantRepository(db),
		orderRepo:       repository.NewOrderRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// PurchaseRequest JoinGroupID 为空表示开团
type PurchaseRequest struct {
	UserID      int64
	GoodsID     int64
	Quantity    int
	JoinGroupID string
}

type PurchaseResult struct {
	GroupID       string `json:"group_id"`
	OrderID       string `json:"order_id"`
	CurrentCount  int    `json:"current_count"`
	RequiredCount int    `json:"required_count"`
	Status        string `json:"status"`
	TotalPrice    int64  `json:"total_price"`
}

// GroupDetail 拼团详情
type GroupDetail struct {
	Group          *model.GroupBuyAggregate     `json:"group"`
	Participants   []*model.GroupBuyParticipant `json:"participants"`
	RemainingSlots int                          `json:"remaining_slots"`
	Expired        bool                         `json:"expired"`
}

// RequestGroupPurchase 开团或参团
//
// 订单、参团记录、计数自增、成团状态在同一个数据库事务里提交，
// 超时或任一步失败整体回滚，不会留下没有订单的参团记录
func (s *GroupBuyService) RequestGroupPurchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GroupBuy.JoinTimeout)
	defer cancel()

	action := "create"
	if req.JoinGroupID != "" {
		action = "join"
	}

	result, err := s.requestGroupPurchase(ctx, req)
	err = translate(ctx, err)

	metrics.PurchaseRequests.WithLabelValues(action, resultLabel(err)).Inc()

	if err != nil {
		log := s.log.WithContext(ctx).WithFields(
			zap.String("action", action),
			zap.Int64("user_id", req.UserID),
			zap.Int64("goods_id", req.GoodsID),
			zap.String("group_id", req.JoinGroupID),
		)
		if KindOf(err) == KindTransient {
			log.Error("拼团请求失败", zap.Error(err))
		} else {
			log.Info("拼团请求被拒绝", zap.Error(err))
		}
		return nil, err
	}
	return result, nil
}

func (s *GroupBuyService) requestGroupPurchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	if req.Quantity < 1 || req.Quantity > s.cfg.GroupBuy.MaxQuantity {
		return nil, ErrInvalidQuantity
	}

	exists, err := s.users.Exists(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	gb, err := s.loadGroupBuyConfig(ctx, req.GoodsID)
	if err != nil {
		return nil, err
	}

	var result *PurchaseResult
	if req.JoinGroupID == "" {
		result, err = s.createGroup(ctx, req, gb)
	} else {
		result, err = s.joinGroup(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	if err := s.goods.IncrementSales(ctx, req.GoodsID, req.Quantity); err != nil {
		s.log.WithContext(ctx).Warn("累加商品销量失败",
			zap.Int64("goods_id", req.GoodsID),
			zap.Int("quantity", req.Quantity),
			zap.Error(err),
		)
	}
	return result, nil
}

func (s *GroupBuyService) loadGroupBuyConfig(ctx context.Context, goodsID int64) (*model.GroupBuyConfig, error) {
	gb, err := s.goods.GetGroupBuyConfig(ctx, goodsID)
	if err != nil {
		if errors.Is(err, repository.ErrGoodsNotFound) {
			return nil, ErrGoodsNotFound
		}
		return nil, fmt.Errorf("查询商品失败: %w", err)
	}
	if !gb.Enabled {
		return nil, ErrGroupBuyDisabled
	}
	if gb.RequiredCount < model.MinGroupSize || gb.RequiredCount > model.MaxGroupSize ||
		gb.Discount <= 0 || gb.Discount > 100 || gb.DiscountedPrice() <= 0 {
		return nil, ErrMisconfiguredGroupBuy
	}
	return gb, nil
}

func (s *GroupBuyService) createGroup(ctx context.Context, req *PurchaseRequest, gb *model.GroupBuyConfig) (*PurchaseResult, error) {
	now := s.clock.Now()

	group := &model.GroupBuyAggregate{
		GroupID:         idgen.GenerateGroupNo(),
		GoodsID:         req.GoodsID,
		InitiatorUserID: req.UserID,
		RequiredCount:   gb.RequiredCount,
		CurrentCount:    1,
		UnitPrice:       gb.DiscountedPrice(),
		Status:          model.GroupStatusPending,
		ExpiresAt:       now.Add(s.cfg.GroupBuy.TTL),
	}
	order, err := newGroupOrder(req, group)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.groupRepo.Create(ctx, tx, group); err != nil {
			return fmt.Errorf("创建拼团失败: %w", err)
		}
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("创建订单失败: %w", err)
		}
		participant := &model.GroupBuyParticipant{
			GroupID:  group.GroupID,
			UserID:   req.UserID,
			OrderID:  order.OrderID,
			JoinedAt: now,
		}
		if err := s.participantRepo.Create(ctx, tx, participant); err != nil {
			return fmt.Errorf("写入参团记录失败: %w", err)
		}
		return s.writeGroupEvent(ctx, tx, model.EventGroupCreated, group, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Info("开团成功",
		zap.String("group_id", group.GroupID),
		zap.String("order_id", order.OrderID),
		zap.Int64("user_id", req.UserID),
		zap.Int("required_count", group.RequiredCount),
		zap.Time("expires_at", group.ExpiresAt),
	)

	return &PurchaseResult{
		GroupID:       group.GroupID,
		OrderID:       order.OrderID,
		CurrentCount:  group.CurrentCount,
		RequiredCount: group.RequiredCount,
		Status:        group.Status,
		TotalPrice:    order.TotalPrice,
	}, nil
}

func (s *GroupBuyService) joinGroup(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	now := s.clock.Now()

	group, err := s.groupRepo.GetByGroupID(ctx, nil, req.JoinGroupID)
	if err != nil {
		return nil, err
	}
	if group.GoodsID != req.GoodsID {
		return nil, ErrGroupNotFound
	}

	// 预检查没有副作用，真正的判定在 Join 的条件更新里
	joined, err := s.participantRepo.Exists(ctx, group.GroupID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("查询参团记录失败: %w", err)
	}
	if err := repository.CheckJoinable(group, joined, now); err != nil {
		return nil, err
	}

	order, err := newGroupOrder(req, group)
	if err != nil {
		return nil, err
	}

	var (
		joinResult *repository.JoinResult
		succeeded  bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("创建订单失败: %w", err)
		}

		var err error
		joinResult, err = s.groupRepo.Join(ctx, tx, group.GroupID, req.UserID, order.OrderID, now)
		if err != nil {
			return err
		}

		if joinResult.CurrentCount < joinResult.RequiredCount {
			return nil
		}

		ok, err := s.groupRepo.MarkStatus(ctx, tx, group.GroupID, model.GroupStatusPending, model.GroupStatusSuccess, now)
		if err != nil {
			return fmt.Errorf("更新拼团状态失败: %w", err)
		}
		if !ok {
			return nil
		}
		succeeded = true
		joinResult.Status = model.GroupStatusSuccess

		group.CurrentCount = joinResult.CurrentCount
		group.Status = model.GroupStatusSuccess
		return s.writeGroupEvent(ctx, tx, model.EventGroupSucceeded, group, now)
	})
	if err != nil {
		return nil, err
	}

	log := s.log.WithContext(ctx).WithFields(
		zap.String("group_id", group.GroupID),
		zap.String("order_id", order.OrderID),
		zap.Int64("user_id", req.UserID),
		zap.Int("current_count", joinResult.CurrentCount),
		zap.Int("required_count", joinResult.RequiredCount),
	)
	log.Info("参团成功")
	if succeeded {
		metrics.GroupsSucceeded.Inc()
		log.Info("拼团成功")
	}

	return &PurchaseResult{
		GroupID:       group.GroupID,
		OrderID:       order.OrderID,
		CurrentCount:  joinResult.CurrentCount,
		RequiredCount: joinResult.RequiredCount,
		Status:        joinResult.Status,
		TotalPrice:    order.TotalPrice,
	}, nil
}

func (s *GroupBuyService) writeGroupEvent(ctx context.Context, tx *gorm.DB, eventType string, group *model.GroupBuyAggregate, at time.Time) error {
	msg, err := model.NewGroupEvent(s.cfg.Kafka.Topic.GroupEvent, eventType, group, at)
	if err != nil {
		return err
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// GetGroupStatus 拼团详情，包含参团成员
func (s *GroupBuyService) GetGroupStatus(ctx context.Context, groupID string) (*GroupDetail, error) {
	group, err := s.groupRepo.GetByGroupID(ctx, nil, groupID)
	if err != nil {
		return nil, translate(ctx, err)
	}
	participants, err := s.participantRepo.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("查询参团记录失败: %w", err)
	}
	return &GroupDetail{
		Group:          group,
		Participants:   participants,
		RemainingSlots: group.RemainingSlots(),
		Expired:        group.Status == model.GroupStatusFailed || group.IsExpired(s.clock.Now()),
	}, nil
}

// ListOpenGroups 某商品下仍可加入的团，快到期的排在前面
func (s *GroupBuyService) ListOpenGroups(ctx context.Context, goodsID int64, limit int) ([]*model.GroupBuyAggregate, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.groupRepo.ListOpenByGoods(ctx, goodsID, s.clock.Now(), limit)
}

// newGroupOrder 按团上锁定的单价计算总价，溢出视为数量非法
func newGroupOrder(req *PurchaseRequest, group *model.GroupBuyAggregate) (*model.Order, error) {
	if req.Quantity < 1 || group.UnitPrice <= 0 || group.UnitPrice > math.MaxInt64/int64(req.Quantity) {
		return nil, ErrInvalidQuantity
	}
	groupID := group.GroupID
	return &model.Order{
		OrderID:      idgen.GenerateOrderNo(),
		UserID:       req.UserID,
		GoodsID:      req.GoodsID,
		GroupID:      &groupID,
		Quantity:     req.Quantity,
		TotalPrice:   group.UnitPrice * int64(req.Quantity),
		Status:       model.OrderStatusPending,
		RefundStatus: model.RefundStatusNone,
	}, nil
}

// translate 仓储层哨兵错误转换为业务错误
func translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var svcErr *Error
	switch {
	case errors.As(err, &svcErr):
		return err
	case errors.Is(err, repository.ErrGroupNotFound):
		return ErrGroupNotFound
	case errors.Is(err, repository.ErrGroupExpired):
		return ErrGroupExpired
	case errors.Is(err, repository.ErrGroupFull):
		return ErrGroupFull
	case errors.Is(err, repository.ErrAlreadyJoined):
		return ErrAlreadyJoined
	case errors.Is(err, repository.ErrInvalidRequiredCount):
		return ErrMisconfiguredGroupBuy
	case errors.Is(err, repository.ErrGoodsNotFound):
		return ErrGoodsNotFound
	case errors.Is(err, repository.ErrOrderNotFound):
		return ErrOrderNotFound
	case errors.Is(err, repository.ErrOrderStatusInvalid):
		return ErrOrderStatusInvalid
	case errors.Is(err, repository.ErrBalanceNotEnough):
		return ErrBalanceNotEnough
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return wrap(ErrTimeout, err)
	}
	return err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var e *Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return string(KindTransient)
}
