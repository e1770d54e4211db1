package repository

import (
	"context"
	"errors"
	"time"

	"groupbuy/internal/model"

	"gorm.io/gorm"
)

var (
	ErrGroupNotFound        = errors.New("拼团不存在")
	ErrGroupExpired         = errors.New("拼团已过期")
	ErrGroupFull            = errors.New("拼团人数已满")
	ErrAlreadyJoined        = errors.New("已参加该拼团")
	ErrInvalidRequiredCount = errors.New("成团人数必须在 2-5 之间")
	ErrGroupStatusInvalid   = errors.New("拼团状态流转不合法")
)

// JoinResult 参团成功后的计数快照
type JoinResult struct {
	CurrentCount  int
	RequiredCount int
	Status        string
}

// GroupRepository 拼团聚合与参团记录的存储
// current_count/status 只通过 Join、MarkStatus 两个条件更新修改
type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// CheckJoinable 判断用户能否加入拼团
// 过期优先于人满：expires_at 已过的拼团无论人数都返回过期
func CheckJoinable(group *model.GroupBuyAggregate, alreadyJoined bool, now time.Time) error {
	if group.Status == model.GroupStatusFailed || group.IsExpired(now) {
		return ErrGroupExpired
	}
	if alreadyJoined {
		return ErrAlreadyJoined
	}
	if group.Status == model.GroupStatusSuccess || group.CurrentCount >= group.RequiredCount {
		return ErrGroupFull
	}
	return nil
}

// Create 开团
func (r *GroupRepository) Create(ctx context.Context, tx *gorm.DB, group *model.GroupBuyAggregate) error {
	if group.RequiredCount < model.MinGroupSize || group.RequiredCount > model.MaxGroupSize {
		return ErrInvalidRequiredCount
	}
	return pick(r.db, tx).WithContext(ctx).Create(group).Error
}

func (r *GroupRepository) GetByGroupID(ctx context.Context, tx *gorm.DB, groupID string) (*model.GroupBuyAggregate, error) {
	var group model.GroupBuyAggregate
	err := pick(r.db, tx).WithContext(ctx).Where("group_id = ?", groupID).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &group, nil
}

// Join 原子参团：条件自增 + 插入参团记录，必须在同一事务里
// tx 为空时自行开启事务
//
// 条件 UPDATE 把"检查状态/过期/名额"与"自增"合并成一条语句，
// 两个并发请求抢最后一个名额时只有一个能命中 RowsAffected=1
func (r *GroupRepository) Join(ctx context.Context, tx *gorm.DB, groupID string, userID int64, orderID string, now time.Time) (*JoinResult, error) {
	if tx == nil {
		var result *JoinResult
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = r.Join(ctx, tx, groupID, userID, orderID, now)
			return err
		})
		return result, err
	}

	db := tx.WithContext(ctx)

	joined, err := participantExists(db, groupID, userID)
	if err != nil {
		return nil, err
	}
	if joined {
		return nil, r.classifyJoinFailure(ctx, tx, groupID, true, now)
	}

	result := db.Model(&model.GroupBuyAggregate{}).
		Where("group_id = ? AND status = ? AND expires_at > ? AND current_count < required_count",
			groupID, model.GroupStatusPending, now).
		Updates(map[string]interface{}{
			"current_count": gorm.Expr("current_count + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, r.classifyJoinFailure(ctx, tx, groupID, false, now)
	}

	participant := &model.GroupBuyParticipant{
		GroupID:  groupID,
		UserID:   userID,
		OrderID:  orderID,
		JoinedAt: now,
	}
	if err := db.Create(participant).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrAlreadyJoined
		}
		return nil, err
	}

	group, err := r.GetByGroupID(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	return &JoinResult{
		CurrentCount:  group.CurrentCount,
		RequiredCount: group.RequiredCount,
		Status:        group.Status,
	}, nil
}

func (r *GroupRepository) classifyJoinFailure(ctx context.Context, tx *gorm.DB, groupID string, joined bool, now time.Time) error {
	group, err := r.GetByGroupID(ctx, tx, groupID)
	if err != nil {
		return err
	}
	if err := CheckJoinable(group, joined, now); err != nil {
		return err
	}
	// 条件更新没命中但重读又可加入，说明状态在两次读之间推进过，按人满处理
	return ErrGroupFull
}

// ListExpiredPending 已到期仍在拼的团，expires_at 升序
func (r *GroupRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.GroupBuyAggregate, error) {
	var groups []*model.GroupBuyAggregate
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", model.GroupStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&groups).Error
	return groups, err
}

// MarkStatus 条件更新状态，持久化状态与 expected 不一致时返回 false 且不做任何修改
// 成团还要求 current_count = required_count
func (r *GroupRepository) MarkStatus(ctx context.Context, tx *gorm.DB, groupID, expected, next string, at time.Time) (bool, error) {
	if !model.CanGroupTransitionTo(expected, next) {
		return false, ErrGroupStatusInvalid
	}

	updates := map[string]interface{}{
		"status": next,
	}
	query := pick(r.db, tx).WithContext(ctx).
		Model(&model.GroupBuyAggregate{}).
		Where("group_id = ? AND status = ?", groupID, expected)

	switch next {
	case model.GroupStatusSuccess:
		updates["succeeded_at"] = at
		query = query.Where("current_count = required_count")
	case model.GroupStatusFailed:
		updates["failed_at"] = at
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListOpenByGoods 某商品下还能加入的团
func (r *GroupRepository) ListOpenByGoods(ctx context.Context, goodsID int64, now time.Time, limit int) ([]*model.GroupBuyAggregate, error) {
	var groups []*model.GroupBuyAggregate
	err := r.db.WithContext(ctx).
		Where("goods_id = ? AND status = ? AND expires_at > ? AND current_count < required_count",
			goodsID, model.GroupStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&groups).Error
	return groups, err
}

// ListFailedWithOpenOrders 已失败但名下还有未结清订单的团：
// 待支付/已支付未取消，或已取消但退款未到账
func (r *GroupRepository) ListFailedWithOpenOrders(ctx context.Context, limit int) ([]*model.GroupBuyAggregate, error) {
	db := r.db.WithContext(ctx)
	openOrders := db.Model(&model.Order{}).
		Select("group_id").
		Where("group_id IS NOT NULL").
		Where(db.Where("status IN ?", []string{model.OrderStatusPending, model.OrderStatusPaid}).
			Or("status = ? AND refund_status = ?", model.OrderStatusCancelled, model.RefundStatusPending))

	var groups []*model.GroupBuyAggregate
	err := db.Model(&model.GroupBuyAggregate{}).
		Where("status = ?", model.GroupStatusFailed).
		Where("group_id IN (?)", openOrders).
		Order("failed_at ASC").
		Limit(limit).
		Find(&groups).Error
	return groups, err
}
