package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupbuy/internal/infrastructure/logger"
	"groupbuy/internal/model"
	"groupbuy/internal/repository"
	"groupbuy/internal/testutil"
)

func TestRequestGroupPurchase_CreateThenFill(t *testing.T) {
	f := newFixture(t)

	created := f.create(t, 1)
	assert.Equal(t, 1, created.CurrentCount)
	assert.Equal(t, 3, created.RequiredCount)
	assert.Equal(t, model.GroupStatusPending, created.Status)
	assert.Equal(t, int64(5000), created.TotalPrice)

	res, err := f.join(2, created.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.CurrentCount)
	assert.Equal(t, model.GroupStatusPending, res.Status)

	res, err = f.join(3, created.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.CurrentCount)
	assert.Equal(t, model.GroupStatusSuccess, res.Status)
	assert.Equal(t, int64(5000), res.TotalPrice)

	_, err = f.join(4, created.GroupID)
	assert.ErrorIs(t, err, ErrGroupFull)

	detail, err := f.groupBuy.GetGroupStatus(context.Background(), created.GroupID)
	require.NoError(t, err)
	assert.Equal(t, model.GroupStatusSuccess, detail.Group.Status)
	assert.NotNil(t, detail.Group.SucceededAt)
	assert.Len(t, detail.Participants, 3)
	assert.Equal(t, 0, detail.RemainingSlots)

	assert.Equal(t, int64(3), f.count(t, &model.Order{}, "group_id = ?", created.GroupID))
	assert.Equal(t, int64(1), f.count(t, &model.OutboxMessage{}, "event_type = ?", model.EventGroupCreated))
	assert.Equal(t, int64(1), f.count(t, &model.OutboxMessage{}, "event_type = ?", model.EventGroupSucceeded))

	goods, err := repository.NewGoodsRepository(f.db).GetByID(context.Background(), f.goods.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), goods.SalesCount)
}

func TestRequestGroupPurchase_DoubleJoin(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, 1)

	_, err := f.join(2, created.GroupID)
	require.NoError(t, err)

	_, err = f.join(2, created.GroupID)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	assert.Equal(t, KindConflict, KindOf(err))

	// 发起人也不能再参团
	_, err = f.join(1, created.GroupID)
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	detail, err := f.groupBuy.GetGroupStatus(context.Background(), created.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 2, detail.Group.CurrentCount)
	assert.Equal(t, int64(1), f.count(t, &model.Order{}, "user_id = ?", 2))
}

func TestRequestGroupPurchase_JoinExpired(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, 1)

	f.clock.Advance(f.cfg.GroupBuy.TTL + time.Second)

	_, err := f.join(2, created.GroupID)
	assert.ErrorIs(t, err, ErrGroupExpired)
	assert.Equal(t, KindExpired, KindOf(err))

	detail, err := f.groupBuy.GetGroupStatus(context.Background(), created.GroupID)
	require.NoError(t, err)
	assert.True(t, detail.Expired)
	assert.Equal(t, 1, detail.Group.CurrentCount)
	assert.Equal(t, int64(1), f.count(t, &model.Order{}, "group_id = ?", created.GroupID))

	open, err := f.groupBuy.ListOpenGroups(context.Background(), f.goods.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRequestGroupPurchase_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	disabled := &model.Goods{Title: "disabled", Price: 1000, GroupRequiredCount: 2, GroupDiscount: 90}
	require.NoError(t, f.db.Create(disabled).Error)
	noDiscount := testutil.SeedGoods(t, f.db, 1000, 3, 0)
	tooMany := testutil.SeedGoods(t, f.db, 1000, 6, 90)
	other := testutil.SeedGoods(t, f.db, 1000, 2, 90)

	created := f.create(t, 1)

	cases := []struct {
		name string
		req  *PurchaseRequest
		want error
	}{
		{"quantity", &PurchaseRequest{UserID: 2, GoodsID: f.goods.ID, Quantity: 0}, ErrInvalidQuantity},
		{"quantity over limit", &PurchaseRequest{UserID: 2, GoodsID: f.goods.ID, Quantity: 100}, ErrInvalidQuantity},
		{"quantity overflows price", &PurchaseRequest{UserID: 2, GoodsID: f.goods.ID, Quantity: 1 << 62}, ErrInvalidQuantity},
		{"join quantity overflows price", &PurchaseRequest{UserID: 2, GoodsID: f.goods.ID, Quantity: 1 << 62, JoinGroupID: created.GroupID}, ErrInvalidQuantity},
		{"unknown user", &PurchaseRequest{UserID: 99, GoodsID: f.goods.ID, Quantity: 1}, ErrUserNotFound},
		{"unknown goods", &PurchaseRequest{UserID: 2, GoodsID: 999, Quantity: 1}, ErrGoodsNotFound},
		{"disabled", &PurchaseRequest{UserID: 2, GoodsID: disabled.ID, Quantity: 1}, ErrGroupBuyDisabled},
		{"no discount", &PurchaseRequest{UserID: 2, GoodsID: noDiscount.ID, Quantity: 1}, ErrMisconfiguredGroupBuy},
		{"too many", &PurchaseRequest{UserID: 2, GoodsID: tooMany.ID, Quantity: 1}, ErrMisconfiguredGroupBuy},
		{"unknown group", &PurchaseRequest{UserID: 2, GoodsID: f.goods.ID, Quantity: 1, JoinGroupID: "nope"}, ErrGroupNotFound},
		{"goods mismatch", &PurchaseRequest{UserID: 2, GoodsID: other.ID, Quantity: 1, JoinGroupID: created.GroupID}, ErrGroupNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.groupBuy.RequestGroupPurchase(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	assert.Equal(t, int64(1), f.count(t, &model.Order{}, "1 = 1"))
}

type blockingUsers struct{}

func (blockingUsers) Exists(ctx context.Context, _ int64) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestRequestGroupPurchase_Timeout(t *testing.T) {
	f := newFixture(t)
	f.cfg.GroupBuy.JoinTimeout = 20 * time.Millisecond

	svc := NewGroupBuyService(f.db, f.cfg, logger.NewNop(), f.clock, repository.NewGoodsRepository(f.db), blockingUsers{})

	_, err := svc.RequestGroupPurchase(context.Background(), &PurchaseRequest{UserID: 1, GoodsID: f.goods.ID, Quantity: 1})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, int64(0), f.count(t, &model.GroupBuyAggregate{}, "1 = 1"))
}

func TestRequestGroupPurchase_ConcurrentJoins(t *testing.T) {
	f := newFixture(t)
	created := f.create(t, 1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		full    int
	)
	for userID := int64(2); userID <= 10; userID++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := f.join(userID, created.GroupID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case assert.ErrorIs(t, err, ErrGroupFull):
				full++
			}
		}(userID)
	}
	wg.Wait()

	assert.Equal(t, 2, success)
	assert.Equal(t, 7, full)

	detail, err := f.groupBuy.GetGroupStatus(context.Background(), created.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 3, detail.Group.CurrentCount)
	assert.Equal(t, model.GroupStatusSuccess, detail.Group.Status)
	assert.Len(t, detail.Participants, 3)

	// 失败的参团不留下订单
	assert.Equal(t, int64(3), f.count(t, &model.Order{}, "group_id = ?", created.GroupID))
}

func TestListOpenGroups(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 1)
	f.clock.Advance(time.Minute)
	b := f.create(t, 2)

	groups, err := f.groupBuy.ListOpenGroups(context.Background(), f.goods.ID, 10)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, a.GroupID, groups[0].GroupID)
	assert.Equal(t, b.GroupID, groups[1].GroupID)
}

func TestNewGroupOrder_PriceOverflow(t *testing.T) {
	group := &model.GroupBuyAggregate{GroupID: "G1", UnitPrice: 5000}

	order, err := newGroupOrder(&PurchaseRequest{UserID: 1, GoodsID: 1, Quantity: 3}, group)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), order.TotalPrice)

	_, err = newGroupOrder(&PurchaseRequest{UserID: 1, GoodsID: 1, Quantity: math.MaxInt64/5000 + 1}, group)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = newGroupOrder(&PurchaseRequest{UserID: 1, GoodsID: 1, Quantity: 1}, &model.GroupBuyAggregate{GroupID: "G2"})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}
