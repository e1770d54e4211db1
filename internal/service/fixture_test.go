package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"groupbuy/internal/config"
	"groupbuy/internal/infrastructure/logger"
	"groupbuy/internal/model"
	"groupbuy/internal/repository"
	"groupbuy/internal/testutil"
	"groupbuy/pkg/clock"
)

type fixture struct {
	db       *gorm.DB
	cfg      *config.Config
	clock    *clock.Fake
	goods    *model.Goods
	groupBuy *GroupBuyService
	wallet   *WalletService
	orders   *OrderService
}

// newFixture 10 个用户；一个 3 人团商品，原价 62.50，拼团 8 折即 50.00
func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	cfg := config.Default()
	clk := clock.NewFake(testutil.Epoch)
	log := logger.NewNop()

	testutil.SeedUsers(t, db, 10)
	goods := testutil.SeedGoods(t, db, 6250, 3, 80)

	wallet := NewWalletService(db, cfg, log, clk)
	return &fixture{
		db:       db,
		cfg:      cfg,
		clock:    clk,
		goods:    goods,
		groupBuy: NewGroupBuyService(db, cfg, log, clk, repository.NewGoodsRepository(db), repository.NewUserRepository(db)),
		wallet:   wallet,
		orders:   NewOrderService(db, log, clk, wallet),
	}
}

func (f *fixture) create(t *testing.T, userID int64) *PurchaseResult {
	t.Helper()
	res, err := f.groupBuy.RequestGroupPurchase(context.Background(), &PurchaseRequest{
		UserID:   userID,
		GoodsID:  f.goods.ID,
		Quantity: 1,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) join(userID int64, groupID string) (*PurchaseResult, error) {
	return f.groupBuy.RequestGroupPurchase(context.Background(), &PurchaseRequest{
		UserID:      userID,
		GoodsID:     f.goods.ID,
		Quantity:    1,
		JoinGroupID: groupID,
	})
}

func (f *fixture) count(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}
