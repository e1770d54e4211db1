package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"groupbuy/internal/model"
	"groupbuy/internal/service"
)

// 随机交错 开团/参团/支付/拨动时钟/扫描，每一步之后检查拼团与退款的不变量
func TestGroupLifecycle_Invariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newSweepFixture(t, nil)
		ctx := context.Background()

		var (
			groups []string
			orders = map[string]int64{}
		)

		for uid := int64(1); uid <= 6; uid++ {
			_, err := f.wallet.Recharge(ctx, uid, 100000)
			require.NoError(rt, err)
		}

		rt.Repeat(map[string]func(*rapid.T){
			"create": func(rt *rapid.T) {
				uid := rapid.Int64Range(1, 6).Draw(rt, "user")
				res, err := f.groupBuy.RequestGroupPurchase(ctx, &service.PurchaseRequest{UserID: uid, GoodsID: f.goods.ID, Quantity: 1})
				require.NoError(rt, err)
				groups = append(groups, res.GroupID)
				orders[res.OrderID] = uid
			},
			"join": func(rt *rapid.T) {
				if len(groups) == 0 {
					rt.Skip("no group")
				}
				gid := rapid.SampledFrom(groups).Draw(rt, "group")
				uid := rapid.Int64Range(1, 6).Draw(rt, "user")
				res, err := f.groupBuy.RequestGroupPurchase(ctx, &service.PurchaseRequest{UserID: uid, GoodsID: f.goods.ID, Quantity: 1, JoinGroupID: gid})
				if err != nil {
					require.Contains(rt, []service.Kind{service.KindConflict, service.KindExpired}, service.KindOf(err), "%v", err)
					return
				}
				orders[res.OrderID] = uid
			},
			"pay": func(rt *rapid.T) {
				if len(orders) == 0 {
					rt.Skip("no order")
				}
				ids := make([]string, 0, len(orders))
				for id := range orders {
					ids = append(ids, id)
				}
				id := rapid.SampledFrom(ids).Draw(rt, "order")
				_, _ = f.orders.PayOrder(ctx, orders[id], id)
			},
			"advance": func(rt *rapid.T) {
				hours := rapid.IntRange(1, 30).Draw(rt, "hours")
				f.clock.Advance(time.Duration(hours) * time.Hour)
			},
			"sweep": func(rt *rapid.T) {
				_, err := f.job.RunOnce(ctx)
				require.NoError(rt, err)
			},
			"": func(rt *rapid.T) {
				checkInvariants(rt, f, groups)
			},
		})
	})
}

func checkInvariants(rt *rapid.T, f *sweepFixture, groups []string) {
	for _, gid := range groups {
		var g model.GroupBuyAggregate
		require.NoError(rt, f.db.Where("group_id = ?", gid).First(&g).Error)

		var participants int64
		require.NoError(rt, f.db.Model(&model.GroupBuyParticipant{}).Where("group_id = ?", gid).Count(&participants).Error)

		require.LessOrEqual(rt, g.CurrentCount, g.RequiredCount)
		require.Equal(rt, int64(g.CurrentCount), participants, "group %s", gid)
		require.Equal(rt, g.Status == model.GroupStatusSuccess, g.CurrentCount == g.RequiredCount, "group %s status %s", gid, g.Status)
	}

	type row struct {
		OrderNo string
		N       int64
	}
	var dup []row
	require.NoError(rt, f.db.Model(&model.AccountTransaction{}).
		Select("order_no, COUNT(*) AS n").
		Where("type = ?", model.TransactionTypeRefund).
		Group("order_no").
		Having("COUNT(*) > 1").
		Scan(&dup).Error)
	require.Empty(rt, dup, fmt.Sprintf("重复退款: %v", dup))

	// 已成团的订单只会关闭未支付的
	succeeded := f.db.Model(&model.GroupBuyAggregate{}).Select("group_id").Where("status = ?", model.GroupStatusSuccess)
	var paidButCancelled int64
	require.NoError(rt, f.db.Model(&model.Order{}).
		Where("status = ? AND paid_at IS NOT NULL", model.OrderStatusCancelled).
		Where("group_id IN (?)", succeeded).
		Count(&paidButCancelled).Error)
	require.Zero(rt, paidButCancelled)

	// 退款到账的订单一定先被支付过
	var refundedUnpaid int64
	require.NoError(rt, f.db.Model(&model.Order{}).
		Where("refund_status = ? AND paid_at IS NULL", model.RefundStatusRefunded).
		Count(&refundedUnpaid).Error)
	require.Zero(rt, refundedUnpaid)
}
