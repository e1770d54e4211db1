package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupbuy/internal/model"
	"groupbuy/internal/testutil"
)

func TestGroupRepository_CreateValidatesRequiredCount(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGroupRepository(db)
	ctx := context.Background()

	for _, n := range []int{0, 1, 6} {
		err := repo.Create(ctx, nil, &model.GroupBuyAggregate{
			GroupID:       fmt.Sprintf("G-%d", n),
			RequiredCount: n,
			Status:        model.GroupStatusPending,
			ExpiresAt:     testutil.Epoch.Add(time.Hour),
		})
		assert.ErrorIs(t, err, ErrInvalidRequiredCount, "required_count=%d", n)
	}

	err := repo.Create(ctx, nil, &model.GroupBuyAggregate{
		GroupID:       "G-ok",
		RequiredCount: 2,
		CurrentCount:  1,
		Status:        model.GroupStatusPending,
		ExpiresAt:     testutil.Epoch.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = repo.GetByGroupID(ctx, nil, "G-missing")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestGroupRepository_JoinUntilFull(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGroupRepository(db)
	ctx := context.Background()
	now := testutil.Epoch

	testutil.SeedGroup(t, db, "G1", 1, 3, 0, now.Add(time.Hour))

	res, err := repo.Join(ctx, nil, "G1", 1, "O1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CurrentCount)

	_, err = repo.Join(ctx, nil, "G1", 1, "O1b", now)
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	_, err = repo.Join(ctx, nil, "G1", 2, "O2", now)
	require.NoError(t, err)
	res, err = repo.Join(ctx, nil, "G1", 3, "O3", now)
	require.NoError(t, err)
	assert.Equal(t, 3, res.CurrentCount)
	assert.Equal(t, 3, res.RequiredCount)

	_, err = repo.Join(ctx, nil, "G1", 4, "O4", now)
	assert.ErrorIs(t, err, ErrGroupFull)

	n, err := countParticipants(db, "G1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestGroupRepository_JoinClassification(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGroupRepository(db)
	ctx := context.Background()
	now := testutil.Epoch

	t.Run("not found", func(t *testing.T) {
		_, err := repo.Join(ctx, nil, "nope", 1, "O", now)
		assert.ErrorIs(t, err, ErrGroupNotFound)
	})

	t.Run("expired wins over full", func(t *testing.T) {
		testutil.SeedGroup(t, db, "G-exp", 1, 2, 2, now.Add(-time.Minute))
		_, err := repo.Join(ctx, nil, "G-exp", 9, "O", now)
		assert.ErrorIs(t, err, ErrGroupExpired)
	})

	t.Run("expires exactly now", func(t *testing.T) {
		testutil.SeedGroup(t, db, "G-now", 1, 3, 1, now)
		_, err := repo.Join(ctx, nil, "G-now", 9, "O", now)
		assert.ErrorIs(t, err, ErrGroupExpired)
	})

	t.Run("failed group", func(t *testing.T) {
		testutil.SeedGroup(t, db, "G-failed", 1, 3, 1, now.Add(time.Hour))
		ok, err := repo.MarkStatus(ctx, nil, "G-failed", model.GroupStatusPending, model.GroupStatusFailed, now)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = repo.Join(ctx, nil, "G-failed", 9, "O", now)
		assert.ErrorIs(t, err, ErrGroupExpired)
	})

	t.Run("expired group keeps count", func(t *testing.T) {
		g, err := repo.GetByGroupID(ctx, nil, "G-exp")
		require.NoError(t, err)
		assert.Equal(t, 2, g.CurrentCount)
	})
}

func TestGroupRepository_MarkStatus(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGroupRepository(db)
	ctx := context.Background()
	now := testutil.Epoch

	testutil.SeedGroup(t, db, "G1", 1, 2, 1, now.Add(time.Hour))

	// 人数不够不能成团
	ok, err := repo.MarkStatus(ctx, nil, "G1", model.GroupStatusPending, model.GroupStatusSuccess, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkStatus(ctx, nil, "G1", model.GroupStatusPending, model.GroupStatusFailed, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// 第二次条件不成立
	ok, err = repo.MarkStatus(ctx, nil, "G1", model.GroupStatusPending, model.GroupStatusFailed, now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.MarkStatus(ctx, nil, "G1", model.GroupStatusFailed, model.GroupStatusSuccess, now)
	assert.ErrorIs(t, err, ErrGroupStatusInvalid)

	g, err := repo.GetByGroupID(ctx, nil, "G1")
	require.NoError(t, err)
	assert.Equal(t, model.GroupStatusFailed, g.Status)
	require.NotNil(t, g.FailedAt)
	assert.Nil(t, g.SucceededAt)
}

func TestGroupRepository_Listing(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGroupRepository(db)
	ctx := context.Background()
	now := testutil.Epoch

	testutil.SeedGroup(t, db, "G-late", 1, 3, 1, now.Add(-time.Minute))
	testutil.SeedGroup(t, db, "G-early", 1, 3, 1, now.Add(-time.Hour))
	testutil.SeedGroup(t, db, "G-open", 1, 3, 1, now.Add(time.Hour))
	testutil.SeedGroup(t, db, "G-full", 1, 2, 2, now.Add(time.Hour))
	testutil.SeedGroup(t, db, "G-other", 2, 3, 1, now.Add(time.Hour))

	expired, err := repo.ListExpiredPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "G-early", expired[0].GroupID)
	assert.Equal(t, "G-late", expired[1].GroupID)

	open, err := repo.ListOpenByGoods(ctx, 1, now, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "G-open", open[0].GroupID)
}

func TestGroupRepository_ListFailedWithOpenOrders(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewGroupRepository(db)
	ctx := context.Background()
	now := testutil.Epoch

	for _, id := range []string{"G-open", "G-refund", "G-settled"} {
		testutil.SeedGroup(t, db, id, 1, 3, 1, now.Add(-time.Hour))
		_, err := repo.MarkStatus(ctx, nil, id, model.GroupStatusPending, model.GroupStatusFailed, now)
		require.NoError(t, err)
	}

	testutil.SeedOrder(t, db, "O1", "G-open", 1, 100, model.OrderStatusPaid)
	refund := testutil.SeedOrder(t, db, "O2", "G-refund", 1, 100, model.OrderStatusCancelled)
	require.NoError(t, db.Model(refund).Update("refund_status", model.RefundStatusPending).Error)
	testutil.SeedOrder(t, db, "O3", "G-settled", 1, 100, model.OrderStatusCancelled)

	groups, err := repo.ListFailedWithOpenOrders(ctx, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.GroupID)
	}
	assert.ElementsMatch(t, []string{"G-open", "G-refund"}, ids)
}

// 并发参团：成功数不超过成团人数，计数与参团记录数一致
func TestGroupRepository_ConcurrentJoinCapacity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15

	properties := gopter.NewProperties(parameters)

	properties.Property("成功参团数不超过 required_count", prop.ForAll(
		func(required, joiners int) bool {
			db := testutil.NewDB(t)
			repo := NewGroupRepository(db)
			ctx := context.Background()
			now := testutil.Epoch

			testutil.SeedGroup(t, db, "G", 1, required, 0, now.Add(time.Hour))

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				success int
			)
			for i := 0; i < joiners; i++ {
				wg.Add(1)
				go func(userID int64) {
					defer wg.Done()
					_, err := repo.Join(ctx, nil, "G", userID, fmt.Sprintf("O%d", userID), now)
					if err == nil {
						mu.Lock()
						success++
						mu.Unlock()
					}
				}(int64(i + 1))
			}
			wg.Wait()

			g, err := repo.GetByGroupID(ctx, nil, "G")
			if err != nil {
				return false
			}
			n, err := countParticipants(db, "G")
			if err != nil {
				return false
			}

			expected := joiners
			if expected > required {
				expected = required
			}
			return success == expected &&
				g.CurrentCount == success &&
				int64(g.CurrentCount) == n
		},
		gen.IntRange(model.MinGroupSize, model.MaxGroupSize),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
