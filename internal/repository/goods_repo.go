package repository

import (
	"context"
	"errors"

	"groupbuy/internal/model"

	"gorm.io/gorm"
)

var ErrGoodsNotFound = errors.New("商品不存在")

// GoodsRepository 商品目录，拼团只读配置、累加销量
type GoodsRepository struct {
	db *gorm.DB
}

func NewGoodsRepository(db *gorm.DB) *GoodsRepository {
	return &GoodsRepository{db: db}
}

func (r *GoodsRepository) Create(ctx context.Context, goods *model.Goods) error {
	return r.db.WithContext(ctx).Create(goods).Error
}

func (r *GoodsRepository) GetByID(ctx context.Context, goodsID int64) (*model.Goods, error) {
	var goods model.Goods
	err := r.db.WithContext(ctx).Where("id = ?", goodsID).First(&goods).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGoodsNotFound
		}
		return nil, err
	}
	return &goods, nil
}

func (r *GoodsRepository) GetGroupBuyConfig(ctx context.Context, goodsID int64) (*model.GroupBuyConfig, error) {
	goods, err := r.GetByID(ctx, goodsID)
	if err != nil {
		return nil, err
	}
	return goods.GroupBuyConfig(), nil
}

func (r *GoodsRepository) IncrementSales(ctx context.Context, goodsID int64, quantity int) error {
	result := r.db.WithContext(ctx).
		Model(&model.Goods{}).
		Where("id = ?", goodsID).
		UpdateColumn("sales_count", gorm.Expr("sales_count + ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrGoodsNotFound
	}
	return nil
}
