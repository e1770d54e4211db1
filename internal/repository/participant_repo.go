package repository

import (
	"context"

	"groupbuy/internal/model"

	"gorm.io/gorm"
)

type ParticipantRepository struct {
	db *gorm.DB
}

func NewParticipantRepository(db *gorm.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Create 开团时写入团长的参团记录；参团走 GroupRepository.Join
func (r *ParticipantRepository) Create(ctx context.Context, tx *gorm.DB, p *model.GroupBuyParticipant) error {
	err := pick(r.db, tx).WithContext(ctx).Create(p).Error
	if isDuplicateKey(err) {
		return ErrAlreadyJoined
	}
	return err
}

func (r *ParticipantRepository) Exists(ctx context.Context, groupID string, userID int64) (bool, error) {
	return participantExists(r.db.WithContext(ctx), groupID, userID)
}

func (r *ParticipantRepository) ListByGroup(ctx context.Context, groupID string) ([]*model.GroupBuyParticipant, error) {
	var list []*model.GroupBuyParticipant
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("joined_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

func participantExists(db *gorm.DB, groupID string, userID int64) (bool, error) {
	var n int64
	err := db.Model(&model.GroupBuyParticipant{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&n).Error
	return n > 0, err
}
