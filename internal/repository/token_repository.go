package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sessioncore/token-lifecycle-service/internal/domain"
	"github.com/sessioncore/token-lifecycle-service/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenConsumed is returned by ConsumeAndReplace when the conditional
	// mark-used update matched no row: some other caller exchanged the token
	// first, or it was revoked in between.
	ErrTokenConsumed = errors.New("refresh token already consumed")
)

type TokenRepository interface {
	Create(t *domain.RefreshToken) error
	FindByHash(hash string) (*domain.RefreshToken, error)
	FindByIDForUser(userID, tokenID uint) (*domain.RefreshToken, error)
	ConsumeAndReplace(tokenID uint, successor *domain.RefreshToken) error
	ListLiveByUserID(userID uint) ([]domain.RefreshToken, error)
	ListByFamilyID(familyID string) ([]domain.RefreshToken, error)
	RevokeByID(tokenID uint, reason string) (bool, error)
	RevokeByFamilyID(familyID, reason string) (int64, error)
	RevokeByUserID(userID uint, reason string) (int64, error)
	DeleteExpired(now time.Time) (int64, error)
}

type GormTokenRepository struct{ db *gorm.DB }

func NewTokenRepository(db *gorm.DB) TokenRepository { return &GormTokenRepository{db: db} }

func (r *GormTokenRepository) Create(t *domain.RefreshToken) error {
	err := r.db.Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "create", "success")
	return nil
}

func (r *GormTokenRepository) FindByHash(hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "token", "find_by_hash", "not_found")
			return nil, ErrTokenNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "token", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "find_by_hash", "success")
	return &t, nil
}

func (r *GormTokenRepository) FindByIDForUser(userID, tokenID uint) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.Where("user_id = ? AND id = ?", userID, tokenID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "token", "find_by_id_for_user", "not_found")
			return nil, ErrTokenNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "token", "find_by_id_for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "find_by_id_for_user", "success")
	return &t, nil
}

// ConsumeAndReplace performs the rotation transition as one transaction: insert
// the successor, then flip the predecessor to used with a conditional update
// guarded by is_used = false AND is_revoked = false. A zero row count means this
// caller lost the race; the transaction rolls back, the successor is never
// visible, and ErrTokenConsumed is returned so the caller can run reuse
// detection.
func (r *GormTokenRepository) ConsumeAndReplace(tokenID uint, successor *domain.RefreshToken) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(successor).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		res := tx.Model(&domain.RefreshToken{}).
			Where("id = ? AND is_used = ? AND is_revoked = ?", tokenID, false, false).
			Updates(map[string]any{
				"is_used":     true,
				"used_at":     now,
				"replaced_by": successor.ID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTokenConsumed
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTokenConsumed) {
			observability.RecordRepositoryOperation(context.Background(), "token", "consume_and_replace", "lost_race")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "token", "consume_and_replace", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "consume_and_replace", "success")
	return nil
}

func (r *GormTokenRepository) ListLiveByUserID(userID uint) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := r.db.Where("user_id = ? AND is_revoked = ? AND expires_at > ?", userID, false, time.Now()).
		Order("created_at DESC").
		Find(&tokens).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "token", "list_live_by_user_id", "error")
		return tokens, err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "list_live_by_user_id", "success")
	return tokens, nil
}

func (r *GormTokenRepository) ListByFamilyID(familyID string) ([]domain.RefreshToken, error) {
	var tokens []domain.RefreshToken
	err := r.db.Where("family_id = ?", familyID).
		Order("created_at ASC").
		Find(&tokens).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "token", "list_by_family_id", "error")
		return tokens, err
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "list_by_family_id", "success")
	return tokens, nil
}

func (r *GormTokenRepository) RevokeByID(tokenID uint, reason string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshToken{}).
		Where("id = ? AND is_revoked = ?", tokenID, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "token", "revoke_by_id", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "revoke_by_id", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormTokenRepository) RevokeByFamilyID(familyID, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshToken{}).
		Where("family_id = ? AND is_revoked = ?", familyID, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "token", "revoke_by_family_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "revoke_by_family_id", "success")
	return res.RowsAffected, nil
}

func (r *GormTokenRepository) RevokeByUserID(userID uint, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshToken{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now, "revoked_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "token", "revoke_by_user_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "revoke_by_user_id", "success")
	return res.RowsAffected, nil
}

// DeleteExpired removes every record past its expiry, used or not. An expired
// record can never rotate again, so deleting abandoned never-used tokens along
// with used and revoked ones is safe; an ACTIVE unexpired record never matches.
func (r *GormTokenRepository) DeleteExpired(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", now).Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "token", "delete_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "token", "delete_expired", "success")
	return res.RowsAffected, nil
}
