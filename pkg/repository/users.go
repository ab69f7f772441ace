package repository

import (
	"context"
	"strings"
	"time"

	"excursion/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Users persists the User aggregate together with its refresh tokens.
type Users struct {
	*Gorm[models.User]
	db *gorm.DB
}

func NewUsers(db *gorm.DB) *Users {
	return &Users{Gorm: NewGorm[models.User](db), db: db}
}

func (r *Users) withTokens(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("RefreshTokens", func(db *gorm.DB) *gorm.DB {
		return db.Order("refresh_tokens.id")
	})
}

// FindByID loads the principal and its tokens.
func (r *Users) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.withTokens(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// FindByEmail loads the principal and its tokens. Emails compare case-insensitively.
func (r *Users) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.withTokens(ctx).Where("LOWER(email) = ?", NormalizeEmail(email)).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// FindByRefreshToken returns the owner of token regardless of the token's state.
func (r *Users) FindByRefreshToken(ctx context.Context, token string) (*models.User, error) {
	owner := r.db.Model(&models.RefreshToken{}).Select("user_id").Where("token = ?", token)
	var user models.User
	if err := r.withTokens(ctx).Where("id IN (?)", owner).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *Users) RefreshTokenExists(ctx context.Context, token string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.RefreshToken{}).Where("token = ?", token).Count(&n).Error
	return n > 0, err
}

// FindByResetToken matches a reset token that has not expired at now.
func (r *Users) FindByResetToken(ctx context.Context, token string, now time.Time) (*models.User, error) {
	var user models.User
	err := r.withTokens(ctx).
		Where("reset_token = ? AND reset_token_expires > ?", token, now).
		First(&user).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *Users) FindByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	var user models.User
	if err := r.withTokens(ctx).Where("verification_token = ?", token).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *Users) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Count(&n).Error
	return n, err
}

// Save writes the user row and reconciles its token collection in one
// transaction: tokens in the collection are upserted, tokens no longer in it
// are deleted.
func (r *Users) Save(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Save(user).Error; err != nil {
			return err
		}
		keep := make([]uint, 0, len(user.RefreshTokens))
		for i := range user.RefreshTokens {
			rt := &user.RefreshTokens[i]
			rt.UserID = user.ID
			if err := tx.Save(rt).Error; err != nil {
				return err
			}
			keep = append(keep, rt.ID)
		}
		stale := tx.Where("user_id = ?", user.ID)
		if len(keep) > 0 {
			stale = stale.Where("id NOT IN ?", keep)
		}
		return stale.Delete(&models.RefreshToken{}).Error
	})
}

// Delete removes the user and every token it owns.
func (r *Users) Delete(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, user.ID).Error
	})
}

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
