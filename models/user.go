package models

import (
	"time"
)

// User is the authenticated principal. It owns its refresh tokens; the whole
// aggregate is loaded and persisted as one unit.
type User struct {
	ID                uint `gorm:"primaryKey"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Username          string     `gorm:"size:255;not null;uniqueIndex"`
	Email             string     `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash      string     `gorm:"size:255;not null"`
	Role              Role       `gorm:"size:32;not null;default:User"`
	VerificationToken *string    `gorm:"size:128;index"`
	VerifiedAt        *time.Time
	ResetToken        *string `gorm:"size:128;index"`
	ResetTokenExpires *time.Time
	PasswordResetAt   *time.Time
	RefreshTokens     []RefreshToken `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// IsVerified reports whether the principal confirmed its email address.
func (u *User) IsVerified() bool {
	return u.VerifiedAt != nil
}

// FindRefreshToken returns a pointer into the owned collection, or nil.
func (u *User) FindRefreshToken(value string) *RefreshToken {
	for i := range u.RefreshTokens {
		if u.RefreshTokens[i].Token == value {
			return &u.RefreshTokens[i]
		}
	}
	return nil
}

// OwnsRefreshToken reports whether value belongs to this principal.
func (u *User) OwnsRefreshToken(value string) bool {
	return u.FindRefreshToken(value) != nil
}

// AddRefreshToken appends token to the collection. Pointers previously
// returned by FindRefreshToken may be invalidated.
func (u *User) AddRefreshToken(token RefreshToken) {
	token.UserID = u.ID
	u.RefreshTokens = append(u.RefreshTokens, token)
}

// RemoveRefreshTokens drops every token for which remove returns true and
// reports how many were dropped.
func (u *User) RemoveRefreshTokens(remove func(*RefreshToken) bool) int {
	kept := u.RefreshTokens[:0]
	removed := 0
	for i := range u.RefreshTokens {
		if remove(&u.RefreshTokens[i]) {
			removed++
			continue
		}
		kept = append(kept, u.RefreshTokens[i])
	}
	u.RefreshTokens = kept
	return removed
}
