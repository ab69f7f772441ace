package models

import "time"

// RefreshToken is a long-lived session secret owned by exactly one User.
// Token is the lookup key; ReplacedByToken links a rotated token to its successor.
type RefreshToken struct {
	ID              uint       `gorm:"primaryKey" json:"-"`
	UserID          uint       `gorm:"index;not null" json:"-"`
	Token           string     `gorm:"size:128;not null;uniqueIndex" json:"token"`
	CreatedAt       time.Time  `gorm:"not null" json:"created"`
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires"`
	CreatedByIP     string     `gorm:"size:64" json:"createdByIp"`
	RevokedAt       *time.Time `json:"revoked,omitempty"`
	RevokedByIP     *string    `gorm:"size:64" json:"revokedByIp,omitempty"`
	ReasonRevoked   *string    `gorm:"size:255" json:"reasonRevoked,omitempty"`
	ReplacedByToken *string    `gorm:"size:128" json:"replacedByToken,omitempty"`
}

// IsExpired reports whether the token is past its expiry at now. The boundary is inclusive.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActive reports whether the token can still be exchanged at now.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// Successor returns the value of the token that replaced t, if any.
func (t *RefreshToken) Successor() (string, bool) {
	if t.ReplacedByToken == nil || *t.ReplacedByToken == "" {
		return "", false
	}
	return *t.ReplacedByToken, true
}
