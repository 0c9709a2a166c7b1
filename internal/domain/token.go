package domain

import "time"

// RefreshToken is one link in a rotation chain. The raw bearer secret is never
// stored; TokenHash is the only handle the store exposes for a presented token.
type RefreshToken struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"index;not null" json:"user_id"`
	TokenHash     string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	FamilyID      string     `gorm:"size:64;index;not null" json:"-"`
	IsUsed        bool       `gorm:"not null;default:false" json:"-"`
	IsRevoked     bool       `gorm:"not null;default:false" json:"-"`
	ReplacedBy    *uint      `gorm:"index" json:"-"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	IP            string     `gorm:"size:64" json:"ip"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Active means the record can still win a rotation: never exchanged, never
// revoked, not yet past its expiry.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.IsUsed && !t.IsRevoked && !t.Expired(now)
}
