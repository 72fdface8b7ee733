package users

import (
	"time"
)

// UnnamedDisplayName is shown for users without a display name.
const UnnamedDisplayName = "Unnamed"

// Overlay holds the moderation fields this service owns for a uid.
type Overlay struct {
	UID           string     `gorm:"column:uid;primaryKey;size:128;not null"`
	IsBlocked     bool       `gorm:"column:is_blocked;not null;index"`
	BlockedReason string     `gorm:"column:blocked_reason;size:1024;not null"`
	BlockedAt     *time.Time `gorm:"column:blocked_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing user overlays.
func (Overlay) TableName() string {
	return "user_overlays"
}

// Record is the merged view returned by the admin user listing.
type Record struct {
	UID           string     `json:"uid"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"displayName"`
	PhotoURL      string     `json:"photoURL,omitempty"`
	CreatedAt     *time.Time `json:"createdAt"`
	LastSignIn    *time.Time `json:"lastSignIn"`
	IsBlocked     bool       `json:"isBlocked"`
	BlockedReason string     `json:"blockedReason"`
	BlockedAt     *time.Time `json:"blockedAt"`
}

// Merge combines a provider user with its optional overlay. Identity fields
// come from the provider; moderation fields come from the overlay and default
// to unblocked when it is nil.
func Merge(user ProviderUser, overlay *Overlay) Record {
	record := Record{
		UID:         user.UID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		PhotoURL:    user.PhotoURL,
		CreatedAt:   optionalTime(user.CreatedAt),
		LastSignIn:  optionalTime(user.LastSignInAt),
	}
	if record.DisplayName == "" {
		record.DisplayName = UnnamedDisplayName
	}
	if overlay != nil {
		record.IsBlocked = overlay.IsBlocked
		record.BlockedReason = overlay.BlockedReason
		if overlay.BlockedAt != nil {
			blockedAt := overlay.BlockedAt.UTC()
			record.BlockedAt = &blockedAt
		}
	}
	return record
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}
