package users

import (
	"context"
	"strings"
	"time"
)

// MaxListedUsers bounds every identity-provider listing.
const MaxListedUsers = 1000

// ProviderUser is the identity-provider side of a user record.
type ProviderUser struct {
	UID          string
	Email        string
	DisplayName  string
	PhotoURL     string
	CreatedAt    time.Time
	LastSignInAt time.Time
}

// Directory lists users known to the identity provider.
type Directory interface {
	ListUsers(ctx context.Context, limit int) ([]ProviderUser, error)
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListedUsers {
		return MaxListedUsers
	}
	return limit
}
