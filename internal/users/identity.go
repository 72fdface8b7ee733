package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/serviceerror"
	"gorm.io/gorm"
)

// DirectoryUser is a locally registered identity. It backs the user listing
// when credentials are minted by this service instead of Firebase.
type DirectoryUser struct {
	UID          string    `gorm:"column:uid;primaryKey;size:128;not null"`
	Email        string    `gorm:"column:email;size:320;index"`
	DisplayName  string    `gorm:"column:display_name;size:320"`
	PhotoURL     string    `gorm:"column:photo_url;size:512"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index"`
	LastSignInAt time.Time `gorm:"column:last_sign_in_at"`
}

// TableName exposes the table backing local identities.
func (DirectoryUser) TableName() string {
	return "directory_users"
}

// DatabaseDirectoryConfig describes the dependencies of a DatabaseDirectory.
type DatabaseDirectoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// DatabaseDirectory serves the Directory contract from the directory_users table.
type DatabaseDirectory struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseDirectory constructs a DatabaseDirectory.
func NewDatabaseDirectory(cfg DatabaseDirectoryConfig) (*DatabaseDirectory, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &DatabaseDirectory{db: cfg.Database, now: clock}, nil
}

// ListUsers returns up to limit users, oldest first.
func (d *DatabaseDirectory) ListUsers(ctx context.Context, limit int) ([]ProviderUser, error) {
	var rows []DirectoryUser
	err := d.db.WithContext(ctx).
		Order("created_at ASC").
		Order("uid ASC").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, serviceerror.New("users.directory_list", "query_failed", err)
	}
	result := make([]ProviderUser, 0, len(rows))
	for _, row := range rows {
		result = append(result, ProviderUser{
			UID:          row.UID,
			Email:        row.Email,
			DisplayName:  row.DisplayName,
			PhotoURL:     row.PhotoURL,
			CreatedAt:    row.CreatedAt,
			LastSignInAt: row.LastSignInAt,
		})
	}
	return result, nil
}

// Register records a sign-in for uid. Unknown users are created; known users
// get changed profile fields and a fresh sign-in time.
func (d *DatabaseDirectory) Register(ctx context.Context, user ProviderUser) (DirectoryUser, error) {
	uid := normalize(user.UID)
	if err := ValidateUID(uid); err != nil {
		return DirectoryUser{}, err
	}
	now := d.now().UTC()

	var existing DirectoryUser
	err := d.db.WithContext(ctx).Where("uid = ?", uid).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		created := DirectoryUser{
			UID:          uid,
			Email:        normalize(user.Email),
			DisplayName:  normalize(user.DisplayName),
			PhotoURL:     normalize(user.PhotoURL),
			CreatedAt:    now,
			LastSignInAt: now,
		}
		if err := d.db.WithContext(ctx).Create(&created).Error; err != nil {
			return DirectoryUser{}, serviceerror.New("users.directory_register", "insert_failed", err)
		}
		return created, nil
	}
	if err != nil {
		return DirectoryUser{}, serviceerror.New("users.directory_register", "query_failed", err)
	}

	updates := map[string]interface{}{"last_sign_in_at": now}
	if email := normalize(user.Email); email != "" && email != existing.Email {
		updates["email"] = email
		existing.Email = email
	}
	if display := normalize(user.DisplayName); display != "" && display != existing.DisplayName {
		updates["display_name"] = display
		existing.DisplayName = display
	}
	if photo := normalize(user.PhotoURL); photo != "" && photo != existing.PhotoURL {
		updates["photo_url"] = photo
		existing.PhotoURL = photo
	}
	if err := d.db.WithContext(ctx).Model(&DirectoryUser{}).Where("uid = ?", uid).Updates(updates).Error; err != nil {
		return DirectoryUser{}, serviceerror.New("users.directory_register", "update_failed", err)
	}
	existing.LastSignInAt = now
	return existing, nil
}
