package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ireporter/api/internal/model"
	"gorm.io/gorm"
)

type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// IsAdmin reports whether userID holds the admin role. Unknown users are
// not admins.
func (s *UserStore) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var user model.User
	err := s.db.WithContext(ctx).Select("id", "role").First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return user.Role == model.RoleAdmin, nil
}

// Upsert inserts the user or, if the email exists, loads it into user.
func (s *UserStore) Upsert(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).
		Where(model.User{Email: user.Email}).
		Attrs(model.User{Name: user.Name, Role: user.Role}).
		FirstOrCreate(user).Error
}
