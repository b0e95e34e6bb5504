package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fructosahel/backend/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	return user, err
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return r.db.WithContext(ctx).Create(user).Error
}

// FindOrCreateByEmail returns the user with that email, creating it with the
// given name and locale when absent.
func (r *UserRepository) FindOrCreateByEmail(ctx context.Context, email, name, locale string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return user, err
	}

	user = models.User{Email: email, Name: name, Locale: locale}
	if err := r.Create(ctx, &user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// Locale returns the user's preferred locale, or the default when the user
// is unknown.
func (r *UserRepository) Locale(ctx context.Context, id uuid.UUID) (string, error) {
	var user models.User
	err := r.db.WithContext(ctx).Select("locale").First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultLocale, nil
	}
	if err != nil {
		return models.DefaultLocale, err
	}
	if user.Locale == "" {
		return models.DefaultLocale, nil
	}
	return user.Locale, nil
}

// UpdateProfile applies the non-nil fields and returns the stored user.
func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, name, locale *string) (models.User, error) {
	updates := map[string]interface{}{}
	if name != nil {
		updates["name"] = strings.TrimSpace(*name)
	}
	if locale != nil {
		updates["locale"] = *locale
	}

	if len(updates) > 0 {
		result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return models.User{}, result.Error
		}
		if result.RowsAffected == 0 {
			return models.User{}, gorm.ErrRecordNotFound
		}
	}
	return r.GetByID(ctx, id)
}

// Role returns the stored role. Unknown users are members.
func (r *UserRepository) Role(ctx context.Context, id uuid.UUID) (models.UserRole, error) {
	var user models.User
	err := r.db.WithContext(ctx).Select("role").First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.RoleMember, nil
	}
	if err != nil {
		return models.RoleMember, err
	}
	if !user.Role.Valid() {
		return models.RoleMember, nil
	}
	return user.Role, nil
}

func (r *UserRepository) SetRole(ctx context.Context, id uuid.UUID, role models.UserRole) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("role", role)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
