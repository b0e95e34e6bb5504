package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

const DefaultLocale = "fr"

type UserRole string

const (
	RoleMember UserRole = "member"
	RoleAdmin  UserRole = "admin"
)

func (r UserRole) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

type User struct {
	ID     uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Email  string    `json:"email" gorm:"uniqueIndex;not null"`
	Name   string    `json:"name"`
	Locale string    `json:"locale" gorm:"type:varchar(8);not null;default:'fr'"`
	Role   UserRole  `json:"role" gorm:"type:varchar(16);not null;default:'member'"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	AssignedTasks []Task             `json:"assigned_tasks,omitempty" gorm:"foreignKey:AssignedTo"`
	Subscriptions []PushSubscription `json:"-" gorm:"foreignKey:UserID"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		u.ID = id
	}
	if u.Locale == "" {
		u.Locale = DefaultLocale
	}
	if u.Role == "" {
		u.Role = RoleMember
	}
	return nil
}
