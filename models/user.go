package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Username  string    `gorm:"size:100;uniqueIndex;not null" json:"username" binding:"required"`
	Email     string    `gorm:"size:100" json:"email"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Role      UserRole  `gorm:"type:enum('customer','admin','superadmin');not null;default:'customer'" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Login checks credentials and returns a signed token plus the user.
func Login(ctx context.Context, username, password string) (string, *User, error) {
	db := config.GetDB()

	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return "", nil, errors.New("invalid username or password")
	}
	if user.IsActive != nil && !*user.IsActive {
		return "", nil, errors.New("account is disabled")
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return "", nil, errors.New("invalid username or password")
	}

	token, err := utils.JwtGenerate(user.ID, user.Name, string(user.Role))
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// GetUser loads one user by id.
func GetUser(ctx context.Context, id int) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &user, nil
}
