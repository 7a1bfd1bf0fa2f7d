package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hotspotbill/backend/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLen = 6

var (
	ErrBadCredentials    = errors.New("invalid username or password")
	ErrTwoFactorRequired = errors.New("2FA code required")
	ErrBadTwoFactorCode  = errors.New("invalid 2FA code")
	ErrAccountDisabled   = errors.New("account is disabled")
)

// UserInput creates or updates a panel user. An empty password on update
// keeps the current one.
type UserInput struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	Email    string          `json:"email"`
	FullName string          `json:"full_name"`
	Role     models.UserRole `json:"role"`
	IsActive *bool           `json:"is_active"`
}

// UserService manages panel users, passwords and TOTP
type UserService struct {
	db   *gorm.DB
	cost int
	now  func() time.Time
}

// NewUserService creates a new user service
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db, cost: bcrypt.DefaultCost, now: time.Now}
}

// HashPassword hashes a password
func (s *UserService) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	return string(b), err
}

// Authenticate checks credentials and, when enabled, the TOTP code
func (s *UserService) Authenticate(ctx context.Context, username, password, code string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if user.TwoFactorEnabled {
		if code == "" {
			return nil, ErrTwoFactorRequired
		}
		if !totp.Validate(code, user.TwoFactorSecret) {
			return nil, ErrBadTwoFactorCode
		}
	}

	now := s.now()
	user.LastLogin = &now
	s.db.WithContext(ctx).Model(&user).Update("last_login", now)
	return &user, nil
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("username").Find(&users).Error
	return users, err
}

func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

func (s *UserService) Create(ctx context.Context, in UserInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || strings.ContainsAny(in.Username, " \t") {
		return nil, invalid("username is required and must not contain spaces")
	}
	if len(in.Password) < minPasswordLen {
		return nil, invalid("password must be at least %d characters", minPasswordLen)
	}
	if in.Role == "" {
		in.Role = models.RoleOperator
	}
	if !in.Role.Valid() {
		return nil, invalid("role must be admin, operator or cashier")
	}

	var count int64
	s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", in.Username).Count(&count)
	if count > 0 {
		return nil, fmt.Errorf("username %q %w", in.Username, ErrConflict)
	}

	hash, err := s.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Username: in.Username,
		Password: hash,
		Email:    in.Email,
		FullName: in.FullName,
		Role:     in.Role,
		IsActive: in.IsActive == nil || *in.IsActive,
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"username": u.Username, "role": u.Role}).Info("User created")
	return u, nil
}

// Update changes a user. actorID may not demote or disable itself.
func (s *UserService) Update(ctx context.Context, actorID, id uint, in UserInput) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Role != "" && !in.Role.Valid() {
		return nil, invalid("role must be admin, operator or cashier")
	}
	if actorID == id {
		if in.Role != "" && in.Role != u.Role {
			return nil, invalid("you cannot change your own role")
		}
		if in.IsActive != nil && !*in.IsActive {
			return nil, invalid("you cannot disable your own account")
		}
	}

	updates := map[string]interface{}{
		"email":     in.Email,
		"full_name": in.FullName,
	}
	if in.Role != "" {
		updates["role"] = in.Role
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if in.Password != "" {
		if len(in.Password) < minPasswordLen {
			return nil, invalid("password must be at least %d characters", minPasswordLen)
		}
		hash, err := s.HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		updates["password"] = hash
		updates["force_password_change"] = actorID != id
	}
	if demotesAdmin(u, in) {
		if err := s.keepOneAdmin(ctx, id); err != nil {
			return nil, err
		}
	}
	if err := s.db.WithContext(ctx).Model(u).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func demotesAdmin(u *models.User, in UserInput) bool {
	if u.Role != models.RoleAdmin || !u.IsActive {
		return false
	}
	return (in.Role != "" && in.Role != models.RoleAdmin) || (in.IsActive != nil && !*in.IsActive)
}

// Delete removes a user other than actorID, keeping at least one admin
func (s *UserService) Delete(ctx context.Context, actorID, id uint) error {
	if actorID == id {
		return invalid("you cannot delete your own account")
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.Role == models.RoleAdmin && u.IsActive {
		if err := s.keepOneAdmin(ctx, id); err != nil {
			return err
		}
	}
	return s.db.WithContext(ctx).Delete(u).Error
}

func (s *UserService) keepOneAdmin(ctx context.Context, exceptID uint) error {
	var count int64
	s.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ? AND is_active = ? AND id <> ?", models.RoleAdmin, true, exceptID).
		Count(&count)
	if count == 0 {
		return fmt.Errorf("the last active admin: %w", ErrNotAllowed)
	}
	return nil
}

// ChangePassword replaces the caller's password after checking the current one
func (s *UserService) ChangePassword(ctx context.Context, id uint, current, next string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(current)); err != nil {
		return invalid("current password is incorrect")
	}
	if len(next) < minPasswordLen {
		return invalid("password must be at least %d characters", minPasswordLen)
	}
	hash, err := s.HashPassword(next)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(u).Updates(map[string]interface{}{
		"password":              hash,
		"force_password_change": false,
	}).Error
}

// SetupTwoFactor generates a TOTP secret. It is stored but not enabled
// until EnableTwoFactor confirms a code.
func (s *UserService) SetupTwoFactor(ctx context.Context, id uint, issuer string) (*otp.Key, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return nil, invalid("2FA is already enabled")
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: issuer, AccountName: u.Username})
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(u).Update("two_factor_secret", key.Secret()).Error; err != nil {
		return nil, err
	}
	return key, nil
}

// EnableTwoFactor turns on 2FA once code matches the pending secret
func (s *UserService) EnableTwoFactor(ctx context.Context, id uint, code string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.TwoFactorSecret == "" {
		return invalid("2FA not set up, call setup first")
	}
	if !totp.Validate(code, u.TwoFactorSecret) {
		return ErrBadTwoFactorCode
	}
	return s.db.WithContext(ctx).Model(u).Update("two_factor_enabled", true).Error
}

// DisableTwoFactor turns off 2FA after checking password and code
func (s *UserService) DisableTwoFactor(ctx context.Context, id uint, password, code string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !u.TwoFactorEnabled {
		return invalid("2FA is not enabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return invalid("invalid password")
	}
	if !totp.Validate(code, u.TwoFactorSecret) {
		return ErrBadTwoFactorCode
	}
	return s.db.WithContext(ctx).Model(u).Updates(map[string]interface{}{
		"two_factor_enabled": false,
		"two_factor_secret":  "",
	}).Error
}

// EnsureAdmin creates an admin or resets the password of an existing user
// and promotes it
func (s *UserService) EnsureAdmin(ctx context.Context, username, password string) (*models.User, bool, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		created, err := s.Create(ctx, UserInput{Username: username, Password: password, Role: models.RoleAdmin})
		if err == nil {
			s.db.WithContext(ctx).Model(created).Update("force_password_change", true)
		}
		return created, true, err
	}
	if err != nil {
		return nil, false, err
	}
	if len(password) < minPasswordLen {
		return nil, false, invalid("password must be at least %d characters", minPasswordLen)
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, false, err
	}
	err = s.db.WithContext(ctx).Model(&u).Updates(map[string]interface{}{
		"password":  hash,
		"role":      models.RoleAdmin,
		"is_active": true,
	}).Error
	return &u, false, err
}
