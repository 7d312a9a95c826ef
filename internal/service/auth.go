package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"brenda-cereals/internal/client"
	"brenda-cereals/internal/config"
	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/model"
	"brenda-cereals/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLen = 6
	sessionType    = "session"
)

type Session struct {
	UserID string
	Role   model.Role
}

type AuthService interface {
	Signup(ctx context.Context, req *dto.SignupRequest) (*dto.UserResponse, error)
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error)
	ParseToken(token string) (*Session, error)
	Profile(ctx context.Context, userID string) (*dto.UserResponse, error)
	UpdateProfile(ctx context.Context, userID string, req *dto.UpdateProfileRequest) (*dto.UserResponse, error)
	UnclaimedAdminEmails(ctx context.Context) ([]string, error)
}

type authServiceImpl struct {
	userRepo    repository.UserRepository
	secret      []byte
	ttl         time.Duration
	adminEmails map[string]bool
	now         func() time.Time
}

func NewAuthService(userRepo repository.UserRepository, cfg *config.Auth) AuthService {
	admins := make(map[string]bool, len(cfg.AdminEmails))
	for _, e := range cfg.AdminEmails {
		admins[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return &authServiceImpl{
		userRepo:    userRepo,
		secret:      []byte(cfg.JWTSecret),
		ttl:         cfg.SessionTTL,
		adminEmails: admins,
		now:         time.Now,
	}
}

func (s *authServiceImpl) Signup(ctx context.Context, req *dto.SignupRequest) (*dto.UserResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.Name)
	if email == "" || name == "" || req.Password == "" {
		return nil, Invalid("Name, email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, Invalid("Invalid email address")
	}
	if len(req.Password) < minPasswordLen {
		return nil, Invalid("Password must be at least 6 characters long")
	}

	phone := ""
	if strings.TrimSpace(req.Phone) != "" {
		p, err := client.NormalizePhone(req.Phone)
		if err != nil {
			return nil, Invalid("Invalid phone number format")
		}
		phone = p
	}

	_, err := s.userRepo.FindByEmail(ctx, email)
	if err == nil {
		return nil, Invalid("User with this email already exists")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find user by email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := model.RoleCustomer
	if s.adminEmails[email] {
		role = model.RoleAdmin
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Phone:        phone,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return toUserResponse(user), nil
}

// UnclaimedAdminEmails lists configured admin addresses nobody has signed up with yet. The
// first signup with such an address becomes ADMIN, so they should be registered at deploy time.
func (s *authServiceImpl) UnclaimedAdminEmails(ctx context.Context) ([]string, error) {
	var out []string
	for email := range s.adminEmails {
		_, err := s.userRepo.FindByEmail(ctx, email)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out = append(out, email)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find user by email: %w", err)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *authServiceImpl) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, Invalid("Email and password are required")
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, Unauthorized("Invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, Unauthorized("Invalid credentials")
	}

	expiresAt := s.now().Add(s.ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID,
		"typ":  sessionType,
		"role": string(user.Role),
		"exp":  expiresAt.Unix(),
	})
	token, err := t.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}

	return &dto.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      toUserResponse(user),
	}, nil
}

func (s *authServiceImpl) ParseToken(token string) (*Session, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims["typ"] != sessionType {
		return nil, errors.New("invalid token type")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("invalid sub")
	}
	role, _ := claims["role"].(string)

	return &Session{UserID: sub, Role: model.Role(role)}, nil
}

func (s *authServiceImpl) Profile(ctx context.Context, userID string) (*dto.UserResponse, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return toUserResponse(user), nil
}

func (s *authServiceImpl) UpdateProfile(ctx context.Context, userID string, req *dto.UpdateProfileRequest) (*dto.UserResponse, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	fields := map[string]interface{}{}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, Invalid("Name cannot be empty")
		}
		fields["name"] = name
	}

	if req.Phone != nil {
		phone := ""
		if strings.TrimSpace(*req.Phone) != "" {
			phone, err = client.NormalizePhone(*req.Phone)
			if err != nil {
				return nil, Invalid("Invalid phone number format")
			}
		}
		fields["phone"] = phone
	}

	if req.NewPassword != "" {
		if req.CurrentPassword == "" {
			return nil, Invalid("Current password is required to change password")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			return nil, Invalid("Current password is incorrect")
		}
		if len(req.NewPassword) < minPasswordLen {
			return nil, Invalid("New password must be at least 6 characters long")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		fields["password_hash"] = string(hash)
	}

	if len(fields) > 0 {
		if err := s.userRepo.Update(ctx, userID, fields); err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
	}

	return s.Profile(ctx, userID)
}
