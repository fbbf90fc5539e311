// Package authpw provides email/password registration and login.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"brokercrm/internal/rbac"
	"brokercrm/internal/store"
	"brokercrm/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = errors.New("An account with this email already exists")
	ErrInvalidCredentials = errors.New("Invalid email or password")
)

// ValidationError carries the first failing input rule.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CountUsers(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, user store.User) error
}

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

type RegisterRequest struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
}

// Register creates a user. The first account in an empty system is an admin.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	switch {
	case name == "":
		return store.User{}, &ValidationError{"Name is required"}
	case !validEmail(email):
		return store.User{}, &ValidationError{"Invalid email address"}
	case len(req.Password) < 8:
		return store.User{}, &ValidationError{"Password must be at least 8 characters"}
	case req.Password != req.ConfirmPassword:
		return store.User{}, &ValidationError{"Passwords don't match"}
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return store.User{}, fmt.Errorf("count users: %w", err)
	}
	role := rbac.RoleUser
	if count == 0 {
		role = rbac.RoleAdmin
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         string(role),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate checks credentials. Unknown email and wrong password fail the same way.
func (s *Service) Authenticate(ctx context.Context, email, password string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func validEmail(value string) bool {
	if value == "" {
		return false
	}
	addr, err := mail.ParseAddress(value)
	return err == nil && addr.Address == value
}
