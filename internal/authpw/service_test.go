package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"brokercrm/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// mockUserStore is an in-memory UserStore keyed by email.
type mockUserStore struct {
	users map[string]store.User
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]store.User)}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if user, ok := m.users[email]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}

func (m *mockUserStore) CountUsers(ctx context.Context) (int, error) {
	return len(m.users), nil
}

func (m *mockUserStore) CreateUser(ctx context.Context, user store.User) error {
	m.users[user.Email] = user
	return nil
}

func newTestService() (*Service, *mockUserStore) {
	users := newMockUserStore()
	svc := NewService(users)
	svc.cost = bcrypt.MinCost
	return svc, users
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService()

	first, err := svc.Register(ctx, RegisterRequest{
		Name: "Dana Broker", Email: "Dana@Example.com", Password: "password123", ConfirmPassword: "password123",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if first.Email != "dana@example.com" {
		t.Fatalf("expected lowercased email, got %q", first.Email)
	}
	if first.Role != "admin" {
		t.Fatalf("expected first user to be admin, got %q", first.Role)
	}
	if first.PasswordHash == "password123" || first.PasswordHash == "" {
		t.Fatalf("expected hashed password")
	}

	second, err := svc.Register(ctx, RegisterRequest{
		Name: "Sam", Email: "sam@example.com", Password: "password123", ConfirmPassword: "password123",
	})
	if err != nil {
		t.Fatalf("Register() second error = %v", err)
	}
	if second.Role != "user" {
		t.Fatalf("expected second user role user, got %q", second.Role)
	}
	if len(users.users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users.users))
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name string
		req  RegisterRequest
		want string
	}{
		{"missing name", RegisterRequest{Email: "a@b.co", Password: "password1", ConfirmPassword: "password1"}, "Name is required"},
		{"bad email", RegisterRequest{Name: "A", Email: "nope", Password: "password1", ConfirmPassword: "password1"}, "Invalid email address"},
		{"short password", RegisterRequest{Name: "A", Email: "a@b.co", Password: "short", ConfirmPassword: "short"}, "Password must be at least 8 characters"},
		{"mismatch", RegisterRequest{Name: "A", Email: "a@b.co", Password: "password1", ConfirmPassword: "password2"}, "Passwords don't match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Message != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, verr.Message)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	req := RegisterRequest{Name: "Dana", Email: "dana@example.com", Password: "password123", ConfirmPassword: "password123"}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	if _, err := svc.Register(ctx, RegisterRequest{
		Name: "Dana", Email: "dana@example.com", Password: "password123", ConfirmPassword: "password123",
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	user, err := svc.Authenticate(ctx, " DANA@example.com ", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.Name != "Dana" {
		t.Fatalf("unexpected user %+v", user)
	}

	for _, tc := range []struct{ email, password string }{
		{"dana@example.com", "wrong-password"},
		{"nobody@example.com", "password123"},
		{"", ""},
	} {
		if _, err := svc.Authenticate(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Authenticate(%q): expected ErrInvalidCredentials, got %v", tc.email, err)
		}
	}
}
