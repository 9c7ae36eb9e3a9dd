// Package identity manages users, magic-link sign in, JWT sessions and
// refresh-token rotation for the admin and frontend audiences.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleReadonly Role = "readonly"
)

// NormalizeRole maps any unknown role to readonly.
func NormalizeRole(raw string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleOwner, RoleAdmin, RoleReadonly:
		return r
	default:
		return RoleReadonly
	}
}

// CanWrite reports whether the role may perform admin mutations.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleAdmin
}

type LocationAccess string

const (
	LocationAccessAll        LocationAccess = "all"
	LocationAccessResortOnly LocationAccess = "resort-only"
)

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// User is shared by both audiences. Email is unique and stored lower-case.
type User struct {
	ID                 string         `json:"id"`
	Email              string         `json:"email"`
	Name               string         `json:"name"`
	Role               Role           `json:"role"`
	LocationAccess     LocationAccess `json:"locationAccess"`
	AdminAccess        bool           `json:"adminAccess"`
	Status             UserStatus     `json:"status"`
	LastLoginAt        *time.Time     `json:"lastLoginAt,omitempty"`
	LastLoginIP        string         `json:"lastLoginIp,omitempty"`
	LastLoginUserAgent string         `json:"lastLoginUserAgent,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

func (u *User) Active() bool { return u.Status == UserActive }

func (u *User) IsOwner() bool { return u.Role == RoleOwner }

// CanAdminister reports whether the user may hold an admin session.
func (u *User) CanAdminister() bool {
	return u.Active() && (u.IsOwner() || u.AdminAccess)
}

// promoteOwner forces the fields an owner always carries.
func (u *User) promoteOwner() {
	u.Role = RoleOwner
	u.Status = UserActive
	u.LocationAccess = LocationAccessAll
	u.AdminAccess = true
}

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	// ListUsers returns users newest first.
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
	RecordLogin(ctx context.Context, id string, at time.Time, ip, userAgent string) error
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type timeNowClock struct{}

func (timeNowClock) Now() time.Time {
	return time.Now().UTC()
}
