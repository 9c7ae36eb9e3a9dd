package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/apperr"
)

// NewUser is an admin-created account.
type NewUser struct {
	Email          string `json:"email" validate:"required,email"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	LocationAccess string `json:"locationAccess"`
	AdminAccess    bool   `json:"adminAccess"`
}

// UserPatch carries optional changes. Invalid statuses and location access
// values are ignored.
type UserPatch struct {
	Name           *string `json:"name"`
	Role           *string `json:"role"`
	Status         *string `json:"status"`
	LocationAccess *string `json:"locationAccess"`
	AdminAccess    *bool   `json:"adminAccess"`
}

// UserAdmin administers accounts. The owner cannot be created, demoted or
// deleted through it.
type UserAdmin struct {
	users          UserStore
	bootstrapEmail string
	clock          Clock
}

func NewUserAdmin(users UserStore, bootstrapEmail string) *UserAdmin {
	return &UserAdmin{users: users, bootstrapEmail: NormalizeEmail(bootstrapEmail), clock: timeNowClock{}}
}

func (a *UserAdmin) List(ctx context.Context) ([]User, error) {
	all, err := a.users.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to list users", err)
	}
	return all, nil
}

func (a *UserAdmin) Create(ctx context.Context, in NewUser) (*User, error) {
	addr := NormalizeEmail(in.Email)
	if addr == "" {
		return nil, apperr.Validation("email is required")
	}
	if a.isBootstrap(addr) {
		return nil, apperr.Authorization("Owner is managed via bootstrap email")
	}
	role := RoleReadonly
	if strings.TrimSpace(in.Role) != "" {
		role = NormalizeRole(in.Role)
	}
	if role == RoleOwner {
		return nil, apperr.Authorization("Cannot create owner via API")
	}
	access, ok := parseLocationAccess(in.LocationAccess)
	if !ok {
		access = LocationAccessAll
	}

	now := a.clock.Now()
	user := &User{
		ID:             uuid.NewString(),
		Email:          addr,
		Name:           strings.TrimSpace(in.Name),
		Role:           role,
		LocationAccess: access,
		AdminAccess:    in.AdminAccess,
		Status:         UserActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, apperr.Conflict("User already exists")
		}
		return nil, apperr.Internal("failed to create user", err)
	}
	log.Info().Str("event", "user_created").Str("userId", user.ID).Str("role", string(user.Role)).Msg("user created")
	return user, nil
}

func (a *UserAdmin) Update(ctx context.Context, id string, patch UserPatch) (*User, error) {
	user, err := a.get(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := false
	if patch.Name != nil {
		user.Name, changed = strings.TrimSpace(*patch.Name), true
	}
	if patch.Role != nil {
		role := NormalizeRole(*patch.Role)
		if role == RoleOwner {
			return nil, apperr.Authorization("Cannot assign owner role")
		}
		user.Role, changed = role, true
	}
	if patch.Status != nil {
		switch s := UserStatus(strings.TrimSpace(*patch.Status)); s {
		case UserActive, UserSuspended:
			user.Status, changed = s, true
		}
	}
	if patch.LocationAccess != nil {
		if access, ok := parseLocationAccess(*patch.LocationAccess); ok {
			user.LocationAccess, changed = access, true
		}
	}
	if patch.AdminAccess != nil {
		user.AdminAccess, changed = *patch.AdminAccess, true
	}

	if a.protected(user) {
		user.promoteOwner()
		changed = true
	}
	if !changed {
		return nil, apperr.Validation("No valid fields provided")
	}
	user.UpdatedAt = a.clock.Now()
	if err := a.users.UpdateUser(ctx, user); err != nil {
		return nil, apperr.Internal("failed to update user", err)
	}
	return user, nil
}

func (a *UserAdmin) Delete(ctx context.Context, id string) error {
	user, err := a.get(ctx, id)
	if err != nil {
		return err
	}
	if a.protected(user) {
		return apperr.Authorization("Cannot delete owner")
	}
	if err := a.users.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("failed to delete user", err)
	}
	log.Info().Str("event", "user_deleted").Str("userId", id).Msg("user deleted")
	return nil
}

// ActiveAdminEmails lists active owners and admins.
func (a *UserAdmin) ActiveAdminEmails(ctx context.Context) ([]string, error) {
	all, err := a.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, u := range all {
		if u.Active() && u.Role.CanWrite() {
			out = append(out, u.Email)
		}
	}
	return out, nil
}

func (a *UserAdmin) get(ctx context.Context, id string) (*User, error) {
	user, err := a.users.GetUser(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load user", err)
	}
	return user, nil
}

func (a *UserAdmin) protected(u *User) bool {
	return u.IsOwner() || a.isBootstrap(u.Email)
}

func (a *UserAdmin) isBootstrap(addr string) bool {
	return a.bootstrapEmail != "" && addr == a.bootstrapEmail
}

func parseLocationAccess(raw string) (LocationAccess, bool) {
	switch v := LocationAccess(strings.TrimSpace(raw)); v {
	case LocationAccessAll, LocationAccessResortOnly:
		return v, true
	default:
		return "", false
	}
}
