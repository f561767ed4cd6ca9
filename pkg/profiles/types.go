package profiles

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role is a profile's storefront role
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// GuestPrefix marks profiles created by payment fulfillment before the buyer signed up
const GuestPrefix = "guest:"

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrEmailRequired   = errors.New("email is required")
	// ErrEmailTaken is returned when a different signed-up user already owns the email
	ErrEmailTaken  = errors.New("email already belongs to another account")
	ErrInvalidRole = errors.New("invalid role")
	// ErrEmailUnverified is returned when claiming purchases requires a verified email
	ErrEmailUnverified = errors.New("email address is not verified")
)

// Identity is what a verified token says about the caller
type Identity struct {
	UserID string
	Email  string
	Name   string
	// EmailVerified is the identity provider's confirmation that the caller
	// controls Email. Guest purchases and configured admin rights follow the
	// email only when it is set.
	EmailVerified bool
}

// Profile is a storefront user
type Profile struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the profile has the admin role
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// IsGuest reports whether the profile was created without a sign-up
func (p *Profile) IsGuest() bool {
	return strings.HasPrefix(p.UserID, GuestPrefix)
}

// ParseRole validates a role name
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), nil
	}
	return "", ErrInvalidRole
}

// UpdateProfileRequest is a partial profile update by its owner
type UpdateProfileRequest struct {
	FullName *string `json:"full_name" validate:"omitempty,max=255"`
	Phone    *string `json:"phone" validate:"omitempty,max=64"`
}

// ListProfilesRequest filters the admin profile listing
type ListProfilesRequest struct {
	Search string
	Role   Role
	Limit  int
	Offset int
}

// Service manages profiles
type Service interface {
	GetByID(ctx context.Context, id int64) (*Profile, error)
	GetByUserID(ctx context.Context, userID string) (*Profile, error)
	GetByEmail(ctx context.Context, email string) (*Profile, error)
	EnsureProfile(ctx context.Context, id Identity) (*Profile, error)
	EnsureGuest(ctx context.Context, email, name string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) (*Profile, error)
	ListProfiles(ctx context.Context, req ListProfilesRequest) ([]*Profile, int64, error)
	SetRole(ctx context.Context, id int64, role Role) (*Profile, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
