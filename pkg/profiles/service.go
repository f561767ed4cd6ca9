package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sakconstructions/storefront/pkg/database"
)

const profileColumns = `id, user_id, email, full_name, phone, role, created_at, updated_at`

// SQLService implements Service on the storefront database
type SQLService struct {
	db          *sql.DB
	adminEmails map[string]bool
}

// NewSQLService creates a profile service. Profiles created for an email in
// adminEmails start with the admin role.
func NewSQLService(db *sql.DB, adminEmails []string) *SQLService {
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		if e = NormalizeEmail(e); e != "" {
			admins[e] = true
		}
	}
	return &SQLService{db: db, adminEmails: admins}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	p := &Profile{}
	err := row.Scan(&p.ID, &p.UserID, &p.Email, &p.FullName, &p.Phone, &p.Role, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLService) getBy(ctx context.Context, column string, value interface{}) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE ` + column + ` = $1`
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetByID retrieves a profile by its row id
func (s *SQLService) GetByID(ctx context.Context, id int64) (*Profile, error) {
	return s.getBy(ctx, "id", id)
}

// GetByUserID retrieves a profile by auth subject
func (s *SQLService) GetByUserID(ctx context.Context, userID string) (*Profile, error) {
	return s.getBy(ctx, "user_id", userID)
}

// GetByEmail retrieves a profile by email
func (s *SQLService) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	return s.getBy(ctx, "email", NormalizeEmail(email))
}

// roleFor is the role a new profile starts with. Configured admin emails only
// count once the identity provider has verified the address.
func (s *SQLService) roleFor(email string, verified bool) Role {
	if verified && s.adminEmails[email] {
		return RoleAdmin
	}
	return RoleUser
}

// EnsureProfile returns the profile for an authenticated user, creating it on
// first sign-in. A guest profile with the same email is claimed by the user
// when the email is verified.
func (s *SQLService) EnsureProfile(ctx context.Context, id Identity) (*Profile, error) {
	if p, err := s.GetByUserID(ctx, id.UserID); err == nil {
		return p, nil
	} else if !errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	email := NormalizeEmail(id.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	existing, err := s.GetByEmail(ctx, email)
	switch {
	case err == nil && existing.IsGuest() && id.EmailVerified:
		return s.claimGuest(ctx, existing, id.UserID, id.Name)
	case err == nil && existing.IsGuest():
		// the guest's orders go to whoever proves they own the address
		return nil, ErrEmailUnverified
	case err == nil:
		return nil, ErrEmailTaken
	case !errors.Is(err, ErrProfileNotFound):
		return nil, err
	}

	now := database.Now()
	query := `
		INSERT INTO profiles (user_id, email, full_name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING ` + profileColumns
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, id.UserID, email, strings.TrimSpace(id.Name), s.roleFor(email, id.EmailVerified), now))
	if err != nil {
		// lost a race with a concurrent first request from the same user
		if p, getErr := s.GetByUserID(ctx, id.UserID); getErr == nil {
			return p, nil
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return p, nil
}

// claimGuest links a guest profile to a user whose verified email matches it
func (s *SQLService) claimGuest(ctx context.Context, guest *Profile, userID, name string) (*Profile, error) {
	fullName := guest.FullName
	if fullName == "" {
		fullName = strings.TrimSpace(name)
	}
	role := guest.Role
	if s.roleFor(guest.Email, true) == RoleAdmin {
		role = RoleAdmin
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET user_id = $1, full_name = $2, role = $3, updated_at = $4
		WHERE id = $5 AND user_id = $6`,
		userID, fullName, role, database.Now(), guest.ID, guest.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to link guest profile: %w", err)
	}
	return s.GetByUserID(ctx, userID)
}

// EnsureGuest returns the profile owning email, creating a guest profile when
// none exists. Used when a payment arrives for a buyer who never signed in.
func (s *SQLService) EnsureGuest(ctx context.Context, email, name string) (*Profile, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrEmailRequired
	}

	now := database.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, email, full_name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (email) DO NOTHING`,
		GuestPrefix+uuid.NewString(), email, strings.TrimSpace(name), RoleUser, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create guest profile: %w", err)
	}
	return s.GetByEmail(ctx, email)
}

// UpdateProfile applies a partial update to the caller's own profile
func (s *SQLService) UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) (*Profile, error) {
	p, err := s.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.FullName != nil {
		p.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Phone != nil {
		p.Phone = strings.TrimSpace(*req.Phone)
	}
	p.UpdatedAt = database.Now()

	_, err = s.db.ExecContext(ctx,
		`UPDATE profiles SET full_name = $1, phone = $2, updated_at = $3 WHERE id = $4`,
		p.FullName, p.Phone, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// ListProfiles lists profiles for the admin portal, newest first
func (s *SQLService) ListProfiles(ctx context.Context, req ListProfilesRequest) ([]*Profile, int64, error) {
	var conditions []string
	var args []interface{}

	if search := strings.TrimSpace(req.Search); search != "" {
		args = append(args, database.ContainsPattern(search))
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(`(LOWER(email) LIKE $%d ESCAPE '\' OR LOWER(full_name) LIKE $%d ESCAPE '\')`, n, n))
	}
	if req.Role != "" {
		args = append(args, req.Role)
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count profiles: %w", err)
	}

	args = append(args, req.Limit, req.Offset)
	query := fmt.Sprintf(`SELECT %s FROM profiles%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		profileColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	result := []*Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan profile: %w", err)
		}
		result = append(result, p)
	}
	return result, total, rows.Err()
}

// SetRole changes a profile's role
func (s *SQLService) SetRole(ctx context.Context, id int64, role Role) (*Profile, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE profiles SET role = $1, updated_at = $2 WHERE id = $3`, role, database.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrProfileNotFound
	}
	return s.GetByID(ctx, id)
}

// IsAdmin reports whether userID has the admin role; unknown users are not admins
func (s *SQLService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	p, err := s.GetByUserID(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.IsAdmin(), nil
}
