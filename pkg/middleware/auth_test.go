package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakconstructions/storefront/pkg/auth"
	"github.com/sakconstructions/storefront/pkg/profiles"
)

// mockLoader is a ProfileLoader backed by a function
type mockLoader struct {
	ensureFunc func(ctx context.Context, id profiles.Identity) (*profiles.Profile, error)
	calls      int
}

func (m *mockLoader) EnsureProfile(ctx context.Context, id profiles.Identity) (*profiles.Profile, error) {
	m.calls++
	return m.ensureFunc(ctx, id)
}

var testVerifier = auth.StaticVerifier{
	"user-token":       {UserID: "u1", Email: "u1@example.com", EmailVerified: true},
	"admin-token":      {UserID: "a1", Email: "admin@example.com", EmailVerified: true},
	"unverified-token": {UserID: "u2", Email: "u2@example.com"},
}

func okHandler(t *testing.T, check func(r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		optional   bool
		wantStatus int
		wantUser   string
	}{
		{name: "valid token", header: "Bearer user-token", wantStatus: http.StatusOK, wantUser: "u1"},
		{name: "lowercase scheme", header: "bearer user-token", wantStatus: http.StatusOK, wantUser: "u1"},
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "missing header optional", optional: true, wantStatus: http.StatusOK},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "unknown token optional", header: "Bearer nope", optional: true, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			handler := Authenticate(testVerifier, tt.optional)(okHandler(t, func(r *http.Request) {
				if p, ok := auth.PrincipalFromContext(r.Context()); ok {
					gotUser = p.UserID
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantUser, gotUser)
		})
	}
}

func TestLoadProfile(t *testing.T) {
	var identity profiles.Identity
	loader := &mockLoader{ensureFunc: func(_ context.Context, id profiles.Identity) (*profiles.Profile, error) {
		identity = id
		return &profiles.Profile{ID: 10, UserID: id.UserID, Email: id.Email, Role: profiles.RoleUser}, nil
	}}

	var got *profiles.Profile
	handler := Authenticate(testVerifier, false)(LoadProfile(loader)(okHandler(t, func(r *http.Request) {
		got, _ = ProfileFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, int64(10), got.ID)
	assert.Equal(t, "u1@example.com", got.Email)
	assert.True(t, identity.EmailVerified)

	req = httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer unverified-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "u2", identity.UserID)
	assert.False(t, identity.EmailVerified)
}

func TestLoadProfile_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"email taken", profiles.ErrEmailTaken, http.StatusConflict},
		{"no email", profiles.ErrEmailRequired, http.StatusForbidden},
		{"unverified email", profiles.ErrEmailUnverified, http.StatusForbidden},
		{"database down", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := &mockLoader{ensureFunc: func(context.Context, profiles.Identity) (*profiles.Profile, error) {
				return nil, tt.err
			}}
			handler := Authenticate(testVerifier, false)(LoadProfile(loader)(okHandler(t, nil)))

			req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			req.Header.Set("Authorization", "Bearer user-token")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	t.Run("no principal", func(t *testing.T) {
		loader := &mockLoader{}
		rec := httptest.NewRecorder()
		LoadProfile(loader)(okHandler(t, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, loader.calls)
	})
}

func TestRequireAdmin(t *testing.T) {
	loader := &mockLoader{ensureFunc: func(_ context.Context, id profiles.Identity) (*profiles.Profile, error) {
		role := profiles.RoleUser
		if id.UserID == "a1" {
			role = profiles.RoleAdmin
		}
		return &profiles.Profile{ID: 1, UserID: id.UserID, Role: role}, nil
	}}
	handler := Authenticate(testVerifier, false)(RequireAdmin(loader)(okHandler(t, nil)))

	for token, want := range map[string]int{
		"admin-token": http.StatusOK,
		"user-token":  http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, token)
	}
}

func TestRequireAdmin_ReusesLoadedProfile(t *testing.T) {
	loader := &mockLoader{ensureFunc: func(_ context.Context, id profiles.Identity) (*profiles.Profile, error) {
		return &profiles.Profile{ID: 1, UserID: id.UserID, Role: profiles.RoleAdmin}, nil
	}}
	handler := Authenticate(testVerifier, false)(LoadProfile(loader)(RequireAdmin(loader)(okHandler(t, nil))))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, loader.calls)
}
