package api

import (
	"net/http"
	"strings"

	"github.com/sakconstructions/storefront/pkg/httputil"
	"github.com/sakconstructions/storefront/pkg/profiles"
)

// getProfile handles GET /api/profile
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, currentProfile(r))
}

// updateProfile handles PUT /api/profile
func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profiles.UpdateProfileRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	profile, err := s.deps.Profiles.UpdateProfile(r.Context(), currentProfile(r).UserID, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// adminListProfiles handles GET /api/admin/profiles
func (s *Server) adminListProfiles(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	req := profiles.ListProfilesRequest{
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Limit:  limit,
		Offset: offset,
	}
	if role := r.URL.Query().Get("role"); role != "" {
		if req.Role, err = profiles.ParseRole(role); err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
	}

	list, total, err := s.deps.Profiles.ListProfiles(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteList(w, list, total, limit, offset)
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

// adminSetRole handles PUT /api/admin/profiles/{id}/role
func (s *Server) adminSetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req setRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	role, err := profiles.ParseRole(req.Role)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	caller := currentProfile(r)
	if caller.ID == id && role != profiles.RoleAdmin {
		httputil.WriteConflict(w, "admins cannot remove their own admin role")
		return
	}

	profile, err := s.deps.Profiles.SetRole(r.Context(), id, role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.logger.WithFields(map[string]interface{}{
		"profile_id": profile.ID,
		"role":       profile.Role,
		"admin":      caller.ID,
	}).Info("Profile role changed")
	httputil.WriteSuccess(w, profile)
}
