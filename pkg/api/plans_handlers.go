package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sakconstructions/storefront/pkg/catalog"
	"github.com/sakconstructions/storefront/pkg/httputil"
)

// multipartMemory is how much of an upload is buffered in memory before spilling to disk
const multipartMemory = 32 << 20

func planListRequest(r *http.Request) (catalog.PlanListRequest, error) {
	q := r.URL.Query()
	req := catalog.PlanListRequest{
		Category: strings.TrimSpace(q.Get("category")),
		Style:    strings.TrimSpace(q.Get("style")),
		Search:   strings.TrimSpace(q.Get("search")),
		Sort:     q.Get("sort"),
	}
	if req.Search == "" {
		req.Search = strings.TrimSpace(q.Get("q"))
	}

	var err error
	if req.MinBedrooms, err = httputil.ParseQueryInt(r, "min_bedrooms", 0); err != nil {
		return req, err
	}
	if req.MaxPrice, err = httputil.ParseQueryInt64(r, "max_price", 0); err != nil {
		return req, err
	}
	if req.Featured, err = httputil.ParseQueryBool(r, "featured"); err != nil {
		return req, err
	}
	if req.Limit, req.Offset, err = httputil.ParsePagination(r); err != nil {
		return req, err
	}
	return req, nil
}

// listPlans serves the public catalog. Admins may add include_unpublished=true.
func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	req, err := planListRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if r.URL.Query().Get("include_unpublished") == "true" {
		req.IncludeUnpublished = s.isAdminCaller(r)
	}

	list, err := s.deps.Catalog.ListPlans(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteList(w, list.Items, list.Total, req.Limit, req.Offset)
}

// adminListPlans handles GET /api/admin/plans
func (s *Server) adminListPlans(w http.ResponseWriter, r *http.Request) {
	req, err := planListRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	req.IncludeUnpublished = true

	list, err := s.deps.Catalog.ListPlans(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteList(w, list.Items, list.Total, req.Limit, req.Offset)
}

// getPlan handles GET /api/plans/{id}
func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	detail, err := s.deps.Catalog.GetPlanDetail(r.Context(), id, s.isAdminCaller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, detail)
}

// getPlanBySlug handles GET /api/plans/slug/{slug}
func (s *Server) getPlanBySlug(w http.ResponseWriter, r *http.Request) {
	slug, err := httputil.ParsePathString(r, "slug")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	plan, err := s.deps.Catalog.GetPlanBySlug(r.Context(), slug, s.isAdminCaller(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	detail, err := s.deps.Catalog.GetPlanDetail(r.Context(), plan.ID, true)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, detail)
}

// createPlan handles POST /api/admin/plans
func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	var req catalog.CreatePlanRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	plan, err := s.deps.Catalog.CreatePlan(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, plan)
}

// updatePlan handles PUT /api/admin/plans/{id}
func (s *Server) updatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req catalog.UpdatePlanRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	plan, err := s.deps.Catalog.UpdatePlan(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// deletePlan handles DELETE /api/admin/plans/{id}
func (s *Server) deletePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Catalog.DeletePlan(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// uploadPlanFile takes a multipart form with a "file" part, a "tier" and an optional display "name"
func (s *Server) uploadPlanFile(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeUploadError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	tier, err := catalog.ParseTier(r.FormValue("tier"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "file part is required")
		return
	}
	defer file.Close()

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = header.Filename
	}
	contentType := header.Header.Get("Content-Type")

	pf, err := s.deps.Catalog.AddPlanFile(r.Context(), planID, tier, name, contentType, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, pf)
}

func writeUploadError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large") {
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	httputil.WriteBadRequest(w, "invalid multipart form: "+err.Error())
}

// adminListPlanFiles handles GET /api/admin/plans/{id}/files
func (s *Server) adminListPlanFiles(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.deps.Catalog.GetPlan(r.Context(), planID, true); err != nil {
		writeServiceError(w, r, err)
		return
	}
	files, err := s.deps.Catalog.ListPlanFiles(r.Context(), planID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, files)
}

// deletePlanFile handles DELETE /api/admin/plans/{id}/files/{fileId}
func (s *Server) deletePlanFile(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "fileId")
	if !ok {
		return
	}
	if err := s.deps.Catalog.DeletePlanFile(r.Context(), planID, fileID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listReviews handles GET /api/plans/{id}/reviews
func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	limit, offset, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	reviews, total, err := s.deps.Catalog.ListReviews(r.Context(), planID, s.isAdminCaller(r), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteList(w, reviews, total, limit, offset)
}

// upsertReview handles POST /api/plans/{id}/reviews
func (s *Server) upsertReview(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req catalog.ReviewRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	review, err := s.deps.Catalog.UpsertReview(r.Context(), planID, currentProfile(r).ID, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, review)
}

// deleteReview handles DELETE /api/reviews/{id}
func (s *Server) deleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	profile := currentProfile(r)
	if err := s.deps.Catalog.DeleteReview(r.Context(), id, profile.ID, profile.IsAdmin()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listFavorites handles GET /api/favorites
func (s *Server) listFavorites(w http.ResponseWriter, r *http.Request) {
	plans, err := s.deps.Catalog.ListFavorites(r.Context(), currentProfile(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, plans)
}

// addFavorite handles PUT /api/favorites/{planId}
func (s *Server) addFavorite(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.ParsePathInt64OrError(w, r, "planId")
	if !ok {
		return
	}
	if err := s.deps.Catalog.AddFavorite(r.Context(), currentProfile(r).ID, planID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// removeFavorite handles DELETE /api/favorites/{planId}
func (s *Server) removeFavorite(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.ParsePathInt64OrError(w, r, "planId")
	if !ok {
		return
	}
	if err := s.deps.Catalog.RemoveFavorite(r.Context(), currentProfile(r).ID, planID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
