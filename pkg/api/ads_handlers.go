package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sakconstructions/storefront/pkg/ads"
	"github.com/sakconstructions/storefront/pkg/httputil"
)

// listActiveAds returns the ads running now, optionally for one placement
func (s *Server) listActiveAds(w http.ResponseWriter, r *http.Request) {
	placement := strings.TrimSpace(r.URL.Query().Get("placement"))
	list, err := s.deps.Ads.ListActive(r.Context(), placement, time.Now().UTC())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// recordImpression handles POST /api/ads/{id}/impression
func (s *Server) recordImpression(w http.ResponseWriter, r *http.Request) {
	s.countAd(w, r, s.deps.Ads.RecordImpression)
}

// recordClick handles POST /api/ads/{id}/click
func (s *Server) recordClick(w http.ResponseWriter, r *http.Request) {
	s.countAd(w, r, s.deps.Ads.RecordClick)
}

func (s *Server) countAd(w http.ResponseWriter, r *http.Request, record func(ctx context.Context, id int64) error) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := record(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// adminListAds handles GET /api/admin/ads
func (s *Server) adminListAds(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Ads.ListAds(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// adminCreateAd handles POST /api/admin/ads
func (s *Server) adminCreateAd(w http.ResponseWriter, r *http.Request) {
	var req ads.AdRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	ad, err := s.deps.Ads.CreateAd(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ad)
}

// adminUpdateAd handles PUT /api/admin/ads/{id}
func (s *Server) adminUpdateAd(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req ads.AdRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	ad, err := s.deps.Ads.UpdateAd(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ad)
}

// adminDeleteAd handles DELETE /api/admin/ads/{id}
func (s *Server) adminDeleteAd(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Ads.DeleteAd(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
