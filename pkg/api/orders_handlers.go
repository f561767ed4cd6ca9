package api

import (
	"net/http"
	"strings"

	"github.com/sakconstructions/storefront/pkg/httputil"
	"github.com/sakconstructions/storefront/pkg/orders"
)

// listMyOrders handles GET /api/orders
func (s *Server) listMyOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	list, total, err := s.deps.Orders.ListUserOrders(r.Context(), currentProfile(r).ID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteList(w, list, total, limit, offset)
}

// getMyOrder handles GET /api/orders/{id}
func (s *Server) getMyOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	order, err := s.deps.Orders.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	profile := currentProfile(r)
	if order.UserID != profile.ID && !profile.IsAdmin() {
		writeServiceError(w, r, orders.ErrOrderNotFound)
		return
	}
	httputil.WriteSuccess(w, order)
}

// listOrderFiles handles GET /api/orders/{id}/files
func (s *Server) listOrderFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	profile := currentProfile(r)
	files, err := s.deps.Orders.ListOrderFiles(r.Context(), profile.ID, id, profile.IsAdmin())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, files)
}

// downloadFile returns a presigned link, or redirects to it with ?redirect=true
func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	orderID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "fileId")
	if !ok {
		return
	}
	profile := currentProfile(r)
	link, err := s.deps.Orders.AuthorizeDownload(r.Context(), profile.ID, orderID, fileID, profile.IsAdmin())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, link.URL, http.StatusFound)
		return
	}
	httputil.WriteSuccess(w, link)
}

// listMyDownloads handles GET /api/downloads
func (s *Server) listMyDownloads(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	downloads, err := s.deps.Orders.ListUserDownloads(r.Context(), currentProfile(r).ID, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, downloads)
}

// adminListOrders handles GET /api/admin/orders
func (s *Server) adminListOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	req := orders.ListOrdersRequest{
		Provider: strings.TrimSpace(r.URL.Query().Get("provider")),
		Limit:    limit,
		Offset:   offset,
	}
	if status := r.URL.Query().Get("status"); status != "" {
		if req.Status, err = orders.ParseStatus(status); err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
	}
	if req.PlanID, err = httputil.ParseQueryInt64(r, "plan_id", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.UserID, err = httputil.ParseQueryInt64(r, "user_id", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	list, total, err := s.deps.Orders.ListOrders(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteList(w, list, total, limit, offset)
}

// adminGetOrder handles GET /api/admin/orders/{id}
func (s *Server) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	order, err := s.deps.Orders.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, order)
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// adminSetOrderStatus moves an order along its lifecycle, e.g. to record a refund
func (s *Server) adminSetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req setStatusRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	status, err := orders.ParseStatus(req.Status)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	order, err := s.deps.Orders.Transition(r.Context(), id, status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.logger.WithFields(map[string]interface{}{
		"order_id": order.ID,
		"status":   order.Status,
		"admin":    currentProfile(r).ID,
	}).Info("Order status changed by admin")
	httputil.WriteSuccess(w, order)
}

// adminStats handles GET /api/admin/stats
func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Orders.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}
