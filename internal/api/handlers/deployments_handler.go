package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/iac-studio/dbstack/internal/api/middleware"
	"github.com/iac-studio/dbstack/internal/api/types"
	"github.com/iac-studio/dbstack/internal/services"
)

type DeploymentsHandler struct {
	svc services.DeploymentService
}

func NewDeploymentsHandler(svc services.DeploymentService) *DeploymentsHandler {
	return &DeploymentsHandler{svc: svc}
}

// List returns deployments of a stack, newest first.
func (h *DeploymentsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	items, err := h.svc.ListDeployments(r.Context(), q.Get("stack"), &services.DeploymentFilters{
		Status:   q.Get("status"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{
		Success: true,
		Data:    items,
		Meta:    &types.Meta{RequestID: middleware.GetRequestID(r.Context()), Page: page, PageSize: size},
	})
}

// Create synthesizes the stack and queues a deployment.
func (h *DeploymentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.DeploymentCreateRequest
	if err := decode(w, r, &req); err != nil {
		writeErrorStr(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.svc.CreateDeployment(r.Context(), &services.CreateDeploymentInput{StackName: req.StackName})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/deployments/"+d.ID.String())
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: d})
}

func (h *DeploymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deploymentID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.GetDeployment(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: d})
}

func (h *DeploymentsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deploymentID(w, r)
	if !ok {
		return
	}
	logs, err := h.svc.GetDeploymentLogs(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: logs})
}

// Destroy queues deletion of the stack. The body must confirm it.
func (h *DeploymentsHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	var req types.DestroyRequest
	if err := decode(w, r, &req); err != nil {
		writeErrorStr(w, r, http.StatusBadRequest, "destroy requires {\"confirm\": true}")
		return
	}
	d, err := h.svc.DestroyStack(r.Context(), &services.DestroyStackInput{StackName: req.StackName})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/deployments/"+d.ID.String())
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: d})
}

func (h *DeploymentsHandler) deploymentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, r, http.StatusBadRequest, "invalid deployment id")
		return uuid.Nil, false
	}
	return id, true
}
