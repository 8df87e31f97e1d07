package handlers

import (
	"github.com/gin-gonic/gin"

	"etinuxe/internal/insurance"
	"etinuxe/internal/models"
	"etinuxe/internal/onboarding"
	"etinuxe/internal/server/response"
	"etinuxe/internal/settings"
)

type AdminHandler struct {
	settings   *settings.Service
	onboarding *onboarding.Service
	insurance  *insurance.Service
}

func NewAdminHandler(st *settings.Service, ob *onboarding.Service, ins *insurance.Service) *AdminHandler {
	return &AdminHandler{settings: st, onboarding: ob, insurance: ins}
}

// GET /admin/settings
func (h *AdminHandler) GetSettings(c *gin.Context) {
	s, err := h.settings.Get(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, s)
}

// PATCH /admin/settings
func (h *AdminHandler) PatchSettings(c *gin.Context) {
	var patch models.SettingsPatch
	if !bindJSON(c, &patch) {
		return
	}
	s, err := h.settings.Patch(c.Request.Context(), patch)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, s)
}

// GET /admin/overview
func (h *AdminHandler) Overview(c *gin.Context) {
	sum, err := h.onboarding.AdminOverview(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, sum)
}

// GET /admin/insurance/policies
func (h *AdminHandler) Policies(c *gin.Context) {
	list, err := h.insurance.AllPolicies(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	if list == nil {
		list = []models.InsurancePolicy{}
	}
	response.RespondOK(c, gin.H{"policies": list})
}

// GET /admin/payments
func (h *AdminHandler) Payments(c *gin.Context) {
	list, err := h.onboarding.Payments(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	if list == nil {
		list = []models.Payment{}
	}
	response.RespondOK(c, gin.H{"payments": list})
}

// GET /admin/requests
func (h *AdminHandler) Requests(c *gin.Context) {
	list, err := h.onboarding.Requests(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	if list == nil {
		list = []models.MiniaturizationRequest{}
	}
	response.RespondOK(c, gin.H{"requests": list})
}

// POST /admin/tokens/:id/status
// body: { "status": "approved" | "rejected" | "completed" }
func (h *AdminHandler) TokenStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Status models.RequestStatus `json:"status" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.onboarding.UpdateTokenStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"miniaturization_token": t})
}

// GET /admin/users
func (h *AdminHandler) Users(c *gin.Context) {
	list, err := h.onboarding.Users(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"users": list})
}

// PATCH /admin/users/:id
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req onboarding.AdminUserUpdate
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.onboarding.UpdateUser(c.Request.Context(), id, req)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"user": u})
}

// POST /admin/requests/:id/health-rating
// body: { "rating": 0-100 }
func (h *AdminHandler) HealthRating(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Rating *int `json:"rating" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.onboarding.RateRequest(c.Request.Context(), id, *req.Rating)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, res)
}
