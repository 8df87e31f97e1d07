package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"etinuxe/internal/insurance"
	"etinuxe/internal/models"
	"etinuxe/internal/server/response"
)

type InsuranceHandler struct {
	insurance *insurance.Service
}

func NewInsuranceHandler(svc *insurance.Service) *InsuranceHandler {
	return &InsuranceHandler{insurance: svc}
}

type insuranceRequest struct {
	RequestID uuid.UUID   `json:"request_id" binding:"required"`
	Tier      models.Tier `json:"tier" binding:"required"`
	Immediate bool        `json:"immediate"`
}

// GET /users/:id/insurance
func (h *InsuranceHandler) List(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	out, err := h.insurance.Policies(c.Request.Context(), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /users/:id/insurance/preview
func (h *InsuranceHandler) Preview(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req insuranceRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.insurance.Preview(c.Request.Context(), id, req.RequestID, req.Tier)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, p)
}

// POST /users/:id/insurance
func (h *InsuranceHandler) Activate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req insuranceRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.insurance.Activate(c.Request.Context(), id, req.RequestID, req.Tier, insurance.Options{Immediate: req.Immediate})
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, res)
}
