package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"etinuxe/internal/onboarding"
	"etinuxe/internal/server/response"
)

type UserHandler struct {
	onboarding *onboarding.Service
}

func NewUserHandler(svc *onboarding.Service) *UserHandler {
	return &UserHandler{onboarding: svc}
}

// POST /users/signup
func (h *UserHandler) Signup(c *gin.Context) {
	var req onboarding.SignupInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.onboarding.Signup(c.Request.Context(), req)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user":           res.User,
		"otp_expires_at": res.OTPExpiresAt,
		"message":        "verification code sent",
	})
}

// POST /users/verify
// body: { "user_id": "...", "otp_code": "123456" }
func (h *UserHandler) Verify(c *gin.Context) {
	var req struct {
		UserID uuid.UUID `json:"user_id" binding:"required"`
		Code   string    `json:"otp_code" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.onboarding.Verify(c.Request.Context(), req.UserID, req.Code)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"user": u})
}

// POST /users/:id/otp/resend
func (h *UserHandler) ResendOTP(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	expires, err := h.onboarding.ResendOTP(c.Request.Context(), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"otp_expires_at": expires})
}

// POST /users/login
func (h *UserHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.onboarding.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"user": u})
}

// POST /auth/forgot-password
// Always answers 200 so callers cannot tell which emails are registered.
func (h *UserHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.onboarding.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"message": "if the email is registered, a reset link has been sent"})
}

// POST /auth/reset-password
// body: { "token": "...", "new_password": "..." }
func (h *UserHandler) ResetPassword(c *gin.Context) {
	var req onboarding.ResetPasswordInput
	if !bindJSON(c, &req) {
		return
	}
	if err := h.onboarding.ResetPassword(c.Request.Context(), req); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"message": "password updated"})
}

// GET /users/:id
func (h *UserHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.onboarding.Overview(c.Request.Context(), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, o)
}

// POST /users/:id/health-profile
func (h *UserHandler) HealthProfile(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req onboarding.IntakeInput
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.onboarding.SubmitIntake(c.Request.Context(), id, req)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"user": u})
}

// POST /users/:id/miniaturization
func (h *UserHandler) Miniaturization(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req onboarding.RequestInput
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.onboarding.SubmitRequest(c.Request.Context(), id, req)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"request": r})
}

// POST /users/:id/payment
func (h *UserHandler) Payment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req onboarding.PaymentInput
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.onboarding.RecordPayment(c.Request.Context(), id, req)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"payment": p})
}

// POST /users/:id/personality
// body: any JSON document; only its checksum is kept.
func (h *UserHandler) Personality(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	t, err := h.onboarding.RecordAssessment(c.Request.Context(), id, raw)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"dna_token": t})
}

// POST /users/:id/token
func (h *UserHandler) Token(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req onboarding.TokenInput
	if !bindJSON(c, &req) {
		return
	}
	t, err := h.onboarding.IssueToken(c.Request.Context(), id, req)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"miniaturization_token": t})
}

// POST /users/:id/memories
func (h *UserHandler) Memories(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req onboarding.MemoryInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.onboarding.RecordMemory(c.Request.Context(), id, req)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondCreated(c, res)
}
