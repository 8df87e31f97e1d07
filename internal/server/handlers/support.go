package handlers

import (
	"github.com/gin-gonic/gin"

	"etinuxe/internal/server/response"
	"etinuxe/internal/support"
)

type SupportHandler struct {
	support *support.Service
}

func NewSupportHandler(svc *support.Service) *SupportHandler {
	return &SupportHandler{support: svc}
}

type messageBody struct {
	Body string `json:"body" binding:"required"`
}

// GET /support/users/:id/sessions
func (h *SupportHandler) UserSessions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	list, err := h.support.ListForUser(c.Request.Context(), id)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"sessions": list})
}

// POST /support/users/:id/sessions
// body: { "subject": "...", "message": "...", "distress": false }
func (h *SupportHandler) Open(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req support.OpenInput
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.support.Open(c.Request.Context(), id, req)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"session": sess})
}

// POST /support/users/:id/sessions/:sid/messages
func (h *SupportHandler) UserMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sid, ok := pathUUID(c, "sid")
	if !ok {
		return
	}
	var req messageBody
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.support.PostUserMessage(c.Request.Context(), id, sid, req.Body)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"session": sess})
}

// POST /support/users/:id/sessions/:sid/close
func (h *SupportHandler) Close(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	sid, ok := pathUUID(c, "sid")
	if !ok {
		return
	}
	sess, err := h.support.Close(c.Request.Context(), id, sid)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session": sess})
}

// GET /support/admin/sessions
func (h *SupportHandler) AllSessions(c *gin.Context) {
	list, err := h.support.ListAll(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"sessions": list})
}

// POST /support/admin/sessions/:sid/messages
// body: { "admin_name": "...", "body": "..." }
func (h *SupportHandler) StaffMessage(c *gin.Context) {
	sid, ok := pathUUID(c, "sid")
	if !ok {
		return
	}
	var req struct {
		AdminName string `json:"admin_name" binding:"required"`
		messageBody
	}
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.support.PostStaffMessage(c.Request.Context(), sid, req.AdminName, req.Body)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"session": sess})
}

// PATCH /support/admin/sessions/:sid
func (h *SupportHandler) Update(c *gin.Context) {
	sid, ok := pathUUID(c, "sid")
	if !ok {
		return
	}
	var req support.AdminUpdateInput
	if !bindJSON(c, &req) {
		return
	}
	sess, err := h.support.AdminUpdate(c.Request.Context(), sid, req)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session": sess})
}
