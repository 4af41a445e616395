package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/common"
)

func (h *Handler) GetConversation(c *gin.Context) {
	uid, ok := userIDParam(c)
	if !ok {
		return
	}

	view := h.ChatSvc.Snapshot(c.Request.Context(), uid)
	// another process may hold the user
	if !view.Busy && h.Busy != nil {
		busy, err := h.Busy.IsBusy(c.Request.Context(), uid)
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 20001, "redis error")
			return
		}
		view.Busy = busy
	}
	common.OK(c, view)
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	uid, ok := userIDParam(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.Reset(c.Request.Context(), uid); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to clear conversation")
		return
	}
	common.OK(c, gin.H{"user_id": uid, "cleared": true})
}

func (h *Handler) ListJobs(c *gin.Context) {
	uid, ok := userIDParam(c)
	if !ok {
		return
	}
	if h.Repo == nil {
		common.Fail(c, http.StatusNotImplemented, 50100, "persistence disabled")
		return
	}
	jobs, err := h.Repo.ListJobs(c.Request.Context(), uid, limitQuery(c))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"jobs": jobs})
}

func (h *Handler) ListDiagnostics(c *gin.Context) {
	uid, ok := userIDParam(c)
	if !ok {
		return
	}
	if h.Repo == nil {
		common.Fail(c, http.StatusNotImplemented, 50100, "persistence disabled")
		return
	}
	items, err := h.Repo.ListDiagnostics(c.Request.Context(), uid, limitQuery(c))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"diagnostics": items})
}
