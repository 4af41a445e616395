package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/config"
)

// BusyChecker reports cross-process admission state.
type BusyChecker interface {
	IsBusy(ctx context.Context, userID int64) (bool, error)
}

type Handler struct {
	Cfg     config.Config
	ChatSvc *chat.Service
	// Repo and Busy are optional.
	Repo *chat.Repo
	Busy BusyChecker
}

func NewHandler(cfg config.Config, svc *chat.Service, repo *chat.Repo, busy BusyChecker) *Handler {
	return &Handler{Cfg: cfg, ChatSvc: svc, Repo: repo, Busy: busy}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid user id")
		return 0, false
	}
	return id, true
}

func limitQuery(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || n <= 0 || n > 100 {
		return 20
	}
	return n
}
