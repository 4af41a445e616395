package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/auth"
	"github.com/suPer8Hu/chat-relay/internal/common"
)

const adminSubject = "admin"

type loginReq struct {
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	if !h.Cfg.AdminEnabled() {
		common.Fail(c, http.StatusServiceUnavailable, 50300, "admin login disabled")
		return
	}

	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "password required")
		return
	}
	if !auth.CheckPassword(h.Cfg.AdminPasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40102, "invalid credentials")
		return
	}

	token, err := auth.SignJWT(adminSubject, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": token})
}
