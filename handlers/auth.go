package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/gpay-xe/config"
	"github.com/yourusername/gpay-xe/middleware"
	"github.com/yourusername/gpay-xe/models"
	"gorm.io/gorm"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

type AuthHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
	Log logrus.FieldLogger
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{
		DB:  db,
		Cfg: cfg,
		Log: log.WithField("component", "auth"),
	}
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh swaps a valid refresh token for a new access/refresh pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := middleware.ParseToken(req.RefreshToken, h.Cfg.JWTRefreshSecret, middleware.TokenTypeRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token", "code": "InvalidToken"})
		return
	}

	// The user must still exist and be active.
	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "User account is inactive"})
		return
	}

	accessToken, err := middleware.GenerateToken(user.ID, user.Role, middleware.TokenTypeAccess, h.Cfg.JWTSecret, accessTokenTTL)
	if err != nil {
		h.Log.WithError(err).Error("failed to sign access token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate access token"})
		return
	}
	refreshToken, err := middleware.GenerateToken(user.ID, user.Role, middleware.TokenTypeRefresh, h.Cfg.JWTRefreshSecret, refreshTokenTTL)
	if err != nil {
		h.Log.WithError(err).Error("failed to sign refresh token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate refresh token"})
		return
	}

	h.Log.WithField("user_id", user.ID).Info("tokens refreshed")
	c.JSON(http.StatusOK, gin.H{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(accessTokenTTL.Seconds()),
	})
}
